package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"

	"github.com/labstack/echo/v4"

	"github.com/vladislavrupets/universe/internal/auth"
	"github.com/vladislavrupets/universe/internal/storage"
)

const maxUploadSize = 10 << 20 // 10 MB per file

var hexKeyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// FileStorage abstracts object storage operations for testability.
type FileStorage interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, string, error)
	GetURL(key string) string
}

// UploadedFile describes one stored file in an upload response. The id is
// the content-addressed storage key, so uploading the same bytes twice
// yields the same id.
type UploadedFile struct {
	FileID string `json:"fileId"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	URL    string `json:"url"`
}

// UploadResponse is the body of a successful POST /files.
type UploadResponse struct {
	FilesData []UploadedFile `json:"filesData"`
}

// UploadHandler handles file upload and download endpoints.
type UploadHandler struct {
	storage FileStorage
}

func NewUploadHandler(st FileStorage) *UploadHandler {
	return &UploadHandler{storage: st}
}

// Upload handles POST /files. Accepts one or more files in the "files"
// multipart field and stores each under its content hash.
func (h *UploadHandler) Upload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return Error(c, http.StatusBadRequest, "multipart form is required")
	}

	files := form.File["files"]
	if len(files) == 0 {
		return Error(c, http.StatusBadRequest, "files field is required")
	}

	ctx := c.Request().Context()
	userID := auth.GetUserID(c)
	resp := UploadResponse{FilesData: make([]UploadedFile, 0, len(files))}

	for _, file := range files {
		if file.Size > maxUploadSize {
			return Error(c, http.StatusBadRequest, fmt.Sprintf("%s exceeds the 10 MB limit", file.Filename))
		}

		src, err := file.Open()
		if err != nil {
			return Error(c, http.StatusInternalServerError, "internal server error")
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			return Error(c, http.StatusInternalServerError, "internal server error")
		}

		contentType := file.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		key := storage.ContentKey(data)
		if err := h.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
			return Error(c, http.StatusInternalServerError, "failed to store file")
		}
		slog.Info("file stored", "userID", userID, "key", key, "size", len(data))

		resp.FilesData = append(resp.FilesData, UploadedFile{
			FileID: key,
			Name:   filepath.Base(file.Filename),
			Type:   contentType,
			URL:    h.storage.GetURL(key),
		})
	}

	return c.JSON(http.StatusCreated, resp)
}

// Download handles GET /files/:id, streaming the stored object. The optional
// "name" query parameter sets the advisory download filename.
func (h *UploadHandler) Download(c echo.Context) error {
	key := c.Param("id")
	if !hexKeyPattern.MatchString(key) {
		return Error(c, http.StatusBadRequest, "invalid file id")
	}

	obj, contentType, err := h.storage.Download(c.Request().Context(), key)
	if err != nil {
		return Error(c, http.StatusNotFound, "file not found")
	}
	defer obj.Close()

	if name := c.QueryParam("name"); name != "" {
		c.Response().Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%q", filepath.Base(name)))
	}

	return c.Stream(http.StatusOK, contentType, obj)
}
