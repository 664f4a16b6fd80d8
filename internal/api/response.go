package api

import "github.com/labstack/echo/v4"

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
}

// Error sends a JSON error response.
func Error(c echo.Context, status int, message string) error {
	return c.JSON(status, ErrorResponse{
		Error: ErrorDetail{Message: message},
	})
}
