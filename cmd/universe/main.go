package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vladislavrupets/universe/internal/api"
	"github.com/vladislavrupets/universe/internal/auth"
	"github.com/vladislavrupets/universe/internal/config"
	"github.com/vladislavrupets/universe/internal/database"
	"github.com/vladislavrupets/universe/internal/gateway"
	redisclient "github.com/vladislavrupets/universe/internal/redis"
	"github.com/vladislavrupets/universe/internal/service"
	"github.com/vladislavrupets/universe/internal/snowflake"
	"github.com/vladislavrupets/universe/internal/storage"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	// --- Infrastructure ---

	if err := database.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	rdb, err := redisclient.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	blobs, err := storage.NewMinIOClient(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket)
	if err != nil {
		log.Fatalf("minio: %v", err)
	}

	sf, err := snowflake.NewGenerator(1)
	if err != nil {
		log.Fatalf("snowflake: %v", err)
	}
	tokenSvc := auth.NewTokenService(cfg.JWTSecret)

	// --- Repositories ---

	users := database.NewUserRepository(pool)
	channels := database.NewChannelRepository(pool)
	groups := database.NewGroupRepository(pool)
	messages := database.NewMessageRepository(pool)
	attachments := database.NewAttachmentRepository(pool)

	// --- Gateway and services ---

	gwManager := gateway.NewManager(tokenSvc, channels, rdb)
	messageSvc := service.NewMessageService(messages, attachments, channels, users, sf, gwManager, blobs)
	channelSvc := service.NewChannelService(channels, groups, users, messages, sf, gwManager, blobs)
	gwManager.SetServices(messageSvc, channelSvc)

	deps := &api.Dependencies{
		Uploads:      api.NewUploadHandler(blobs),
		Gateway:      gwManager,
		TokenService: tokenSvc,
	}

	// --- Echo ---

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.SetupRouter(e, deps)

	// --- Start ---

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("universe starting on %s", cfg.ServerAddr)
		if err := e.Start(cfg.ServerAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("shutting down...")
	if err := e.Shutdown(context.Background()); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
