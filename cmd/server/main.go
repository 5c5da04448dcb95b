package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/sanktgall/neumascribe/adapters/memory"
	"github.com/sanktgall/neumascribe/adapters/mongo"
	"github.com/sanktgall/neumascribe/adapters/realtime"
	"github.com/sanktgall/neumascribe/domain/repositories"
	"github.com/sanktgall/neumascribe/internal/api"
	"github.com/sanktgall/neumascribe/internal/auth"
	"github.com/sanktgall/neumascribe/internal/config"
	"github.com/sanktgall/neumascribe/internal/websocket"
	"github.com/sanktgall/neumascribe/usecase"
)

func main() {
	godotenv.Load()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Session archive, MongoDB when configured and in-memory otherwise
	var archive repositories.SessionRepository
	if cfg.Mongo.URI != "" {
		client, err := mongo.NewClient(cfg.Mongo.URI, cfg.Mongo.Database, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			client.Close(ctx)
		}()
		archive = mongo.NewSessionRepository(client.Database, logger)
	} else {
		logger.Warn("MONGODB_URI is not set, archiving sessions in memory only")
		archive = memory.NewSessionRepository()
	}

	// Realtime speech provider
	var provider repositories.RealtimeProvider
	switch cfg.Realtime.Provider {
	case config.ProviderScripted:
		logger.Info("Using the scripted realtime provider")
		provider = realtime.NewScriptedProvider(logger)
	default:
		openai, err := realtime.NewOpenAIRealtime(realtime.OpenAIConfig{
			APIKey:  cfg.Realtime.APIKey,
			BaseURL: cfg.Realtime.BaseURL,
			Model:   cfg.Realtime.Model,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize the OpenAI realtime provider", zap.Error(err))
		}
		provider = openai
	}

	// Initialize usecase services
	service := usecase.NewAnnotationService(archive, logger)

	// Initialize WebSocket hub with the annotation service
	hub := websocket.NewHub(service, logger)
	go hub.Run()

	// Sweep idle sessions so abandoned connections still get archived
	janitor := websocket.NewSessionJanitor(hub, cfg.Session.IdleTimeout, cfg.Session.SweepInterval, logger)
	janitor.Start()
	defer janitor.Stop()

	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// Initialize API routes
	api.InitRoutes(e, hub, authenticator, provider, archive, cfg.Auth.AccessKey, logger)

	// Start server
	go func() {
		if err := e.Start(cfg.Addr()); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("addr", cfg.Addr()),
		zap.String("provider", cfg.Realtime.Provider))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
