// agentbridge - messaging channel to agent engine bridge server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ssklabs/agentbridge/internal/bridge"
	"github.com/ssklabs/agentbridge/internal/channel"
	"github.com/ssklabs/agentbridge/internal/config"
	"github.com/ssklabs/agentbridge/internal/convlog"
	"github.com/ssklabs/agentbridge/internal/identity"
	"github.com/ssklabs/agentbridge/internal/middleware"
	"github.com/ssklabs/agentbridge/internal/remote"
	"github.com/ssklabs/agentbridge/internal/store"
	"github.com/ssklabs/agentbridge/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev_console", cfg.DevConsole)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	remoteClient, err := remote.NewHTTPClient(remote.HTTPClientConfig{
		BaseURL:        cfg.Remote.BaseURL,
		EngineID:       cfg.Remote.EngineID,
		ConnectTimeout: cfg.Remote.ConnectTimeout,
		RequestTimeout: cfg.Remote.RequestTimeout,
	}, logger)
	if err != nil {
		slog.Error("Failed to connect to agent engine", "error", err, "base_url", cfg.Remote.BaseURL)
		os.Exit(1)
	}
	defer remoteClient.Close()
	slog.Info("Agent engine connected", "engine_id", cfg.Remote.EngineID)

	conversationLog, err := convlog.New(convlog.Config{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	controller := bridge.New(repo, remoteClient, conversationLog, bridge.Config{
		SessionMaxAge:     cfg.Session.MaxAge,
		SessionQuota:      cfg.Session.Quota,
		FeedbackCacheSize: cfg.Session.FeedbackCacheSize,
	}, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	// Webhook routes carry platform identity in the payload; the
	// signature check is the authentication.
	if cfg.Channel.Secret != "" && cfg.Channel.AccessToken != "" && cfg.Channel.APIBase != "" {
		apiClient := channel.NewClient(cfg.Channel.APIBase, cfg.Channel.AccessToken, logger)
		webhook := channel.NewWebhookHandler(controller, apiClient.ConversationFor, cfg.Channel.Secret, logger)
		r.Get("/webhook/events", webhook.HandleLiveness)
		r.Post("/webhook/events", webhook.HandleEvents)
		slog.Info("Webhook channel enabled")
	}

	// Dev console: anonymous cookie identity, WebSocket conversation.
	if cfg.DevConsole {
		console := channel.NewConsoleHandler(controller, logger)
		r.Group(func(r chi.Router) {
			r.Use(identity.Middleware(true))
			r.Get("/ws/console", console.ServeHTTP)
		})
		r.Handle("/*", web.ConsoleHandler())
		slog.Info("Dev console enabled")
	}

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Webhook turns block on the agent engine stream; no write timeout.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartCleanupWorker(ctx, repo, cfg.Session.Retention)
	slog.Info("Session cleanup worker started", "retention", cfg.Session.Retention)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
