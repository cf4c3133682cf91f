// Kaya - chat assistant server
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

	"github.com/ashureev/kaya/internal/agent"
	"github.com/ashureev/kaya/internal/api"
	"github.com/ashureev/kaya/internal/chat"
	"github.com/ashureev/kaya/internal/config"
	"github.com/ashureev/kaya/internal/identity"
	"github.com/ashureev/kaya/internal/markdown"
	"github.com/ashureev/kaya/internal/middleware"
	"github.com/ashureev/kaya/internal/profile"
	"github.com/ashureev/kaya/internal/store"
	"github.com/ashureev/kaya/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

const markdownCacheSize = 256

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend", cfg.Agent.Backend)

	prof, err := profile.Load(cfg.Agent.ProfilePath)
	if err != nil {
		slog.Error("Failed to load agent profile", "error", err)
		os.Exit(1)
	}
	slog.Info("Agent profile loaded", "subagents", len(prof.Subagents()), "tool_servers", prof.ToolServerNames())

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

	processor, err := newProcessor(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize agent backend", "error", err)
		os.Exit(1)
	}
	svc := agent.NewServiceWithProcessor(processor, cfg.Agent.Timeout)
	defer svc.Close()

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
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
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	presenter := api.NewPresenter(markdown.New(markdownCacheSize))
	hub := api.NewHub(presenter)
	recorder := chat.NewLedgerRecorder(repo, conversationLogger, logger)
	defer recorder.Wait()
	registry := chat.NewRegistry(chat.Options{
		Responder:    svc,
		Profile:      prof,
		Recorder:     recorder,
		Renderer:     hub,
		DefaultModel: cfg.Agent.DefaultModel,
		Logger:       logger,
	})

	// Initialize handlers.
	chatHandler := api.NewHandler(api.Config{
		Registry:       registry,
		Hub:            hub,
		Presenter:      presenter,
		Agents:         prof,
		Repo:           repo,
		Backend:        svc.Backend(),
		DefaultModel:   cfg.Agent.DefaultModel,
		MaxBodySize:    cfg.MaxRequestBodySize,
		RateLimit:      cfg.RateLimit.RequestsPerWindow,
		RateWindow:     cfg.RateLimit.WindowDuration,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})
	defer chatHandler.Close()
	healthHandler := api.NewHealthHandler(repo, svc.Backend(), registry.Len)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Agent replies can take minutes, so there is no write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chat.StartSweeper(ctx, registry, chat.SweeperConfig{
		TTL:       cfg.SessionTTL,
		Interval:  cfg.SweepInterval,
		Ledger:    repo,
		Retention: cfg.LedgerRetention,
		OnExpire:  hub.CloseSession,
	})

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}

func newProcessor(cfg *config.Config, logger *slog.Logger) (agent.Processor, error) {
	if cfg.Agent.Backend == config.BackendAPI {
		slog.Info("Using Messages API backend, subagents and tool servers are disabled")
		return agent.NewMessagesClient(cfg.Agent.APIKey, cfg.Agent.MaxTokens, logger), nil
	}
	return agent.NewCLIClient(agent.CLIClientConfig{
		Path:    cfg.Agent.CLIPath,
		WorkDir: cfg.Agent.WorkDir,
	}, logger)
}
