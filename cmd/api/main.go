// Package main is the entry point for the chat-sync API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agentflow-ai/chat-sync/internal/config"
	"github.com/agentflow-ai/chat-sync/internal/editstore"
	"github.com/agentflow-ai/chat-sync/internal/handler"
	"github.com/agentflow-ai/chat-sync/internal/llm"
	"github.com/agentflow-ai/chat-sync/internal/middleware"
	natsclient "github.com/agentflow-ai/chat-sync/internal/nats"
	"github.com/agentflow-ai/chat-sync/internal/retention"
	"github.com/agentflow-ai/chat-sync/internal/service"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
	"github.com/agentflow-ai/chat-sync/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting chat-sync server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-sync", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Connect to NATS
	natsClient, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	streamManager := natsclient.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Open the edit record store
	edits, err := editstore.Open(cfg.EditStorePath, log)
	if err != nil {
		log.Error("failed to open edit store", zap.Error(err))
		os.Exit(1)
	}
	defer edits.Close()

	// Initialize the LLM client for Machine replies
	var llmClient llm.Client
	switch {
	case cfg.DefaultLLM == string(llm.ProviderOpenAI) && cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	}
	if err != nil {
		log.Warn("failed to create LLM client, replies disabled", zap.Error(err))
		llmClient = nil
	}

	// Initialize services
	sessionSvc := service.NewSessionService(cfg.MatchWindow, log)
	messageSvc := service.NewMessageService(streamManager, sessionSvc, edits, log)
	responder := service.NewResponder(messageSvc, llmClient, log)

	// Retention sweep for stale edit records
	sweeper, err := retention.New(retention.Config{
		Enabled: cfg.RetentionEnabled,
		Cron:    cfg.RetentionCron,
		MaxAge:  cfg.EditRecordMaxAge,
	}, edits, sessionSvc.Live, log)
	if err != nil {
		log.Error("failed to configure retention", zap.Error(err))
		os.Exit(1)
	}

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	sessionHandler := handler.NewSessionHandler(sessionSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, responder, log)
	streamHandler := handler.NewStreamHandler(messageSvc, log)

	// Create router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/flows/{flowID}", func(r chi.Router) {
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", sessionHandler.Create)
				r.Get("/", sessionHandler.List)
				r.Delete("/{sessionID}", sessionHandler.Delete)
				r.Post("/{sessionID}/switch", sessionHandler.Switch)
			})

			r.Post("/messages", messageHandler.Send)
			r.Get("/messages", messageHandler.List)
			r.Put("/messages/{messageID}", messageHandler.Edit)

			r.Get("/stream", streamHandler.Stream)
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	log.Info("server stopped")
}
