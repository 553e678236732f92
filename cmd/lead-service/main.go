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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/leadflow/leadflow-backend/internal/lead/catalog"
	"github.com/leadflow/leadflow-backend/internal/lead/events"
	"github.com/leadflow/leadflow-backend/internal/lead/gateway"
	"github.com/leadflow/leadflow-backend/internal/lead/handler"
	"github.com/leadflow/leadflow-backend/internal/lead/repository"
	"github.com/leadflow/leadflow-backend/internal/lead/service"
	"github.com/leadflow/leadflow-backend/internal/lead/store"
	"github.com/leadflow/leadflow-backend/internal/lead/validation"
	"github.com/leadflow/leadflow-backend/internal/lead/workflow"
	"github.com/leadflow/leadflow-backend/pkg/config"
	"github.com/leadflow/leadflow-backend/pkg/database"
	"github.com/leadflow/leadflow-backend/pkg/httputil"
	"github.com/leadflow/leadflow-backend/pkg/i18n"
	"github.com/leadflow/leadflow-backend/pkg/logger"
	"github.com/leadflow/leadflow-backend/pkg/messaging"
)

const serviceName = "lead-service"

func main() {
	// Load configuration
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Lead Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	// RabbitMQ is optional; without it lifecycle events are not published.
	var rmq *messaging.RabbitMQ
	var publisher *events.LeadEventPublisher
	rmq, err = messaging.New(ctx, &cfg.RabbitMQ, log)
	if err != nil {
		log.Warn().Err(err).Msg("RabbitMQ unavailable, lead events disabled")
	} else {
		defer rmq.Close()
		publisher, err = events.NewLeadEventPublisher(rmq, serviceName, cfg.Lead.ProductType, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	}

	// Initialize repositories
	sessionRepo := repository.NewSessionRepository(db)
	uploadRepo := repository.NewUploadRepository(db)

	// Initialize workflow
	listeners := []workflow.Listener{service.NewAuditListener(uploadRepo, log)}
	if publisher != nil {
		listeners = append(listeners, publisher)
	}

	validator := validation.New()
	orchestrator := workflow.New(
		gateway.NewClient(&cfg.Gateway, &cfg.Lead, log),
		workflow.Options{
			RequireDocuments: cfg.Upload.RequireDocuments,
			Validator:        validator,
			Listeners:        listeners,
		},
		log,
	)

	// Active sessions live in memory and expire after the configured TTL
	sessions := store.New(cfg.Session.TTL, cfg.Upload.MaxFileSize)
	go sessions.Run(ctx)

	// Initialize service and handlers
	leadService := service.NewLeadService(sessions, sessionRepo, uploadRepo, orchestrator, catalog.Default(), validator, log)
	leadHandler := handler.NewLeadHandler(leadService, cfg.Upload.MaxFileSize, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(i18n.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Accept-Language"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Language"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":          "healthy",
			"service":         serviceName,
			"database":        db.Health(r.Context()),
			"active_sessions": sessions.Len(),
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	// API routes (bearer token required)
	r.Route("/api/v1/leads", func(r chi.Router) {
		r.Use(httputil.Authenticator(&cfg.JWT, log))
		leadHandler.Routes(r)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop the session sweeper
	cancel()

	// Graceful shutdown; in-flight submissions finish within the timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
