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
	"github.com/stocktrace/stocktrace-backend/internal/lot/consumers"
	"github.com/stocktrace/stocktrace-backend/internal/lot/events"
	"github.com/stocktrace/stocktrace-backend/internal/lot/handler"
	"github.com/stocktrace/stocktrace-backend/internal/lot/repository"
	"github.com/stocktrace/stocktrace-backend/internal/lot/service"
	"github.com/stocktrace/stocktrace-backend/pkg/config"
	"github.com/stocktrace/stocktrace-backend/pkg/database"
	"github.com/stocktrace/stocktrace-backend/pkg/httputil"
	"github.com/stocktrace/stocktrace-backend/pkg/logger"
	"github.com/stocktrace/stocktrace-backend/pkg/messaging"
	"github.com/stocktrace/stocktrace-backend/pkg/metrics"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("lot-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("lot-service", cfg.Server.Environment)
	log.Info().Msg("starting Lot Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewLotEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize metrics
	m := metrics.New()

	// Initialize repositories
	lotRepo := repository.NewLotRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	// Initialize services
	lotService := service.NewLotService(lotRepo, sessionRepo, publisher, m, log)
	sessionService := service.NewSessionService(lotRepo, sessionRepo, publisher, m, log)

	// Initialize handlers
	lotHandler := handler.NewLotHandler(lotService, log)
	sessionHandler := handler.NewSessionHandler(sessionService, log)

	// Start delivery event consumer
	deliveryConsumer, err := consumers.NewDeliveryEventConsumer(rmq, lotService, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create delivery event consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := deliveryConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start delivery event consumer")
	}

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(httputil.ActorMiddleware)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Actor-ID", "X-Actor-Name", "X-Actor-Email"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "lot-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// Prometheus metrics
	r.Handle("/metrics", m.Handler())

	// API routes
	r.Route("/api/v1/lots", func(r chi.Router) {
		r.Get("/", lotHandler.List)
		r.Post("/", lotHandler.Create)
		r.Get("/expiring", lotHandler.ListExpiring)
		r.Post("/allocation", lotHandler.SuggestAllocation)
		r.Post("/consumptions/{consumptionId}/annul", lotHandler.Annul)
		r.Put("/consumptions/{consumptionId}/lock", lotHandler.SetConsumptionLock)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", lotHandler.Get)
			r.Get("/history", lotHandler.History)
			r.Post("/move", lotHandler.Move)
			r.Post("/block", lotHandler.Block)
			r.Post("/unblock", lotHandler.Unblock)
			r.Post("/split", lotHandler.Split)
			r.Post("/consume", lotHandler.Consume)
			r.Get("/consumptions", lotHandler.ListConsumptions)
			r.Post("/archive", lotHandler.Archive)
			r.Post("/restore", lotHandler.Restore)
			r.Post("/ancillary", lotHandler.AppendAncillary)
		})
	})

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Get("/", sessionHandler.List)
		r.Post("/", sessionHandler.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", sessionHandler.Get)
			r.Post("/locations/{locationId}/scan", sessionHandler.Scan)
			r.Put("/locations/{locationId}/status", sessionHandler.SetScanStatus)
			r.Get("/reconciliation", sessionHandler.Reconciliation)
			r.Post("/discrepancies/{lotId}/confirm-missing", sessionHandler.ResolveMissing)
			r.Post("/discrepancies/{lotId}/accept", sessionHandler.ResolveAccept)
			r.Post("/finalize", sessionHandler.Finalize)
			r.Post("/cancel", sessionHandler.Cancel)
		})
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

	// Cancel context to stop consumers
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
