package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/clinic-forms/internal/config"
	"github.com/jwalitptl/clinic-forms/internal/handler"
	formHandler "github.com/jwalitptl/clinic-forms/internal/handler/form"
	"github.com/jwalitptl/clinic-forms/internal/middleware"
	"github.com/jwalitptl/clinic-forms/internal/repository/postgres"
	"github.com/jwalitptl/clinic-forms/internal/router"
	formService "github.com/jwalitptl/clinic-forms/internal/service/form"
	"github.com/jwalitptl/clinic-forms/pkg/logger"
	"github.com/jwalitptl/clinic-forms/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.ToLoggerConfig())

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal(err, "failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(db); err != nil {
			log.Fatal(err, "failed to run migrations")
		}
		log.Info("database migrations applied")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(cfg.Metrics.Namespace, registry)

	// Initialize services and handlers
	store := postgres.NewStore(db)
	formSvc := formService.NewService(store, formService.Config{
		CacheTTL:        cfg.Cache.TemplateTTL,
		CleanupInterval: cfg.Cache.CleanupInterval,
	}, log, m)

	h := handler.NewHandler(db, registry)
	formsH := formHandler.NewHandler(formSvc)

	cors := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowOrigins) > 0 {
		cors.AllowOrigins = cfg.Server.AllowOrigins
	}

	r := router.NewRouter(formsH, h, log, router.RouterConfig{
		Mode:           cfg.Server.Mode,
		RateLimit:      rate.Limit(cfg.Server.RateLimit),
		RateBurst:      cfg.Server.RateBurst,
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSConfig:     cors,
		MetricsPrefix:  cfg.Metrics.Namespace,
		Registerer:     registry,
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "server forced to shutdown")
	}

	log.Info("server exited properly")
}
