// Package main is the entry point for the pipestack control plane.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pipestack/control-plane/internal/artifact"
	"github.com/pipestack/control-plane/internal/compiler"
	"github.com/pipestack/control-plane/internal/config"
	"github.com/pipestack/control-plane/internal/database"
	"github.com/pipestack/control-plane/internal/deployer"
	"github.com/pipestack/control-plane/internal/handler"
	"github.com/pipestack/control-plane/internal/identity"
	"github.com/pipestack/control-plane/internal/middleware"
	"github.com/pipestack/control-plane/internal/pkg/response"
	"github.com/pipestack/control-plane/internal/repository"
	"github.com/pipestack/control-plane/internal/secrets"
	"github.com/pipestack/control-plane/internal/secretstore"
	"github.com/pipestack/control-plane/internal/service"
	"github.com/pipestack/control-plane/internal/watcher"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting pipestack control plane",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Connect to Redis
	redis, err := database.NewRedis(cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	// Two authenticated handles to the same bus: the system user drives the
	// trust resolver, the platform user everything else.
	systemConn, err := connectBus(cfg.Nats, cfg.Nats.SystemUserJWT, cfg.Nats.SystemUserSeed, "pipestack-system")
	if err != nil {
		log.Fatalf("Failed to connect system bus handle: %v", err)
	}
	defer systemConn.Drain()

	platformConn, err := connectBus(cfg.Nats, cfg.Nats.PlatformUserJWT, cfg.Nats.PlatformUserSeed, "pipestack-platform")
	if err != nil {
		log.Fatalf("Failed to connect platform bus handle: %v", err)
	}
	defer platformConn.Drain()
	logger.Info("Connected to bus", slog.String("urls", cfg.Nats.URLs))

	store := secretstore.NewClient(cfg.SecretStore)
	repo := repository.NewWorkspaceRepository(db.Pool())

	// Identity provisioning pipeline: Postgres notification -> manager.
	resolver := identity.NewResolver(systemConn, cfg.Nats.RequestTimeout)
	manager, err := identity.NewManager(cfg.Nats, resolver, repo, store, logger)
	if err != nil {
		log.Fatalf("Failed to create identity manager: %v", err)
	}
	workspaceWatcher := watcher.New(cfg.Database.DSN(), manager, logger)
	go func() {
		if err := workspaceWatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("workspace watcher stopped", "error", err)
		}
	}()

	// Secrets backend.
	secretsServer, err := secrets.NewServer(cfg.Secrets, store, logger)
	if err != nil {
		log.Fatalf("Failed to create secrets server: %v", err)
	}
	go func() {
		if err := secretsServer.Run(ctx, platformConn); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("secrets backend stopped", "error", err)
		}
	}()

	// Deploy path: compile, publish artifacts, submit manifests.
	comp := compiler.New(compiler.Config{
		Components:  cfg.Components,
		RegistryURL: cfg.Registry.URL,
		ClusterURIs: cfg.Nats.ClusterURIs,
	})
	objectStore := artifact.NewObjectStore(cfg.ObjectStore)
	publisher := artifact.NewPublisher(objectStore, cfg.Registry, logger)
	dep := deployer.New(platformConn, repo, store, comp, cfg.Deploy, logger)
	deployService := service.NewDeployService(publisher, dep, logger)
	deployHandler := handler.NewDeployHandler(deployService)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Timeout(5 * time.Minute))

	r.Get("/health", healthHandler(db, redis))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(redis, middleware.DefaultRateLimitConfig()))
		r.Mount("/", deployHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Admin API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("Shutdown complete")
}

func connectBus(cfg config.NatsConfig, userJWT, userSeed, name string) (*nats.Conn, error) {
	return nats.Connect(cfg.URLs,
		nats.Name(name),
		nats.UserJWTAndSeed(userJWT, userSeed),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// healthHandler reports liveness of the two storage dependencies.
func healthHandler(db *database.Postgres, redis *database.Redis) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			response.FailWithStatus(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		if err := redis.Ping(ctx); err != nil {
			response.FailWithStatus(w, http.StatusServiceUnavailable, "redis unavailable")
			return
		}
		response.Healthy(w)
	}
}
