package server

import (
	"fmt"
	"net/http"
	"time"

	"productos/internal/cache"
	"productos/internal/config"
	"productos/internal/database"
	"productos/internal/imagestore"
	"productos/internal/metrics"
	custommiddleware "productos/internal/middleware"
	"productos/internal/repository"
	"productos/internal/service"
	"productos/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const metricsPrefix = "productos"

// Dependencies are the long-lived resources created in main.
type Dependencies struct {
	Config   *config.Config
	Logger   *zap.Logger
	Database database.Service
	// Redis is nil when caching is disabled.
	Redis *redis.Client
	// Files holds the static image directory.
	Files afero.Fs
	// Registry defaults to a fresh registry with Go and process collectors.
	Registry *prometheus.Registry
}

type Server struct {
	*http.Server
	config   *config.Config
	logger   *zap.Logger
	database database.Service
	redis    *redis.Client
}

func NewServer(deps Dependencies) (*Server, error) {
	cfg := deps.Config
	logger := deps.Logger

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	httpMetrics := metrics.NewHTTPMetrics(registry, metricsPrefix)

	router := chi.NewRouter()

	// Add basic middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(httpMetrics.Middleware)
	router.Use(custommiddleware.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.Server.IsDevelopment()))

	router.Get("/health", healthHandler(deps.Database))
	router.Handle("/metrics", metrics.Handler(registry))

	images, err := imagestore.New(deps.Files, imagestore.Options{
		Dir:          cfg.Storage.StaticDir,
		PublicPrefix: cfg.Storage.PublicPrefix,
		Optimize:     cfg.Image.Optimize,
		MaxSide:      cfg.Image.MaxSide,
		Quality:      cfg.Image.Quality,
	}, logger)
	if err != nil {
		return nil, err
	}

	var backend cache.Backend
	if deps.Redis != nil {
		backend = cache.NewRedisBackend(deps.Redis)
	}
	responses := cache.New(backend, cache.NewMetrics(registry, metricsPrefix), logger)

	productRepo := repository.NewProductRepository(deps.Database.DB())

	productService := service.NewProductService(productRepo, images, responses, service.Options{
		CacheTTL:   cfg.Cache.TTL,
		Categories: cfg.Catalog.Categories,
	}, logger)

	productHandler := transport.NewProductHandler(productService, cfg.Server.MaxUploadMB<<20, logger)

	var writeMiddleware []func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled && deps.Redis != nil {
		writeMiddleware = append(writeMiddleware, custommiddleware.RateLimitMiddleware(deps.Redis, custommiddleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
			Window:            cfg.RateLimit.Window,
			KeyPrefix:         metricsPrefix + ":ratelimit",
		}, logger))
	}

	// Register routes
	productHandler.RegisterRoutes(router, writeMiddleware...)
	transport.RegisterStatic(router, deps.Files, cfg.Storage.StaticDir, cfg.Storage.PublicPrefix)

	server := &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		config:   cfg,
		logger:   logger,
		database: deps.Database,
		redis:    deps.Redis,
	}

	return server, nil
}

func healthHandler(db database.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := db.Health(r.Context())

		status := http.StatusOK
		if stats["status"] != "up" {
			status = http.StatusServiceUnavailable
		}

		custommiddleware.RespondWithJSON(w, status, map[string]interface{}{
			"status":   http.StatusText(status),
			"database": stats,
		})
	}
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Failed to close redis client", zap.Error(err))
		}
	}

	// Close database connection
	if s.database != nil {
		if err := s.database.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}
