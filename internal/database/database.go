package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"productos/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

// Service owns the connection pool shared by every request.
type Service interface {
	// DB returns the underlying pool.
	DB() *sql.DB
	// Health reports pool statistics, the applied migration version and
	// whether the database answers a ping.
	Health(ctx context.Context) map[string]string
	// Close releases every pooled connection.
	Close() error
}

type service struct {
	db     *sql.DB
	logger *zap.Logger
}

// New opens a bounded pool and verifies the database is reachable. Callers
// that exceed MaxOpenConns wait for a free connection.
func New(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Service, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	logger.Info("Database connection pool ready",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)

	return &service{db: db, logger: logger}, nil
}

func (s *service) DB() *sql.DB {
	return s.db
}

func (s *service) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = err.Error()
		s.logger.Warn("Database health check failed", zap.Error(err))
		return stats
	}

	dbStats := s.db.Stats()
	stats["status"] = "up"
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["max_open_connections"] = strconv.Itoa(dbStats.MaxOpenConnections)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if version, err := MigrationVersion(s.db); err != nil {
		s.logger.Warn("Failed to read migration version", zap.Error(err))
	} else {
		stats["migration_version"] = strconv.FormatInt(version, 10)
	}

	return stats
}

func (s *service) Close() error {
	s.logger.Info("Closing database connection pool")
	return s.db.Close()
}
