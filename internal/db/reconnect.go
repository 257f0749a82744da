package db

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/unklstewy/mountcore/internal/logging"
	"github.com/unklstewy/mountcore/pkg/config"
)

const maxReconnectDelay = 60 * time.Second

// ReconnectWithRetry connects to the database with exponential backoff.
// maxRetries of 0 retries until ctx is done.
func ReconnectWithRetry(ctx context.Context, log logging.Logger, cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration) (*DB, error) {
	delay := initialDelay
	attempt := 0

	for {
		attempt++
		log.Debug(ctx, "database connection attempt", logging.Int("attempt", attempt))

		db, err := Connect(cfg)
		if err == nil {
			log.Info(ctx, "database connected", logging.String("host", cfg.Host), logging.Int("attempts", attempt))
			return db, nil
		}

		if maxRetries > 0 && attempt >= maxRetries {
			log.Error(ctx, "database connection failed", logging.Int("attempts", attempt), logging.Err(err))
			return nil, err
		}

		log.Warn(ctx, "database connection failed, retrying",
			logging.Err(err),
			logging.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// EnsureConnection checks that db is alive and reconnects if needed.
func EnsureConnection(ctx context.Context, log logging.Logger, db *DB, cfg config.DatabaseConfig) (*DB, error) {
	if db == nil {
		return ReconnectWithRetry(ctx, log, cfg, 3, time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		log.Warn(ctx, "database connection lost", logging.Err(err))
		db.Close()
		return ReconnectWithRetry(ctx, log, cfg, 3, time.Second)
	}

	return db, nil
}

// HealthCheck reports whether the database answers a trivial query.
func HealthCheck(ctx context.Context, db *DB) error {
	if db == nil {
		return errors.New("database not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return err
	}
	if result != 1 {
		return errors.New("unexpected health check result")
	}
	return nil
}

// WithRetry runs operation, retrying connection failures up to maxRetries
// times. Other errors are returned at once.
func WithRetry(ctx context.Context, log logging.Logger, operation func(context.Context) error, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsConnError(err) {
			return err
		}

		if attempt < maxRetries {
			wait := time.Duration(attempt+1) * time.Second
			log.Warn(ctx, "database operation failed",
				logging.Int("attempt", attempt+1),
				logging.Int("max_attempts", maxRetries+1),
				logging.Err(err),
				logging.Duration("retry_in", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return lastErr
}

var connErrorPatterns = []string{
	"connection refused",
	"broken pipe",
	"no connection",
	"connection reset",
	"eof",
	"timeout",
}

// IsConnError reports whether err looks like a lost database connection.
func IsConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception
		return pqErr.Code.Class() == "08"
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range connErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
