// Package store persists the single upstream session record.
//
// Backends are interchangeable behind Store. The in-memory session held by
// the auth manager stays authoritative; a store only seeds it after restarts.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/jmylchreest/motor-proxy/internal/config"
	"github.com/jmylchreest/motor-proxy/internal/models"
)

// Store is a key/value store for persisted sessions.
type Store interface {
	// Get returns (nil, nil) when no record exists for id.
	Get(ctx context.Context, id string) (*models.PersistedSession, error)
	Set(ctx context.Context, id string, session *models.PersistedSession) error
	// Delete is a no-op when the record does not exist.
	Delete(ctx context.Context, id string) error
	Close() error
}

// Open returns the backend selected by cfg.SessionStore. It returns a nil
// Store for "none", which callers treat as memory-only operation.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.SessionStore {
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.SessionDBPath, logger)
	case config.StoreFile:
		return NewFileStore(afero.NewOsFs(), cfg.SessionFilePath, logger), nil
	case config.StoreS3:
		return NewS3Store(ctx, S3Options{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Bucket:          cfg.S3Bucket,
			Key:             cfg.S3SessionKey,
		}, logger)
	case config.StoreNone:
		logger.Info("session persistence disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.SessionStore)
	}
}
