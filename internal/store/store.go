// Package store persists small values (timestamps, flags, cookie records) under
// string keys. Several backends share one contract so the daemon and the CLI
// commands can point at whatever state location the user configured.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("store: key not found")

// Store is a byte-oriented key/value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Open builds the backend selected by cfg.Type.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	log := logger.Named("store").With(zap.String("backend", cfg.Type))

	switch cfg.Type {
	case config.StoreFile:
		path, err := homedir.Expand(cfg.ResolvedPath())
		if err != nil {
			return nil, fmt.Errorf("failed to expand store path %q: %w", cfg.ResolvedPath(), err)
		}
		log.Debug("Opening file store.", zap.String("path", path))
		return NewFileStore(nil, path)

	case config.StoreSQLite:
		path, err := homedir.Expand(cfg.ResolvedPath())
		if err != nil {
			return nil, fmt.Errorf("failed to expand store path %q: %w", cfg.ResolvedPath(), err)
		}
		log.Debug("Opening sqlite store.", zap.String("path", path))
		return OpenSQLite(ctx, path)

	case config.StorePostgres:
		return OpenPostgres(ctx, cfg.DSN, log)

	case config.StoreKeyring:
		return NewKeyringStore(cfg.KeyringService), nil

	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
