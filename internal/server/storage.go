package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/VinMeld/go-dm/internal/config"
	"github.com/VinMeld/go-dm/internal/store"
	"github.com/VinMeld/go-dm/internal/store/mongostore"
	"github.com/VinMeld/go-dm/internal/store/sqlitestore"
)

// OpenStore opens the message store backend named by cfg.Driver.
// readStatusTTL is handed to backends that can expire cursors natively.
func OpenStore(ctx context.Context, cfg config.Store, readStatusTTL time.Duration, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, err
			}
		}
		logger.Info("Using SQLite store", "path", cfg.SQLitePath)
		s, err := sqlitestore.Open(sqlitestore.Config{Path: cfg.SQLitePath, Logger: logger})
		if err != nil {
			return nil, err
		}
		return s, nil
	case "mongo":
		logger.Info("Using MongoDB store", "database", cfg.MongoDatabase)
		s, err := mongostore.Open(ctx, mongostore.Config{
			URI:           cfg.MongoURI,
			Database:      cfg.MongoDatabase,
			ReadStatusTTL: readStatusTTL,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
