package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Threadigit/BillDrop/internal/adapters/store"
	"github.com/Threadigit/BillDrop/internal/config"
	"github.com/Threadigit/BillDrop/internal/core"
	"go.uber.org/zap"
)

// Store persists both subscriptions and scan records
type Store interface {
	core.SubscriptionRepository
	core.ScanRepository
	Close() error
}

// StoreFactory creates the persistence layer
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStore opens the configured store
func (f *StoreFactory) CreateStore() (Store, error) {
	storeCfg := f.cfg.GetStore()

	switch storeCfg.Type {
	case "memory":
		return store.NewMemoryStore(f.logger), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(storeCfg.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return store.NewSQLStore(store.DialectSQLite, storeCfg.SQLitePath, f.logger)
	case "mysql":
		return store.NewSQLStore(store.DialectMySQL, storeCfg.MySQLDSN, f.logger)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeCfg.Type)
	}
}
