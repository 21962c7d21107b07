package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/llm-mail-triage/internal/adapters/store"
	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
)

// StoreFactory creates triage stores based on configuration
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

// CreateStore creates a triage store based on the configuration
func (f *StoreFactory) CreateStore() (core.TriageStore, error) {
	storageConfig := f.cfg.GetStorage()

	switch storageConfig.Type {
	case "sqlite":
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(storageConfig.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		return store.NewSQLiteStore(storageConfig.SQLitePath, f.logger)
	case "mysql":
		return store.NewMySQLStore(storageConfig.MySQLDSN, f.logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageConfig.Type)
	}
}
