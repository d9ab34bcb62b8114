package main

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/shelf/backend/internal/config"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/database"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/index"
	"github.com/MarcoPoloResearchLab/shelf/backend/internal/store"
	"go.uber.org/zap"
)

type storage struct {
	backend store.Backend
	indexes *index.Maintainer
	close   func() error
}

func (s storage) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// openStorage selects the record backend named by the configuration and builds the index
// maintainer over it.
func openStorage(appConfig config.AppConfig, logger *zap.Logger) (storage, error) {
	var opened storage
	switch appConfig.StorageDriver {
	case config.StorageDriverSQLite:
		db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return storage{}, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return storage{}, err
		}
		backend, err := store.NewSQLBackend(store.SQLBackendConfig{Database: db, Logger: logger})
		if err != nil {
			sqlDB.Close() //nolint:errcheck
			return storage{}, err
		}
		opened = storage{backend: backend, close: sqlDB.Close}
	case config.StorageDriverFilesystem:
		backend, err := store.NewFileBackend(appConfig.DataDir, logger)
		if err != nil {
			return storage{}, err
		}
		opened = storage{backend: backend}
	default:
		return storage{}, fmt.Errorf("unsupported storage driver %q", appConfig.StorageDriver)
	}

	indexes, err := index.NewMaintainer(index.MaintainerConfig{Backend: opened.backend, Logger: logger})
	if err != nil {
		opened.Close() //nolint:errcheck
		return storage{}, err
	}
	opened.indexes = indexes
	return opened, nil
}
