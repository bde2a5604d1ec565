package main

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/roomledger/internal/config"
	"github.com/MarkoPoloResearchLab/roomledger/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/roomledger/internal/store/migrations"
	"github.com/MarkoPoloResearchLab/roomledger/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
	"go.uber.org/zap"
)

// backendStore is everything the services persist through. Both store packages satisfy it.
type backendStore interface {
	ledger.Store
	ledger.ListingStore
	ledger.ActionRecordStore
	ledger.InconsistencyStore
	ledger.ProfileStore
}

type backend struct {
	store backendStore
	close func()
}

func openBackend(ctx context.Context, storeBackend string, databaseURL string, migrateOnStart bool, logger *zap.Logger) (backend, error) {
	driver, dsn, err := config.ResolveDatabase(databaseURL)
	if err != nil {
		return backend{}, fmt.Errorf("resolve database: %w", err)
	}
	if driver == gormstore.DriverPostgres && migrateOnStart {
		if err := migrations.Run(ctx, dsn, "up"); err != nil {
			return backend{}, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	if storeBackend == config.StorePgx {
		pool, err := pgstore.Open(ctx, dsn)
		if err != nil {
			return backend{}, fmt.Errorf("database open: %w", err)
		}
		logger.Info("store ready", zap.String("backend", config.StorePgx))
		return backend{store: pgstore.New(pool), close: pool.Close}, nil
	}

	db, err := gormstore.Open(driver, dsn)
	if err != nil {
		return backend{}, fmt.Errorf("database open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return backend{}, fmt.Errorf("database handle: %w", err)
	}
	if driver == gormstore.DriverSQLite {
		if err := gormstore.AutoMigrate(db); err != nil {
			_ = sqlDB.Close()
			return backend{}, fmt.Errorf("auto migrate: %w", err)
		}
	}
	logger.Info("store ready", zap.String("backend", config.StoreGorm), zap.String("driver", driver))
	return backend{store: gormstore.New(db), close: func() { _ = sqlDB.Close() }}, nil
}
