package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	postgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/skatehubba/backend/internal/battle"
	"github.com/skatehubba/backend/internal/game"
	"github.com/skatehubba/backend/internal/players"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
// SQLite serves development and tests; row locking degrades to the single
// writer connection.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := initialize(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", "sqlite"), zap.String("path", path))
	}

	return db, nil
}

// OpenPostgres establishes a Postgres connection and performs schema
// migrations. Production deployments use Postgres so SELECT FOR UPDATE gives
// real row-level serialization across instances.
func OpenPostgres(dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := initialize(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", "postgres"))
	}

	return db, nil
}

func initialize(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(
		&game.Session{},
		&game.Round{},
		&game.Dispute{},
		&battle.VoteSession{},
		&players.Profile{},
		&migrationRecord{},
	); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
