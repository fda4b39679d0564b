package database

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	TypeMongo  = "mongo"
	TypeRedis  = "redis"
	TypeSQLite = "sqlite"
)

// NewDatabase opens the configured backend and ensures its schema exists.
// name selects the logical database where the backend has one (MongoDB).
func NewDatabase(ctx context.Context, databaseType, connectionString, name string) (database DatabaseService, err error) {
	switch databaseType {
	case TypeMongo:
		database, err = NewMongoDatabase(connectionString, name)
	case TypeRedis:
		database, err = NewRedisDatabase(connectionString)
	case TypeSQLite:
		database, err = NewSQLiteDatabase(connectionString)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", databaseType)
	}
	if err != nil {
		return nil, err
	}

	// Ensure database schema exists (idempotent), important for in-memory SQLite
	slog.Info("initializing database schema", "type", databaseType)
	if err = database.CreateDatabase(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return database, nil
}
