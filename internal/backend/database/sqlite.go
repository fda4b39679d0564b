package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS colorizations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			original_image TEXT NOT NULL,
			colorized_image TEXT NOT NULL,
			model_id TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_colorizations_user_created
			ON colorizations (user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			colorization_count INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDatabase) CreateColorization(ctx context.Context, colorization *Colorization) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO colorizations (id, user_id, original_image, colorized_image, model_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		colorization.ID,
		colorization.UserID,
		colorization.OriginalImage,
		colorization.ColorizedImage,
		colorization.ModelID,
		colorization.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteDatabase) GetColorizationsByUser(ctx context.Context, userID string, limit int) ([]*Colorization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, original_image, colorized_image, model_id, created_at
		FROM colorizations WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	colorizations := make([]*Colorization, 0)
	for rows.Next() {
		var c Colorization
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.OriginalImage, &c.ColorizedImage, &c.ModelID, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(0, createdAt).UTC()
		colorizations = append(colorizations, &c)
	}
	return colorizations, rows.Err()
}

func (s *SQLiteDatabase) DeleteColorization(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM colorizations WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("colorization %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) IncrementUserCount(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, colorization_count, created_at) VALUES (?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET colorization_count = colorization_count + 1`,
		userID, time.Now().UTC().UnixNano())
	return err
}

func (s *SQLiteDatabase) GetUserProfile(ctx context.Context, userID string) (*UserProfile, error) {
	row := s.db.QueryRowContext(ctx, "SELECT id, colorization_count, created_at FROM users WHERE id = ?", userID)
	var profile UserProfile
	var createdAt int64
	if err := row.Scan(&profile.ID, &profile.ColorizationCount, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, err
	}
	profile.CreatedAt = time.Unix(0, createdAt).UTC()
	return &profile, nil
}
