package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)

	stmts, err := migrations("sqlite")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute migration %d: %v", i+1, err)
		}
	}

	return &SQLiteRepository{
		db: db,
	}, nil
}

func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

func (r *SQLiteRepository) SaveGame(ctx context.Context, slot string, blob []byte) error {
	if err := validSlot(slot); err != nil {
		return err
	}
	q := `
	INSERT OR REPLACE INTO saves (slot, blob, saved_at)
	VALUES (?, ?, ?);
	`
	if _, err := r.db.ExecContext(ctx, q, slot, blob, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to insert save: %v", err)
	}
	return nil
}

func (r *SQLiteRepository) LoadGame(ctx context.Context, slot string) ([]byte, error) {
	if err := validSlot(slot); err != nil {
		return nil, err
	}
	q := `
	SELECT blob FROM saves WHERE slot = ?;
	`
	var blob []byte
	if err := r.db.QueryRowContext(ctx, q, slot).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ErrNotFound{Slot: slot}
		}
		return nil, fmt.Errorf("failed to scan save: %v", err)
	}
	return blob, nil
}

func (r *SQLiteRepository) ListGames(ctx context.Context) ([]SaveInfo, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT slot, length(blob), saved_at FROM saves ORDER BY slot")
	if err != nil {
		return nil, fmt.Errorf("failed to query saves: %v", err)
	}
	defer rows.Close()

	var out []SaveInfo
	for rows.Next() {
		var info SaveInfo
		var savedAt int64
		if err := rows.Scan(&info.Slot, &info.Size, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan save: %v", err)
		}
		info.SavedAt = time.UnixMilli(savedAt)
		out = append(out, info)
	}
	return out, rows.Err()
}

var _ Repository = (*SQLiteRepository)(nil)
