package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cbodonnell/civlink/pkg/log"
	"github.com/jackc/pgx/v5"
)

type PostgresRepository struct {
	conn *pgx.Conn
}

// NewPostgresRepository connects and applies migrations.
// The caller is responsible for calling Close() on the repository.
func NewPostgresRepository(ctx context.Context, connStr string) (*PostgresRepository, error) {
	conn, err := connectDb(ctx, connStr)
	if err != nil {
		return nil, err
	}

	stmts, err := migrations("postgres")
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	for i, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			_ = conn.Close(ctx)
			return nil, fmt.Errorf("failed to execute migration %d: %v", i+1, err)
		}
	}

	return &PostgresRepository{
		conn: conn,
	}, nil
}

func connectDb(ctx context.Context, connStr string) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %v", err)
	}

	var username string
	var database string
	err = conn.QueryRow(ctx, "SELECT current_user, current_database()").Scan(&username, &database)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("unable to query database: %v", err)
	}

	log.Info("Connected to %s as %s", database, username)

	return conn, nil
}

func (r *PostgresRepository) Close(ctx context.Context) error {
	return r.conn.Close(ctx)
}

func (r *PostgresRepository) SaveGame(ctx context.Context, slot string, blob []byte) error {
	if err := validSlot(slot); err != nil {
		return err
	}
	q := `
	INSERT INTO saves (slot, blob, created_at) VALUES ($1, $2, $3)
	ON CONFLICT (slot) DO UPDATE SET blob = $2, updated_at = $3;
	`
	if _, err := r.conn.Exec(ctx, q, slot, blob, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to insert save: %v", err)
	}
	return nil
}

func (r *PostgresRepository) LoadGame(ctx context.Context, slot string) ([]byte, error) {
	if err := validSlot(slot); err != nil {
		return nil, err
	}
	q := `
	SELECT blob FROM saves WHERE slot = $1;
	`
	var blob []byte
	if err := r.conn.QueryRow(ctx, q, slot).Scan(&blob); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &ErrNotFound{Slot: slot}
		}
		return nil, fmt.Errorf("failed to scan save: %v", err)
	}
	return blob, nil
}

func (r *PostgresRepository) ListGames(ctx context.Context) ([]SaveInfo, error) {
	rows, err := r.conn.Query(ctx, "SELECT slot, octet_length(blob), COALESCE(updated_at, created_at) FROM saves ORDER BY slot")
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

var _ Repository = (*PostgresRepository)(nil)
