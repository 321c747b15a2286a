package repositories

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Repository stores opaque save blobs by slot name.
type Repository interface {
	Close(ctx context.Context) error
	SaveGame(ctx context.Context, slot string, blob []byte) error
	LoadGame(ctx context.Context, slot string) ([]byte, error)
	ListGames(ctx context.Context) ([]SaveInfo, error)
}

// SaveInfo describes a stored slot.
type SaveInfo struct {
	Slot    string    `json:"slot"`
	Size    int       `json:"size"`
	SavedAt time.Time `json:"saved_at"`
}

// Open selects a repository from a URL: file:///dir, sqlite:///path/to.db,
// or postgres(ql)://... A bare path is treated as a file repository directory.
func Open(ctx context.Context, rawURL string) (Repository, error) {
	if rawURL == "" {
		return NewFileRepository(""), nil
	}
	if !strings.Contains(rawURL, "://") {
		return NewFileRepository(rawURL), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse repository url: %v", err)
	}
	switch u.Scheme {
	case "file":
		return NewFileRepository(u.Host + u.Path), nil
	case "sqlite", "sqlite3":
		return NewSQLiteRepository(ctx, u.Host+u.Path)
	case "postgres", "postgresql":
		return NewPostgresRepository(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unsupported repository scheme: %s", u.Scheme)
	}
}

func validSlot(slot string) error {
	if strings.TrimSpace(slot) == "" {
		return fmt.Errorf("empty save slot")
	}
	if strings.Trim(filepath.Base(slot), ".") == "" {
		return fmt.Errorf("invalid save slot %q", slot)
	}
	return nil
}
