package repositories

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileRepository keeps one file per slot. A slot is a path relative to dir,
// or an absolute path when dir is empty.
type FileRepository struct {
	dir string
}

func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{dir: dir}
}

func (r *FileRepository) path(slot string) string {
	if r.dir == "" || filepath.IsAbs(slot) {
		return slot
	}
	return filepath.Join(r.dir, slot)
}

func (r *FileRepository) Close(ctx context.Context) error {
	return nil
}

// SaveGame writes the blob to a temporary file and renames it into place.
func (r *FileRepository) SaveGame(ctx context.Context, slot string, blob []byte) error {
	if err := validSlot(slot); err != nil {
		return err
	}
	path := r.path(slot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create save directory: %v", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil {
		return fmt.Errorf("failed to write save file: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move save file into place: %v", err)
	}
	return nil
}

func (r *FileRepository) LoadGame(ctx context.Context, slot string) ([]byte, error) {
	if err := validSlot(slot); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(r.path(slot))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ErrNotFound{Slot: slot}
		}
		return nil, fmt.Errorf("failed to read save file: %v", err)
	}
	return b, nil
}

func (r *FileRepository) ListGames(ctx context.Context) ([]SaveInfo, error) {
	dir := r.dir
	if dir == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read save directory: %v", err)
	}
	var out []SaveInfo
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) == ".tmp" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, SaveInfo{Slot: entry.Name(), Size: int(info.Size()), SavedAt: info.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

var _ Repository = (*FileRepository)(nil)
