package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cbodonnell/civlink/pkg/attributes"
	"github.com/klauspost/compress/zstd"
)

const (
	// SaveSchemaVersion is the save layout written by this handler.
	SaveSchemaVersion = 1
	SaveFormat        = "civlink-save"

	maxSaveSize = 256 << 20
)

// SaveHeader is the first line of a save: it is readable without decoding
// the body so that newer schemas can be refused up front.
type SaveHeader struct {
	Format        string    `json:"format"`
	Schema        int       `json:"schema"`
	SavedAt       time.Time `json:"saved_at"`
	Turn          int64     `json:"turn"`
	PlayerID      int64     `json:"player_id"`
	ClientVersion string    `json:"client_version"`
}

type saveBody struct {
	Turn         int64                                  `json:"turn"`
	PlayerID     int64                                  `json:"player_id"`
	Started      bool                                   `json:"started"`
	Ended        bool                                   `json:"ended"`
	LastSequence uint32                                 `json:"last_sequence"`
	Stores       map[string]map[string]attributes.Entry `json:"stores"`
	// Floors holds each store's highest applied version. Removed keys and
	// tombstones are not saved, so a loaded store rejects everything at or below it.
	Floors       map[string]uint64                      `json:"floors,omitempty"`
}

// SaveGame writes every store and the turn counter to path through the repository.
func (h *Handler) SaveGame(ctx context.Context, path string) error {
	h.mu.Lock()
	body := saveBody{
		Turn:         h.turn,
		PlayerID:     h.playerID,
		Started:      h.started,
		Ended:        h.ended,
		LastSequence: h.lastSeq.Load(),
		Stores:       make(map[string]map[string]attributes.Entry, len(h.stores)),
		Floors:       make(map[string]uint64, len(h.stores)),
	}
	for ns, s := range h.stores {
		body.Stores[ns.String()] = s.Snapshot().Entries()
		body.Floors[ns.String()] = s.MaxVersion()
	}
	h.mu.Unlock()

	header := SaveHeader{
		Format:        SaveFormat,
		Schema:        SaveSchemaVersion,
		SavedAt:       time.Now().UTC(),
		Turn:          body.Turn,
		PlayerID:      body.PlayerID,
		ClientVersion: h.clientVersion,
	}
	blob, err := encodeSave(header, body)
	if err != nil {
		return fmt.Errorf("failed to encode save: %w", err)
	}
	if err := h.repository.SaveGame(ctx, path, blob); err != nil {
		return fmt.Errorf("failed to save game: %w", err)
	}
	h.logger.Info("Saved turn %d to %s (%d bytes)", body.Turn, path, len(blob))
	return nil
}

// LoadSavedGame replaces every store with the contents of a save. A save
// written by a newer schema fails with *IncompatibleVersionError and leaves
// the stores untouched.
func (h *Handler) LoadSavedGame(ctx context.Context, path string) (WorldSnapshot, error) {
	blob, err := h.repository.LoadGame(ctx, path)
	if err != nil {
		return WorldSnapshot{}, fmt.Errorf("failed to load game: %w", err)
	}
	header, body, err := decodeSave(blob)
	if err != nil {
		return WorldSnapshot{}, err
	}

	restored := make(map[attributes.Namespace]map[string]attributes.Entry, len(body.Stores))
	for name, entries := range body.Stores {
		ns, err := attributes.ParseNamespace(name)
		if err != nil {
			return WorldSnapshot{}, fmt.Errorf("failed to load game: %w", err)
		}
		restored[ns] = entries
	}
	floors := make(map[attributes.Namespace]uint64, len(body.Floors))
	for name, floor := range body.Floors {
		ns, err := attributes.ParseNamespace(name)
		if err != nil {
			return WorldSnapshot{}, fmt.Errorf("failed to load game: %w", err)
		}
		floors[ns] = floor
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ns := range attributes.Namespaces {
		store := h.stores[ns]
		store.Reset(floors[ns])
		if skipped := store.Restore(restored[ns]); len(skipped) > 0 {
			h.logger.Warn("Skipped %d invalid keys in saved %s store", len(skipped), ns)
		}
	}
	h.turn = body.Turn
	h.playerID = body.PlayerID
	h.started = body.Started
	h.ended = body.Ended
	if body.LastSequence > h.lastSeq.Load() {
		h.lastSeq.Store(body.LastSequence)
	}
	h.logger.Info("Loaded turn %d from %s (saved %s)", body.Turn, path, header.SavedAt.Format(time.RFC3339))
	return h.snapshotLocked(ScopeAll), nil
}

func encodeSave(header SaveHeader, body saveBody) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(enc)

	hb, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	if _, err := bw.Write(hb); err != nil {
		return nil, err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return nil, err
	}
	if err := json.NewEncoder(bw).Encode(body); err != nil {
		return nil, err
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadSaveHeader decodes only the header line of a save blob.
func ReadSaveHeader(blob []byte) (SaveHeader, error) {
	dec, err := zstd.NewReader(bytes.NewReader(blob), zstd.WithDecoderMaxMemory(maxSaveSize))
	if err != nil {
		return SaveHeader{}, err
	}
	defer dec.Close()
	header, _, err := readHeader(bufio.NewReader(dec))
	return header, err
}

func readHeader(br *bufio.Reader) (SaveHeader, *bufio.Reader, error) {
	line, err := br.ReadBytes('\n')
	if err != nil {
		return SaveHeader{}, nil, fmt.Errorf("failed to read save header: %w", err)
	}
	var header SaveHeader
	if err := json.Unmarshal(line, &header); err != nil {
		return SaveHeader{}, nil, fmt.Errorf("failed to parse save header: %w", err)
	}
	if header.Format != SaveFormat {
		return SaveHeader{}, nil, fmt.Errorf("failed to parse save header: unknown format %q", header.Format)
	}
	if header.Schema > SaveSchemaVersion {
		return SaveHeader{}, nil, &IncompatibleVersionError{Found: header.Schema, Supported: SaveSchemaVersion}
	}
	return header, br, nil
}

func decodeSave(blob []byte) (SaveHeader, saveBody, error) {
	dec, err := zstd.NewReader(bytes.NewReader(blob), zstd.WithDecoderMaxMemory(maxSaveSize))
	if err != nil {
		return SaveHeader{}, saveBody{}, err
	}
	defer dec.Close()

	header, br, err := readHeader(bufio.NewReader(dec))
	if err != nil {
		return SaveHeader{}, saveBody{}, err
	}

	var body saveBody
	jd := json.NewDecoder(br)
	jd.DisallowUnknownFields()
	if err := jd.Decode(&body); err != nil {
		return SaveHeader{}, saveBody{}, fmt.Errorf("failed to decode save body: %w", err)
	}
	return header, body, nil
}
