package attributes

import (
	"encoding/json"
	"sort"
	"strings"
)

// Snapshot is a read-only point-in-time copy of a Store.
type Snapshot struct {
	namespace  Namespace
	entries    map[string]Entry
	maxVersion uint64
	rejected   uint64
}

// NewSnapshot builds a snapshot from entries, e.g. when decoding a save file.
func NewSnapshot(ns Namespace, entries map[string]Entry) Snapshot {
	copied := make(map[string]Entry, len(entries))
	var maxVersion uint64
	for k, e := range entries {
		copied[k] = Entry{Value: e.Value.Clone(), Version: e.Version}
		if e.Version > maxVersion {
			maxVersion = e.Version
		}
	}
	return Snapshot{namespace: ns, entries: copied, maxVersion: maxVersion}
}

func (s Snapshot) Namespace() Namespace {
	return s.namespace
}

func (s Snapshot) MaxVersion() uint64 {
	return s.maxVersion
}

func (s Snapshot) Rejected() uint64 {
	return s.rejected
}

func (s Snapshot) Len() int {
	return len(s.entries)
}

func (s Snapshot) Get(key string) (Value, bool) {
	e, ok := s.entries[key]
	if !ok {
		return Value{}, false
	}
	return e.Value.Clone(), true
}

func (s Snapshot) Version(key string) uint64 {
	return s.entries[key].Version
}

// Keys returns the keys in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns a copy of every entry.
func (s Snapshot) Entries() map[string]Entry {
	out := make(map[string]Entry, len(s.entries))
	for k, e := range s.entries {
		out[k] = Entry{Value: e.Value.Clone(), Version: e.Version}
	}
	return out
}

// Values flattens the snapshot for the status display.
func (s Snapshot) Values() map[string]any {
	out := make(map[string]any, len(s.entries))
	for k, e := range s.entries {
		out[k] = e.Value.Interface()
	}
	return out
}

// Entities lists the distinct entity ids present in the snapshot.
func (s Snapshot) Entities() []string {
	seen := make(map[string]struct{})
	for k := range s.entries {
		if entity, _, ok := s.namespace.Split(k); ok && entity != "" {
			seen[entity] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entity returns the fields of one entity keyed by field name.
func (s Snapshot) Entity(id string) (map[string]Value, bool) {
	prefix := s.namespace.EntityPrefix(id)
	fields := make(map[string]Value)
	for k, e := range s.entries {
		if field, ok := strings.CutPrefix(k, prefix); ok {
			fields[field] = e.Value.Clone()
		}
	}
	return fields, len(fields) > 0
}

// Equal reports whether both snapshots hold the same keys, values and versions.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.namespace != o.namespace || len(s.entries) != len(o.entries) {
		return false
	}
	for k, e := range s.entries {
		oe, ok := o.entries[k]
		if !ok || oe.Version != e.Version || !oe.Value.Equal(e.Value) {
			return false
		}
	}
	return true
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Namespace  string           `json:"namespace"`
		MaxVersion uint64           `json:"max_version"`
		Rejected   uint64           `json:"rejected"`
		Entries    map[string]Entry `json:"entries"`
	}{
		Namespace:  s.namespace.String(),
		MaxVersion: s.maxVersion,
		Rejected:   s.rejected,
		Entries:    s.entries,
	})
}
