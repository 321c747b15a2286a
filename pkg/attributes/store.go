package attributes

import (
	"sort"
	"strings"
)

// Entry is a value together with the version that wrote it.
type Entry struct {
	Value   Value  `json:"value"`
	Version uint64 `json:"version"`
}

type memberVersion struct {
	added   uint64
	removed uint64
}

type entry struct {
	value   Value
	version uint64
	deleted bool
	// floor is the version of the last whole-value write of a set; member merges at or
	// below it are stale.
	floor   uint64
	members map[string]memberVersion
}

// Store is a versioned key/value registry for one namespace.
// A key's version never decreases and a write whose version does not exceed the
// current version is rejected. Store is not safe for concurrent mutation: callers
// funnel writes through a single dispatch path and hand readers a Snapshot.
type Store struct {
	ns         Namespace
	entries    map[string]*entry
	tombstones map[string]uint64
	// resyncedAt is the version of the last Reset; writes at or below it
	// predate the resynchronized contents.
	resyncedAt uint64
	maxVersion uint64
	rejected   uint64
}

func NewStore(ns Namespace) *Store {
	return &Store{
		ns:         ns,
		entries:    make(map[string]*entry),
		tombstones: make(map[string]uint64),
	}
}

func (s *Store) Namespace() Namespace {
	return s.ns
}

// Get returns the live value for key.
func (s *Store) Get(key string) (Value, bool) {
	e, ok := s.entries[key]
	if !ok || e.deleted {
		return Value{}, false
	}
	return e.value.Clone(), true
}

// Version returns the current version of key, including removed keys.
func (s *Store) Version(key string) uint64 {
	if e, ok := s.entries[key]; ok {
		return e.version
	}
	return 0
}

// MaxVersion is the highest version applied to the store.
func (s *Store) MaxVersion() uint64 {
	return s.maxVersion
}

// Floor is the version passed to the last Reset. Writes at or below it are rejected.
func (s *Store) Floor() uint64 {
	return s.resyncedAt
}

// Rejected counts writes refused as stale or mistyped.
func (s *Store) Rejected() uint64 {
	return s.rejected
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	n := 0
	for _, e := range s.entries {
		if !e.deleted {
			n++
		}
	}
	return n
}

// Set writes value at version and reports whether it was applied.
func (s *Store) Set(key string, value Value, version uint64) bool {
	if !s.accepts(key, value.Kind, version) {
		s.rejected++
		return false
	}
	e, ok := s.entries[key]
	if ok && version <= e.version {
		s.rejected++
		return false
	}
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.value = value.Clone()
	e.version = version
	e.deleted = false
	e.floor = 0
	e.members = nil
	if value.Kind == KindSet {
		e.floor = version
		e.members = make(map[string]memberVersion, len(value.Set))
		for _, m := range e.value.Set {
			e.members[m] = memberVersion{added: version}
		}
	}
	s.bump(version)
	return true
}

// Union adds members to a set-valued key.
// Member additions and removals are ordered by version per member, so reveal and
// destroy packets give the same result in any arrival order.
func (s *Store) Union(key string, members []string, version uint64) bool {
	return s.mergeMembers(key, members, version, true)
}

// Remove deletes members from a set-valued key.
func (s *Store) Remove(key string, members []string, version uint64) bool {
	return s.mergeMembers(key, members, version, false)
}

func (s *Store) mergeMembers(key string, members []string, version uint64, add bool) bool {
	if !s.accepts(key, KindSet, version) {
		s.rejected++
		return false
	}
	e, ok := s.entries[key]
	if ok && !e.deleted && e.value.Kind != KindSet {
		s.rejected++
		return false
	}
	if ok && e.deleted && version <= e.version {
		s.rejected++
		return false
	}
	if ok && version <= e.floor {
		s.rejected++
		return false
	}
	if !ok || e.deleted {
		e = &entry{members: make(map[string]memberVersion)}
	}

	changed := false
	for _, m := range members {
		mv := e.members[m]
		if add && version > mv.added {
			mv.added = version
			changed = true
		}
		if !add && version > mv.removed {
			mv.removed = version
			changed = true
		}
		e.members[m] = mv
	}
	if !changed {
		s.rejected++
		return false
	}

	live := make([]string, 0, len(e.members))
	for m, mv := range e.members {
		if mv.added > mv.removed {
			live = append(live, m)
		}
	}
	e.value = SetValue(live...)
	e.deleted = false
	if version > e.version {
		e.version = version
	}
	s.entries[key] = e
	s.bump(version)
	return true
}

// DeleteEntity removes every key of an entity. Writes for the entity at or below
// version are rejected afterwards.
func (s *Store) DeleteEntity(entity string, version uint64) bool {
	if s.ns.EntityDepth() == 0 || entity == "" {
		s.rejected++
		return false
	}
	prefix := s.ns.EntityPrefix(entity)
	if t, ok := s.tombstones[prefix]; (ok && version <= t) || version <= s.resyncedAt {
		s.rejected++
		return false
	}
	s.tombstones[prefix] = version
	for key, e := range s.entries {
		if !strings.HasPrefix(key, prefix) || e.version >= version {
			continue
		}
		e.value = Value{}
		e.version = version
		e.deleted = true
		e.floor = 0
		e.members = nil
	}
	s.bump(version)
	return true
}

// HasEntity reports whether any live key belongs to entity.
func (s *Store) HasEntity(entity string) bool {
	if s.ns.EntityDepth() == 0 || entity == "" {
		return false
	}
	prefix := s.ns.EntityPrefix(entity)
	for key, e := range s.entries {
		if !e.deleted && strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// Diff returns the keys changed after since. Removed keys map to a zero Value.
func (s *Store) Diff(since uint64) map[string]Value {
	out := make(map[string]Value)
	for key, e := range s.entries {
		if e.version > since {
			out[key] = e.value.Clone()
		}
	}
	return out
}

// Snapshot returns an immutable copy of the live entries.
func (s *Store) Snapshot() Snapshot {
	entries := make(map[string]Entry, len(s.entries))
	for key, e := range s.entries {
		if e.deleted {
			continue
		}
		entries[key] = Entry{Value: e.value.Clone(), Version: e.version}
	}
	return Snapshot{
		namespace:  s.ns,
		entries:    entries,
		maxVersion: s.maxVersion,
		rejected:   s.rejected,
	}
}

// Reset drops all entries and tombstones ahead of a full resynchronization at
// version. Later writes at or below version are rejected as stale, which stands
// in for the tombstones of entities the resynchronized contents no longer hold.
func (s *Store) Reset(version uint64) {
	s.entries = make(map[string]*entry)
	s.tombstones = make(map[string]uint64)
	s.resyncedAt = version
	s.maxVersion = version
}

// Restore writes entries without the stale-update check. Keys outside the
// namespace are skipped and reported.
func (s *Store) Restore(entries map[string]Entry) (skipped []string) {
	for key, in := range entries {
		if !s.ns.Owns(key) || in.Value.Kind == KindNone {
			skipped = append(skipped, key)
			continue
		}
		e := &entry{value: in.Value.Clone(), version: in.Version}
		if in.Value.Kind == KindSet {
			e.floor = in.Version
			e.members = make(map[string]memberVersion, len(in.Value.Set))
			for _, m := range e.value.Set {
				e.members[m] = memberVersion{added: in.Version}
			}
		}
		s.entries[key] = e
		s.bump(in.Version)
	}
	sort.Strings(skipped)
	return skipped
}

func (s *Store) accepts(key string, kind Kind, version uint64) bool {
	entity, field, ok := s.ns.Split(key)
	if !ok || kind == KindNone || version == 0 || version <= s.resyncedAt {
		return false
	}
	if want, known := s.ns.FieldKind(field); known && want != kind {
		return false
	}
	if entity != "" {
		if t, ok := s.tombstones[s.ns.EntityPrefix(entity)]; ok && version <= t {
			return false
		}
	}
	return true
}

func (s *Store) bump(version uint64) {
	if version > s.maxVersion {
		s.maxVersion = version
	}
}
