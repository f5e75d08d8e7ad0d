package siren

import (
	"sort"
	"sync"
)

// Store is the in-memory collection of reconciled device records, the
// single source of truth read by the API layer. It is mutated exclusively
// through Seed and Mutate, which the Reconciler and Dispatcher own.
//
// All public methods are thread-safe. Reads hand out clones so callers
// can never alias live records.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record

	// onChange, when set, is invoked with a clone of the record after
	// every effective mutation. Used by the API hub to broadcast updates.
	onChange func(Record)
}

// NewStore creates an empty device store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
	}
}

// SetOnChange registers a change-notification callback. Must be called
// before the store is in use; the callback runs on the mutating goroutine
// and should not block.
func (s *Store) SetOnChange(fn func(Record)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Seed creates one record per metadata entry. Every seeded device starts
// unknown: offline, both channels OFF, nothing pending. Devices already
// present keep their current state; the snapshot must not clobber fields
// the realtime stream has since refreshed.
func (s *Store) Seed(metas []Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range metas {
		if m.DeviceID == "" {
			continue
		}
		if _, exists := s.records[m.DeviceID]; exists {
			continue
		}
		s.records[m.DeviceID] = &Record{
			DeviceID:       m.DeviceID,
			IP:             m.IP,
			Online:         false,
			Relay:          SwitchOff,
			Siren:          SwitchOff,
			Lat:            cloneFloat(m.Lat),
			Lng:            cloneFloat(m.Lng),
			UrbanizationID: cloneString(m.UrbanizationID),
			GroupID:        cloneString(m.GroupID),
		}
	}
}

// Mutate applies fn to the record for id under the store lock and then
// fires the change notification with a clone of the result.
//
// Events referencing an unknown deviceId match nothing: no record is
// created, nothing is altered, and Mutate reports false.
func (s *Store) Mutate(id string, fn func(*Record)) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(rec)
	notify := s.onChange
	cpy := rec.Clone()
	s.mu.Unlock()

	if notify != nil {
		notify(*cpy)
	}
	return true
}

// Get retrieves a clone of the record for id.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// List returns clones of all records, sorted by device ID for stable
// rendering.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

// Count returns the number of known devices.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// DeviceIDs returns the sorted set of known device IDs.
func (s *Store) DeviceIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
