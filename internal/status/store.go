// Package status keeps the live, ordered view of every record in the
// current scan.
package status

import (
	"sync"

	"github.com/anstrom/inventorama/internal/models"
)

// Store holds one record per key in first-seen order. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	records []models.ScanRecord
	index   map[string]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Upsert inserts rec under key, or replaces the existing record in place.
// A terminal record is never replaced.
func (s *Store) Upsert(key string, rec models.ScanRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[key]; ok {
		if s.records[i].IsTerminal() {
			return
		}
		s.records[i] = rec
		return
	}
	s.index[key] = len(s.records)
	s.records = append(s.records, rec)
}

// Get returns the record stored under key.
func (s *Store) Get(key string) (models.ScanRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[key]
	if !ok {
		return models.ScanRecord{}, false
	}
	return s.records[i], true
}

// Snapshot returns a copy of every record in insertion order.
func (s *Store) Snapshot() []models.ScanRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ScanRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Counts returns the number of records per status.
func (s *Store) Counts() map[models.Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.Status]int, len(models.Statuses))
	for _, r := range s.records {
		counts[r.Status]++
	}
	return counts
}

// Reset drops every record.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.index = make(map[string]int)
}
