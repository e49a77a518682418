// Package state keeps dissection history and drops duplicate frames.
package state

import (
	"sync"
	"sync/atomic"

	"github.com/PentesterFlow/MCPInspector/internal/dissect"
)

// Store defines the interface for dissection history storage.
type Store interface {
	Save(rec *dissect.Record) error
	List(session string) ([]*dissect.Record, error)
	Sessions() ([]SessionInfo, error)
	Delete(session string) error
	Close() error
}

// Manager saves records to a Store, skipping frames already recorded.
type Manager struct {
	store Store
	dedup *Deduplicator // nil disables duplicate detection

	mu     sync.Mutex
	loaded map[string]bool // sessions whose stored keys seeded dedup

	saved      atomic.Int64
	duplicates atomic.Int64
	errors     atomic.Int64
}

// NewManager creates a manager. estimatedFrames <= 0 disables duplicate
// detection.
func NewManager(store Store, estimatedFrames int) *Manager {
	m := &Manager{
		store:  store,
		loaded: make(map[string]bool),
	}
	if estimatedFrames > 0 {
		m.dedup = NewDeduplicator(estimatedFrames)
	}
	return m
}

// Record saves rec unless the same frame was already recorded in its
// session. It reports whether rec was saved.
func (m *Manager) Record(rec *dissect.Record) (bool, error) {
	if m.dedup == nil {
		if err := m.store.Save(rec); err != nil {
			m.errors.Add(1)
			return false, err
		}
		m.saved.Add(1)
		return true, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.seed(rec.Session); err != nil {
		m.errors.Add(1)
		return false, err
	}

	// A key is only marked once its record is stored, so a failed save
	// can be retried.
	key := RecordKey(rec)
	if m.dedup.HasSeen(key) {
		m.duplicates.Add(1)
		return false, nil
	}
	if err := m.store.Save(rec); err != nil {
		m.errors.Add(1)
		return false, err
	}
	m.dedup.Add(key)
	m.saved.Add(1)
	return true, nil
}

// seed loads the keys of a session already in the store, once. The caller
// holds m.mu.
func (m *Manager) seed(session string) error {
	if m.loaded[session] {
		return nil
	}

	records, err := m.store.List(session)
	if err != nil {
		return err
	}
	keys := make([]string, len(records))
	for i, rec := range records {
		keys[i] = RecordKey(rec)
	}
	m.dedup.AddBatch(keys)
	m.loaded[session] = true
	return nil
}

// History returns the stored records of a session.
func (m *Manager) History(session string) ([]*dissect.Record, error) {
	return m.store.List(session)
}

// Sessions lists stored sessions.
func (m *Manager) Sessions() ([]SessionInfo, error) {
	return m.store.Sessions()
}

// Forget deletes a session and its duplicate keys.
func (m *Manager) Forget(session string) error {
	if err := m.store.Delete(session); err != nil {
		return err
	}

	if m.dedup != nil {
		// Keys of other sessions are re-seeded from the store on next use.
		m.mu.Lock()
		m.dedup.Reset()
		m.loaded = make(map[string]bool)
		m.mu.Unlock()
	}
	return nil
}

// Stats returns what the manager has saved and dropped.
func (m *Manager) Stats() Stats {
	return Stats{
		Saved:      m.saved.Load(),
		Duplicates: m.duplicates.Load(),
		Errors:     m.errors.Load(),
	}
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}
