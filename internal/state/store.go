package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/PentesterFlow/MCPInspector/internal/dissect"
)

// BoltStore implements Store using BoltDB: one bucket per session, records
// keyed by a big-endian sequence number so cursor order is capture order.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens (or creates) the history database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.path
}

// Save appends rec to its session bucket and sets rec.Seq.
func (s *BoltStore) Save(rec *dissect.Record) error {
	if rec.Session == "" {
		return fmt.Errorf("record has no session")
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(rec.Session))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.Seq = seq

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		return b.Put(seqKey(seq), data)
	})
}

// List returns the records of session in capture order. An unknown session
// yields an empty list.
func (s *BoltStore) List(session string) ([]*dissect.Record, error) {
	var records []*dissect.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(session))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec dissect.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal record: %w", err)
			}
			records = append(records, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Sessions describes every stored session, sorted by name.
func (s *BoltStore) Sessions() ([]SessionInfo, error) {
	var infos []SessionInfo

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			info := SessionInfo{Name: string(name), Frames: b.Stats().KeyN}

			c := b.Cursor()
			if _, v := c.First(); v != nil {
				info.First = recordTime(v)
			}
			if _, v := c.Last(); v != nil {
				info.Last = recordTime(v)
			}
			infos = append(infos, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Delete removes a session and all its records.
func (s *BoltStore) Delete(session string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket([]byte(session))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func recordTime(data []byte) time.Time {
	var rec struct {
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return time.Time{}
	}
	return rec.Timestamp
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]*dissect.Record
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]*dissect.Record)}
}

// Save appends rec to its session and sets rec.Seq.
func (s *MemoryStore) Save(rec *dissect.Record) error {
	if rec.Session == "" {
		return fmt.Errorf("record has no session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Seq = uint64(len(s.sessions[rec.Session]) + 1)
	s.sessions[rec.Session] = append(s.sessions[rec.Session], rec)
	return nil
}

// List returns a copy of the session's records.
func (s *MemoryStore) List(session string) ([]*dissect.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.sessions[session]
	out := make([]*dissect.Record, len(records))
	copy(out, records)
	return out, nil
}

// Sessions describes every stored session, sorted by name.
func (s *MemoryStore) Sessions() ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for name, records := range s.sessions {
		info := SessionInfo{Name: name, Frames: len(records)}
		if len(records) > 0 {
			info.First = records[0].Timestamp
			info.Last = records[len(records)-1].Timestamp
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(session string) error {
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
	return nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
