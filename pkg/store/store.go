// Package store abstracts persistent particle data: the key/value state
// an actor's interpreter steps thread between calls, and the batched
// cleanup the plumber issues when actors expire (spec.md §4.1.1,
// MAX_CLEANUP_KEYS = 1024 per batch).
package store

import (
	"context"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/aquamarine/plumber/pkg/particle"
)

// CleanupKey identifies one actor's persisted data for batched removal:
// actor key, the scope it belonged to, and the service id the data was
// filed under.
type CleanupKey struct {
	Key       particle.ActorKey
	Scope     particle.PeerScope
	ServiceID string
}

// ParticleDataStore is the external collaborator owning persisted
// particle state (spec.md §6). This module treats it as opaque
// key/value storage; the wire/persistence format is a Non-goal.
type ParticleDataStore interface {
	// LoadPrevData returns the previously stored data for an actor, if
	// any.
	LoadPrevData(ctx context.Context, key particle.ActorKey) ([]byte, bool, error)

	// StoreData persists an actor's current data for the next step.
	StoreData(ctx context.Context, key particle.ActorKey, data []byte) error

	// BatchCleanupData removes persisted data for a batch of expired
	// actors in one call.
	BatchCleanupData(ctx context.Context, keys []CleanupKey) error
}

// MemoryStore is an in-memory ParticleDataStore, the Go analogue of the
// Rust test suite's MockF: no I/O, used by unit tests that only care
// about the plumber's own scheduling logic.
type MemoryStore struct {
	mu   sync.Mutex
	data map[particle.ActorKey][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[particle.ActorKey][]byte)}
}

// LoadPrevData returns data previously stored under key.
func (m *MemoryStore) LoadPrevData(_ context.Context, key particle.ActorKey) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[key]
	return d, ok, nil
}

// StoreData stores data under key, overwriting any previous value.
func (m *MemoryStore) StoreData(_ context.Context, key particle.ActorKey, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	return nil
}

// BatchCleanupData removes all keys in the batch.
func (m *MemoryStore) BatchCleanupData(_ context.Context, keys []CleanupKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k.Key)
	}
	return nil
}

var dataBucket = []byte("particle_data")

// BoltStore is the durable ParticleDataStore reference implementation,
// grounded on cuemby-warren's direct dependency on go.etcd.io/bbolt for
// local durable state.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBoltStore opens (creating if necessary) a data store backed by the
// bbolt database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(dataBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (b *BoltStore) Close() error { return b.db.Close() }

// LoadPrevData returns data previously stored under key.
func (b *BoltStore) LoadPrevData(_ context.Context, key particle.ActorKey) ([]byte, bool, error) {
	var data []byte
	found := false
	err := b.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(dataBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		data = append([]byte(nil), raw...)
		found = true
		return nil
	})
	return data, found, err
}

// StoreData stores data under key.
func (b *BoltStore) StoreData(_ context.Context, key particle.ActorKey, data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(dataBucket).Put([]byte(key), data)
	})
}

// BatchCleanupData removes a batch of keys in a single transaction, the
// same batching granularity MAX_CLEANUP_KEYS_SIZE bounds in the
// scheduler.
func (b *BoltStore) BatchCleanupData(_ context.Context, keys []CleanupKey) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(dataBucket)
		for _, k := range keys {
			if err := bucket.Delete([]byte(k.Key)); err != nil {
				return err
			}
		}
		return nil
	})
}
