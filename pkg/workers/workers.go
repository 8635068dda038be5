// Package workers abstracts the node's view of deployed worker liveness
// and deal bookkeeping (spec.md §6 Workers). The plumber consults this
// before routing a particle into a worker scope: an inactive worker
// silently drops particles from non-management peers (spec.md §7).
package workers

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/aquamarine/plumber/pkg/particle"
)

// Workers reports worker liveness and deal bookkeeping.
type Workers interface {
	// IsActive reports whether worker is currently deployed and running.
	IsActive(worker particle.WorkerID) bool

	// DealID returns the on-chain deal id backing this worker, if any.
	DealID(worker particle.WorkerID) (string, bool)

	// RuntimeHandle returns an opaque handle identifying the worker's
	// runtime environment, used by callers that need to address it outside
	// this module (e.g. a transport layer picking a network namespace).
	RuntimeHandle(worker particle.WorkerID) (string, bool)
}

// Record is the bookkeeping persisted per worker.
type Record struct {
	Active        bool   `json:"active"`
	DealID        string `json:"deal_id"`
	RuntimeHandle string `json:"runtime_handle"`
}

var workersBucket = []byte("workers")

// Registry is the reference Workers implementation, persisted in a
// bbolt bucket. Grounded on the Rust test harness's
// Workers::from_path(workers_path, ...) persisted-registry pattern;
// go.etcd.io/bbolt is a direct dependency of the wider example pack
// (cuemby-warren), used here in place of inventing a bespoke format.
type Registry struct {
	db *bbolt.DB
}

// OpenRegistry opens (creating if necessary) a worker registry backed by
// the bbolt database at path.
func OpenRegistry(path string) (*Registry, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("workers: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(workersBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("workers: init bucket: %w", err)
	}
	return &Registry{db: db}, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error { return r.db.Close() }

func (r *Registry) get(worker particle.WorkerID) (Record, bool) {
	var rec Record
	found := false
	_ = r.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(workersBucket).Get([]byte(worker))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		found = true
		return nil
	})
	return rec, found
}

// IsActive reports worker liveness.
func (r *Registry) IsActive(worker particle.WorkerID) bool {
	rec, ok := r.get(worker)
	return ok && rec.Active
}

// DealID returns the worker's deal id.
func (r *Registry) DealID(worker particle.WorkerID) (string, bool) {
	rec, ok := r.get(worker)
	if !ok || rec.DealID == "" {
		return "", false
	}
	return rec.DealID, true
}

// RuntimeHandle returns the worker's runtime handle.
func (r *Registry) RuntimeHandle(worker particle.WorkerID) (string, bool) {
	rec, ok := r.get(worker)
	if !ok || rec.RuntimeHandle == "" {
		return "", false
	}
	return rec.RuntimeHandle, true
}

// Put upserts a worker's bookkeeping record, called when a worker pool
// is created, activated, or deactivated.
func (r *Registry) Put(worker particle.WorkerID, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("workers: marshal record: %w", err)
	}
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(workersBucket).Put([]byte(worker), raw)
	})
}

// Delete removes a worker's bookkeeping, called when its pool is
// removed.
func (r *Registry) Delete(worker particle.WorkerID) error {
	return r.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(workersBucket).Delete([]byte(worker))
	})
}
