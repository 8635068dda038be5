package avm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/aquamarine/plumber/pkg/log"
)

// VMID identifies one pooled interpreter instance for its whole lifetime,
// stable across recreate cycles (the teacher's vsock CID / sandbox.ID
// plays the analogous role for a microVM).
type VMID string

func newVMID() VMID { return VMID(uuid.NewString()) }

// slot is one occupant of the free list: an instance id paired with the
// live Runtime handle, exactly (vm_id, vm) in the Rust source.
type slot struct {
	id VMID
	vm Runtime
}

// creationResult is delivered on the pool's completion channel when an
// asynchronous (re)creation finishes, successfully or not.
type creationResult struct {
	id  VMID
	vm  Runtime
	err error
}

// Pool is a fixed-capacity, lazily-populated set of interpreter instances.
// At all times free + borrowed + pendingCreation == capacity; every VMID
// appears in exactly one of those three states (spec.md §3 VM Pool
// invariant).
//
// Grounded on pkg/vm.Pool in the teacher: a buffered channel as the free
// list, a semaphore bounding concurrent creation, and a background
// completion path that feeds finished builds back into the free list. The
// one structural difference is that Pool.Poll is non-blocking and must be
// called by the scheduler's own tick (there is no background replenish
// goroutine here — capacity here is interpreter instances, not warm VMs
// serving live traffic, so idle replenishment isn't part of the
// contract).
type Pool struct {
	mu sync.Mutex

	capacity int
	factory  Factory
	log      *logrus.Entry

	free            []slot
	pendingCreation map[VMID]struct{}
	borrowed        map[VMID]struct{}

	done        chan creationResult
	createSem   *semaphore.Weighted
	initialized bool
}

// NewPool creates a pool of the given capacity. Instances are not built
// eagerly: the first Poll call after construction kicks off capacity
// builds, landing in the free list as each completes — matching "VM pool
// lazily constructs capacity interpreter instances on first poll" in
// spec.md §4.3.
func NewPool(capacity int, factory Factory) *Pool {
	return &Pool{
		capacity:        capacity,
		factory:         factory,
		log:             log.WithComponent("avm-pool"),
		pendingCreation: make(map[VMID]struct{}, capacity),
		borrowed:        make(map[VMID]struct{}, capacity),
		done:            make(chan creationResult, capacity),
		createSem:       semaphore.NewWeighted(int64(capacity)),
	}
}

// Poll advances the pool: it drains any completed (re)creation results
// into the free list without blocking. Call it once per scheduling tick,
// as Plumber.Poll does for the host pool and every worker pool.
func (p *Pool) Poll(ctx context.Context) {
	p.mu.Lock()
	if !p.initialized {
		p.initialized = true
		for i := 0; i < p.capacity; i++ {
			p.startCreate(ctx, newVMID())
		}
	}
	p.mu.Unlock()

	for {
		select {
		case res := <-p.done:
			p.mu.Lock()
			delete(p.pendingCreation, res.id)
			if res.err != nil {
				p.log.WithError(res.err).WithField("vm_id", string(res.id)).
					Warn("VM creation failed, will retry next tick")
				p.startCreate(ctx, res.id)
			} else {
				p.free = append(p.free, slot{id: res.id, vm: res.vm})
			}
			p.mu.Unlock()
		default:
			return
		}
	}
}

// startCreate spawns an asynchronous build for id. Caller must hold p.mu.
func (p *Pool) startCreate(ctx context.Context, id VMID) {
	p.pendingCreation[id] = struct{}{}
	go func() {
		if err := p.createSem.Acquire(ctx, 1); err != nil {
			p.done <- creationResult{id: id, err: err}
			return
		}
		defer p.createSem.Release(1)

		vm, err := p.factory(ctx)
		p.done <- creationResult{id: id, vm: vm, err: err}
	}()
}

// Acquire pops an instance from the free list, or reports none available.
// The caller owns the returned instance until it calls Release or
// Recreate.
func (p *Pool) Acquire() (VMID, Runtime, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return "", nil, false
	}
	n := len(p.free) - 1
	s := p.free[n]
	p.free = p.free[:n]
	p.borrowed[s.id] = struct{}{}
	return s.id, s.vm, true
}

// Release returns a previously-acquired instance to the free list.
func (p *Pool) Release(id VMID, vm Runtime) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.borrowed, id)
	p.free = append(p.free, slot{id: id, vm: vm})
}

// Recreate moves id into pendingCreation and spawns a new build, used
// when an actor reports the instance was lost (panicked or its step was
// cancelled). The id is kept stable; only the underlying Runtime changes.
func (p *Pool) Recreate(ctx context.Context, id VMID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.borrowed, id)
	p.startCreate(ctx, id)
}

// FreeVMs reports how many instances are currently idle, for tests.
func (p *Pool) FreeVMs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Stats summarizes pool occupancy, e.g. for a debug CLI or metrics sink.
type Stats struct {
	Free            int
	Borrowed        int
	PendingCreation int
	Capacity        int
}

// Stats returns a snapshot of the pool's three-way partition.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Free:            len(p.free),
		Borrowed:        len(p.borrowed),
		PendingCreation: len(p.pendingCreation),
		Capacity:        p.capacity,
	}
}

// Close tears down every instance the pool currently has in its free
// list. Borrowed instances are the caller's responsibility to release
// first; Close does not block waiting for them.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, s := range p.free {
		if err := s.vm.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("avm: closing %s: %w", s.id, err)
		}
	}
	p.free = nil
	return firstErr
}
