// Package spawner abstracts where actor work runs: directly on the
// process-wide goroutine scheduler (the host), or on a worker's own
// bounded goroutine pool (a deployed worker).
//
// This is the Go substitute for the Rust source's closed enum over
// tokio::runtime::Handle variants (RootSpawner vs WorkerSpawner). Go has
// no closed sum types, so the set is closed by convention: Spawner is an
// interface with an unexported marker method, and only this package may
// implement it.
package spawner

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/aquamarine/plumber/pkg/log"
)

// Spawner runs a unit of work asynchronously. Root never blocks the
// caller; Worker blocks once its bounded queue is full, by design — see
// Worker.Spawn.
type Spawner interface {
	Spawn(fn func())

	// sealed keeps the set of implementations closed to this package.
	sealed()
}

// Root dispatches directly onto a bare goroutine, mirroring
// tokio::Handle::spawn on the process-wide runtime: there is no capacity
// limit here because the root runtime is simply "the process".
type Root struct{}

// NewRoot creates a root-scoped spawner.
func NewRoot() *Root { return &Root{} }

// Spawn launches fn on a new goroutine.
func (*Root) Spawn(fn func()) {
	go fn()
}

func (*Root) sealed() {}

// Worker dispatches onto a bounded, per-worker goroutine pool, so work
// belonging to one deployed worker cannot starve another worker or the
// host. Grounded on pkg/vm.Pool's warmSem semaphore idiom in the teacher
// and the sem-channel worker pool pattern retrieved from the wider
// example pack.
type Worker struct {
	queue  chan func()
	log    *logrus.Entry
	wg     sync.WaitGroup
	stop   chan struct{}
	stopOn sync.Once
}

// NewWorker creates a worker-scoped spawner backed by concurrency
// persistent goroutines, each pulling work off a shared queue. concurrency
// is the worker's configured thread count (spec.md leaves CPU-core
// placement itself out of scope; this only bounds how much of that
// worker's own work can run at once).
func NewWorker(workerID string, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	w := &Worker{
		queue: make(chan func(), concurrency*4),
		log:   log.WithComponent("worker-spawner").WithField("worker_id", workerID),
		stop:  make(chan struct{}),
	}
	w.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go w.run()
	}
	return w
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case fn, ok := <-w.queue:
			if !ok {
				return
			}
			w.runOne(fn)
		case <-w.stop:
			return
		}
	}
}

func (w *Worker) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.log.WithField("panic", r).Error("spawned task panicked")
		}
	}()
	fn()
}

// Spawn enqueues fn for execution on this worker's pool. If the queue is
// full, Spawn blocks until a slot frees up or the spawner is stopped —
// matching the bounded-parallelism guarantee the pool exists to provide.
func (w *Worker) Spawn(fn func()) {
	select {
	case w.queue <- fn:
	case <-w.stop:
	}
}

func (*Worker) sealed() {}

// Stop signals every pool goroutine to exit once its current task
// finishes, and waits for them to drain. Queued-but-not-started tasks are
// dropped.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOn.Do(func() { close(w.stop) })
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
