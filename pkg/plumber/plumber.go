// Package plumber implements the single-node scheduler that ties
// actors, VM pools, and their external collaborators together: ingest,
// worker pool lifecycle, service registration, and the cooperative
// scheduling tick.
//
// Grounded on pkg/shim.Service in the teacher for the overall
// "coordinator holding every subsystem, driven by an explicit tick"
// shape, and on pkg/vm.Pool for how that tick drains asynchronous work
// without blocking.
package plumber

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aquamarine/plumber/pkg/actor"
	"github.com/aquamarine/plumber/pkg/avm"
	"github.com/aquamarine/plumber/pkg/builtins"
	"github.com/aquamarine/plumber/pkg/keys"
	"github.com/aquamarine/plumber/pkg/log"
	"github.com/aquamarine/plumber/pkg/metrics"
	"github.com/aquamarine/plumber/pkg/particle"
	"github.com/aquamarine/plumber/pkg/peers"
	"github.com/aquamarine/plumber/pkg/spawner"
	"github.com/aquamarine/plumber/pkg/store"
	"github.com/aquamarine/plumber/pkg/workers"
)

// MaxCleanupKeys bounds how many expired actors' data is batched into a
// single BatchCleanupData call per tick, matching
// MAX_CLEANUP_KEYS_SIZE = 1024 in the source this module is based on.
const MaxCleanupKeys = 1024

// Verifier checks a particle's signature, delegating the actual crypto
// to whatever KeyPair implementation the caller's transport uses.
type Verifier func(peerID string, body, sig []byte) bool

// Config bundles everything New needs to assemble a Plumber.
type Config struct {
	HostPoolCapacity int
	HostRuntime      avm.Factory

	Clock      particle.Clock
	Verifier   Verifier
	PeerScopes peers.PeerScopes
	KeyStorage keys.KeyStorage
	Workers    workers.Workers
	DataStore  store.ParticleDataStore
	Metrics    metrics.Sink
}

type workerPool struct {
	peerID    string
	actors    map[particle.ActorKey]*actor.Actor
	pool      *avm.Pool
	spawner   *spawner.Worker
	functions *actor.Functions
}

// Plumber is the scheduler. One instance owns the host's actor map and
// VM pool, plus one actor map/VM pool/spawner triple per deployed
// worker.
type Plumber struct {
	mu sync.Mutex

	cfg Config
	log *logrus.Entry

	hostActors    map[particle.ActorKey]*actor.Actor
	hostPool      *avm.Pool
	hostSpawner   spawner.Spawner
	hostFunctions *actor.Functions
	registry      *builtins.Registry

	workerPools map[particle.WorkerID]*workerPool
}

// New assembles a Plumber from cfg. It does not start any background
// goroutine; callers either call Poll directly (tests) or Run (production).
func New(cfg Config) (*Plumber, error) {
	if cfg.Clock == nil {
		cfg.Clock = particle.SystemClock{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopSink{}
	}
	if cfg.DataStore == nil {
		cfg.DataStore = store.NewMemoryStore()
	}
	if cfg.HostRuntime == nil {
		return nil, fmt.Errorf("plumber: Config.HostRuntime is required")
	}
	if cfg.PeerScopes == nil {
		return nil, fmt.Errorf("plumber: Config.PeerScopes is required")
	}
	if cfg.KeyStorage == nil {
		return nil, fmt.Errorf("plumber: Config.KeyStorage is required")
	}

	registry := builtins.NewRegistry()

	p := &Plumber{
		cfg:           cfg,
		log:           log.WithComponent("plumber"),
		hostActors:    make(map[particle.ActorKey]*actor.Actor),
		hostPool:      avm.NewPool(cfg.HostPoolCapacity, cfg.HostRuntime),
		hostSpawner:   spawner.NewRoot(),
		hostFunctions: actor.NewFunctions(registry),
		registry:      registry,
		workerPools:   make(map[particle.WorkerID]*workerPool),
	}
	return p, nil
}

// FunctionOverride carries a service function registered when a particle
// is ingested, the CLI/gateway path where a local caller supplies the
// function to invoke alongside the particle itself. It is registered on
// the service registry shared by every actor, not on the receiving actor
// alone, and stays registered after that actor is evicted.
type FunctionOverride struct {
	ServiceID    string
	FunctionName string
	Fn           builtins.ServiceFunction
}

// Ingest accepts a particle for scheduling into scope. scope is supplied
// by the caller (the transport connection or local gateway the particle
// arrived on), not derived from the particle's own InitPeerID: InitPeerID
// identifies who produced the particle and is only consulted for the
// host/management checks below, exactly as spec.md §4.1 distinguishes
// "the scope this particle routes through" from "who signed it".
//
// Ingest checks the deadline before verifying the signature, so a particle
// that is both expired and badly signed is reported as expired, not as a
// signature failure. It then silently drops the particle for an inactive
// worker scope addressed by a non-management, non-host peer (spec.md §7),
// and otherwise creates or forwards to the scope's actor mailbox,
// registering override (see FunctionOverride) if supplied.
func (p *Plumber) Ingest(ep particle.ExtendedParticle, scope particle.PeerScope, override *FunctionOverride) error {
	part := &ep.Particle

	now := p.cfg.Clock.NowMS()
	if particle.DeadlineFrom(part).IsExpired(now) {
		p.cfg.Metrics.ParticleExpired("unknown")
		return &ErrParticleExpired{ParticleID: part.ID}
	}

	if err := part.Verify(p.cfg.Verifier); err != nil {
		p.cfg.Metrics.SignatureRejected("unknown")
		return &ErrSignatureVerification{ParticleID: part.ID, Err: err}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if scope.IsWorker() {
		wp, ok := p.workerPools[scope.Worker()]
		if !ok {
			return &ErrUnknownScope{PeerID: part.InitPeerID}
		}
		isPrivileged := p.cfg.PeerScopes.IsManagement(part.InitPeerID) || p.cfg.PeerScopes.IsHost(part.InitPeerID)
		if !p.cfg.Workers.IsActive(scope.Worker()) && !isPrivileged {
			// Inactive worker, non-management, non-host initiator: silent drop.
			return nil
		}
		p.ingestInto(wp.actors, scope, ep, wp.functions, override)
		p.cfg.Metrics.ParticleIngested(scope.String())
		return nil
	}

	p.ingestInto(p.hostActors, scope, ep, p.hostFunctions, override)
	p.cfg.Metrics.ParticleIngested(scope.String())
	return nil
}

func (p *Plumber) ingestInto(actors map[particle.ActorKey]*actor.Actor, scope particle.PeerScope, ep particle.ExtendedParticle, fns *actor.Functions, override *FunctionOverride) {
	key := particle.KeyFromSignature(ep.Particle.Signature)
	a, ok := actors[key]
	if !ok {
		pool := p.poolFor(scope)
		sp := p.spawnerFor(scope)
		a = actor.New(key, scope, p.cfg.Clock, pool, fns, sp)
		actors[key] = a
		p.cfg.Metrics.ActorCreated(scope.String())
	}
	if override != nil {
		a.SetFunction(override.ServiceID, override.FunctionName, override.Fn)
	}
	a.Ingest(ep)
}

func (p *Plumber) poolFor(scope particle.PeerScope) actor.Pool {
	if !scope.IsWorker() {
		return p.hostPool
	}
	return p.workerPools[scope.Worker()].pool
}

// spawnerFor returns the scope's Spawner: the unbounded Root for the host,
// or the bounded Worker spawner provisioned for a worker scope, so an
// actor's AVM call and call-request resolution dispatch through the
// concurrency limit CreateWorkerPool set up for that worker.
func (p *Plumber) spawnerFor(scope particle.PeerScope) spawner.Spawner {
	if !scope.IsWorker() {
		return p.hostSpawner
	}
	return p.workerPools[scope.Worker()].spawner
}

// CreateWorkerPool provisions a new worker scope: a VM pool, an actor
// map, a bounded spawner, and a keypair, all scoped to workerID.
func (p *Plumber) CreateWorkerPool(workerID particle.WorkerID, peerID string, capacity, concurrency int, runtime avm.Factory, kp particle.KeyPair) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wp := &workerPool{
		peerID:    peerID,
		actors:    make(map[particle.ActorKey]*actor.Actor),
		pool:      avm.NewPool(capacity, runtime),
		spawner:   spawner.NewWorker(string(workerID), concurrency),
		functions: actor.NewFunctions(p.registry),
	}
	p.workerPools[workerID] = wp

	if reg, ok := p.cfg.PeerScopes.(interface {
		RegisterWorker(particle.WorkerID, string)
	}); ok {
		reg.RegisterWorker(workerID, peerID)
	}
	if st, ok := p.cfg.KeyStorage.(interface {
		Provision(particle.WorkerID, particle.KeyPair)
	}); ok {
		st.Provision(workerID, kp)
	}
}

// RemoveWorkerPool tears down a worker scope: unregisters its peer id and
// revokes its keypair (where the collaborators support it, as in
// CreateWorkerPool), stops its spawner, closes its VM pool, and drops its
// actor map. Particles still mid-flight are abandoned, matching the Rust
// source's behavior of simply dropping the worker's state wholesale.
func (p *Plumber) RemoveWorkerPool(ctx context.Context, workerID particle.WorkerID) error {
	p.mu.Lock()
	wp, ok := p.workerPools[workerID]
	if ok {
		delete(p.workerPools, workerID)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}

	if reg, ok := p.cfg.PeerScopes.(interface{ UnregisterWorker(string) }); ok {
		reg.UnregisterWorker(wp.peerID)
	}
	if st, ok := p.cfg.KeyStorage.(interface{ Revoke(particle.WorkerID) }); ok {
		st.Revoke(workerID)
	}

	if err := wp.spawner.Stop(ctx); err != nil {
		p.log.WithError(err).Warn("worker spawner did not stop cleanly")
	}
	return wp.pool.Close()
}

// AddService registers a function on a service, callable by any actor's
// interpreter steps via a call request.
func (p *Plumber) AddService(serviceID, functionName string, fn builtins.ServiceFunction) {
	p.registry.Extend(serviceID, functionName, fn)
}

// RemoveService unregisters a function, or an entire service when
// functionName is empty.
func (p *Plumber) RemoveService(serviceID, functionName string) {
	p.registry.Remove(serviceID, functionName)
}

// Poll advances the scheduler by one tick: it polls the host and every
// worker's VM pool, starts new interpreter steps where mailboxes and
// capacity allow, drains completed steps into routing events, and
// periodically sweeps expired actors. It does not wait on interpreter
// steps or VM creation, but the cleanup pass calls
// DataStore.BatchCleanupData synchronously, so Poll returns only after
// that call does.
//
// This is the direct Go analogue of the ten-step poll(cx) tick: VM pool
// poll, host message dispatch, worker message dispatch, completed-step
// draining, and cleanup, all performed without blocking on any one
// subsystem.
func (p *Plumber) Poll(ctx context.Context) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var events []Event

	p.hostPool.Poll(ctx)
	hs := p.hostPool.Stats()
	p.cfg.Metrics.PoolStats(particle.HostScope().String(), hs.Free, hs.Borrowed, hs.PendingCreation)
	for workerID, wp := range p.workerPools {
		wp.pool.Poll(ctx)
		ws := wp.pool.Stats()
		p.cfg.Metrics.PoolStats(particle.WorkerScope(workerID).String(), ws.Free, ws.Borrowed, ws.PendingCreation)
	}

	rootKP := p.cfg.KeyStorage.RootKeyPair()
	events = append(events, p.pollScope(ctx, p.hostActors, particle.HostScope(), rootKP)...)

	for workerID, wp := range p.workerPools {
		kp, err := p.cfg.KeyStorage.GetKeyPair(workerID)
		if err != nil {
			continue
		}
		events = append(events, p.pollScope(ctx, wp.actors, particle.WorkerScope(workerID), kp)...)
	}

	p.mu.Unlock()
	p.cleanup(ctx)
	p.mu.Lock()

	return events
}

// pollScope drives one actor map forward: starts new steps where
// possible, drains finished ones, and reports their outcomes split into
// local re-ingest vs. remote routing events.
func (p *Plumber) pollScope(ctx context.Context, actors map[particle.ActorKey]*actor.Actor, scope particle.PeerScope, kp particle.KeyPair) []Event {
	var events []Event
	mailboxTotal := 0

	for _, a := range actors {
		a.PollNext(ctx, kp)
		mailboxTotal += a.MailboxSize()

		if resolved, ready := a.PollCallResults(func(serviceID string, success bool, elapsedMS uint64) {
			p.cfg.Metrics.ServiceCall(success, serviceID, time.Duration(elapsedMS)*time.Millisecond)
		}); ready {
			a.Ingest(resolved)
		}

		res, ready := a.PollCompleted(ctx)
		if !ready {
			continue
		}
		if res.Err != nil {
			events = append(events, StepFailed{ParticleID: res.Particle.Particle.ID, Scope: scope, Err: res.Err})
			continue
		}

		p.cfg.Metrics.InterpreterStep(scope.String(), true, 0)

		if len(res.Outcome.CallRequests) > 0 {
			// Routing hasn't finished: the interpreter needs these results
			// before it can produce NextPeerIDs, so the step re-enters the
			// same actor's mailbox once every request resolves.
			p.dispatchCallRequests(ctx, a, res.Particle, res.Outcome)
			continue
		}

		for _, peerID := range res.Outcome.NextPeerIDs {
			next := res.Particle.Particle
			next.Data = res.Outcome.NewData

			if target, ok := p.cfg.PeerScopes.Scope(peerID); ok {
				p.ingestLocal(target, particle.NewExtendedParticle(next, res.Particle.Span))
				continue
			}
			events = append(events, RouteParticle{PeerID: peerID, Particle: next})
		}
	}

	p.cfg.Metrics.MailboxSize(scope.String(), mailboxTotal)
	return events
}

// ingestLocal re-ingests a particle produced as an interpreter effect
// that targets a scope this node itself serves, bypassing signature
// verification (it was produced locally, not received over the wire).
func (p *Plumber) ingestLocal(scope particle.PeerScope, ep particle.ExtendedParticle) {
	if scope.IsWorker() {
		wp, ok := p.workerPools[scope.Worker()]
		if !ok {
			return
		}
		p.ingestInto(wp.actors, scope, ep, wp.functions, nil)
		return
	}
	p.ingestInto(p.hostActors, scope, ep, p.hostFunctions, nil)
}

// dispatchCallRequests hands every call request an interpreter step raised
// to the actor, which resolves them on its own Spawner and accumulates the
// results into CallResults for the step that re-ingest triggers. ep is
// updated with the step's NewData first, so the re-ingested particle
// carries forward what the script already computed.
func (p *Plumber) dispatchCallRequests(ctx context.Context, a *actor.Actor, ep particle.ExtendedParticle, outcome avm.Outcome) {
	token, err := particle.ParticleToken(p.cfg.KeyStorage.RootKeyPair(), ep.Particle.Signature)
	if err != nil {
		p.log.WithError(err).Warn("failed to derive particle token for call request")
		return
	}

	next := ep
	next.Particle.Data = outcome.NewData
	a.DispatchCallRequests(ctx, next, outcome.CallRequests, token)
}

// cleanup sweeps expired actors across the host and every worker,
// batching up to MaxCleanupKeys removals into a single data-store call
// per tick, mirroring the MAX_CLEANUP_KEYS_SIZE-bounded batching in the
// source this is based on.
func (p *Plumber) cleanup(ctx context.Context) {
	now := p.cfg.Clock.NowMS()

	p.mu.Lock()
	keys := make([]store.CleanupKey, 0, MaxCleanupKeys)
	keys = sweepActors(p.hostActors, particle.HostScope(), now, keys, p.cfg.Metrics)
	for workerID, wp := range p.workerPools {
		if len(keys) >= MaxCleanupKeys {
			break
		}
		keys = sweepActors(wp.actors, particle.WorkerScope(workerID), now, keys, p.cfg.Metrics)
	}
	p.mu.Unlock()

	if len(keys) == 0 {
		return
	}
	if err := p.cfg.DataStore.BatchCleanupData(ctx, keys); err != nil {
		p.log.WithError(err).Warn("batch cleanup failed; the evicted actors' keys are not resubmitted")
	}
}

func sweepActors(actors map[particle.ActorKey]*actor.Actor, scope particle.PeerScope, now uint64, keys []store.CleanupKey, sink metrics.Sink) []store.CleanupKey {
	for key, a := range actors {
		if len(keys) >= MaxCleanupKeys {
			break
		}
		if !a.IsExpired(now) {
			continue
		}
		actorKey, actorScope, _ := a.CleanupKey()
		keys = append(keys, store.CleanupKey{Key: actorKey, Scope: actorScope})
		delete(actors, key)
		sink.ActorRemoved(scope.String())
	}
	return keys
}

// Run drives Poll in a loop until ctx is cancelled, forwarding every
// event onto events. interval bounds how long Run sleeps between empty
// polls; a non-empty poll result is forwarded immediately and Run polls
// again right away, so interval only affects idle latency.
func (p *Plumber) Run(ctx context.Context, events chan<- Event, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		got := p.Poll(ctx)
		if len(got) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
			continue
		}
		for _, ev := range got {
			select {
			case events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
