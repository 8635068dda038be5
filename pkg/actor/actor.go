// Package actor implements the per-signature mailbox and single-flight
// AVM call driving the plumber multiplexes interpreter instances across.
//
// Grounded on pkg/domain.Sandbox lifecycle bookkeeping in the teacher
// (created/last-active timestamps, single in-flight operation per
// sandbox) generalized from "one Firecracker sandbox" to "one actor
// backing a particle signature".
package actor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/aquamarine/plumber/pkg/avm"
	"github.com/aquamarine/plumber/pkg/builtins"
	"github.com/aquamarine/plumber/pkg/log"
	"github.com/aquamarine/plumber/pkg/particle"
	"github.com/aquamarine/plumber/pkg/spawner"
)

// Pool is the subset of avm.Pool an actor needs, kept as an interface so
// actor tests can inject a fake pool instead of depending on the
// concrete type (the fix the teacher's own pool_test.go comments wished
// for when testing against *vm.Manager directly).
type Pool interface {
	Acquire() (avm.VMID, avm.Runtime, bool)
	Release(id avm.VMID, vm avm.Runtime)
	Recreate(ctx context.Context, id avm.VMID)
}

// CompletionResult is delivered once a queued particle's interpreter
// step has finished. Outcome is the raw, unsplit interpreter result;
// splitting it into local re-ingest vs. remote routing effects needs the
// PeerScopes collaborator to know which NextPeerIDs are local, so that
// split happens one level up, in the plumber.
type CompletionResult struct {
	Particle particle.ExtendedParticle
	Outcome  avm.Outcome
	Err      error
}

type stepResult struct {
	vmID     avm.VMID
	vm       avm.Runtime
	outcome  avm.Outcome
	err      error
	vmLost   bool
	particle particle.ExtendedParticle
}

// callResolution is one resolved call request, delivered back from the
// spawner goroutine that ran it.
type callResolution struct {
	id        uint32
	serviceID string
	result    avm.CallResult
	elapsedMS uint64
}

// Actor owns one particle signature's FIFO mailbox and its single
// in-flight interpreter step. At most one Call runs at a time; further
// ingests queue behind it, exactly as spec.md §4.2 requires.
type Actor struct {
	key       particle.ActorKey
	scope     particle.PeerScope
	clock     particle.Clock
	pool      Pool
	spawner   spawner.Spawner
	functions *Functions

	mailbox        []particle.ExtendedParticle
	current        *particle.ExtendedParticle
	currentVMID    avm.VMID
	resultCh       chan stepResult
	deadline       particle.Deadline
	prevData       []byte
	pendingResults avm.CallResults
	callResultCh   chan callResolution
	pendingCalls   int
	resolving      *particle.ExtendedParticle
	log            *logrus.Entry
}

// New creates an actor for the given key and scope. Sub-tasks the actor
// spawns (the interpreter call, resolving call requests) run on sp —
// spawner.Root for a host actor, a spawner.Worker for a worker actor, so
// the worker's bounded-concurrency pool is actually load-bearing.
func New(key particle.ActorKey, scope particle.PeerScope, clock particle.Clock, pool Pool, functions *Functions, sp spawner.Spawner) *Actor {
	return &Actor{
		key:          key,
		scope:        scope,
		clock:        clock,
		pool:         pool,
		spawner:      sp,
		functions:    functions,
		resultCh:     make(chan stepResult, 1),
		callResultCh: make(chan callResolution, 32),
		log: log.WithComponent("actor").
			WithField("scope", scope.String()),
	}
}

// Ingest enqueues a particle onto this actor's mailbox and refreshes the
// actor's eviction deadline from the particle's own timestamp_ms+ttl_ms,
// not from when it happened to be ingested.
func (a *Actor) Ingest(p particle.ExtendedParticle) {
	a.mailbox = append(a.mailbox, p)
	a.deadline = particle.DeadlineFrom(&p.Particle)
}

// SetFunction registers a callback through this actor's Functions
// resolver. The registration lands in the backend that resolver wraps,
// which the plumber shares between actors, so it is not private to this
// actor and outlives it.
func (a *Actor) SetFunction(serviceID, functionName string, fn builtins.ServiceFunction) {
	a.functions.Extend(serviceID, functionName, fn)
}

// CallFunctions resolves one call request raised by this actor's last
// completed interpreter step against its Functions resolver.
func (a *Actor) CallFunctions(ctx context.Context, req CallRequestContext) (builtins.CallOutcome, bool) {
	return a.functions.Call(ctx, req)
}

// MailboxSize reports how many particles are queued, not counting the
// one currently executing.
func (a *Actor) MailboxSize() int {
	return len(a.mailbox)
}

// IsExecuting reports whether an interpreter step is currently in
// flight, or call requests raised by the last step are still being
// resolved.
func (a *Actor) IsExecuting() bool {
	return a.current != nil || a.resolving != nil
}

// IsExpired reports whether this actor is cleanup-eligible: idle (no
// mailbox, nothing executing) and past the deadline of the last particle
// it ingested.
func (a *Actor) IsExpired(nowMS uint64) bool {
	if a.IsExecuting() || len(a.mailbox) > 0 {
		return false
	}
	return a.deadline.IsExpired(nowMS)
}

// CleanupKey returns the actor key, its scope, and the data its last
// completed step produced. When this actor is evicted the plumber puts the
// key and scope into a data-store cleanup batch.
func (a *Actor) CleanupKey() (particle.ActorKey, particle.PeerScope, []byte) {
	return a.key, a.scope, a.prevData
}

// PollNext starts the next queued particle's interpreter step if the
// actor is idle and the pool has a free instance. It returns false if
// there was nothing to start (empty mailbox, already executing, or no
// VM available).
func (a *Actor) PollNext(ctx context.Context, keyPair avm.Signer) bool {
	if a.IsExecuting() || len(a.mailbox) == 0 {
		return false
	}
	vmID, vm, ok := a.pool.Acquire()
	if !ok {
		return false
	}

	next := a.mailbox[0]
	a.mailbox = a.mailbox[1:]
	a.current = &next
	a.currentVMID = vmID

	params := avm.CallParams{
		Script:      next.Particle.Script,
		PrevData:    a.prevData,
		CurrentData: next.Particle.Data,
		Particle: avm.ParticleParameters{
			ParticleID:  next.Particle.ID,
			InitPeerID:  next.Particle.InitPeerID,
			Timestamp:   next.Particle.TimestampMS,
			TTL:         next.Particle.TTLMS,
			CurrentPeer: a.scope.String(),
		},
		CallResults: a.pendingResults,
		KeyPair:     keyPair,
	}
	a.pendingResults = nil

	a.spawner.Spawn(func() { a.runStep(ctx, vmID, vm, params, next) })
	return true
}

// AccumulateCallResult records a resolved call request's result so it is
// carried into the CallResults of this actor's next interpreter step,
// rather than being dropped once the request has been answered.
func (a *Actor) AccumulateCallResult(id uint32, result avm.CallResult) {
	if a.pendingResults == nil {
		a.pendingResults = make(avm.CallResults, 1)
	}
	a.pendingResults[id] = result
}

// DispatchCallRequests resolves every call request raised by the particle's
// last interpreter step in a single task on the actor's spawner, one
// request after another in order, holding the actor busy (IsExecuting)
// until all of them land. ep carries the step's NewData forward so
// re-ingest picks up where the step left off; token is the particle token
// service functions authenticate against.
func (a *Actor) DispatchCallRequests(ctx context.Context, ep particle.ExtendedParticle, requests []avm.CallRequest, token string) {
	a.resolving = &ep
	a.pendingCalls += len(requests)

	a.spawner.Spawn(func() {
		for _, req := range requests {
			start := a.clock.NowMS()
			outcome, found := a.CallFunctions(ctx, CallRequestContext{
				ServiceID:     req.ServiceID,
				FunctionName:  req.FunctionName,
				Arguments:     req.Arguments,
				ParticleID:    ep.Particle.ID,
				ParticleToken: token,
				InitPeerID:    ep.Particle.InitPeerID,
			})
			a.callResultCh <- callResolution{
				id:        req.ID,
				serviceID: req.ServiceID,
				result:    avm.CallResult{Result: outcome.Result, Success: found && outcome.Success},
				elapsedMS: a.clock.NowMS() - start,
			}
		}
	})
}

// PollCallResults drains resolved call requests without blocking,
// accumulating each into CallResults and reporting it through report. Once
// every request from the last DispatchCallRequests batch has resolved, it
// returns the particle to re-ingest so the interpreter sees the results.
func (a *Actor) PollCallResults(report func(serviceID string, success bool, elapsedMS uint64)) (particle.ExtendedParticle, bool) {
	for {
		select {
		case res := <-a.callResultCh:
			a.AccumulateCallResult(res.id, res.result)
			if report != nil {
				report(res.serviceID, res.result.Success, res.elapsedMS)
			}
			a.pendingCalls--
			if a.pendingCalls <= 0 && a.resolving != nil {
				ep := *a.resolving
				a.resolving = nil
				return ep, true
			}
		default:
			return particle.ExtendedParticle{}, false
		}
	}
}

// runStep drives one interpreter call on its own goroutine and reports
// back through resultCh, recovering from a panic the way the Rust
// BoxFuture being dropped would otherwise silently lose the instance:
// here it's reported explicitly as vmLost so the pool recreates it.
func (a *Actor) runStep(ctx context.Context, vmID avm.VMID, vm avm.Runtime, params avm.CallParams, p particle.ExtendedParticle) {
	res := stepResult{vmID: vmID, vm: vm, particle: p}
	defer func() {
		if r := recover(); r != nil {
			res.vmLost = true
			res.err = fmt.Errorf("actor: interpreter step panicked: %v", r)
		}
		a.resultCh <- res
	}()

	outcome, err := vm.Call(ctx, params)
	res.outcome = outcome
	res.err = err
}

// PollCompleted drains a finished interpreter step without blocking. It
// returns (result, true) once the in-flight step has finished, or
// (zero, false) if nothing is ready yet.
func (a *Actor) PollCompleted(ctx context.Context) (CompletionResult, bool) {
	if a.current == nil {
		return CompletionResult{}, false
	}

	select {
	case res := <-a.resultCh:
		a.current = nil

		if res.vmLost {
			a.pool.Recreate(ctx, res.vmID)
			return CompletionResult{Particle: res.particle, Err: res.err}, true
		}
		if res.err != nil {
			a.pool.Release(res.vmID, res.vm)
			return CompletionResult{Particle: res.particle, Err: res.err}, true
		}

		a.prevData = res.outcome.NewData
		a.pool.Release(res.vmID, res.vm)
		return CompletionResult{
			Particle: res.particle,
			Outcome:  res.outcome,
		}, true
	default:
		return CompletionResult{}, false
	}
}
