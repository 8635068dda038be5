package actor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aquamarine/plumber/pkg/avm"
	"github.com/aquamarine/plumber/pkg/builtins"
	"github.com/aquamarine/plumber/pkg/particle"
	"github.com/aquamarine/plumber/pkg/spawner"
)

type fakeSigner struct{}

func (fakeSigner) Sign(msg []byte) ([]byte, error) { return msg, nil }

type fakePool struct {
	vm         avm.Runtime
	available  bool
	recreated  []avm.VMID
	released   []avm.VMID
	acquireIDs []avm.VMID
	next       int
}

func newFakePool(vm avm.Runtime, ids ...avm.VMID) *fakePool {
	return &fakePool{vm: vm, available: true, acquireIDs: ids}
}

func (p *fakePool) Acquire() (avm.VMID, avm.Runtime, bool) {
	if !p.available || p.next >= len(p.acquireIDs) {
		return "", nil, false
	}
	id := p.acquireIDs[p.next]
	p.next++
	return id, p.vm, true
}

func (p *fakePool) Release(id avm.VMID, vm avm.Runtime) {
	p.released = append(p.released, id)
}

func (p *fakePool) Recreate(ctx context.Context, id avm.VMID) {
	p.recreated = append(p.recreated, id)
}

type scriptedRuntime struct {
	outcome avm.Outcome
	err     error
	panics  bool
	delay   time.Duration
}

func (r scriptedRuntime) Call(ctx context.Context, params avm.CallParams) (avm.Outcome, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.panics {
		panic("boom")
	}
	return r.outcome, r.err
}

func (r scriptedRuntime) MemoryStats() avm.MemoryStats { return avm.MemoryStats{} }
func (r scriptedRuntime) Close() error                 { return nil }

func testParticle(id string) particle.ExtendedParticle {
	return particle.NewExtendedParticle(particle.Particle{
		ID:         id,
		InitPeerID: "peer-a",
		Script:     "(null)",
		Data:       []byte("data"),
	}, particle.NoSpan)
}

func testParticleWithDeadline(id string, timestampMS uint64, ttlMS uint32) particle.ExtendedParticle {
	return particle.NewExtendedParticle(particle.Particle{
		ID:          id,
		InitPeerID:  "peer-a",
		TimestampMS: timestampMS,
		TTLMS:       ttlMS,
		Script:      "(null)",
		Data:        []byte("data"),
	}, particle.NoSpan)
}

func waitForResult(t *testing.T, a *Actor, timeout time.Duration) (CompletionResult, bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if res, ok := a.PollCompleted(context.Background()); ok {
			return res, true
		}
		time.Sleep(time.Millisecond)
	}
	return CompletionResult{}, false
}

func TestActor_IngestAndMailboxSize(t *testing.T) {
	clock := particle.NewManualClock(1000)
	pool := newFakePool(scriptedRuntime{})
	a := New(particle.ActorKey("k"), particle.HostScope(), clock, pool, NewFunctions(builtins.NewRegistry()), spawner.NewRoot())

	require.Equal(t, 0, a.MailboxSize())
	a.Ingest(testParticle("p1"))
	a.Ingest(testParticle("p2"))
	require.Equal(t, 2, a.MailboxSize())
}

func TestActor_PollNextRequiresFreeVM(t *testing.T) {
	clock := particle.NewManualClock(1000)
	pool := newFakePool(scriptedRuntime{outcome: avm.Outcome{Success: true}})
	pool.available = false
	a := New(particle.ActorKey("k"), particle.HostScope(), clock, pool, NewFunctions(builtins.NewRegistry()), spawner.NewRoot())
	a.Ingest(testParticle("p1"))

	started := a.PollNext(context.Background(), fakeSigner{})
	require.False(t, started, "PollNext should not start without a free VM")
	require.Equal(t, 1, a.MailboxSize())
}

func TestActor_HappyPathCompletion(t *testing.T) {
	clock := particle.NewManualClock(1000)
	rt := scriptedRuntime{outcome: avm.Outcome{Success: true, NewData: []byte("new-data")}}
	pool := newFakePool(rt, avm.VMID("vm-1"))
	a := New(particle.ActorKey("k"), particle.HostScope(), clock, pool, NewFunctions(builtins.NewRegistry()), spawner.NewRoot())
	a.Ingest(testParticle("p1"))

	started := a.PollNext(context.Background(), fakeSigner{})
	require.True(t, started)
	require.True(t, a.IsExecuting())
	require.Equal(t, 0, a.MailboxSize())

	res, ok := waitForResult(t, a, time.Second)
	require.True(t, ok, "expected completion")
	require.NoError(t, res.Err)
	require.Equal(t, "p1", res.Particle.Particle.ID)
	require.True(t, res.Outcome.Success)
	require.False(t, a.IsExecuting())
	require.Contains(t, pool.released, avm.VMID("vm-1"))
}

func TestActor_PanicReportsVMLostAndRecreates(t *testing.T) {
	clock := particle.NewManualClock(1000)
	rt := scriptedRuntime{panics: true}
	pool := newFakePool(rt, avm.VMID("vm-1"))
	a := New(particle.ActorKey("k"), particle.HostScope(), clock, pool, NewFunctions(builtins.NewRegistry()), spawner.NewRoot())
	a.Ingest(testParticle("p1"))

	require.True(t, a.PollNext(context.Background(), fakeSigner{}))
	res, ok := waitForResult(t, a, time.Second)
	require.True(t, ok)
	require.Error(t, res.Err)
	require.Contains(t, pool.recreated, avm.VMID("vm-1"))
	require.NotContains(t, pool.released, avm.VMID("vm-1"))
}

func TestActor_StepErrorReleasesWithoutRecreate(t *testing.T) {
	clock := particle.NewManualClock(1000)
	rt := scriptedRuntime{err: errors.New("interpreter failed")}
	pool := newFakePool(rt, avm.VMID("vm-1"))
	a := New(particle.ActorKey("k"), particle.HostScope(), clock, pool, NewFunctions(builtins.NewRegistry()), spawner.NewRoot())
	a.Ingest(testParticle("p1"))

	require.True(t, a.PollNext(context.Background(), fakeSigner{}))
	res, ok := waitForResult(t, a, time.Second)
	require.True(t, ok)
	require.Error(t, res.Err)
	require.Contains(t, pool.released, avm.VMID("vm-1"))
	require.Empty(t, pool.recreated)
}

func TestActor_IsExpired(t *testing.T) {
	clock := particle.NewManualClock(1000)
	pool := newFakePool(scriptedRuntime{})
	a := New(particle.ActorKey("k"), particle.HostScope(), clock, pool, NewFunctions(builtins.NewRegistry()), spawner.NewRoot())

	// A ttl=1000 particle ingested at t=1000 has a real deadline of 2000,
	// independent of any idle-activity window.
	a.Ingest(testParticleWithDeadline("p1", 1000, 1000))
	require.False(t, a.IsExpired(1999), "actor with a queued particle should not expire regardless of deadline")

	a.mailbox = nil
	require.False(t, a.IsExpired(1999), "before the particle's own deadline")
	require.True(t, a.IsExpired(2000), "at the particle's own deadline")
}

func TestActor_CleanupKeyReflectsLastPrevData(t *testing.T) {
	clock := particle.NewManualClock(1000)
	rt := scriptedRuntime{outcome: avm.Outcome{Success: true, NewData: []byte("final")}}
	pool := newFakePool(rt, avm.VMID("vm-1"))
	key := particle.ActorKey("sig")
	scope := particle.HostScope()
	a := New(key, scope, clock, pool, NewFunctions(builtins.NewRegistry()), spawner.NewRoot())
	a.Ingest(testParticle("p1"))
	require.True(t, a.PollNext(context.Background(), fakeSigner{}))
	_, ok := waitForResult(t, a, time.Second)
	require.True(t, ok)

	gotKey, gotScope, gotData := a.CleanupKey()
	require.Equal(t, key, gotKey)
	require.Equal(t, scope, gotScope)
	require.Equal(t, []byte("final"), gotData)
}

// recordingRuntime captures the CallParams it was invoked with, so a test
// can assert on what CallResults actually reached the interpreter.
type recordingRuntime struct {
	outcome avm.Outcome
	seen    chan avm.CallParams
}

func (r recordingRuntime) Call(_ context.Context, params avm.CallParams) (avm.Outcome, error) {
	r.seen <- params
	return r.outcome, nil
}

func (recordingRuntime) MemoryStats() avm.MemoryStats { return avm.MemoryStats{} }
func (recordingRuntime) Close() error                 { return nil }

func TestActor_DispatchCallRequestsFeedsNextStep(t *testing.T) {
	clock := particle.NewManualClock(1000)
	seen := make(chan avm.CallParams, 1)
	rt := recordingRuntime{outcome: avm.Outcome{Success: true}, seen: seen}
	pool := newFakePool(rt, avm.VMID("vm-1"))

	registry := builtins.NewRegistry()
	registry.Extend("svc", "fn", func(ctx context.Context, call builtins.CallContext) builtins.CallOutcome {
		return builtins.CallOutcome{Result: []byte("answer"), Success: true}
	})
	a := New(particle.ActorKey("k"), particle.HostScope(), clock, pool, NewFunctions(registry), spawner.NewRoot())

	ep := testParticle("p1")
	require.False(t, a.IsExecuting())
	a.DispatchCallRequests(context.Background(), ep, []avm.CallRequest{
		{ID: 7, ServiceID: "svc", FunctionName: "fn"},
	}, "tok")
	require.True(t, a.IsExecuting(), "actor should stay busy while a call request is outstanding")

	var resolved particle.ExtendedParticle
	require.Eventually(t, func() bool {
		var ready bool
		resolved, ready = a.PollCallResults(nil)
		return ready
	}, time.Second, time.Millisecond, "call request should resolve")
	require.False(t, a.IsExecuting(), "actor should be idle again once its call batch resolves")

	a.Ingest(resolved)
	require.True(t, a.PollNext(context.Background(), fakeSigner{}))

	select {
	case params := <-seen:
		require.Equal(t, avm.CallResult{Result: []byte("answer"), Success: true}, params.CallResults[7])
	case <-time.After(time.Second):
		t.Fatal("interpreter step never ran")
	}
}
