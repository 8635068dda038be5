// Package avm hosts the bounded pool of interpreter instances the plumber
// multiplexes across actors, and the Runtime interface an interpreter
// implementation must satisfy to be pooled.
//
// This is the Go analogue of pkg/vm in the teacher: pkg/vm.Manager creates
// and destroys real Firecracker machines; avm.Runtime creates and steps
// real AVM interpreter instances. The pooling strategy (pkg/vm.Pool) is
// carried over nearly verbatim, generalized from "pre-warmed microVM" to
// "pooled interpreter instance".
package avm

import (
	"context"
	"time"
)

// CallParams bundles the arguments a single interpreter step needs,
// mirroring the positional arguments of AquaRuntime::call in the Rust
// source (script, prev_data, current_data, particle_params, call_results,
// key_pair).
type CallParams struct {
	Script      string
	PrevData    []byte
	CurrentData []byte
	Particle    ParticleParameters
	CallResults CallResults
	KeyPair     Signer
}

// Signer is the minimal capability CallParams needs from a keypair,
// kept separate from particle.KeyPair so this package doesn't import
// particle (avoiding an import cycle; particle does not need to know
// about avm).
type Signer interface {
	Sign(msg []byte) ([]byte, error)
}

// ParticleParameters is the subset of particle metadata the interpreter
// needs to evaluate a script step.
type ParticleParameters struct {
	ParticleID  string
	InitPeerID  string
	Timestamp   uint64
	TTL         uint32
	CurrentPeer string
}

// CallResults carries prior call-request resolutions back into the next
// interpreter step, keyed by call id as the interpreter assigned it.
type CallResults map[uint32]CallResult

// CallResult is one resolved call request.
type CallResult struct {
	Result  []byte
	Success bool
}

// CallRequest is one outstanding call the interpreter wants resolved
// before it can make further progress.
type CallRequest struct {
	ID           uint32
	ServiceID    string
	FunctionName string
	Arguments    []byte
}

// Outcome is the raw result of one interpreter step, before it has been
// split into routing effects — the Go analogue of RawAVMOutcome.
type Outcome struct {
	Success      bool
	ErrorMessage string
	NewData      []byte
	NextPeerIDs  []string
	CallRequests []CallRequest
}

// MemoryStats reports interpreter instance memory usage.
type MemoryStats struct {
	MemorySize         uint64
	TotalMemoryLimit   *uint64
	AllocationRejected bool
}

// Runtime is the pluggable interpreter collaborator (§6 AquaRuntime).
// This module never implements the interpreter itself; it only pools and
// drives instances that satisfy this interface.
type Runtime interface {
	// Call executes one interpreter step. It may block; callers run it on
	// a goroutine and wait for the result through a channel so the
	// plumber's scheduling tick never blocks on it.
	Call(ctx context.Context, params CallParams) (Outcome, error)

	// MemoryStats reports this instance's memory usage.
	MemoryStats() MemoryStats

	// Close releases any resources the instance holds.
	Close() error
}

// Factory builds a fresh Runtime instance, standing in for
// AquaRuntime::create(config, backend, waker). It is supplied once to
// NewPool and invoked any number of times as the pool (re)creates
// instances.
type Factory func(ctx context.Context) (Runtime, error)

// StepTimeout is a 30-second step duration. Nothing in this module reads
// it: neither the pool nor the actor times out a Call, so a step that
// never returns keeps its instance borrowed and its actor executing.
const StepTimeout = 30 * time.Second
