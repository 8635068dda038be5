package actor

import (
	"context"

	"github.com/aquamarine/plumber/pkg/builtins"
)

// Functions resolves an actor's call requests against the registered
// service-function collaborator. It is a thin, actor-scoped facade over
// builtins.ParticleFunction. An actor resolves the call requests from one
// interpreter step one after another in a single task on its Spawner, so
// Call never runs twice at once for the same actor. Different actors may
// call the same backend concurrently, which the reference Registry
// tolerates via its own mutex.
type Functions struct {
	backend builtins.ParticleFunction
}

// NewFunctions wraps a ParticleFunction collaborator for use by one
// actor.
func NewFunctions(backend builtins.ParticleFunction) *Functions {
	return &Functions{backend: backend}
}

// Call resolves one outstanding call request raised by an interpreter
// step.
func (f *Functions) Call(ctx context.Context, req CallRequestContext) (builtins.CallOutcome, bool) {
	return f.backend.Call(ctx, req.ServiceID, req.FunctionName, builtins.CallContext{
		ParticleID:    req.ParticleID,
		ParticleToken: req.ParticleToken,
		InitPeerID:    req.InitPeerID,
		Arguments:     req.Arguments,
	})
}

// Extend registers a function on the underlying service-function
// collaborator. The registration is not scoped to one actor: every
// Functions wrapping the same backend sees it, and it stays registered
// after the actor that called Extend is evicted.
func (f *Functions) Extend(serviceID, functionName string, fn builtins.ServiceFunction) {
	f.backend.Extend(serviceID, functionName, fn)
}

// Remove unregisters a function (or a whole service when functionName is
// empty).
func (f *Functions) Remove(serviceID, functionName string) {
	f.backend.Remove(serviceID, functionName)
}

// CallRequestContext bundles a raised call request together with the
// particle metadata needed to resolve it.
type CallRequestContext struct {
	ServiceID     string
	FunctionName  string
	Arguments     []byte
	ParticleID    string
	ParticleToken string
	InitPeerID    string
}
