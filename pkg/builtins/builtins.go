// Package builtins defines the service-function collaborator interface
// actors resolve call requests against, plus an in-memory reference
// registry so the module runs end-to-end without a caller supplying its
// own.
//
// Grounded on pkg/domain's map-of-interfaces shape in the teacher
// (ImageService, NetworkService keyed by name), generalized to the
// two-level (service id, function name) keying the spec's call requests
// use.
package builtins

import (
	"context"
	"fmt"
	"sync"
)

// CallContext carries the metadata a service function needs to act on
// behalf of a particle: which particle invoked it, from which peer, and
// the token proving that provenance.
type CallContext struct {
	ParticleID    string
	ParticleToken string
	InitPeerID    string
	Arguments     []byte
}

// CallOutcome is what a service function hands back to the actor, to be
// folded into the next interpreter step's call results.
type CallOutcome struct {
	Result  []byte
	Success bool
}

// ServiceFunction is one callable function on a registered service.
type ServiceFunction func(ctx context.Context, call CallContext) CallOutcome

// ParticleFunction is the external collaborator actors call through to
// resolve call requests (spec.md §6 Builtins / §4.4 Functions). Plumber
// and Actor depend only on this interface, never on Registry directly.
type ParticleFunction interface {
	// Call invokes serviceID.functionName with the given call context. The
	// boolean return reports whether the service/function pair was found
	// at all; a found-but-failing call is reported through CallOutcome.
	Call(ctx context.Context, serviceID, functionName string, call CallContext) (CallOutcome, bool)

	// Extend registers or replaces functionName on serviceID.
	Extend(serviceID, functionName string, fn ServiceFunction)

	// Remove unregisters a single function, or the whole service when
	// functionName is empty.
	Remove(serviceID, functionName string)
}

// Registry is the reference in-memory ParticleFunction implementation.
type Registry struct {
	mu       sync.RWMutex
	services map[string]map[string]ServiceFunction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]map[string]ServiceFunction)}
}

// Call resolves and invokes a registered function.
func (r *Registry) Call(ctx context.Context, serviceID, functionName string, call CallContext) (CallOutcome, bool) {
	r.mu.RLock()
	fns, ok := r.services[serviceID]
	if !ok {
		r.mu.RUnlock()
		return CallOutcome{}, false
	}
	fn, ok := fns[functionName]
	r.mu.RUnlock()
	if !ok {
		return CallOutcome{}, false
	}
	return fn(ctx, call), true
}

// Extend registers fn under serviceID.functionName, replacing any
// previous registration.
func (r *Registry) Extend(serviceID, functionName string, fn ServiceFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.services[serviceID] == nil {
		r.services[serviceID] = make(map[string]ServiceFunction)
	}
	r.services[serviceID][functionName] = fn
}

// Remove unregisters functionName from serviceID, or the entire service
// when functionName is empty.
func (r *Registry) Remove(serviceID, functionName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if functionName == "" {
		delete(r.services, serviceID)
		return
	}
	if fns, ok := r.services[serviceID]; ok {
		delete(fns, functionName)
		if len(fns) == 0 {
			delete(r.services, serviceID)
		}
	}
}

// ErrServiceNotFound is returned by callers that want a typed error for a
// missing service/function pair; Registry itself reports this through
// Call's boolean return instead, as an actor must distinguish
// "not found" (continue, surface error to the script) from a transport
// failure.
type ErrServiceNotFound struct {
	ServiceID    string
	FunctionName string
}

func (e *ErrServiceNotFound) Error() string {
	return fmt.Sprintf("builtins: %s.%s not found", e.ServiceID, e.FunctionName)
}
