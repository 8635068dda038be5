// Package peers abstracts the node's view of its own identity and the
// workers deployed on it: which peer id is "the host", whether a given
// peer is a management peer, and how to turn a worker id into the scope
// the plumber routes particles through.
//
// spec.md keeps this an external collaborator (§6 PeerScopes); this
// package defines its interface plus a reference in-memory
// implementation, grounded on the straightforward map-backed config
// objects in the teacher's pkg/domain.
package peers

import (
	"sync"

	"github.com/aquamarine/plumber/pkg/particle"
)

// PeerScopes resolves peer identities to routing scopes.
type PeerScopes interface {
	// HostPeerID returns this node's own peer id.
	HostPeerID() string

	// IsManagement reports whether peerID is allowed to manage worker
	// pools and services regardless of which worker it's addressing.
	IsManagement(peerID string) bool

	// IsHost reports whether peerID addresses the host scope.
	IsHost(peerID string) bool

	// Scope resolves peerID to a routing scope, reporting false if the
	// peer is not a recognized worker and not the host.
	Scope(peerID string) (particle.PeerScope, bool)
}

// Registry is the reference PeerScopes implementation: an explicit host
// id, an explicit management allow-list, and a worker id <-> peer id
// mapping populated as worker pools are created and removed.
type Registry struct {
	mu          sync.RWMutex
	hostPeerID  string
	management  map[string]struct{}
	workerPeers map[string]particle.WorkerID // peer id -> worker id
}

// NewRegistry creates a registry for the given host peer id and
// management peer allow-list.
func NewRegistry(hostPeerID string, managementPeerIDs []string) *Registry {
	mgmt := make(map[string]struct{}, len(managementPeerIDs))
	for _, id := range managementPeerIDs {
		mgmt[id] = struct{}{}
	}
	return &Registry{
		hostPeerID:  hostPeerID,
		management:  mgmt,
		workerPeers: make(map[string]particle.WorkerID),
	}
}

// HostPeerID returns the host's peer id.
func (r *Registry) HostPeerID() string { return r.hostPeerID }

// IsManagement reports whether peerID is a management peer.
func (r *Registry) IsManagement(peerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.management[peerID]
	return ok
}

// IsHost reports whether peerID is the host.
func (r *Registry) IsHost(peerID string) bool {
	return peerID == r.hostPeerID
}

// Scope resolves peerID to a routing scope.
func (r *Registry) Scope(peerID string) (particle.PeerScope, bool) {
	if r.IsHost(peerID) {
		return particle.HostScope(), true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if w, ok := r.workerPeers[peerID]; ok {
		return particle.WorkerScope(w), true
	}
	return particle.PeerScope{}, false
}

// RegisterWorker associates a worker id with the peer id it is
// addressed by, called when a worker pool is created.
func (r *Registry) RegisterWorker(workerID particle.WorkerID, peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workerPeers[peerID] = workerID
}

// UnregisterWorker removes a worker's peer mapping, called when its
// pool is removed.
func (r *Registry) UnregisterWorker(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workerPeers, peerID)
}
