package peers

import (
	"testing"

	"github.com/aquamarine/plumber/pkg/particle"
)

func TestRegistry_HostAndManagement(t *testing.T) {
	r := NewRegistry("host-peer", []string{"mgmt-peer"})

	if r.HostPeerID() != "host-peer" {
		t.Fatalf("HostPeerID() = %q, want host-peer", r.HostPeerID())
	}
	if !r.IsHost("host-peer") {
		t.Fatal("IsHost(host-peer) = false")
	}
	if r.IsHost("other-peer") {
		t.Fatal("IsHost(other-peer) = true")
	}
	if !r.IsManagement("mgmt-peer") {
		t.Fatal("IsManagement(mgmt-peer) = false")
	}
	if r.IsManagement("host-peer") {
		t.Fatal("IsManagement(host-peer) = true, host is not automatically management")
	}
}

func TestRegistry_ScopeResolution(t *testing.T) {
	r := NewRegistry("host-peer", nil)

	scope, ok := r.Scope("host-peer")
	if !ok || scope.IsWorker() {
		t.Fatalf("Scope(host-peer) = (%+v, %v), want (host scope, true)", scope, ok)
	}

	if _, ok := r.Scope("unknown-peer"); ok {
		t.Fatal("Scope(unknown-peer) = true, want false")
	}

	r.RegisterWorker(particle.WorkerID("w1"), "worker-peer")
	scope, ok = r.Scope("worker-peer")
	if !ok || !scope.IsWorker() || scope.Worker() != particle.WorkerID("w1") {
		t.Fatalf("Scope(worker-peer) = (%+v, %v), want worker scope w1", scope, ok)
	}

	r.UnregisterWorker("worker-peer")
	if _, ok := r.Scope("worker-peer"); ok {
		t.Fatal("Scope(worker-peer) still resolves after UnregisterWorker")
	}
}
