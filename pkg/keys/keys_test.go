package keys

import (
	"errors"
	"testing"

	"github.com/aquamarine/plumber/pkg/particle"
)

func TestStorage_RootKeyPair(t *testing.T) {
	root, err := particle.GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error = %v", err)
	}
	s := NewStorage(root)
	if s.RootKeyPair() != particle.KeyPair(root) {
		t.Fatal("RootKeyPair() did not return the configured root")
	}
}

func TestStorage_ProvisionAndRevoke(t *testing.T) {
	root, _ := particle.GenerateEd25519KeyPair()
	s := NewStorage(root)
	worker := particle.WorkerID("w1")

	if _, err := s.GetKeyPair(worker); err == nil {
		t.Fatal("GetKeyPair() on unprovisioned worker returned no error")
	}
	var notFound *ErrNoKeyPair
	if _, err := s.GetKeyPair(worker); !errors.As(err, &notFound) {
		t.Fatalf("GetKeyPair() error is not ErrNoKeyPair: %T", err)
	}

	workerKP, _ := particle.GenerateEd25519KeyPair()
	s.Provision(worker, workerKP)

	got, err := s.GetKeyPair(worker)
	if err != nil {
		t.Fatalf("GetKeyPair() error = %v after provisioning", err)
	}
	if got.PeerID() != workerKP.PeerID() {
		t.Fatal("GetKeyPair() returned a different keypair than provisioned")
	}

	s.Revoke(worker)
	if _, err := s.GetKeyPair(worker); err == nil {
		t.Fatal("GetKeyPair() after Revoke should error")
	}
}
