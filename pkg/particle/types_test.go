package particle

import "testing"

func TestEd25519KeyPair_SignVerify(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error = %v", err)
	}

	msg := []byte("hello particle")
	sig, err := kp.Sign(msg)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if !kp.Verify(kp.PublicKey(), msg, sig) {
		t.Fatal("Verify() = false for a valid signature")
	}
	if kp.Verify(kp.PublicKey(), []byte("tampered"), sig) {
		t.Fatal("Verify() = true for a tampered message")
	}
}

func TestVerifyWithPeerID(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error = %v", err)
	}
	msg := []byte("body")
	sig, err := kp.Sign(msg)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	if !VerifyWithPeerID(kp.PeerID(), msg, sig) {
		t.Fatal("VerifyWithPeerID() = false for a valid signature")
	}
	if VerifyWithPeerID("not-base58-!!!", msg, sig) {
		t.Fatal("VerifyWithPeerID() = true for an undecodable peer id")
	}
	if VerifyWithPeerID(kp.PeerID(), []byte("different body"), sig) {
		t.Fatal("VerifyWithPeerID() = true for a mismatched body")
	}
}

func TestParticle_VerifyRoundTrip(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error = %v", err)
	}

	p := &Particle{
		ID:         "p1",
		InitPeerID: kp.PeerID(),
		Script:     "(null)",
		Data:       []byte("data"),
	}
	sig, err := kp.Sign(p.signedBody())
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	p.Signature = sig

	if err := p.Verify(VerifyWithPeerID); err != nil {
		t.Fatalf("Verify() error = %v, want nil", err)
	}

	p.Data = []byte("tampered")
	if err := p.Verify(VerifyWithPeerID); err == nil {
		t.Fatal("Verify() = nil for a tampered particle, want error")
	}
}

func TestParticle_VerifyNoVerifier(t *testing.T) {
	p := &Particle{ID: "p1"}
	if err := p.Verify(nil); err == nil {
		t.Fatal("Verify(nil) = nil, want error")
	}
}

func TestParticleToken(t *testing.T) {
	root, err := GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error = %v", err)
	}
	tok1, err := ParticleToken(root, []byte("sig-a"))
	if err != nil {
		t.Fatalf("ParticleToken() error = %v", err)
	}
	tok2, err := ParticleToken(root, []byte("sig-b"))
	if err != nil {
		t.Fatalf("ParticleToken() error = %v", err)
	}
	if tok1 == tok2 {
		t.Fatal("ParticleToken() produced the same token for different signatures")
	}
}

func TestPeerScope(t *testing.T) {
	host := HostScope()
	if host.IsWorker() {
		t.Fatal("HostScope().IsWorker() = true")
	}
	if host.String() != "host" {
		t.Fatalf("HostScope().String() = %q, want host", host.String())
	}

	worker := WorkerScope(WorkerID("w1"))
	if !worker.IsWorker() {
		t.Fatal("WorkerScope().IsWorker() = false")
	}
	if worker.Worker() != WorkerID("w1") {
		t.Fatalf("Worker() = %q, want w1", worker.Worker())
	}
	if worker.String() != "worker:w1" {
		t.Fatalf("String() = %q, want worker:w1", worker.String())
	}
}

func TestSpan_Child(t *testing.T) {
	parent := NoSpan.Child("parent")
	child := parent.Child("child")
	if child.parent == nil || child.parent.name != "parent" {
		t.Fatal("Child() did not link back to its parent span")
	}
}
