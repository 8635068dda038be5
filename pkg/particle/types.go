// Package particle defines the immutable message type the plumber routes,
// and the small set of pure value types (scopes, deadlines, keys) that the
// rest of the module builds on.
//
// This is the ubiquitous language of the plumber's bounded context, the
// same role pkg/domain plays for the teacher's sandbox/container model.
package particle

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Particle is an immutable signed message: the unit of work the plumber
// routes to actors. Once ingested, nothing in this module mutates it.
type Particle struct {
	ID          string `json:"id" cbor:"1,keyasint"`
	InitPeerID  string `json:"init_peer_id" cbor:"2,keyasint"`
	TimestampMS uint64 `json:"timestamp_ms" cbor:"3,keyasint"`
	TTLMS       uint32 `json:"ttl_ms" cbor:"4,keyasint"`
	Signature   []byte `json:"signature" cbor:"5,keyasint"`
	Script      string `json:"script" cbor:"6,keyasint"`
	Data        []byte `json:"data" cbor:"7,keyasint"`
}

// Verify checks the particle signature against its init peer and body.
// The signing scheme is delegated to a KeyPair so callers can plug in
// whatever peer-identity crypto their transport collaborator uses.
func (p *Particle) Verify(verifier func(peerID string, body, sig []byte) bool) error {
	if verifier == nil {
		return errors.New("particle: no verifier configured")
	}
	if !verifier(p.InitPeerID, p.signedBody(), p.Signature) {
		return fmt.Errorf("particle %s: signature verification failed", p.ID)
	}
	return nil
}

// Sign computes the particle's signature over its canonical body using
// kp and stores it on the particle, the counterpart to Verify for
// callers constructing a particle rather than checking one.
func (p *Particle) Sign(kp KeyPair) error {
	sig, err := kp.Sign(p.signedBody())
	if err != nil {
		return fmt.Errorf("particle: sign %s: %w", p.ID, err)
	}
	p.Signature = sig
	return nil
}

// signedBody is the canonical byte sequence the signature covers: every
// field except the signature itself, concatenated in a fixed order.
func (p *Particle) signedBody() []byte {
	body := make([]byte, 0, len(p.ID)+len(p.InitPeerID)+len(p.Script)+len(p.Data)+16)
	body = append(body, []byte(p.ID)...)
	body = append(body, []byte(p.InitPeerID)...)
	body = append(body, []byte(p.Script)...)
	body = append(body, p.Data...)
	return body
}

// Span is a minimal stand-in for a tracing span: the core only needs to
// thread a parent context through re-ingest, never to inspect it.
type Span struct {
	parent *Span
	name   string
}

// NoSpan is the zero span, equivalent to tracing::Span::none() in the
// Rust source.
var NoSpan = Span{}

// Child creates a child span carrying this span as its parent, mirroring
// tracing::info_span!(parent: ..., "...").
func (s Span) Child(name string) Span {
	parent := s
	return Span{parent: &parent, name: name}
}

// ExtendedParticle bundles a particle with its tracing span, exactly as
// ExtendedParticle does on the Rust side.
type ExtendedParticle struct {
	Particle Particle
	Span     Span
}

// NewExtendedParticle wraps a particle with a span.
func NewExtendedParticle(p Particle, span Span) ExtendedParticle {
	return ExtendedParticle{Particle: p, Span: span}
}

// PeerScope selects which actor map and VM pool a particle is routed
// through: the host, or a specific worker.
type PeerScope struct {
	worker   WorkerID
	isWorker bool
}

// WorkerID identifies a worker (logical sub-tenant).
type WorkerID string

// HostScope is the PeerScope for the host itself.
func HostScope() PeerScope { return PeerScope{} }

// WorkerScope is the PeerScope for a given worker.
func WorkerScope(w WorkerID) PeerScope { return PeerScope{worker: w, isWorker: true} }

// IsWorker reports whether this scope addresses a worker (vs. the host).
func (s PeerScope) IsWorker() bool { return s.isWorker }

// Worker returns the worker id; only meaningful when IsWorker() is true.
func (s PeerScope) Worker() WorkerID { return s.worker }

func (s PeerScope) String() string {
	if s.isWorker {
		return "worker:" + string(s.worker)
	}
	return "host"
}

// ActorKey identifies an actor: the raw particle signature bytes. Two
// particles with the same signature share an actor and its mailbox.
type ActorKey string

// KeyFromSignature builds an ActorKey from a signature. Signature bytes
// are copied into a string so the key is safe to use as a map key and is
// immune to the caller mutating the backing slice afterward.
func KeyFromSignature(sig []byte) ActorKey {
	return ActorKey(sig)
}

// KeyPair abstracts peer-identity signing, standing in for the external
// KeyStorage collaborator's per-scope keypair.
type KeyPair interface {
	Sign(msg []byte) ([]byte, error)
	Verify(pub, msg, sig []byte) bool
	PeerID() string
	PublicKey() []byte
}

// Ed25519KeyPair is the reference KeyPair implementation. No retrieved
// example repo carries a peer-identity signing library analogous to
// fluence-keypair, so this one corner of the module is built directly on
// crypto/ed25519 — see DESIGN.md.
type Ed25519KeyPair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateEd25519KeyPair creates a fresh random keypair.
func GenerateEd25519KeyPair() (*Ed25519KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("particle: generate keypair: %w", err)
	}
	return &Ed25519KeyPair{priv: priv, pub: pub}, nil
}

// Sign signs msg with the private key.
func (k *Ed25519KeyPair) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, msg), nil
}

// Verify checks a signature against an explicit public key, so it can
// validate particles signed by peers this process has no private key for.
func (k *Ed25519KeyPair) Verify(pub, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// PeerID returns the base58-encoded public key, used as the peer identity
// string throughout the module.
func (k *Ed25519KeyPair) PeerID() string {
	return base58.Encode(k.pub)
}

// PublicKey returns the raw public key bytes.
func (k *Ed25519KeyPair) PublicKey() []byte {
	return append([]byte(nil), k.pub...)
}

// VerifyWithPeerID verifies a signature against the public key encoded
// directly in peerID (base58-encoded ed25519 public key), the verifier
// shape Plumber.Config.Verifier expects when peer identities are
// self-certifying rather than looked up in a separate directory.
func VerifyWithPeerID(peerID string, body, sig []byte) bool {
	pub, err := base58.Decode(peerID)
	if err != nil {
		return false
	}
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), body, sig)
}

// ParticleToken derives the actor's particle_token: the base58 encoding of
// the root keypair's signature over the particle's own signature. This is
// the token service functions use to prove they're acting on behalf of a
// given particle.
func ParticleToken(root KeyPair, signature []byte) (string, error) {
	tok, err := root.Sign(signature)
	if err != nil {
		return "", fmt.Errorf("particle: sign particle token: %w", err)
	}
	return base58.Encode(tok), nil
}
