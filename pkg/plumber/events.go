package plumber

import "github.com/aquamarine/plumber/pkg/particle"

// Event is emitted from Poll/Run whenever a completed interpreter step
// produces something the caller needs to act on: a particle to route to
// a remote peer (RouteParticle), or the step's own error (StepFailed).
// ParticleExpired and SignatureVerificationFailed are declared as event
// types, but Poll does not emit them: Ingest reports those two failures
// as returned errors (ErrParticleExpired, ErrSignatureVerification).
type Event interface {
	isEvent()
}

// RouteParticle asks the caller to forward a particle to a remote peer.
// This is the only point where the plumber hands a particle to the
// transport collaborator instead of acting on it itself.
type RouteParticle struct {
	PeerID   string
	Particle particle.Particle
}

func (RouteParticle) isEvent() {}

// ParticleExpired reports a particle dropped at ingest for having
// already passed its deadline.
type ParticleExpired struct {
	ParticleID string
}

func (ParticleExpired) isEvent() {}

// SignatureVerificationFailed reports a particle dropped at ingest for
// failing signature verification.
type SignatureVerificationFailed struct {
	ParticleID string
	Err        error
}

func (SignatureVerificationFailed) isEvent() {}

// StepFailed reports a completed interpreter step that returned an
// error. A step whose VM was lost (the interpreter call panicked) is
// reported the same way, after the actor has asked the pool to recreate
// the instance.
type StepFailed struct {
	ParticleID string
	Scope      particle.PeerScope
	Err        error
}

func (StepFailed) isEvent() {}
