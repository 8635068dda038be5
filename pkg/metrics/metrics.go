// Package metrics defines the observability surface the plumber reports
// through (spec.md §6 Sink) and a Prometheus-backed reference
// implementation.
//
// The teacher's own metrics collector was a hand-rolled slice-based
// aggregator with no library behind it; grounded instead on
// cuemby-warren and oriys-nova's direct dependency on
// github.com/prometheus/client_golang, which is exactly the kind of gap
// the wider example pack is meant to fill.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the metrics collaborator the plumber and its subsystems report
// through.
type Sink interface {
	// ParticleIngested counts one ingested particle for the given scope.
	ParticleIngested(scope string)

	// ParticleExpired counts one particle dropped as expired.
	ParticleExpired(scope string)

	// SignatureRejected counts one particle dropped for failing signature
	// verification.
	SignatureRejected(scope string)

	// ActorCreated counts one new actor.
	ActorCreated(scope string)

	// ActorRemoved counts one evicted actor.
	ActorRemoved(scope string)

	// MailboxSize reports the total queued mailbox size for a scope,
	// sampled once per tick.
	MailboxSize(scope string, size int)

	// InterpreterStep records one completed interpreter step's latency and
	// outcome.
	InterpreterStep(scope string, success bool, d time.Duration)

	// ServiceCall records one resolved service-function call.
	ServiceCall(success bool, kind string, d time.Duration)

	// PoolStats reports a VM pool occupancy snapshot.
	PoolStats(scope string, free, borrowed, pending int)
}

// PrometheusSink is the reference Sink implementation.
type PrometheusSink struct {
	particlesIngested  *prometheus.CounterVec
	particlesExpired   *prometheus.CounterVec
	signaturesRejected *prometheus.CounterVec
	actorsCreated      *prometheus.CounterVec
	actorsRemoved      *prometheus.CounterVec
	mailboxSize        *prometheus.GaugeVec
	stepDuration       *prometheus.HistogramVec
	serviceCalls       *prometheus.CounterVec
	serviceCallDur     *prometheus.HistogramVec
	poolFree           *prometheus.GaugeVec
	poolBorrowed       *prometheus.GaugeVec
	poolPending        *prometheus.GaugeVec
}

// NewPrometheusSink creates a sink and registers its collectors with
// reg. Pass prometheus.NewRegistry() in tests to avoid colliding with
// the global default registerer across test runs.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		particlesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plumber", Name: "particles_ingested_total",
			Help: "Particles accepted by Plumber.Ingest.",
		}, []string{"scope"}),
		particlesExpired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plumber", Name: "particles_expired_total",
			Help: "Particles dropped as already expired on ingest.",
		}, []string{"scope"}),
		signaturesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plumber", Name: "signatures_rejected_total",
			Help: "Particles dropped for failing signature verification on ingest.",
		}, []string{"scope"}),
		actorsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plumber", Name: "actors_created_total",
			Help: "Actors created to back a new particle signature.",
		}, []string{"scope"}),
		actorsRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plumber", Name: "actors_removed_total",
			Help: "Actors evicted by the idle cleanup pass.",
		}, []string{"scope"}),
		mailboxSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plumber", Name: "mailbox_size",
			Help: "Total queued particles across all actors in a scope.",
		}, []string{"scope"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plumber", Name: "interpreter_step_duration_seconds",
			Help:    "Interpreter step latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"scope", "outcome"}),
		serviceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plumber", Name: "service_calls_total",
			Help: "Resolved service-function calls.",
		}, []string{"kind", "outcome"}),
		serviceCallDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "plumber", Name: "service_call_duration_seconds",
			Help:    "Service-function call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		poolFree: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plumber", Name: "vm_pool_free",
			Help: "Idle interpreter instances.",
		}, []string{"scope"}),
		poolBorrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plumber", Name: "vm_pool_borrowed",
			Help: "Interpreter instances currently executing a step.",
		}, []string{"scope"}),
		poolPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plumber", Name: "vm_pool_pending_creation",
			Help: "Interpreter instances being (re)built.",
		}, []string{"scope"}),
	}

	reg.MustRegister(
		s.particlesIngested, s.particlesExpired, s.signaturesRejected,
		s.actorsCreated, s.actorsRemoved,
		s.mailboxSize, s.stepDuration,
		s.serviceCalls, s.serviceCallDur,
		s.poolFree, s.poolBorrowed, s.poolPending,
	)
	return s
}

func (s *PrometheusSink) ParticleIngested(scope string) {
	s.particlesIngested.WithLabelValues(scope).Inc()
}

func (s *PrometheusSink) ParticleExpired(scope string) {
	s.particlesExpired.WithLabelValues(scope).Inc()
}

func (s *PrometheusSink) SignatureRejected(scope string) {
	s.signaturesRejected.WithLabelValues(scope).Inc()
}

func (s *PrometheusSink) ActorCreated(scope string) {
	s.actorsCreated.WithLabelValues(scope).Inc()
}

func (s *PrometheusSink) ActorRemoved(scope string) {
	s.actorsRemoved.WithLabelValues(scope).Inc()
}

func (s *PrometheusSink) MailboxSize(scope string, size int) {
	s.mailboxSize.WithLabelValues(scope).Set(float64(size))
}

func (s *PrometheusSink) InterpreterStep(scope string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	s.stepDuration.WithLabelValues(scope, outcome).Observe(d.Seconds())
}

func (s *PrometheusSink) ServiceCall(success bool, kind string, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	s.serviceCalls.WithLabelValues(kind, outcome).Inc()
	s.serviceCallDur.WithLabelValues(kind).Observe(d.Seconds())
}

func (s *PrometheusSink) PoolStats(scope string, free, borrowed, pending int) {
	s.poolFree.WithLabelValues(scope).Set(float64(free))
	s.poolBorrowed.WithLabelValues(scope).Set(float64(borrowed))
	s.poolPending.WithLabelValues(scope).Set(float64(pending))
}

// NoopSink discards everything, used as the default sink when a caller
// doesn't care about metrics.
type NoopSink struct{}

func (NoopSink) ParticleIngested(string)                    {}
func (NoopSink) ParticleExpired(string)                     {}
func (NoopSink) SignatureRejected(string)                   {}
func (NoopSink) ActorCreated(string)                        {}
func (NoopSink) ActorRemoved(string)                        {}
func (NoopSink) MailboxSize(string, int)                    {}
func (NoopSink) InterpreterStep(string, bool, time.Duration) {}
func (NoopSink) ServiceCall(bool, string, time.Duration)    {}
func (NoopSink) PoolStats(string, int, int, int)            {}
