// Command plumberd runs the particle plumber as a standalone process:
// it wires the scheduler to an in-memory reference runtime and
// collaborators, serves Prometheus metrics and a health endpoint, and
// drives the scheduling loop until interrupted.
//
// A real deployment supplies its own AVM runtime, transport, and
// persistent collaborators; this binary exists to exercise the module
// end-to-end the way the teacher's own cmd/ binaries wire pkg/shim and
// pkg/vm together.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/aquamarine/plumber/pkg/avm"
	"github.com/aquamarine/plumber/pkg/config"
	"github.com/aquamarine/plumber/pkg/keys"
	"github.com/aquamarine/plumber/pkg/log"
	"github.com/aquamarine/plumber/pkg/metrics"
	"github.com/aquamarine/plumber/pkg/particle"
	"github.com/aquamarine/plumber/pkg/peers"
	"github.com/aquamarine/plumber/pkg/plumber"
	"github.com/aquamarine/plumber/pkg/store"
	"github.com/aquamarine/plumber/pkg/workers"
)

func main() {
	configPath := flag.String("config", "/etc/plumber/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "plumberd:", err)
		os.Exit(1)
	}
	config.LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "plumberd:", err)
		os.Exit(1)
	}
	cfg.ApplyToLogger(log.Base)

	logger := log.WithComponent("plumberd")

	root, err := particle.GenerateEd25519KeyPair()
	if err != nil {
		logger.WithError(err).Fatal("failed to generate root keypair")
	}
	if cfg.Runtime.HostPeerID == "" {
		cfg.Runtime.HostPeerID = root.PeerID()
	}

	dataStore, workersReg, err := buildStores(cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to open storage backends")
	}

	reg := prometheus.NewRegistry()
	var sink metrics.Sink = metrics.NoopSink{}
	if cfg.Metrics.Enabled {
		sink = metrics.NewPrometheusSink(reg)
	}

	p, err := plumber.New(plumber.Config{
		HostPoolCapacity: cfg.Pool.HostCapacity,
		HostRuntime:      echoRuntimeFactory,
		Verifier:         particle.VerifyWithPeerID,
		PeerScopes:       peers.NewRegistry(cfg.Runtime.HostPeerID, cfg.Runtime.ManagementPeerIDs),
		KeyStorage:       keys.NewStorage(root),
		Workers:          workersReg,
		DataStore:        dataStore,
		Metrics:          sink,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to construct plumber")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics.Enabled {
		go serveHTTP(ctx, cfg, reg, logger)
	}

	events := make(chan plumber.Event, 64)
	go func() {
		for ev := range events {
			logger.WithField("event", fmt.Sprintf("%#v", ev)).Debug("plumber event")
		}
	}()

	logger.WithField("host_peer_id", cfg.Runtime.HostPeerID).Info("plumber starting")
	if err := p.Run(ctx, events, cfg.Runtime.TickInterval); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("plumber run loop exited with error")
	}
	close(events)
	logger.Info("plumber stopped")
}

func buildStores(cfg *config.Config) (store.ParticleDataStore, workers.Workers, error) {
	switch cfg.Store.Driver {
	case "bolt":
		ds, err := store.OpenBoltStore(cfg.Store.DataPath)
		if err != nil {
			return nil, nil, err
		}
		wr, err := workers.OpenRegistry(cfg.Store.WorkersPath)
		if err != nil {
			return nil, nil, err
		}
		return ds, wr, nil
	default:
		return store.NewMemoryStore(), memoryWorkers{}, nil
	}
}

// memoryWorkers is the default Workers collaborator when no durable
// store is configured: every worker is reported active so a freshly
// started node can be exercised without provisioning bbolt files first.
type memoryWorkers struct{}

func (memoryWorkers) IsActive(particle.WorkerID) bool                { return true }
func (memoryWorkers) DealID(particle.WorkerID) (string, bool)        { return "", false }
func (memoryWorkers) RuntimeHandle(particle.WorkerID) (string, bool) { return "", false }

func serveHTTP(ctx context.Context, cfg *config.Config, reg *prometheus.Registry, logger *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Runtime.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", cfg.Metrics.Address).Info("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Error("metrics server exited with error")
	}
}

// echoRuntimeFactory builds a trivial AVM runtime that returns its
// input data unchanged and raises no call requests, used so plumberd
// runs out of the box without a real interpreter wired in.
func echoRuntimeFactory(ctx context.Context) (avm.Runtime, error) {
	return echoRuntime{}, nil
}

type echoRuntime struct{}

func (echoRuntime) Call(_ context.Context, params avm.CallParams) (avm.Outcome, error) {
	return avm.Outcome{Success: true, NewData: params.CurrentData}, nil
}

func (echoRuntime) MemoryStats() avm.MemoryStats { return avm.MemoryStats{} }
func (echoRuntime) Close() error                 { return nil }
