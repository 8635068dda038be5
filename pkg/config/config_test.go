package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Pool.HostCapacity != 4 {
		t.Errorf("Default Pool.HostCapacity = %d, want 4", cfg.Pool.HostCapacity)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Default Store.Driver = %s, want memory", cfg.Store.Driver)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Default Log.Level = %s, want info", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	content := `
runtime:
  host_peer_id: "peer-host"
  management_peer_ids: ["peer-mgmt"]
pool:
  host_capacity: 8
store:
  driver: bolt
  data_path: /tmp/data.db
  workers_path: /tmp/workers.db
log:
  level: debug
`
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if cfg.Runtime.HostPeerID != "peer-host" {
		t.Errorf("HostPeerID = %s, want peer-host", cfg.Runtime.HostPeerID)
	}
	if len(cfg.Runtime.ManagementPeerIDs) != 1 || cfg.Runtime.ManagementPeerIDs[0] != "peer-mgmt" {
		t.Errorf("ManagementPeerIDs = %v, want [peer-mgmt]", cfg.Runtime.ManagementPeerIDs)
	}
	if cfg.Pool.HostCapacity != 8 {
		t.Errorf("Pool.HostCapacity = %d, want 8", cfg.Pool.HostCapacity)
	}
	if cfg.Store.Driver != "bolt" {
		t.Errorf("Store.Driver = %s, want bolt", cfg.Store.Driver)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
}

func TestLoadFromFile_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFromFile("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("LoadFromFile on missing file returned error: %v", err)
	}
	if cfg.Pool.HostCapacity != Default().Pool.HostCapacity {
		t.Errorf("expected defaults when file is missing")
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("PLUMBER_HOST_PEER_ID", "env-peer")
	os.Setenv("PLUMBER_POOL_HOST_CAPACITY", "16")
	os.Setenv("PLUMBER_SHUTDOWN_TIMEOUT", "1m")
	defer func() {
		os.Unsetenv("PLUMBER_HOST_PEER_ID")
		os.Unsetenv("PLUMBER_POOL_HOST_CAPACITY")
		os.Unsetenv("PLUMBER_SHUTDOWN_TIMEOUT")
	}()

	cfg := Default()
	LoadFromEnv(cfg)

	if cfg.Runtime.HostPeerID != "env-peer" {
		t.Errorf("HostPeerID = %s, want env-peer", cfg.Runtime.HostPeerID)
	}
	if cfg.Pool.HostCapacity != 16 {
		t.Errorf("Pool.HostCapacity = %d, want 16", cfg.Pool.HostCapacity)
	}
	if cfg.Runtime.ShutdownTimeout != time.Minute {
		t.Errorf("ShutdownTimeout = %s, want 1m", cfg.Runtime.ShutdownTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default", modify: func(c *Config) {}, wantErr: false},
		{
			name:    "zero host capacity",
			modify:  func(c *Config) { c.Pool.HostCapacity = 0 },
			wantErr: true,
		},
		{
			name:    "invalid store driver",
			modify:  func(c *Config) { c.Store.Driver = "redis" },
			wantErr: true,
		},
		{
			name: "bolt driver without paths",
			modify: func(c *Config) {
				c.Store.Driver = "bolt"
				c.Store.DataPath = ""
			},
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyToLogger(t *testing.T) {
	log := logrus.New()
	cfg := Default()

	cfg.Log.Level = "debug"
	cfg.ApplyToLogger(log)
	if log.Level != logrus.DebugLevel {
		t.Errorf("Logger level = %v, want DebugLevel", log.Level)
	}

	cfg.Log.Format = "json"
	cfg.ApplyToLogger(log)
	if _, ok := log.Formatter.(*logrus.JSONFormatter); !ok {
		t.Errorf("Logger formatter is not JSONFormatter")
	}
}
