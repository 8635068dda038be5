// Command plumberctl is a debug and inspection CLI for a running
// plumber process, in the shape of the teacher's fcctl (list / pool
// status / metrics / health) but built on github.com/spf13/cobra
// instead of a hand-rolled flag loop.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/aquamarine/plumber/pkg/config"
	"github.com/aquamarine/plumber/pkg/log"
)

var (
	configPath string
	apiAddr    string
)

func main() {
	root := &cobra.Command{
		Use:   "plumberctl",
		Short: "Inspect and manage a running plumber process",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/plumber/config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&apiAddr, "addr", "http://127.0.0.1:9090", "plumber metrics/health base address")

	root.AddCommand(newConfigCmd())
	root.AddCommand(newHealthCmd())
	root.AddCommand(newMetricsCmd())
	root.AddCommand(newPoolCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(configPath)
			if err != nil {
				return err
			}
			config.LoadFromEnv(cfg)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check whether the plumber process is responding",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(apiAddr + "/healthz")
			if err != nil {
				return fmt.Errorf("plumberctl: health check failed: %w", err)
			}
			defer resp.Body.Close()
			fmt.Printf("status: %s\n", resp.Status)
			if resp.StatusCode != http.StatusOK {
				os.Exit(1)
			}
			return nil
		},
	}
}

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Fetch raw Prometheus metrics from a running plumber",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(apiAddr + "/metrics")
			if err != nil {
				return fmt.Errorf("plumberctl: fetch metrics failed: %w", err)
			}
			defer resp.Body.Close()
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}
}

func newPoolCmd() *cobra.Command {
	pool := &cobra.Command{
		Use:   "pool",
		Short: "Inspect VM pool occupancy",
	}
	pool.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Point at the vm_pool_* free/borrowed/pending gauges on /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			log.WithComponent("plumberctl").Info("pool status is derived from the vm_pool_* gauges exposed on /metrics; run 'plumberctl metrics' and grep for vm_pool_")
			return nil
		},
	})
	return pool
}
