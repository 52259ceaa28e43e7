package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notecove/sync/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve SD_PATH...",
	Short: "Register one or more storage directories and sync until interrupted",
	Long: `Serve registers every SD_PATH (bootstrapping SD_ID/SD_VERSION as
needed), starts the watcher/reload pipeline and presence heartbeat for
each, and blocks until interrupted. This is the long-running process a
device keeps open to stay in sync.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closeEngine, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer closeEngine()

		for _, path := range args {
			sdID, err := e.RegisterSD(path)
			if err != nil {
				return fmt.Errorf("serve: register %s: %w", path, err)
			}
			fmt.Printf("registered %s as %s\n", path, sdID)
		}

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Println("syncing. press ctrl+c to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("shutting down...")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the Prometheus /metrics endpoint")
}
