package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/notecove/sync/internal/reload"
)

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "Inspect and manage reload tasks that exhausted their retry budget",
}

func init() {
	staleCmd.PersistentFlags().String("sd", "", "Storage directory path (required)")
	staleCmd.MarkPersistentFlagRequired("sd")

	staleCmd.AddCommand(staleListCmd)
	staleCmd.AddCommand(staleSkipCmd)
	staleCmd.AddCommand(staleRetryCmd)
}

// registeredEngine constructs an Engine and registers --sd. Used by every
// stale subcommand, which (unlike note subcommands) doesn't need a
// specific note id up front.
func registeredEngine(cmd *cobra.Command) (*engineHandle, error) {
	sd, _ := cmd.Flags().GetString("sd")
	e, closeEngine, err := newEngine(cmd)
	if err != nil {
		return nil, err
	}
	if _, err := e.RegisterSD(sd); err != nil {
		closeEngine()
		return nil, fmt.Errorf("stale: register %s: %w", sd, err)
	}
	return &engineHandle{e: e, sd: sd, close: closeEngine}, nil
}

type engineHandle struct {
	e     interface {
		GetStaleSyncs() []reload.StaleSync
		SkipStale(reload.StaleSync) bool
		RetryStale(reload.StaleSync) bool
	}
	sd    string
	close func()
}

var staleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reload tasks currently parked as stale",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := registeredEngine(cmd)
		if err != nil {
			return err
		}
		defer h.close()

		entries := h.e.GetStaleSyncs()
		if len(entries) == 0 {
			fmt.Println("no stale syncs")
			return nil
		}
		fmt.Printf("%-20s %-20s %-10s %s\n", "NOTE", "ORIGIN", "TARGET", "SINCE")
		for _, s := range entries {
			fmt.Printf("%-20s %-20s %-10d %s\n", s.Note, s.Origin, s.TargetSeq, s.Since.Format("2006-01-02T15:04:05"))
		}
		return nil
	},
}

var staleSkipCmd = &cobra.Command{
	Use:   "skip NOTE_ID ORIGIN_ID",
	Short: "Dismiss a stale-sync entry without retrying it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := registeredEngine(cmd)
		if err != nil {
			return err
		}
		defer h.close()

		entry, ok := findStale(h, args[0], args[1])
		if !ok {
			return fmt.Errorf("stale skip: no stale entry for note=%s origin=%s", args[0], args[1])
		}
		h.e.SkipStale(entry)
		fmt.Println("skipped")
		return nil
	},
}

var staleRetryCmd = &cobra.Command{
	Use:   "retry NOTE_ID ORIGIN_ID",
	Short: "Re-enqueue a stale-sync entry's reload task immediately",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := registeredEngine(cmd)
		if err != nil {
			return err
		}
		defer h.close()

		entry, ok := findStale(h, args[0], args[1])
		if !ok {
			return fmt.Errorf("stale retry: no stale entry for note=%s origin=%s", args[0], args[1])
		}
		h.e.RetryStale(entry)
		fmt.Println("retrying")
		return nil
	},
}

func findStale(h *engineHandle, noteID, origin string) (reload.StaleSync, bool) {
	for _, s := range h.e.GetStaleSyncs() {
		if string(s.Note) == noteID && strings.EqualFold(string(s.Origin), origin) {
			return s, true
		}
	}
	return reload.StaleSync{}, false
}
