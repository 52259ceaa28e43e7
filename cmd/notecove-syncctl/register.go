package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register SD_PATH",
	Short: "Register a storage directory and print its SD_ID",
	Long: `Register bootstraps SD_ID/SD_VERSION under SD_PATH if they don't
already exist, writes an initial presence heartbeat, and prints the
storage directory's id.

This is a one-shot operation: it does not keep the process running to
sync. Use "notecove-syncctl serve" for that.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closeEngine, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer closeEngine()

		sdID, err := e.RegisterSD(args[0])
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		fmt.Println(sdID)
		return nil
	},
}
