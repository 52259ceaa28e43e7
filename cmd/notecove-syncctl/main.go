package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/notecove/sync/internal/config"
	"github.com/notecove/sync/internal/engine"
	"github.com/notecove/sync/internal/fsabs"
	"github.com/notecove/sync/internal/metaindex"
	"github.com/notecove/sync/internal/ncslog"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "notecove-syncctl",
	Short: "NoteCove sync engine control plane",
	Long: `notecove-syncctl drives the NoteCove local-first notes sync engine:
register storage directories, read and write note state, force a reload
from disk, and manage reload tasks that have fallen behind.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"notecove-syncctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("profile", "", "Profile id to present to a storage directory (defaults to the saved identity, or \"default\")")
	rootCmd.PersistentFlags().String("profile-name", "", "Human-readable profile name")
	rootCmd.PersistentFlags().String("username", "", "Profile username")
	rootCmd.PersistentFlags().String("handle", "", "Profile handle")
	rootCmd.PersistentFlags().String("index-dir", "", "Directory for the local metadata index (defaults to ~/.notecove)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(staleCmd)
	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	ncslog.Init(ncslog.Config{
		Level:      ncslog.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// identityFromFlags builds this device's engine.Identity from the
// persistent --profile/--profile-name/--username/--handle flags, creating
// the on-disk identity file on first use.
func identityFromFlags(cmd *cobra.Command) (engine.Identity, error) {
	profile, _ := cmd.Flags().GetString("profile")
	profileName, _ := cmd.Flags().GetString("profile-name")
	username, _ := cmd.Flags().GetString("username")
	handle, _ := cmd.Flags().GetString("handle")
	return loadOrCreateIdentity(profile, profileName, username, handle)
}

func indexDirFromFlags(cmd *cobra.Command) (string, error) {
	dir, _ := cmd.Flags().GetString("index-dir")
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("index-dir: %w", err)
	}
	return filepath.Join(home, ".notecove"), nil
}

// newEngine builds an Engine against the real filesystem and clock, with
// a BoltDB-backed metadata index rooted at --index-dir. The returned
// close func stops the engine and the metadata index; callers must defer
// it.
func newEngine(cmd *cobra.Command) (*engine.Engine, func(), error) {
	id, err := identityFromFlags(cmd)
	if err != nil {
		return nil, nil, err
	}

	indexDir, err := indexDirFromFlags(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("index-dir: mkdir %s: %w", indexDir, err)
	}
	store, err := metaindex.NewBoltStore(indexDir)
	if err != nil {
		return nil, nil, err
	}

	e, err := engine.New(fsabs.NewOSFileSystem(), fsabs.RealClock{}, config.Default(), id, store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return e, func() {
		e.Stop()
		store.Close()
	}, nil
}
