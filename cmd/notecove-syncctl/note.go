package main

import (
	"fmt"

	automerge "github.com/automerge/automerge-go"
	"github.com/spf13/cobra"

	"github.com/notecove/sync/internal/crdtdoc"
	"github.com/notecove/sync/internal/engine"
	"github.com/notecove/sync/internal/types"
)

var noteCmd = &cobra.Command{
	Use:   "note",
	Short: "Read and write note state",
}

func init() {
	noteCmd.PersistentFlags().String("sd", "", "Storage directory path (required)")
	noteCmd.MarkPersistentFlagRequired("sd")

	noteCmd.AddCommand(noteCreateCmd)
	noteCmd.AddCommand(noteSetCmd)
	noteCmd.AddCommand(noteGetCmd)
	noteCmd.AddCommand(noteSnapshotCmd)
	noteCmd.AddCommand(noteReloadCmd)
}

// withNote registers --sd and associates noteID with it, the common
// preamble every note subcommand needs before calling an Engine method
// keyed by noteId alone.
func withNote(cmd *cobra.Command, noteID string) (*engine.Engine, func(), error) {
	sd, _ := cmd.Flags().GetString("sd")
	e, closeEngine, err := newEngine(cmd)
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.RegisterSD(sd); err != nil {
		closeEngine()
		return nil, nil, fmt.Errorf("note: register %s: %w", sd, err)
	}
	e.CreateNote(sd, types.NoteID(noteID))
	return e, closeEngine, nil
}

var noteCreateCmd = &cobra.Command{
	Use:   "create NOTE_ID",
	Short: "Associate a new note id with the storage directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, closeEngine, err := withNote(cmd, args[0])
		if err != nil {
			return err
		}
		defer closeEngine()
		fmt.Printf("note %s ready\n", args[0])
		return nil
	},
}

var noteSetCmd = &cobra.Command{
	Use:   "set NOTE_ID KEY VALUE",
	Short: "Set a root-level field on a note",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		noteID, key, value := args[0], args[1], args[2]
		e, closeEngine, err := withNote(cmd, noteID)
		if err != nil {
			return err
		}
		defer closeEngine()

		state, err := e.ReadState(types.NoteID(noteID))
		if err != nil {
			return fmt.Errorf("note set: read state: %w", err)
		}
		doc, err := crdtdoc.Load(state)
		if err != nil {
			return fmt.Errorf("note set: decode state: %w", err)
		}
		payload, err := doc.Mutate("set "+key, func(root *automerge.Map) error {
			return root.Set(key, value)
		})
		if err != nil {
			return fmt.Errorf("note set: mutate: %w", err)
		}

		seq, err := e.ApplyLocalUpdate(types.NoteID(noteID), payload)
		if err != nil {
			return fmt.Errorf("note set: apply: %w", err)
		}
		fmt.Printf("applied as sequence %d\n", seq)
		return nil
	},
}

var noteGetCmd = &cobra.Command{
	Use:   "get NOTE_ID KEY",
	Short: "Read a root-level field from a note",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		noteID, key := args[0], args[1]
		e, closeEngine, err := withNote(cmd, noteID)
		if err != nil {
			return err
		}
		defer closeEngine()

		state, err := e.ReadState(types.NoteID(noteID))
		if err != nil {
			return fmt.Errorf("note get: read state: %w", err)
		}
		doc, err := crdtdoc.Load(state)
		if err != nil {
			return fmt.Errorf("note get: decode state: %w", err)
		}
		value, ok, err := doc.Get(key)
		if err != nil {
			return fmt.Errorf("note get: %w", err)
		}
		if !ok {
			fmt.Println("(not set)")
			return nil
		}
		fmt.Println(value)
		return nil
	},
}

var noteSnapshotCmd = &cobra.Command{
	Use:   "snapshot NOTE_ID",
	Short: "Write a fresh snapshot and garbage collect covered log files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closeEngine, err := withNote(cmd, args[0])
		if err != nil {
			return err
		}
		defer closeEngine()
		if err := e.CreateSnapshot(types.NoteID(args[0])); err != nil {
			return fmt.Errorf("note snapshot: %w", err)
		}
		fmt.Println("snapshot written")
		return nil
	},
}

var noteReloadCmd = &cobra.Command{
	Use:   "reload NOTE_ID",
	Short: "Force a full reload of a note purely from disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, closeEngine, err := withNote(cmd, args[0])
		if err != nil {
			return err
		}
		defer closeEngine()
		if err := e.ForceReloadFromLogs(types.NoteID(args[0])); err != nil {
			return fmt.Errorf("note reload: %w", err)
		}
		fmt.Println("reloaded")
		return nil
	},
}
