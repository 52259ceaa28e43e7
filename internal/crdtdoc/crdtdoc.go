// Package crdtdoc adapts github.com/automerge/automerge-go into the shape
// spec.md §2 C2 calls for: something that can apply an opaque update byte
// string, encode its full state, and produce an update byte string for
// local edits — with no opinion on how those bytes reach disk or get
// sequenced (that's internal/notestore and internal/doccache).
package crdtdoc

import (
	"fmt"
	"sync"

	automerge "github.com/automerge/automerge-go"
)

// Document wraps an automerge document behind a mutex. Automerge documents
// are not safe for concurrent use, and every caller in this engine already
// holds a per-note lock (internal/doccache.DocumentSnapshot) before
// touching one, but the mutex here makes Document safe to use standalone
// too — in the CLI and in tests that don't go through doccache.
type Document struct {
	mu  sync.Mutex
	doc *automerge.Doc
}

// New returns an empty document.
func New() *Document {
	return &Document{doc: automerge.New()}
}

// Load reconstructs a document from a full state encoding previously
// produced by EncodeState — the body of a .snapshot file.
func Load(state []byte) (*Document, error) {
	doc, err := automerge.Load(state)
	if err != nil {
		return nil, fmt.Errorf("crdtdoc: load: %w", err)
	}
	return &Document{doc: doc}, nil
}

// ApplyUpdate merges an update produced by another replica's local edit
// (or loaded from a log record's payload) into this document. Applying the
// same update twice is a no-op, and updates may arrive in any order —
// automerge's merge is commutative, associative, and idempotent, which is
// what lets internal/loader and internal/doccache apply log records strictly in per-instance sequence
// order without caring about cross-instance interleaving.
func (d *Document) ApplyUpdate(update []byte) error {
	if len(update) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.doc.LoadIncremental(update); err != nil {
		return fmt.Errorf("crdtdoc: apply update: %w", err)
	}
	return nil
}

// EncodeState returns the full document state, suitable as a .snapshot
// body or as the seed for Load.
func (d *Document) EncodeState() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Save()
}

// Mutate runs fn against the underlying automerge map, commits the result
// as one change, and returns the incremental update bytes for that change
// alone — the payload a caller writes to its own log via notestore and
// hands to DocumentSnapshot.apply_local. fn sees the document's root map;
// returning an error aborts without committing.
func (d *Document) Mutate(message string, fn func(root *automerge.Map) error) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	root := d.doc.RootMap()
	if err := fn(root); err != nil {
		return nil, err
	}
	if _, err := d.doc.Commit(message); err != nil {
		return nil, fmt.Errorf("crdtdoc: commit: %w", err)
	}
	return d.doc.SaveIncremental(), nil
}

// Get reads a string-valued key from the document root, the read-side
// counterpart to the common case of Mutate setting one.
func (d *Document) Get(key string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.doc.RootMap().Get(key)
	if err != nil {
		return "", false, fmt.Errorf("crdtdoc: get %q: %w", key, err)
	}
	if v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

// Keys lists the root map's keys, so a caller can project title/folder/tag
// fields out of a loaded document without needing to know automerge's
// types.
func (d *Document) Keys() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.RootMap().Keys()
}
