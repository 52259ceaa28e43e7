package crdtdoc

import (
	"testing"

	automerge "github.com/automerge/automerge-go"
)

func TestMutateThenApplyUpdateConverges(t *testing.T) {
	a := New()
	update, err := a.Mutate("set title", func(root *automerge.Map) error {
		return root.Set("title", "grocery list")
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if len(update) == 0 {
		t.Fatal("Mutate returned empty update")
	}

	b := New()
	if err := b.ApplyUpdate(update); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	title, ok, err := b.Get("title")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || title != "grocery list" {
		t.Errorf("title = %q, %v, want %q, true", title, ok, "grocery list")
	}
}

func TestApplyUpdateIsIdempotent(t *testing.T) {
	a := New()
	update, err := a.Mutate("set title", func(root *automerge.Map) error {
		return root.Set("title", "x")
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	b := New()
	if err := b.ApplyUpdate(update); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := b.ApplyUpdate(update); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	title, _, _ := b.Get("title")
	if title != "x" {
		t.Errorf("title = %q, want %q", title, "x")
	}
}

func TestLoadEncodeStateRoundTrip(t *testing.T) {
	a := New()
	if _, err := a.Mutate("set title", func(root *automerge.Map) error {
		return root.Set("title", "y")
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	state := a.EncodeState()
	reloaded, err := Load(state)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	title, ok, err := reloaded.Get("title")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || title != "y" {
		t.Errorf("title = %q, %v, want %q, true", title, ok, "y")
	}
}

func TestConcurrentEditsMerge(t *testing.T) {
	base := New()
	if _, err := base.Mutate("seed", func(root *automerge.Map) error {
		return root.Set("title", "seed")
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	state := base.EncodeState()

	a, err := Load(state)
	if err != nil {
		t.Fatalf("Load a: %v", err)
	}
	b, err := Load(state)
	if err != nil {
		t.Fatalf("Load b: %v", err)
	}

	updateA, err := a.Mutate("a edits folder", func(root *automerge.Map) error {
		return root.Set("folder", "work")
	})
	if err != nil {
		t.Fatalf("a Mutate: %v", err)
	}
	updateB, err := b.Mutate("b edits tags", func(root *automerge.Map) error {
		return root.Set("tags", "urgent")
	})
	if err != nil {
		t.Fatalf("b Mutate: %v", err)
	}

	if err := a.ApplyUpdate(updateB); err != nil {
		t.Fatalf("a applies b: %v", err)
	}
	if err := b.ApplyUpdate(updateA); err != nil {
		t.Fatalf("b applies a: %v", err)
	}

	for _, d := range []*Document{a, b} {
		folder, _, _ := d.Get("folder")
		tags, _, _ := d.Get("tags")
		if folder != "work" || tags != "urgent" {
			t.Errorf("folder=%q tags=%q, want work/urgent", folder, tags)
		}
	}
}
