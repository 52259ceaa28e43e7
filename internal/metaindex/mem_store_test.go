package metaindex

import "testing"

func TestMemStoreUpsertAndGet(t *testing.T) {
	s := NewMemStore()
	meta := NoteMeta{SDPath: "/sd", Note: "n1", Title: "Hello", Folder: "Inbox"}
	if err := s.UpsertNote(meta); err != nil {
		t.Fatalf("UpsertNote: %v", err)
	}

	got, ok, err := s.GetNote("/sd", "n1")
	if err != nil || !ok {
		t.Fatalf("GetNote: %v, ok=%v", err, ok)
	}
	if got.Title != "Hello" {
		t.Errorf("Title = %q, want Hello", got.Title)
	}
}

func TestMemStoreNotesInSDIsolatesByDirectory(t *testing.T) {
	s := NewMemStore()
	_ = s.UpsertNote(NoteMeta{SDPath: "/sd1", Note: "a", Title: "A"})
	_ = s.UpsertNote(NoteMeta{SDPath: "/sd2", Note: "b", Title: "B"})

	notes, err := s.NotesInSD("/sd1")
	if err != nil {
		t.Fatalf("NotesInSD: %v", err)
	}
	if len(notes) != 1 || notes[0].Note != "a" {
		t.Errorf("notes = %+v, want just note a", notes)
	}
}

func TestMemStoreDeleteNote(t *testing.T) {
	s := NewMemStore()
	_ = s.UpsertNote(NoteMeta{SDPath: "/sd", Note: "n1", Title: "Hello"})
	if err := s.DeleteNote("/sd", "n1"); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	_, ok, err := s.GetNote("/sd", "n1")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if ok {
		t.Error("note should be gone after DeleteNote")
	}
}
