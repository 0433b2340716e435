package pending

import "testing"

func TestMapPutGetDelete(t *testing.T) {
	m := NewMap()
	m.Put("a", &Entry{ID: "a", Method: "SEND_IO_CALL", AttemptNumber: 1})

	e, ok := m.Get("a")
	if !ok {
		t.Fatal("expected entry to be present")
	}
	if e.Method != "SEND_IO_CALL" {
		t.Fatalf("got method %q", e.Method)
	}

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatal("expected entry to be gone after delete")
	}
}

func TestMapLenAndSnapshot(t *testing.T) {
	m := NewMap()
	if m.Len() != 0 {
		t.Fatalf("expected empty map, got len %d", m.Len())
	}
	m.Put("a", &Entry{ID: "a"})
	m.Put("b", &Entry{ID: "b"})
	if m.Len() != 2 {
		t.Fatalf("got len %d, want 2", m.Len())
	}
	snap := m.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("got snapshot len %d, want 2", len(snap))
	}
	m.Delete("a")
	if len(snap) != 2 {
		t.Fatalf("snapshot should not observe later mutation, got len %d", len(snap))
	}
}

func TestMapDeletePrefix(t *testing.T) {
	m := NewMap()
	m.Put("t1-io-1", &Entry{ID: "t1-io-1"})
	m.Put("t1-io-2", &Entry{ID: "t1-io-2"})
	m.Put("t2-io-1", &Entry{ID: "t2-io-1"})

	m.DeletePrefix("t1-io-")
	if m.Len() != 1 {
		t.Fatalf("got len %d, want 1", m.Len())
	}
	if _, ok := m.Get("t2-io-1"); !ok {
		t.Fatal("expected unrelated prefix to survive")
	}
}

func TestStoreMapsAreIndependent(t *testing.T) {
	s := NewStore()
	s.IO.Put("x", &Entry{ID: "x"})
	if s.Layouts.Len() != 0 || s.Loading.Len() != 0 {
		t.Fatal("expected the other two maps to remain empty")
	}
	if s.IO.Len() != 1 {
		t.Fatal("expected IO map to hold the inserted entry")
	}
}
