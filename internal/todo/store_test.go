package todo

import (
	"os"
	"path/filepath"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func filePath(root, conv string) string {
	return filepath.Join(root, ".appforge", "todos", conv+".json")
}

func TestSaveAndLoad(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)

	todos := []Todo{
		{ID: "1", Content: "scaffold the app", Status: StatusCompleted},
		{ID: "2", Content: "add auth", Status: StatusInProgress},
	}
	s.Save("c1", todos)

	got := s.Load("c1")
	if len(got) != 2 || got[1].Content != "add auth" || got[1].Status != StatusInProgress {
		t.Errorf("loaded = %+v", got)
	}

	// Conversations are isolated.
	if other := s.Load("c2"); other != nil {
		t.Errorf("c2 = %+v", other)
	}
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)

	if got := s.Load("nope"); got != nil {
		t.Errorf("missing file = %+v", got)
	}

	path := filePath(root, "bad")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("{not json"), 0o644)
	if got := s.Load("bad"); got != nil {
		t.Errorf("corrupt file = %+v", got)
	}
}

func TestMerge(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)
	s.Save("c1", []Todo{
		{ID: "1", Content: "first", Status: StatusPending},
		{ID: "2", Content: "second", Status: StatusPending},
	})

	t.Run("status only preserves content", func(t *testing.T) {
		got, err := s.Merge("c1", []Patch{{ID: "1", Status: ptr(StatusInProgress)}})
		if err != nil {
			t.Fatal(err)
		}
		if got[0].Content != "first" || got[0].Status != StatusInProgress {
			t.Errorf("todo = %+v", got[0])
		}
		if got[1].Status != StatusPending {
			t.Errorf("untouched todo changed: %+v", got[1])
		}
	})

	t.Run("new id inserts", func(t *testing.T) {
		got, err := s.Merge("c1", []Patch{{ID: "3", Content: ptr("third"), Status: ptr(StatusPending)}})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 3 || got[2].Content != "third" {
			t.Errorf("merged = %+v", got)
		}
	})

	t.Run("new id without content fails", func(t *testing.T) {
		if _, err := s.Merge("c1", []Patch{{ID: "9", Status: ptr(StatusPending)}}); err == nil {
			t.Error("want error")
		}
	})

	t.Run("missing id fails", func(t *testing.T) {
		if _, err := s.Merge("c1", []Patch{{Status: ptr(StatusPending)}}); err == nil {
			t.Error("want error")
		}
	})
}

func TestCompletionRemovesFile(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)

	s.Save("c1", []Todo{{ID: "1", Content: "x", Status: StatusInProgress}})
	if _, err := os.Stat(filePath(root, "c1")); err != nil {
		t.Fatalf("file missing after save: %v", err)
	}

	s.Merge("c1", []Patch{{ID: "1", Status: ptr(StatusCompleted)}})
	if _, err := os.Stat(filePath(root, "c1")); !os.IsNotExist(err) {
		t.Errorf("file should be gone once all todos complete: %v", err)
	}

	// Saving an empty list removes too.
	s.Save("c2", []Todo{{ID: "1", Content: "x", Status: StatusPending}})
	s.Save("c2", nil)
	if _, err := os.Stat(filePath(root, "c2")); !os.IsNotExist(err) {
		t.Errorf("empty save should remove the file: %v", err)
	}
}

func TestUnsafeConversationIDStaysInDir(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "project")
	s := NewStore(root, nil)

	// A traversal id must never produce a file outside .appforge/todos.
	outside := filepath.Join(base, "escaped.json")
	s.Save("../../escaped", []Todo{{ID: "1", Content: "x", Status: StatusPending}})
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Errorf("traversal id wrote outside the todo dir: %v", err)
	}
	if got := s.Load("../../escaped"); got != nil {
		t.Errorf("traversal id loaded = %+v", got)
	}

	for _, id := range []string{"", `a\b`, "a/b", ".."} {
		s.Save(id, []Todo{{ID: "1", Content: "x", Status: StatusPending}})
		if got := s.Load(id); got != nil {
			t.Errorf("id %q loaded = %+v", id, got)
		}
		s.Clear(id) // must not touch anything outside the dir
	}

	// Subagent ids keep working.
	s.Save("sub:abc-123", []Todo{{ID: "1", Content: "x", Status: StatusPending}})
	if got := s.Load("sub:abc-123"); len(got) != 1 {
		t.Errorf("subagent id = %+v", got)
	}
}

func TestAnyIncomplete(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)

	if s.AnyIncomplete("c1") {
		t.Error("empty list should not be incomplete")
	}

	s.Save("c1", []Todo{
		{ID: "1", Content: "a", Status: StatusCompleted},
		{ID: "2", Content: "b", Status: StatusPending},
	})
	if !s.AnyIncomplete("c1") {
		t.Error("pending item should report incomplete")
	}

	s.Merge("c1", []Patch{{ID: "2", Status: ptr(StatusCompleted)}})
	if s.AnyIncomplete("c1") {
		t.Error("fully completed list should not be incomplete")
	}
}

func TestClear(t *testing.T) {
	root := t.TempDir()
	s := NewStore(root, nil)
	s.Save("c1", []Todo{{ID: "1", Content: "x", Status: StatusPending}})
	s.Clear("c1")
	if got := s.Load("c1"); got != nil {
		t.Errorf("after clear = %+v", got)
	}
	s.Clear("never-existed") // must not panic or log fatally
}
