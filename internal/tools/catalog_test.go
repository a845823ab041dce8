package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"appforge/internal/appdb"
	"appforge/internal/todo"
	"appforge/internal/workspace"
)

func newCatalog(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	ws, err := workspace.New(root)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRegistry(NewGate(nil, nil, nil), nil)
	RegisterCatalog(r, &Deps{
		Workspace: ws,
		Todos:     todo.NewStore(root, nil),
		DB:        appdb.Open(filepath.Join(root, "app.db")),
	})
	return r, root
}

func accept(g *Gate) func() {
	ids := make(chan string, 4)
	old := g.notify
	g.notify = func(req ConsentRequest) { ids <- req.RequestID }
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case id := <-ids:
				g.Resolve(id, DecisionAcceptOnce)
			case <-stop:
				return
			}
		}
	}()
	return func() {
		g.notify = old
		close(stop)
	}
}

func TestWriteReadListTools(t *testing.T) {
	r, root := newCatalog(t)
	ctx := context.Background()
	tc := &Context{ConversationID: "c1"}

	out, err := r.Invoke(ctx, "write_file", map[string]any{"path": "src/app.ts", "content": "let x = 1\n"}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "src/app.ts") {
		t.Errorf("out = %q", out)
	}
	data, err := os.ReadFile(filepath.Join(root, "src/app.ts"))
	if err != nil || string(data) != "let x = 1\n" {
		t.Fatalf("on disk: %q, %v", data, err)
	}

	got, err := r.Invoke(ctx, "read_file", map[string]any{"path": "src/app.ts"}, tc)
	if err != nil || got != "let x = 1\n" {
		t.Errorf("read = %q, %v", got, err)
	}

	listing, err := r.Invoke(ctx, "list_files", map[string]any{}, tc)
	if err != nil || !strings.Contains(listing, "src/app.ts") {
		t.Errorf("listing = %q, %v", listing, err)
	}
}

func TestEditFileTool(t *testing.T) {
	r, root := newCatalog(t)
	ctx := context.Background()
	tc := &Context{ConversationID: "c1"}

	if _, err := r.Invoke(ctx, "write_file", map[string]any{"path": "a.go", "content": "package a\n\nvar v = 1\n"}, tc); err != nil {
		t.Fatal(err)
	}

	payload := "<<<<<<< SEARCH\n=======\nvar v = 1\n=======\nvar v = 2\n>>>>>>> REPLACE\n"
	if _, err := r.Invoke(ctx, "edit_file", map[string]any{"path": "a.go", "payload": payload}, tc); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(filepath.Join(root, "a.go"))
	if string(data) != "package a\n\nvar v = 2\n" {
		t.Errorf("on disk: %q", data)
	}

	// A failed edit must leave the file untouched.
	bad := "<<<<<<< SEARCH\n=======\nnot present\n=======\nx\n>>>>>>> REPLACE\n"
	if _, err := r.Invoke(ctx, "edit_file", map[string]any{"path": "a.go", "payload": bad}, tc); err == nil {
		t.Fatal("want conflict error")
	}
	data, _ = os.ReadFile(filepath.Join(root, "a.go"))
	if string(data) != "package a\n\nvar v = 2\n" {
		t.Errorf("file changed after failed edit: %q", data)
	}
}

func TestRenameAndDeleteTools(t *testing.T) {
	r, root := newCatalog(t)
	ctx := context.Background()
	tc := &Context{ConversationID: "c1"}
	stop := accept(r.Gate())
	defer stop()

	if _, err := r.Invoke(ctx, "write_file", map[string]any{"path": "old.txt", "content": "x"}, tc); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Invoke(ctx, "rename_file", map[string]any{"from": "old.txt", "to": "new.txt"}, tc); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "new.txt")); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}

	if _, err := r.Invoke(ctx, "delete_file", map[string]any{"path": "new.txt"}, tc); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "new.txt")); !os.IsNotExist(err) {
		t.Errorf("file still present: %v", err)
	}
}

func TestUpdateTodosTool(t *testing.T) {
	r, _ := newCatalog(t)
	ctx := context.Background()
	tc := &Context{ConversationID: "conv-7"}

	full := map[string]any{
		"todos": []any{
			map[string]any{"id": "1", "content": "scaffold app", "status": "completed"},
			map[string]any{"id": "2", "content": "wire routing", "status": "in_progress"},
		},
	}
	if _, err := r.Invoke(ctx, "update_todos", full, tc); err != nil {
		t.Fatal(err)
	}

	merge := map[string]any{
		"merge": true,
		"todos": []any{
			map[string]any{"id": "2", "status": "completed"},
		},
	}
	if _, err := r.Invoke(ctx, "update_todos", merge, tc); err != nil {
		t.Fatal(err)
	}

	dup := map[string]any{
		"todos": []any{
			map[string]any{"id": "1", "content": "a", "status": "pending"},
			map[string]any{"id": "1", "content": "b", "status": "pending"},
		},
	}
	if _, err := r.Invoke(ctx, "update_todos", dup, tc); err == nil {
		t.Error("duplicate ids must fail")
	}
}

func TestExecuteSQLTool(t *testing.T) {
	r, _ := newCatalog(t)
	ctx := context.Background()
	tc := &Context{ConversationID: "c1"}
	stop := accept(r.Gate())
	defer stop()

	if _, err := r.Invoke(ctx, "execute_sql", map[string]any{"statement": "create table t (id integer primary key, name text)"}, tc); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Invoke(ctx, "execute_sql", map[string]any{"statement": "insert into t (name) values ('ada')"}, tc); err != nil {
		t.Fatal(err)
	}
	out, err := r.Invoke(ctx, "execute_sql", map[string]any{"statement": "select name from t"}, tc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"ada"`) {
		t.Errorf("query result = %q", out)
	}
}

func TestAddDependencyRejectsShellMetachars(t *testing.T) {
	r, _ := newCatalog(t)
	tc := &Context{ConversationID: "c1"}
	stop := accept(r.Gate())
	defer stop()

	_, err := r.Invoke(context.Background(), "add_dependency", map[string]any{
		"packages": []any{"left-pad; rm -rf /"},
	}, tc)
	if err == nil {
		t.Fatal("metacharacters must be rejected")
	}
}

func TestRestartAppDisabledWithoutCommand(t *testing.T) {
	r, _ := newCatalog(t)
	schemas := r.Schemas(&Context{})
	for _, s := range schemas {
		if s.Name == "restart_app" {
			t.Error("restart_app should be hidden when no app command is configured")
		}
	}
}
