package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"appforge/internal/appdb"
	"appforge/internal/patch"
	"appforge/internal/runner"
	"appforge/internal/todo"
	"appforge/internal/workspace"
)

// Deps carries the collaborators the built-in catalog executes against.
type Deps struct {
	Workspace *workspace.Workspace
	Todos     *todo.Store
	DB        *appdb.DB
	Runner    *runner.Runner
	// AppCommand is the generated project's dev command for restart_app.
	AppCommand string
	// AppOutput receives dev process output lines; may be nil.
	AppOutput func(string)
	// Delegate runs a sub-agent task and returns its final text. Wired by
	// the engine after construction to avoid a dependency cycle.
	Delegate func(ctx context.Context, task, instructions string) (string, error)
}

// RegisterCatalog installs the engine's fixed tool catalog.
func RegisterCatalog(r *Registry, deps *Deps) {
	registerFileTools(r, deps)
	registerTodoTool(r, deps)
	registerSQLTool(r, deps)
	registerSubagentTool(r, deps)
	registerAppTools(r, deps)
}

func registerFileTools(r *Registry, deps *Deps) {
	ws := deps.Workspace
	pathKey := func(args map[string]any) []string {
		p, _ := args["path"].(string)
		return []string{p}
	}

	r.MustRegister(&Definition{
		Name:           "write_file",
		Description:    "Write the full contents of a file, creating it and any parent directories if needed.",
		DefaultConsent: PolicyAlways,
		ExclusiveKeys:  pathKey,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "File path relative to the project root"},
				"content": map[string]any{"type": "string", "description": "Complete file contents"},
			},
			"required": []string{"path", "content"},
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			if err := ws.Write(path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %s (%d bytes)", path, len(content)), nil
		},
	})

	r.MustRegister(&Definition{
		Name: "edit_file",
		Description: "Apply search/replace edits to a file. The payload is a sequence of " +
			"SEARCH/REPLACE blocks whose search text must match the file exactly.",
		DefaultConsent: PolicyAlways,
		ExclusiveKeys:  pathKey,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "File path relative to the project root"},
				"payload": map[string]any{"type": "string", "description": "Search/replace blocks"},
			},
			"required": []string{"path", "payload"},
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			path, _ := args["path"].(string)
			payload, _ := args["payload"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			edits, err := patch.ParseBlocks(payload)
			if err != nil {
				return "", err
			}
			content, err := ws.Read(path)
			if err != nil {
				return "", err
			}
			updated, err := patch.Apply(content, edits)
			if err != nil {
				return "", err
			}
			if err := ws.Write(path, updated); err != nil {
				return "", err
			}
			return fmt.Sprintf("Applied %d edit(s) to %s", len(edits), path), nil
		},
	})

	r.MustRegister(&Definition{
		Name:           "rename_file",
		Description:    "Rename or move a file within the project.",
		DefaultConsent: PolicyAlways,
		// Both ends of the rename are held so a concurrent write to the
		// destination cannot interleave with the move.
		ExclusiveKeys: func(args map[string]any) []string {
			from, _ := args["from"].(string)
			to, _ := args["to"].(string)
			return []string{from, to}
		},
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"from": map[string]any{"type": "string", "description": "Current path"},
				"to":   map[string]any{"type": "string", "description": "New path"},
			},
			"required": []string{"from", "to"},
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			from, _ := args["from"].(string)
			to, _ := args["to"].(string)
			if from == "" || to == "" {
				return "", fmt.Errorf("from and to are required")
			}
			if err := ws.Rename(from, to); err != nil {
				return "", err
			}
			return fmt.Sprintf("Renamed %s to %s", from, to), nil
		},
	})

	r.MustRegister(&Definition{
		Name:           "delete_file",
		Description:    "Delete a file from the project.",
		DefaultConsent: PolicyAsk,
		ExclusiveKeys:  pathKey,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "File path relative to the project root"},
			},
			"required": []string{"path"},
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			if err := ws.Delete(path); err != nil {
				return "", err
			}
			return "Deleted " + path, nil
		},
	})

	r.MustRegister(&Definition{
		Name:           "read_file",
		Description:    "Read the contents of a project file.",
		DefaultConsent: PolicyAlways,
		ReadOnly:       true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "File path relative to the project root"},
			},
			"required": []string{"path"},
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			return ws.Read(path)
		},
	})

	r.MustRegister(&Definition{
		Name:           "list_files",
		Description:    "List project files under a directory.",
		DefaultConsent: PolicyAlways,
		ReadOnly:       true,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Directory to list; project root when omitted"},
			},
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			path, _ := args["path"].(string)
			files, err := ws.List(path)
			if err != nil {
				return "", err
			}
			if len(files) == 0 {
				return "<empty>", nil
			}
			return strings.Join(files, "\n"), nil
		},
	})
}

func registerTodoTool(r *Registry, deps *Deps) {
	r.MustRegister(&Definition{
		Name: "update_todos",
		Description: "Update the task tracking list. With merge=false the given todos replace the " +
			"full list; with merge=true they upsert by id, leaving omitted fields and untouched items alone.",
		DefaultConsent: PolicyAlways,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"merge": map[string]any{"type": "boolean", "description": "Upsert by id instead of replacing the list"},
				"todos": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"id":      map[string]any{"type": "string"},
							"content": map[string]any{"type": "string"},
							"status":  map[string]any{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
						},
						"required": []string{"id"},
					},
				},
			},
			"required": []string{"todos"},
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			raw, ok := args["todos"]
			if !ok {
				return "", fmt.Errorf("todos is required")
			}
			merge, _ := args["merge"].(bool)

			// JSON round-trip for type safety, as the args arrive untyped.
			data, err := json.Marshal(raw)
			if err != nil {
				return "", fmt.Errorf("encode todos: %w", err)
			}

			if merge {
				var patches []todo.Patch
				if err := json.Unmarshal(data, &patches); err != nil {
					return "", fmt.Errorf("parse todos: %w", err)
				}
				merged, err := deps.Todos.Merge(tc.ConversationID, patches)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("Todo list now has %d item(s)", len(merged)), nil
			}

			var todos []todo.Todo
			if err := json.Unmarshal(data, &todos); err != nil {
				return "", fmt.Errorf("parse todos: %w", err)
			}
			seen := make(map[string]bool, len(todos))
			for _, t := range todos {
				if t.ID == "" {
					return "", fmt.Errorf("todo missing id")
				}
				if seen[t.ID] {
					return "", fmt.Errorf("duplicate todo id %q", t.ID)
				}
				seen[t.ID] = true
			}
			deps.Todos.Save(tc.ConversationID, todos)
			return fmt.Sprintf("Todo list now has %d item(s)", len(todos)), nil
		},
	})
}

func registerSQLTool(r *Registry, deps *Deps) {
	r.MustRegister(&Definition{
		Name:           "execute_sql",
		Description:    "Execute a SQL statement against the app's database. Queries return rows as JSON.",
		DefaultConsent: PolicyAsk,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"statement": map[string]any{"type": "string", "description": "SQL statement to execute"},
			},
			"required": []string{"statement"},
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			stmt, _ := args["statement"].(string)
			if strings.TrimSpace(stmt) == "" {
				return "", fmt.Errorf("statement is required")
			}
			return deps.DB.Execute(ctx, stmt)
		},
	})
}

func registerSubagentTool(r *Registry, deps *Deps) {
	r.MustRegister(&Definition{
		Name: "spawn_subagent",
		Description: "Delegate a focused task to a read-only sub-agent with its own bounded turn " +
			"loop. Returns the sub-agent's final answer.",
		DefaultConsent: PolicyAsk,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task":         map[string]any{"type": "string", "description": "What the sub-agent should produce"},
				"instructions": map[string]any{"type": "string", "description": "Extra guidance for the sub-agent"},
			},
			"required": []string{"task"},
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			task, _ := args["task"].(string)
			instructions, _ := args["instructions"].(string)
			if task == "" {
				return "", fmt.Errorf("task is required")
			}
			if deps.Delegate == nil {
				return "", fmt.Errorf("sub-agent delegation not wired")
			}
			return deps.Delegate(ctx, task, instructions)
		},
	})
}

func registerAppTools(r *Registry, deps *Deps) {
	r.MustRegister(&Definition{
		Name:           "add_dependency",
		Description:    "Install a package into the generated project with its package manager.",
		DefaultConsent: PolicyAsk,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"packages": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Package names, optionally with versions",
				},
			},
			"required": []string{"packages"},
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			names, err := stringList(args["packages"])
			if err != nil || len(names) == 0 {
				return "", fmt.Errorf("packages must be a non-empty list of names")
			}
			for _, n := range names {
				if strings.ContainsAny(n, ";|&$`\"'\\<>") || strings.TrimSpace(n) == "" {
					return "", fmt.Errorf("invalid package name %q", n)
				}
			}
			return deps.Runner.Exec(ctx, "npm install "+strings.Join(names, " "))
		},
	})

	r.MustRegister(&Definition{
		Name:           "restart_app",
		Description:    "Restart the generated app's dev process so changes take effect.",
		DefaultConsent: PolicyAsk,
		Enabled: func(tc *Context) bool {
			return deps.AppCommand != ""
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			if err := deps.Runner.Start(deps.AppCommand, deps.AppOutput); err != nil {
				return "", err
			}
			return "App restarted", nil
		},
	})
}

func stringList(v any) ([]string, error) {
	raw, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, nil
		}
		return nil, fmt.Errorf("expected list")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string list")
		}
		out = append(out, s)
	}
	return out, nil
}
