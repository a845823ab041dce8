// Package appdb executes SQL against the generated project's SQLite
// database. It is the target of the execute_sql tool; schema and contents
// belong to the user's app, not the engine.
package appdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the project database, opened lazily on first use.
type DB struct {
	mu   sync.Mutex
	path string
	db   *sql.DB
}

// Open prepares a handle for the database at path. The file is not touched
// until the first statement runs.
func Open(path string) *DB {
	return &DB{path: path}
}

func (d *DB) conn() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		return d.db, nil
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	// modernc.org/sqlite takes pragmas via _pragma=name(value); the
	// mattn-style _journal/_busy_timeout keys are silently ignored by it.
	dsn := d.path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	d.db = db
	return db, nil
}

// Close releases the underlying connection if it was opened.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// Execute runs one SQL statement. Queries return their rows as a JSON array
// of objects; statements return the affected-row count.
func (d *DB) Execute(ctx context.Context, stmt string) (string, error) {
	db, err := d.conn()
	if err != nil {
		return "", err
	}

	if isQuery(stmt) {
		return d.query(ctx, db, stmt)
	}

	res, err := db.ExecContext(ctx, stmt)
	if err != nil {
		return "", err
	}
	n, _ := res.RowsAffected()
	return fmt.Sprintf("OK, %d row(s) affected", n), nil
}

func (d *DB) query(ctx context.Context, db *sql.DB, stmt string) (string, error) {
	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	if out == nil {
		out = []map[string]any{}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// isQuery reports whether the statement produces rows.
func isQuery(stmt string) bool {
	s := strings.TrimSpace(stmt)
	for _, prefix := range []string{"select", "with", "pragma", "explain"} {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}
