package appdb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestExecute(t *testing.T) {
	db := Open(filepath.Join(t.TempDir(), "data", "app.db"))
	defer db.Close()
	ctx := context.Background()

	out, err := db.Execute(ctx, "create table users (id integer primary key, name text)")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "0 row(s)") {
		t.Errorf("create = %q", out)
	}

	out, err = db.Execute(ctx, "insert into users (name) values ('ada'), ('grace')")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "2 row(s)") {
		t.Errorf("insert = %q", out)
	}

	out, err = db.Execute(ctx, "select name from users order by id")
	if err != nil {
		t.Fatal(err)
	}
	if out != `[{"name":"ada"},{"name":"grace"}]` {
		t.Errorf("select = %s", out)
	}
}

func TestConnectionPragmas(t *testing.T) {
	db := Open(filepath.Join(t.TempDir(), "app.db"))
	defer db.Close()
	ctx := context.Background()

	out, err := db.Execute(ctx, "pragma journal_mode")
	if err != nil {
		t.Fatal(err)
	}
	if out != `[{"journal_mode":"wal"}]` {
		t.Errorf("journal_mode = %s, want wal", out)
	}

	out, err = db.Execute(ctx, "pragma busy_timeout")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "5000") {
		t.Errorf("busy_timeout = %s, want 5000", out)
	}
}

func TestExecuteEmptyResult(t *testing.T) {
	db := Open(filepath.Join(t.TempDir(), "app.db"))
	defer db.Close()
	ctx := context.Background()

	if _, err := db.Execute(ctx, "create table t (x integer)"); err != nil {
		t.Fatal(err)
	}
	out, err := db.Execute(ctx, "select * from t")
	if err != nil {
		t.Fatal(err)
	}
	if out != "[]" {
		t.Errorf("empty select = %q", out)
	}
}

func TestExecuteSQLError(t *testing.T) {
	db := Open(filepath.Join(t.TempDir(), "app.db"))
	defer db.Close()

	if _, err := db.Execute(context.Background(), "select * from no_such_table"); err == nil {
		t.Error("want error for missing table")
	}
}

func TestIsQuery(t *testing.T) {
	for stmt, want := range map[string]bool{
		"select 1":                 true,
		"  SELECT * from t":        true,
		"WITH x AS (select 1) select * from x": true,
		"pragma table_info(t)":     true,
		"explain select 1":         true,
		"insert into t values (1)": false,
		"update t set x = 1":       false,
		"create table t (x)":       false,
	} {
		if got := isQuery(stmt); got != want {
			t.Errorf("isQuery(%q) = %v", stmt, got)
		}
	}
}
