package runner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestExec(t *testing.T) {
	r := New(t.TempDir(), nil)

	out, err := r.Exec(context.Background(), "echo hello")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("out = %q", out)
	}
}

func TestExecRunsInDir(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)

	out, err := r.Exec(context.Background(), "pwd")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, dir) {
		t.Errorf("pwd = %q, want under %q", out, dir)
	}
}

func TestExecStderrIsMarked(t *testing.T) {
	r := New(t.TempDir(), nil)

	out, err := r.Exec(context.Background(), "echo oops 1>&2")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[stderr] oops") {
		t.Errorf("out = %q", out)
	}
}

func TestExecNoOutput(t *testing.T) {
	r := New(t.TempDir(), nil)

	out, err := r.Exec(context.Background(), "true")
	if err != nil {
		t.Fatal(err)
	}
	if out != "<no output>" {
		t.Errorf("out = %q", out)
	}
}

func TestExecFailure(t *testing.T) {
	r := New(t.TempDir(), nil)

	if _, err := r.Exec(context.Background(), "exit 3"); err == nil {
		t.Error("want error for non-zero exit")
	}
}

func TestStartAndStop(t *testing.T) {
	r := New(t.TempDir(), nil)

	lines := make(chan string, 64)
	if err := r.Start("echo started; sleep 30", func(l string) {
		select {
		case lines <- l:
		default:
		}
	}); err != nil {
		t.Fatal(err)
	}
	if !r.Running() {
		t.Error("not running after Start")
	}

	select {
	case l := <-lines:
		if !strings.Contains(l, "started") {
			t.Errorf("line = %q", l)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no output line")
	}

	r.Stop()
	deadline := time.Now().Add(5 * time.Second)
	for r.Running() {
		if time.Now().After(deadline) {
			t.Fatal("still running after Stop")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartReplacesPrevious(t *testing.T) {
	r := New(t.TempDir(), nil)

	if err := r.Start("sleep 30", nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Start("sleep 30", nil); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !r.Running() {
		t.Error("not running after restart")
	}
	r.Stop()
}
