// Package runner manages the generated project's processes: one-shot
// commands (dependency installation) and the long-lived dev process, which
// runs in a pty so tools that expect a terminal behave normally and output
// streams line by line to the UI.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

const (
	defaultTimeout   = 2 * time.Minute
	maxOutputBytes   = 100_000
	defaultStopGrace = 3 * time.Second
)

// Runner executes commands in the project directory.
type Runner struct {
	dir string
	log *zap.Logger

	mu   sync.Mutex
	app  *exec.Cmd // running dev process, nil when stopped
	ptmx *os.File
}

// New creates a runner rooted at the project directory.
func New(dir string, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{dir: dir, log: log}
}

// Exec runs a one-shot command via sh -c with a timeout, returning combined
// output capped at maxOutputBytes. A non-zero exit is reported in the error
// alongside the captured output.
func (r *Runner) Exec(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("command must be non-empty")
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = r.dir

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := combine(stdout.String(), stderr.String())
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes] + "\n... [output truncated]"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("command timed out after %s", defaultTimeout)
	}
	if err != nil {
		return output, fmt.Errorf("command failed: %w", err)
	}
	return output, nil
}

// Start launches the app's dev command in a pty, replacing any running
// instance. Output lines stream to onLine until the process exits.
func (r *Runner) Start(command string, onLine func(string)) error {
	if strings.TrimSpace(command) == "" {
		return fmt.Errorf("app command must be non-empty")
	}

	r.Stop()

	r.mu.Lock()
	defer r.mu.Unlock()

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = r.dir

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("start app process: %w", err)
	}
	r.app = cmd
	r.ptmx = ptmx

	go func() {
		scanner := bufio.NewScanner(ptmx)
		scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
		for scanner.Scan() {
			if onLine != nil {
				onLine(scanner.Text())
			}
		}
		// pty read errors on exit are expected; just reap the process.
		cmd.Wait()
		r.mu.Lock()
		if r.app == cmd {
			r.app = nil
			r.ptmx = nil
		}
		r.mu.Unlock()
		r.log.Debug("app process exited")
	}()

	r.log.Info("app process started", zap.String("command", command))
	return nil
}

// Stop terminates the running dev process, if any, with a short grace period
// before SIGKILL.
func (r *Runner) Stop() {
	r.mu.Lock()
	cmd := r.app
	ptmx := r.ptmx
	r.app = nil
	r.ptmx = nil
	r.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	cmd.Process.Signal(os.Interrupt)
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(defaultStopGrace):
		cmd.Process.Kill()
	}
	if ptmx != nil {
		ptmx.Close()
	}
}

// Running reports whether a dev process is active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.app != nil
}

func combine(stdout, stderr string) string {
	var parts []string
	if stdout != "" {
		parts = append(parts, stdout)
	}
	if stderr != "" {
		for _, line := range strings.Split(strings.TrimSpace(stderr), "\n") {
			parts = append(parts, "[stderr] "+line)
		}
	}
	if len(parts) == 0 {
		return "<no output>"
	}
	return strings.Join(parts, "\n")
}
