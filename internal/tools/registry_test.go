package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func echoTool(name string, consent Policy) *Definition {
	return &Definition{
		Name:           name,
		DefaultConsent: consent,
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			return "ok", nil
		},
	}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(NewGate(nil, nil, nil), nil)

	if err := r.Register(echoTool("a", PolicyAlways)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoTool("a", PolicyAlways)); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("duplicate register err = %v", err)
	}
	if err := r.Register(&Definition{Name: ""}); err == nil {
		t.Error("empty name must fail")
	}
	if err := r.Register(&Definition{Name: "b"}); err == nil {
		t.Error("nil execute must fail")
	}
}

func TestRegistryInvokeAlways(t *testing.T) {
	requests := 0
	g := NewGate(nil, func(ConsentRequest) { requests++ }, nil)
	r := NewRegistry(g, nil)
	r.MustRegister(echoTool("read_file", PolicyAlways))

	out, err := r.Invoke(context.Background(), "read_file", nil, &Context{})
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" {
		t.Errorf("out = %q", out)
	}
	if requests != 0 {
		t.Errorf("always-consented tool surfaced %d consent requests", requests)
	}
}

func TestRegistryInvokeDenied(t *testing.T) {
	store := NewMemoryPolicies()
	store.SetPolicy("nuke", PolicyDenied)
	r := NewRegistry(NewGate(store, nil, nil), nil)
	r.MustRegister(echoTool("nuke", PolicyAsk))

	_, err := r.Invoke(context.Background(), "nuke", nil, &Context{})
	if !errors.Is(err, ErrConsentDenied) {
		t.Errorf("err = %v, want consent denied", err)
	}
}

func TestRegistryInvokeAsk(t *testing.T) {
	ids := make(chan string, 1)
	g := NewGate(nil, func(req ConsentRequest) { ids <- req.RequestID }, nil)
	r := NewRegistry(g, nil)
	r.MustRegister(echoTool("delete_file", PolicyAsk))

	t.Run("accepted", func(t *testing.T) {
		type result struct {
			out string
			err error
		}
		done := make(chan result, 1)
		go func() {
			out, err := r.Invoke(context.Background(), "delete_file", map[string]any{"path": "x"}, &Context{})
			done <- result{out, err}
		}()
		g.Resolve(<-ids, DecisionAcceptOnce)
		res := <-done
		if res.err != nil || res.out != "ok" {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("declined", func(t *testing.T) {
		done := make(chan error, 1)
		go func() {
			_, err := r.Invoke(context.Background(), "delete_file", nil, &Context{})
			done <- err
		}()
		g.Resolve(<-ids, DecisionDecline)
		if err := <-done; !errors.Is(err, ErrConsentDenied) {
			t.Errorf("err = %v", err)
		}
	})
}

func TestRegistryInvokeUnknown(t *testing.T) {
	r := NewRegistry(NewGate(nil, nil, nil), nil)
	_, err := r.Invoke(context.Background(), "ghost", nil, &Context{})
	if !errors.Is(err, ErrToolNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestRegistryReadOnlyPass(t *testing.T) {
	r := NewRegistry(NewGate(nil, nil, nil), nil)
	r.MustRegister(echoTool("write_file", PolicyAlways))
	reader := echoTool("read_file", PolicyAlways)
	reader.ReadOnly = true
	r.MustRegister(reader)

	tc := &Context{ReadOnlyPass: true}

	if _, err := r.Invoke(context.Background(), "write_file", nil, tc); !errors.Is(err, ErrToolUnavailable) {
		t.Errorf("mutating tool err = %v, want unavailable", err)
	}
	if _, err := r.Invoke(context.Background(), "read_file", nil, tc); err != nil {
		t.Errorf("read-only tool err = %v", err)
	}

	schemas := r.Schemas(tc)
	if len(schemas) != 1 || schemas[0].Name != "read_file" {
		t.Errorf("schemas = %+v", schemas)
	}
}

func TestRegistrySchemasSorted(t *testing.T) {
	r := NewRegistry(NewGate(nil, nil, nil), nil)
	for _, name := range []string{"zulu", "alpha", "mike"} {
		r.MustRegister(echoTool(name, PolicyAlways))
	}
	schemas := r.Schemas(&Context{})
	var got []string
	for _, s := range schemas {
		got = append(got, s.Name)
	}
	want := []string{"alpha", "mike", "zulu"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("schemas = %v, want %v", got, want)
		}
	}
}

func TestRegistryExecutionError(t *testing.T) {
	r := NewRegistry(NewGate(nil, nil, nil), nil)
	r.MustRegister(&Definition{
		Name:           "flaky",
		DefaultConsent: PolicyAlways,
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			return "", fmt.Errorf("disk full")
		},
	})

	_, err := r.Invoke(context.Background(), "flaky", nil, &Context{})
	if !errors.Is(err, ErrExecutionFailed) {
		t.Errorf("err = %v", err)
	}
}

func TestRegistryExclusiveKeysSerialize(t *testing.T) {
	var mu sync.Mutex
	inFlight := make(map[string]int)
	maxInFlight := make(map[string]int)

	r := NewRegistry(NewGate(nil, nil, nil), nil)
	r.MustRegister(&Definition{
		Name:           "write_file",
		DefaultConsent: PolicyAlways,
		ExclusiveKeys: func(args map[string]any) []string {
			p, _ := args["path"].(string)
			return []string{p}
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			path := args["path"].(string)
			mu.Lock()
			inFlight[path]++
			if inFlight[path] > maxInFlight[path] {
				maxInFlight[path] = inFlight[path]
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inFlight[path]--
			mu.Unlock()
			return "ok", nil
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, path := range []string{"a.txt", "b.txt"} {
			path := path
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.Invoke(context.Background(), "write_file", map[string]any{"path": path}, &Context{})
			}()
		}
	}
	wg.Wait()

	for _, path := range []string{"a.txt", "b.txt"} {
		if maxInFlight[path] > 1 {
			t.Errorf("path %s saw %d concurrent executions", path, maxInFlight[path])
		}
	}
}

func TestRegistryRenameHoldsBothPaths(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	touch := func(d time.Duration) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(d)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}

	r := NewRegistry(NewGate(nil, nil, nil), nil)
	r.MustRegister(&Definition{
		Name:           "rename_file",
		DefaultConsent: PolicyAlways,
		ExclusiveKeys: func(args map[string]any) []string {
			from, _ := args["from"].(string)
			to, _ := args["to"].(string)
			return []string{from, to}
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			touch(5 * time.Millisecond)
			return "ok", nil
		},
	})
	r.MustRegister(&Definition{
		Name:           "write_file",
		DefaultConsent: PolicyAlways,
		ExclusiveKeys: func(args map[string]any) []string {
			p, _ := args["path"].(string)
			return []string{p}
		},
		Execute: func(ctx context.Context, args map[string]any, tc *Context) (string, error) {
			touch(5 * time.Millisecond)
			return "ok", nil
		},
	})

	// A write to the destination must never overlap the rename that
	// produces it, even though the write never names the source path.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Invoke(context.Background(), "rename_file", map[string]any{"from": "old.txt", "to": "new.txt"}, &Context{})
		}()
		go func() {
			defer wg.Done()
			r.Invoke(context.Background(), "write_file", map[string]any{"path": "new.txt"}, &Context{})
		}()
	}
	wg.Wait()

	if maxInFlight > 1 {
		t.Errorf("saw %d concurrent executions on the rename destination", maxInFlight)
	}
}
