package task

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/oriys/funcall/internal/protocol"
)

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10000; i++ {
		id := NewID()
		if len(id) != IDLength {
			t.Fatalf("id %q has length %d, want %d", id, len(id), IDLength)
		}
		for _, r := range id {
			if !strings.ContainsRune(idAlphabet, r) {
				t.Fatalf("id %q contains %q outside the alphabet", id, r)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestTaskLifecycle(t *testing.T) {
	tk := New("", "add", nil)
	if tk.ID() == "" {
		t.Fatal("expected generated id")
	}
	if tk.Status() != protocol.StatusPending {
		t.Fatalf("expected PENDING, got %v", tk.Status())
	}
	if _, ok := tk.ExitCode(); ok {
		t.Fatal("exit code must be unset before completion")
	}
	if tk.Kwargs() == nil {
		t.Fatal("kwargs should default to an empty map")
	}
	if _, err := tk.Response(); err == nil {
		t.Fatal("Response should fail before completion")
	}

	if err := tk.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := tk.Start(); !errors.Is(err, ErrTransition) {
		t.Fatalf("second Start err = %v, want ErrTransition", err)
	}

	if err := tk.Complete(protocol.ExitSuccess, protocol.Output("5")); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if err := tk.Complete(protocol.ExitError, protocol.TextOutput("late")); !errors.Is(err, ErrTransition) {
		t.Fatalf("second Complete err = %v, want ErrTransition", err)
	}

	code, ok := tk.ExitCode()
	if !ok || code != protocol.ExitSuccess {
		t.Fatalf("exit code = %v, %v", code, ok)
	}
	if tk.Output().String() != "5" {
		t.Fatalf("output = %s, want 5", tk.Output())
	}

	resp, err := tk.Response()
	if err != nil {
		t.Fatalf("Response failed: %v", err)
	}
	if resp.ID != tk.ID() || resp.Status != protocol.StatusCompleted || resp.ExitCode != protocol.ExitSuccess {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestNewCompleted(t *testing.T) {
	tk := NewCompleted("ID1", protocol.ExitFunctionNotFound, nil)
	if !tk.IsCompleted() {
		t.Fatal("expected COMPLETED")
	}
	code, ok := tk.ExitCode()
	if !ok || code != protocol.ExitFunctionNotFound {
		t.Fatalf("exit code = %v, %v", code, ok)
	}
	if err := tk.Start(); err == nil {
		t.Fatal("completed task must not start")
	}
}

func TestCollection(t *testing.T) {
	c := NewCollection[*Task]()
	a := New("A", "f", nil)
	b := New("B", "f", nil)
	done := NewCompleted("C", protocol.ExitBadRequest, nil)

	for _, tk := range []*Task{a, b, done} {
		if !c.Add(tk) {
			t.Fatalf("Add(%s) rejected", tk)
		}
	}
	if c.Add(New("A", "g", nil)) {
		t.Fatal("duplicate id must be rejected")
	}
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3", c.Len())
	}

	pending := c.Filter(protocol.StatusPending)
	if len(pending) != 2 || pending[0] != a || pending[1] != b {
		t.Fatalf("unexpected pending tasks %v", pending)
	}
	if got := c.Filter(protocol.StatusCompleted); len(got) != 1 || got[0] != done {
		t.Fatalf("unexpected completed tasks %v", got)
	}

	if got, ok := c.Get("B"); !ok || got != b {
		t.Fatal("Get(B) failed")
	}
	if !c.Remove("A") || c.Remove("A") {
		t.Fatal("Remove should succeed exactly once")
	}
	if _, ok := c.Get("A"); ok {
		t.Fatal("removed task still present")
	}
	if all := c.All(); len(all) != 2 || all[0] != b {
		t.Fatalf("unexpected remaining tasks %v", all)
	}
}

func TestCollectionConcurrentAccess(t *testing.T) {
	c := NewCollection[*Task]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tk := New("", "f", nil)
				c.Add(tk)
				for _, p := range c.Filter(protocol.StatusPending) {
					_ = p.ID()
				}
				c.Remove(tk.ID())
			}
		}()
	}
	wg.Wait()
	if c.Len() != 0 {
		t.Fatalf("Len = %d, want 0", c.Len())
	}
}
