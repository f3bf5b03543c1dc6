package logcommand

import (
	"context"
	"testing"
)

func TestDispatchInvokesRegisteredHandler(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("peer-born", func(ctx context.Context, payload any) error {
		called = true
		if payload != "path-1" {
			t.Errorf("expected payload path-1, got %v", payload)
		}
		return nil
	})

	if err := r.Dispatch(context.Background(), "peer-born", "path-1"); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !called {
		t.Error("expected the handler to be invoked")
	}
}

func TestDispatchUnknownKindFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Dispatch(context.Background(), "no-such-kind", nil); err == nil {
		t.Fatal("expected an error for an unregistered kind")
	}
}

func TestRegisterReplacesExistingHandler(t *testing.T) {
	r := NewRegistry()
	calls := 0
	r.Register("ack", func(ctx context.Context, payload any) error { calls = 1; return nil })
	r.Register("ack", func(ctx context.Context, payload any) error { calls = 2; return nil })

	if err := r.Dispatch(context.Background(), "ack", nil); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("expected the second registration to win, got calls=%d", calls)
	}
}
