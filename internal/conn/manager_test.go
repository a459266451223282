package conn

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rollbook/internal/clock"
	"rollbook/internal/gate"
	"rollbook/internal/sheets/memory"
)

func newManager(t *testing.T, cfg Config) (*Manager, *memory.Backend, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	backend := memory.New()
	g := gate.New(gate.DefaultConfig(), clk, nil)
	return New(backend, g, clk, nil, cfg), backend, clk
}

func TestEnsureConnected_ReusesSessionWithinWindow(t *testing.T) {
	t.Parallel()
	m, backend, _ := newManager(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.EnsureConnected(ctx); err != nil {
			t.Fatalf("EnsureConnected() #%d err=%v", i, err)
		}
	}
	if got := backend.Calls(memory.OpConnect); got != 1 {
		t.Fatalf("connects=%d, want 1", got)
	}
	if got := backend.Calls(memory.OpProbe); got != 2 {
		t.Fatalf("probes=%d, want 2", got)
	}
}

func TestEnsureConnected_ReauthenticatesAfterWindow(t *testing.T) {
	t.Parallel()
	m, backend, clk := newManager(t, DefaultConfig())
	ctx := context.Background()

	if _, err := m.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected() err=%v", err)
	}
	clk.Advance(time.Hour + time.Second)
	if _, err := m.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected() err=%v", err)
	}
	if _, err := m.EnsureConnected(ctx); err != nil {
		t.Fatalf("EnsureConnected() err=%v", err)
	}
	if got := backend.Calls(memory.OpConnect); got != 2 {
		t.Fatalf("connects=%d, want exactly 2", got)
	}
}

func TestEnsureConnected_MarkDisconnectedForcesOneReauth(t *testing.T) {
	t.Parallel()
	m, backend, _ := newManager(t, DefaultConfig())
	ctx := context.Background()

	_, _ = m.EnsureConnected(ctx)
	m.MarkDisconnected("unauthenticated")
	if st := m.Status(); st.Connected || st.LastError != "unauthenticated" {
		t.Fatalf("Status()=%+v after MarkDisconnected", st)
	}
	_, _ = m.EnsureConnected(ctx)
	_, _ = m.EnsureConnected(ctx)
	if got := backend.Calls(memory.OpConnect); got != 2 {
		t.Fatalf("connects=%d, want 2", got)
	}
}

func TestEnsureConnected_FailedProbeReauthenticates(t *testing.T) {
	t.Parallel()
	m, backend, _ := newManager(t, DefaultConfig())
	ctx := context.Background()

	_, _ = m.EnsureConnected(ctx)
	backend.Revoke()

	s, err := m.EnsureConnected(ctx)
	if err != nil {
		t.Fatalf("EnsureConnected() err=%v", err)
	}
	if err := s.Probe(ctx); err != nil {
		t.Fatalf("fresh session Probe() err=%v", err)
	}
	if got := backend.Calls(memory.OpConnect); got != 2 {
		t.Fatalf("connects=%d, want 2", got)
	}
}

func TestEnsureConnected_AuthFailureIsReturned(t *testing.T) {
	t.Parallel()
	m, backend, _ := newManager(t, DefaultConfig())
	boom := errors.New("credentials rejected")
	backend.FailNext(memory.OpConnect, boom)

	if _, err := m.EnsureConnected(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("EnsureConnected() err=%v, want %v", err, boom)
	}
	if got := backend.Calls(memory.OpConnect); got != 1 {
		t.Fatalf("connects=%d, want 1 (no retry)", got)
	}
	st := m.Status()
	if st.Connected || st.LastError == "" {
		t.Fatalf("Status()=%+v, want disconnected with error", st)
	}
}

func TestEnsureConnected_ConcurrentCallersAuthenticateOnce(t *testing.T) {
	t.Parallel()
	m, backend, _ := newManager(t, DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.EnsureConnected(context.Background()); err != nil {
				t.Errorf("EnsureConnected() err=%v", err)
			}
		}()
	}
	wg.Wait()
	if got := backend.Calls(memory.OpConnect); got != 1 {
		t.Fatalf("connects=%d, want 1", got)
	}
}

func TestEnsureConnected_ProbeIntervalSkipsProbe(t *testing.T) {
	t.Parallel()
	m, backend, _ := newManager(t, Config{Window: time.Hour, ProbeInterval: 10 * time.Minute})
	ctx := context.Background()

	_, _ = m.EnsureConnected(ctx)
	_, _ = m.EnsureConnected(ctx)
	if got := backend.Calls(memory.OpProbe); got != 0 {
		t.Fatalf("probes=%d, want 0 inside probe interval", got)
	}
}

func TestReconnect(t *testing.T) {
	t.Parallel()
	m, backend, clk := newManager(t, DefaultConfig())
	ctx := context.Background()

	_, _ = m.EnsureConnected(ctx)
	clk.Advance(5 * time.Minute)
	if err := m.Reconnect(ctx); err != nil {
		t.Fatalf("Reconnect() err=%v", err)
	}
	st := m.Status()
	if !st.Connected || st.Reconnects != 2 || st.Age != 0 {
		t.Fatalf("Status()=%+v", st)
	}
	if got := backend.Calls(memory.OpConnect); got != 2 {
		t.Fatalf("connects=%d, want 2", got)
	}
}
