// Package gate spaces backend calls per request class and backs off once
// when the backend reports its quota is exhausted.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"rollbook/internal/clock"
	"rollbook/internal/metrics"
	"rollbook/internal/sheets"
)

// Class selects the lane a call is spaced in.
type Class string

const (
	Read  Class = "read"
	Write Class = "write"
)

type Config struct {
	ReadSpacing   time.Duration
	WriteSpacing  time.Duration
	QuotaCooldown time.Duration
	// CallTimeout bounds each attempt; zero disables the bound.
	CallTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReadSpacing:   time.Second,
		WriteSpacing:  2 * time.Second,
		QuotaCooldown: 60 * time.Second,
		CallTimeout:   30 * time.Second,
	}
}

// Gate admits one call per class at a time, no sooner than the class
// spacing after the previous one started.
type Gate struct {
	cfg     Config
	clock   clock.Clock
	metrics *metrics.Recorder
	lanes   map[Class]*lane
}

type lane struct {
	slot    chan struct{}
	spacing time.Duration
	last    time.Time // guarded by slot
}

func New(cfg Config, clk clock.Clock, rec *metrics.Recorder) *Gate {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Gate{
		cfg:     cfg,
		clock:   clk,
		metrics: rec,
		lanes: map[Class]*lane{
			Read:  {slot: make(chan struct{}, 1), spacing: cfg.ReadSpacing},
			Write: {slot: make(chan struct{}, 1), spacing: cfg.WriteSpacing},
		},
	}
}

// Do runs fn in the lane of class. A quota failure is retried exactly once
// after the cooldown; any other error is returned as is.
func (g *Gate) Do(ctx context.Context, class Class, op string, fn func(ctx context.Context) error) error {
	l, ok := g.lanes[class]
	if !ok {
		return fmt.Errorf("gate: unknown class %q", class)
	}
	arrived := g.clock.Now()

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.slot }()

	err := g.attempt(ctx, l, class, op, fn, arrived)
	if !errors.Is(err, sheets.ErrQuotaExceeded) {
		return err
	}

	log.Printf("gate: %s %s hit quota, retrying in %s", class, op, g.cfg.QuotaCooldown)
	g.metrics.QuotaRetry(string(class))
	if err := g.clock.Sleep(ctx, g.cfg.QuotaCooldown); err != nil {
		return err
	}
	err = g.attempt(ctx, l, class, op, fn, time.Time{})
	if errors.Is(err, sheets.ErrQuotaExceeded) {
		return fmt.Errorf("gate: %s %s after cooldown: %w", class, op, err)
	}
	return err
}

// Call is Do for functions that return a value.
func Call[T any](ctx context.Context, g *Gate, class Class, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := g.Do(ctx, class, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// attempt runs with the lane held.
func (g *Gate) attempt(ctx context.Context, l *lane, class Class, op string, fn func(ctx context.Context) error, arrived time.Time) error {
	if !l.last.IsZero() {
		if wait := l.last.Add(l.spacing).Sub(g.clock.Now()); wait > 0 {
			if err := g.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	now := g.clock.Now()
	l.last = now
	if !arrived.IsZero() {
		g.metrics.GateWait(string(class), now.Sub(arrived))
	}

	callCtx := ctx
	if g.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
		defer cancel()
	}
	err := fn(callCtx)
	g.metrics.BackendCall(string(class), op, outcome(err))
	return err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, sheets.ErrQuotaExceeded):
		return metrics.OutcomeQuota
	case errors.Is(err, sheets.ErrUnauthenticated):
		return metrics.OutcomeAuth
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeError
	}
}
