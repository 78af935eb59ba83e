package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// flakySink fails the first failN writes
type flakySink struct {
	mu     sync.Mutex
	failN  int
	calls  int
	stored map[string][]byte
}

func (f *flakySink) Write(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return errors.New("transient failure")
	}
	if f.stored == nil {
		f.stored = map[string][]byte{}
	}
	f.stored[key] = data
	return nil
}

func (f *flakySink) URI(key string) string { return "flaky://" + key }
func (f *flakySink) Type() string          { return "flaky" }
func (f *flakySink) Close() error          { return nil }

func fastConfig() *ResilientConfig {
	return &ResilientConfig{
		MaxFailures:   3,
		Timeout:       time.Minute,
		MaxRetries:    2,
		RetryDelay:    time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
	}
}

func TestResilientSink_RetriesUntilSuccess(t *testing.T) {
	inner := &flakySink{failN: 2}
	r := NewResilientSink(inner, fastConfig(), zerolog.Nop())

	if err := r.Write(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
	if string(inner.stored["k"]) != "v" {
		t.Errorf("stored = %q", inner.stored["k"])
	}
	if r.State() != "closed" {
		t.Errorf("State = %s, want closed", r.State())
	}
	if r.URI("k") != "flaky://k" || r.Type() != "flaky" {
		t.Errorf("wrapped methods not delegated")
	}
}

func TestResilientSink_GivesUp(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxFailures = 10
	inner := &flakySink{failN: 100}
	r := NewResilientSink(inner, cfg, zerolog.Nop())

	err := r.Write(context.Background(), "k", []byte("v"))
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != cfg.MaxRetries+1 {
		t.Errorf("calls = %d, want %d", inner.calls, cfg.MaxRetries+1)
	}
}

func TestResilientSink_CircuitOpensAndRecovers(t *testing.T) {
	inner := &flakySink{failN: 3}
	r := NewResilientSink(inner, fastConfig(), zerolog.Nop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	// Three consecutive failures open the breaker
	if err := r.Write(context.Background(), "k", []byte("v")); err == nil {
		t.Fatal("expected error")
	}
	if r.State() != "open" {
		t.Fatalf("State = %s, want open", r.State())
	}

	if err := r.Write(context.Background(), "k", []byte("v")); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Write error = %v, want ErrCircuitOpen", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3 (open breaker must not reach the sink)", inner.calls)
	}

	// After the timeout a trial write is let through and closes the breaker
	now = now.Add(2 * time.Minute)
	if err := r.Write(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("trial Write failed: %v", err)
	}
	if r.State() != "closed" {
		t.Errorf("State = %s, want closed", r.State())
	}
}

func TestResilientSink_FailedTrialReopens(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 0
	cfg.MaxFailures = 1
	inner := &flakySink{failN: 2}
	r := NewResilientSink(inner, cfg, zerolog.Nop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	_ = r.Write(context.Background(), "k", nil)
	if r.State() != "open" {
		t.Fatalf("State = %s, want open", r.State())
	}

	now = now.Add(2 * time.Minute)
	if err := r.Write(context.Background(), "k", nil); err == nil {
		t.Fatal("expected trial write to fail")
	}
	if r.State() != "open" {
		t.Errorf("State = %s, want open after failed trial write", r.State())
	}
}

func TestResilientSink_ContextCancelled(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryDelay = time.Hour
	cfg.RetryMaxDelay = time.Hour
	inner := &flakySink{failN: 100}
	r := NewResilientSink(inner, cfg, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Write(ctx, "k", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Write error = %v, want DeadlineExceeded", err)
	}
}
