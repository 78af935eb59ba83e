package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockCloser is a test implementation of Closer
type mockCloser struct {
	name   string
	err    error
	record func(string)
}

func (m *mockCloser) Close() error {
	m.record(m.name)
	return m.err
}

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

func TestShutdownOrder(t *testing.T) {
	c := New(5*time.Second, zerolog.Nop())
	rec := &recorder{}

	c.Register("storage", &mockCloser{name: "storage", record: rec.add}, PriorityStorage)
	c.RegisterFunc("metrics", func(ctx context.Context) error {
		rec.add("metrics")
		return nil
	}, PriorityMetrics)
	c.Register("pipeline-a", &mockCloser{name: "pipeline-a", record: rec.add}, PriorityPipeline)
	c.Register("pipeline-b", &mockCloser{name: "pipeline-b", record: rec.add}, PriorityPipeline)

	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	want := []string{"pipeline-a", "pipeline-b", "metrics", "storage"}
	if len(rec.order) != len(want) {
		t.Fatalf("order = %v, want %v", rec.order, want)
	}
	for i := range want {
		if rec.order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, rec.order[i], want[i])
		}
	}
}

func TestShutdownContinuesAfterError(t *testing.T) {
	c := New(5*time.Second, zerolog.Nop())
	rec := &recorder{}
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	c.Register("a", &mockCloser{name: "a", err: errA, record: rec.add}, 1)
	c.Register("b", &mockCloser{name: "b", err: errB, record: rec.add}, 2)
	c.Register("c", &mockCloser{name: "c", record: rec.add}, 3)

	err := c.Shutdown()
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Shutdown error = %v, want both step errors", err)
	}
	if len(rec.order) != 3 {
		t.Errorf("expected all steps to run, got %v", rec.order)
	}
}

func TestShutdownOnce(t *testing.T) {
	c := New(5*time.Second, zerolog.Nop())
	calls := 0
	c.RegisterFunc("count", func(ctx context.Context) error {
		calls++
		return nil
	}, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Shutdown()
		}()
	}
	wg.Wait()

	if calls != 1 {
		t.Errorf("step ran %d times, want 1", calls)
	}
}

func TestShutdownTimeout(t *testing.T) {
	c := New(20*time.Millisecond, zerolog.Nop())
	ranSecond := false

	c.RegisterFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}, 1)
	c.RegisterFunc("skipped", func(ctx context.Context) error {
		ranSecond = true
		return nil
	}, 2)

	err := c.Shutdown()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown error = %v, want DeadlineExceeded", err)
	}
	if ranSecond {
		t.Error("expected step after timeout to be skipped")
	}
}

func TestSignalContextCancel(t *testing.T) {
	ctx, cancel := SignalContext(context.Background(), zerolog.Nop())
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
}
