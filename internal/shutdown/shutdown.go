package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Closer is a component that releases resources on shutdown
type Closer interface {
	Close() error
}

// Func performs cleanup during shutdown
type Func func(ctx context.Context) error

// Priorities for arcframe components. Lower runs first.
const (
	PriorityPipeline = 10 // Stop accepting new inputs
	PriorityMetrics  = 50 // Write the final metrics textfile
	PriorityStorage  = 80 // Close storage sinks last
)

// Coordinator runs registered cleanup steps once, in priority order
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	steps []step

	once sync.Once
	err  error
}

type step struct {
	name     string
	fn       Func
	priority int
	seq      int
}

// New creates a new shutdown coordinator
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout: timeout,
		logger:  logger.With().Str("component", "shutdown").Logger(),
	}
}

// Register closes component during shutdown
func (c *Coordinator) Register(name string, component Closer, priority int) {
	c.RegisterFunc(name, func(context.Context) error { return component.Close() }, priority)
}

// RegisterFunc runs fn during shutdown. Steps with equal priority run in registration order.
func (c *Coordinator) RegisterFunc(name string, fn Func, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, step{name: name, fn: fn, priority: priority, seq: len(c.steps)})
	c.logger.Debug().
		Str("name", name).
		Int("priority", priority).
		Msg("Registered shutdown step")
}

// Shutdown runs every step. A failing step does not stop later ones; all
// errors are joined. Steps not started before the timeout are skipped.
// Only the first call does any work.
func (c *Coordinator) Shutdown() error {
	c.once.Do(func() {
		c.mu.Lock()
		steps := make([]step, len(c.steps))
		copy(steps, c.steps)
		c.mu.Unlock()

		sort.SliceStable(steps, func(i, j int) bool {
			if steps[i].priority != steps[j].priority {
				return steps[i].priority < steps[j].priority
			}
			return steps[i].seq < steps[j].seq
		})

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		start := time.Now()
		var errs []error
		for _, s := range steps {
			if ctx.Err() != nil {
				c.logger.Warn().
					Str("step", s.name).
					Msg("Shutdown timeout reached, skipping remaining steps")
				errs = append(errs, ctx.Err())
				break
			}
			if err := s.fn(ctx); err != nil {
				c.logger.Error().
					Err(err).
					Str("step", s.name).
					Msg("Shutdown step failed")
				errs = append(errs, err)
			}
		}
		c.err = errors.Join(errs...)

		c.logger.Debug().
			Dur("duration", time.Since(start)).
			Int("steps", len(steps)).
			Msg("Shutdown complete")
	})
	return c.err
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM
func SignalContext(parent context.Context, logger zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			logger.Info().
				Str("signal", sig.String()).
				Msg("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
