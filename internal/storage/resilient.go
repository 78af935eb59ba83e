package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned when writes are rejected after repeated failures
var ErrCircuitOpen = errors.New("storage circuit breaker is open")

// breakerState is the state of the write circuit breaker
type breakerState int

const (
	stateClosed   breakerState = iota // Normal operation
	stateOpen                         // Failing, rejecting writes
	stateHalfOpen                     // Letting one write through to test recovery
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ResilientConfig holds configuration for the resilient sink
type ResilientConfig struct {
	// Circuit breaker settings
	MaxFailures int
	Timeout     time.Duration

	// Retry settings
	MaxRetries    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// DefaultResilientConfig returns default resilient sink configuration
func DefaultResilientConfig() *ResilientConfig {
	return &ResilientConfig{
		MaxFailures:   5,
		Timeout:       30 * time.Second,
		MaxRetries:    3,
		RetryDelay:    100 * time.Millisecond,
		RetryMaxDelay: 5 * time.Second,
	}
}

// ResilientSink wraps a Sink with retries and a circuit breaker on Write.
// Remote sinks (S3, Azure) are wrapped by the pipeline; local ones are not.
type ResilientSink struct {
	Sink
	cfg    ResilientConfig
	logger zerolog.Logger

	mu       sync.Mutex
	state    breakerState
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewResilientSink creates a new resilient sink around sink
func NewResilientSink(sink Sink, cfg *ResilientConfig, logger zerolog.Logger) *ResilientSink {
	if cfg == nil {
		cfg = DefaultResilientConfig()
	}
	return &ResilientSink{
		Sink:   sink,
		cfg:    *cfg,
		logger: logger.With().Str("component", "resilient-storage").Str("backend", sink.Type()).Logger(),
		now:    time.Now,
	}
}

// Write writes data to the wrapped sink, retrying with exponential backoff
func (r *ResilientSink) Write(ctx context.Context, key string, data []byte) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if err := r.allow(); err != nil {
			r.logger.Warn().
				Str("path", key).
				Msg("Storage write rejected - circuit breaker open")
			return err
		}

		err := r.Sink.Write(ctx, key, data)
		r.record(err)
		if err == nil {
			return nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt == r.cfg.MaxRetries {
			break
		}

		delay := r.cfg.RetryDelay * time.Duration(1<<uint(attempt))
		if delay > r.cfg.RetryMaxDelay {
			delay = r.cfg.RetryMaxDelay
		}

		r.logger.Warn().
			Err(err).
			Str("path", key).
			Int("attempt", attempt+1).
			Int("max_retries", r.cfg.MaxRetries).
			Dur("retry_delay", delay).
			Msg("Storage write failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("storage write failed after %d retries: %w", r.cfg.MaxRetries, lastErr)
}

// State returns the breaker state name
func (r *ResilientSink) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.String()
}

// allow reports whether a write may proceed. An open breaker lets one trial write
// through once Timeout has elapsed.
func (r *ResilientSink) allow() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case stateOpen:
		if r.now().Sub(r.openedAt) < r.cfg.Timeout {
			return ErrCircuitOpen
		}
		r.setState(stateHalfOpen)
		r.probing = true
		return nil
	case stateHalfOpen:
		if r.probing {
			return ErrCircuitOpen
		}
		r.probing = true
	}
	return nil
}

func (r *ResilientSink) record(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.probing = false
	if err == nil {
		r.failures = 0
		if r.state != stateClosed {
			r.setState(stateClosed)
		}
		return
	}

	r.failures++
	if r.state == stateHalfOpen || (r.cfg.MaxFailures > 0 && r.failures >= r.cfg.MaxFailures) {
		r.openedAt = r.now()
		r.setState(stateOpen)
	}
}

// setState must be called with mu held
func (r *ResilientSink) setState(to breakerState) {
	if r.state == to {
		return
	}
	r.logger.Info().
		Str("from", r.state.String()).
		Str("to", to.String()).
		Int("failures", r.failures).
		Msg("Circuit breaker state changed")
	r.state = to
}
