package storage

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// StdoutSink writes every payload to a single writer, newline terminated
// when the payload does not already end with one. Keys are ignored.
type StdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdoutSink wraps w.
func NewStdoutSink(w io.Writer) *StdoutSink {
	return &StdoutSink{w: w}
}

// Write writes data to the underlying writer. Concurrent writes never interleave.
func (s *StdoutSink) Write(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' && isText(data) {
		if _, err := s.w.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

// isText reports whether data looks like JSON text rather than a binary payload.
func isText(data []byte) bool {
	return data[0] == '{' || data[0] == '['
}

func (s *StdoutSink) URI(key string) string { return "stdout" }

func (s *StdoutSink) Type() string { return "stdout" }

func (s *StdoutSink) Close() error { return nil }
