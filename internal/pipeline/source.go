package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/basekick-labs/arcframe/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Source reads raw payloads out of a storage backend
type Source struct {
	backend storage.Backend
	maxSize int64
	workers int
	logger  zerolog.Logger
}

// NewSource creates a source reading at most workers objects at a time.
// Objects larger than maxSize bytes are rejected before download.
func NewSource(backend storage.Backend, maxSize int64, workers int, logger zerolog.Logger) *Source {
	if workers < 1 {
		workers = 1
	}
	return &Source{
		backend: backend,
		maxSize: maxSize,
		workers: workers,
		logger:  logger.With().Str("component", "source").Str("backend", backend.Type()).Logger(),
	}
}

// Resolve expands keys into object keys. An empty key or one ending in "/"
// names every object below that prefix; other keys must exist.
func (s *Source) Resolve(ctx context.Context, keys []string) ([]string, error) {
	var out []string
	for _, key := range keys {
		if key == "" || strings.HasSuffix(key, "/") {
			objects, err := s.backend.List(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", key, err)
			}
			if len(objects) == 0 {
				s.logger.Warn().Str("prefix", key).Msg("No objects below prefix")
			}
			for _, obj := range objects {
				out = append(out, obj.Key)
			}
			continue
		}

		obj, err := s.backend.Stat(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", key, err)
		}
		if s.maxSize > 0 && obj.Size > s.maxSize {
			return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", storage.ErrObjectTooLarge, key, obj.Size, s.maxSize)
		}
		out = append(out, key)
	}
	return out, nil
}

// Fetch resolves keys and reads every object. Inputs are named by object
// key and returned in resolved order.
func (s *Source) Fetch(ctx context.Context, keys []string) ([]Input, error) {
	resolved, err := s.Resolve(ctx, keys)
	if err != nil {
		return nil, err
	}

	inputs := make([]Input, len(resolved))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, key := range resolved {
		g.Go(func() error {
			data, err := s.backend.Read(gctx, key, s.maxSize)
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			inputs[i] = Input{Name: key, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug().Int("objects", len(inputs)).Msg("Fetched inputs")
	return inputs, nil
}

// DeleteProcessed removes the source objects of successful results.
// Failed inputs are kept so they can be retried.
func (s *Source) DeleteProcessed(ctx context.Context, results []*Result) error {
	var errs []error
	deleted := 0
	for _, r := range results {
		if r == nil || r.Err != nil {
			continue
		}
		if err := s.backend.Delete(ctx, r.Name); err != nil {
			s.logger.Error().Err(err).Str("key", r.Name).Msg("Failed to delete source object")
			errs = append(errs, fmt.Errorf("delete %s: %w", r.Name, err))
			continue
		}
		deleted++
	}
	s.logger.Info().Int("deleted", deleted).Msg("Removed processed source objects")
	return errors.Join(errs...)
}

// URI returns the location of key in the source backend
func (s *Source) URI(key string) string {
	return s.backend.URI(key)
}

// Close closes the backend
func (s *Source) Close() error {
	return s.backend.Close()
}
