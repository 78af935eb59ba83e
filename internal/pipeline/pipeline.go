package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basekick-labs/arcframe/internal/arrowconv"
	"github.com/basekick-labs/arcframe/internal/codec"
	"github.com/basekick-labs/arcframe/internal/config"
	"github.com/basekick-labs/arcframe/internal/metrics"
	"github.com/basekick-labs/arcframe/internal/storage"
	"github.com/basekick-labs/arcframe/pkg/dataframe"
	"github.com/basekick-labs/arcframe/pkg/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Options configures a Processor
type Options struct {
	InputFormat    codec.Format
	MaxPayloadSize int64

	Normalize      bool
	TimeAliases    []string
	SortField      int // -1 disables sorting
	SortDescending bool

	OutputFormat string // frame, legacy, msgpack, arrow, parquet
	Compression  string
	LegacyHint   models.ShapeTag
	Prefix       string // object key prefix

	Workers int
}

// OptionsFromConfig maps the input, convert, output and storage sections of cfg
func OptionsFromConfig(cfg *config.Config) (*Options, error) {
	format, err := codec.ParseFormat(cfg.Input.Format)
	if err != nil {
		return nil, err
	}
	hint := models.ShapeUnknown
	if cfg.Output.LegacyHint != "" {
		var ok bool
		if hint, ok = models.ParseShapeTag(cfg.Output.LegacyHint); !ok {
			return nil, fmt.Errorf("invalid output.legacy_hint %q", cfg.Output.LegacyHint)
		}
	}
	return &Options{
		InputFormat:    format,
		MaxPayloadSize: cfg.Input.MaxPayloadSize,
		Normalize:      cfg.Convert.Normalize,
		TimeAliases:    cfg.Convert.TimeAliases,
		SortField:      cfg.Convert.SortField,
		SortDescending: cfg.Convert.SortDescending,
		OutputFormat:   cfg.Output.Format,
		Compression:    cfg.Output.Compression,
		LegacyHint:     hint,
		Prefix:         cfg.Storage.Prefix,
		Workers:        cfg.Output.Workers,
	}, nil
}

// Input is one raw payload. Name identifies it in logs and results.
type Input struct {
	Name string
	Data []byte
}

// Result describes one processed payload
type Result struct {
	Name   string
	Shape  models.ShapeTag
	Rows   int
	Fields int
	Key    string
	URI    string
	Bytes  int
	Err    error
}

// Processor turns raw payloads into canonical frames and writes them to a sink
type Processor struct {
	opts       Options
	decoder    *codec.Decoder
	inferencer *dataframe.Inferencer
	encoder    FrameEncoder
	sink       storage.Sink
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a processor writing to sink
func New(opts *Options, sink storage.Sink, logger zerolog.Logger) (*Processor, error) {
	if opts.MaxPayloadSize <= 0 {
		return nil, fmt.Errorf("max payload size must be positive")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	log := logger.With().Str("component", "pipeline").Logger()
	inferencer := dataframe.NewInferencer(opts.TimeAliases...)
	encoder, err := NewFrameEncoder(opts.OutputFormat, opts.Compression, opts.LegacyHint,
		arrowconv.NewConverter(inferencer, logger))
	if err != nil {
		return nil, err
	}

	return &Processor{
		opts:       *opts,
		decoder:    codec.NewDecoder(opts.MaxPayloadSize, logger),
		inferencer: inferencer,
		encoder:    encoder,
		sink:       sink,
		metrics:    metrics.Get(),
		logger:     log,
		now:        time.Now,
	}, nil
}

// Prepare decodes data and converts it to a frame, applying normalization
// and sorting as configured. Unrecognized payloads yield an empty frame.
func (p *Processor) Prepare(data []byte) (*models.Frame, models.ShapeTag, error) {
	start := time.Now()
	decoded, err := p.decoder.Decode(data, p.opts.InputFormat)
	if err != nil {
		p.metrics.IncErrors("decode")
		return nil, models.ShapeUnknown, fmt.Errorf("decode: %w", err)
	}
	p.metrics.IncPayloadsDecoded(string(decoded.Format), string(decoded.Compression))
	p.metrics.AddPayloadBytes(decoded.Size)
	p.metrics.ObserveStage("decode", start)

	start = time.Now()
	shape := dataframe.Classify(decoded.Value)
	p.metrics.IncShapeClassified(string(shape))
	if shape == models.ShapeUnknown {
		p.logger.Warn().
			Str("format", string(decoded.Format)).
			Msg("Payload shape not recognized, producing an empty frame")
	}

	frame := dataframe.ToFrame(decoded.Value)
	if p.opts.Normalize {
		normalized := p.inferencer.Normalize(frame)
		p.metrics.AddTypesInferred(countInferred(frame, normalized))
		frame = normalized
	}
	p.metrics.IncFramesConverted(string(frame.Origin), frame.Length(), len(frame.Fields))
	p.metrics.ObserveStage("convert", start)

	if p.opts.SortField >= 0 {
		start = time.Now()
		sorted, err := dataframe.Sort(frame, p.opts.SortField, p.opts.SortDescending)
		if err != nil {
			p.metrics.IncErrors("sort")
			return nil, shape, fmt.Errorf("sort: %w", err)
		}
		frame = sorted
		p.metrics.IncFramesSorted()
		p.metrics.ObserveStage("sort", start)
	}

	p.logger.Debug().
		Str("shape", string(shape)).
		Int("fields", len(frame.Fields)).
		Int("rows", frame.Length()).
		Msg("Converted payload")
	return frame, shape, nil
}

// Emit encodes frame in the configured output format and writes it to the sink
func (p *Processor) Emit(ctx context.Context, frame *models.Frame) (key string, size int, err error) {
	start := time.Now()
	data, err := p.encoder.EncodeFrame(frame)
	if err != nil {
		p.metrics.IncErrors("encode")
		return "", 0, fmt.Errorf("encode: %w", err)
	}
	p.metrics.IncFramesEncoded(p.outputFormat())
	p.metrics.ObserveStage("encode", start)

	start = time.Now()
	key = storage.NewObjectKey(p.opts.Prefix, p.encoder.Extension(), p.now())
	if err := p.sink.Write(ctx, key, data); err != nil {
		p.metrics.IncErrors("write")
		return "", 0, fmt.Errorf("write: %w", err)
	}
	p.metrics.IncStorageWrite(p.sink.Type(), len(data))
	p.metrics.ObserveStage("write", start)
	return key, len(data), nil
}

// Process runs one payload through the whole pipeline
func (p *Processor) Process(ctx context.Context, in Input) *Result {
	res := &Result{Name: in.Name, Shape: models.ShapeUnknown}

	frame, shape, err := p.Prepare(in.Data)
	res.Shape = shape
	if err != nil {
		res.Err = err
		return res
	}
	res.Rows = frame.Length()
	res.Fields = len(frame.Fields)

	key, size, err := p.Emit(ctx, frame)
	if err != nil {
		res.Err = err
		return res
	}
	res.Key = key
	res.URI = p.sink.URI(key)
	res.Bytes = size

	p.logger.Info().
		Str("input", in.Name).
		Str("shape", string(shape)).
		Int("rows", res.Rows).
		Int("bytes", size).
		Str("uri", res.URI).
		Msg("Wrote frame")
	return res
}

// ProcessBatch processes inputs concurrently with at most Workers in flight.
// Results are returned in input order. A failing input does not stop the
// others; the returned error joins every per-input failure. Cancelling ctx
// stops inputs that have not started.
func (p *Processor) ProcessBatch(ctx context.Context, inputs []Input) ([]*Result, error) {
	results := make([]*Result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)

	for i, in := range inputs {
		if gctx.Err() != nil {
			results[i] = &Result{Name: in.Name, Shape: models.ShapeUnknown, Err: gctx.Err()}
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = &Result{Name: in.Name, Shape: models.ShapeUnknown, Err: err}
				return nil
			}
			results[i] = p.Process(gctx, in)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			p.logger.Error().
				Err(r.Err).
				Str("input", r.Name).
				Msg("Failed to process input")
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}

	p.logger.Debug().
		Int("inputs", len(inputs)).
		Int("failed", len(errs)).
		Int("workers", p.opts.Workers).
		Msg("Batch complete")
	return results, errors.Join(errs...)
}

// Close closes the sink
func (p *Processor) Close() error {
	return p.sink.Close()
}

func (p *Processor) outputFormat() string {
	if p.opts.OutputFormat == "" {
		return OutputFrame
	}
	return p.opts.OutputFormat
}

// countInferred counts fields whose type was filled in by normalization
func countInferred(before, after *models.Frame) int {
	n := 0
	for i, f := range before.Fields {
		if f.Type == models.FieldTypeUndefined && after.Fields[i].Type != models.FieldTypeUndefined {
			n++
		}
	}
	return n
}
