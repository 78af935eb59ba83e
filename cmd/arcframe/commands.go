package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basekick-labs/arcframe/internal/codec"
	"github.com/basekick-labs/arcframe/internal/logger"
	"github.com/basekick-labs/arcframe/internal/pipeline"
	"github.com/basekick-labs/arcframe/internal/shutdown"
	"github.com/basekick-labs/arcframe/internal/storage"
	"github.com/basekick-labs/arcframe/pkg/dataframe"
	"github.com/basekick-labs/arcframe/pkg/models"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// addOutputFlags registers the flags shared by commands that write frames
func addOutputFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("compression", "none", "output compression (none, gzip, zstd; parquet: snappy, gzip, zstd, none)")
	f.Bool("normalize", false, "infer types of untyped fields")
	f.StringSlice("time-alias", []string{"time", "date"}, "field names always typed as time")
	f.String("backend", "stdout", "storage backend (stdout, local, s3, azure)")
	f.String("output-dir", "./data/arcframe", "base directory of the local backend")
	f.String("prefix", "", "object key prefix")
	f.Int("workers", 0, "concurrent conversions (default: number of CPUs)")
	f.Bool("delete-source", false, "delete source objects once converted (storage sources only)")
}

func newClassifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "classify [file...]",
		Short: "Print the shape of each payload (frame, dto, table, timeseries, docs, unknown)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			inputs, src, err := a.readInputs(cmd.Context(), cfg, args)
			if err != nil {
				return err
			}
			if src != nil {
				defer src.Close()
			}
			format, err := codec.ParseFormat(cfg.Input.Format)
			if err != nil {
				return err
			}

			dec := codec.NewDecoder(cfg.Input.MaxPayloadSize, logger.Get("codec"))
			for _, in := range inputs {
				decoded, err := dec.Decode(in.Data, format)
				if err != nil {
					a.metrics.IncErrors("decode")
					return fmt.Errorf("%s: %w", in.Name, err)
				}
				shape := dataframe.Classify(decoded.Value)
				a.metrics.IncShapeClassified(string(shape))

				if len(inputs) == 1 {
					fmt.Fprintln(a.stdout, shape)
				} else {
					fmt.Fprintf(a.stdout, "%s\t%s\n", in.Name, shape)
				}
			}
			return a.writeMetrics()
		},
	}
}

func newConvertCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert [file...]",
		Short: "Convert payloads to canonical frames and write them in the output format",
		Long: `Convert decodes each payload (JSON, MessagePack, an Arrow IPC stream or
Parquet; JSON and MessagePack optionally gzip or zstd compressed), converts it
to a canonical frame and writes it to the configured storage backend as a
columnar frame (JSON), a legacy shape, MessagePack, an Arrow IPC stream or
Parquet. Inputs are files, or object keys when --source names a storage
backend. Several inputs are converted concurrently.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConvert(cmd.Context(), args)
		},
	}
	addOutputFlags(cmd)
	cmd.Flags().String("format", "frame", "output format (frame, legacy, msgpack, arrow, parquet)")
	cmd.Flags().String("hint", "", "legacy shape for --format legacy (table, timeseries, docs, dto)")
	cmd.Flags().Int("field", -1, "sort by this field index (-1 disables sorting)")
	cmd.Flags().Bool("desc", false, "sort descending")
	return cmd
}

func newLegacyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "legacy [file...]",
		Short: "Convert payloads to frames and project them back onto a legacy shape",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.v.Set("output.format", pipeline.OutputLegacy)
			return a.runConvert(cmd.Context(), args)
		},
	}
	addOutputFlags(cmd)
	cmd.Flags().String("hint", "", "legacy shape to produce (table, timeseries, docs, dto); empty lets the frame decide")
	return cmd
}

func newSortCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sort [file...]",
		Short: "Convert payloads to frames and reorder their rows by one field",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConvert(cmd.Context(), args)
		},
	}
	addOutputFlags(cmd)
	cmd.Flags().String("format", "frame", "output format (frame, legacy, msgpack, arrow, parquet)")
	cmd.Flags().Int("field", -1, "index of the field to sort by")
	cmd.Flags().Bool("desc", false, "sort descending")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func newInferCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "infer <value...>",
		Short: "Print the inferred field type of each value",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dec := codec.NewDecoder(1<<20, logger.Get("codec"))
			for _, arg := range args {
				var value interface{} = arg
				if asJSON {
					decoded, err := dec.Decode([]byte(arg), codec.FormatJSON)
					if err != nil {
						return fmt.Errorf("%q: %w", arg, err)
					}
					value = decoded.Value
				}
				typ := dataframe.InferFromValue(value)
				if typ == models.FieldTypeUndefined {
					typ = "undefined"
				}
				fmt.Fprintf(a.stdout, "%s\t%s\n", arg, typ)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "parse each value as a JSON literal")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list [prefix...]",
		Short: "List the objects stored in the storage backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				args = []string{cfg.Storage.Prefix}
			}
			backend, err := storage.NewBackend(&cfg.Storage, logger.Get("storage"))
			if err != nil {
				return err
			}
			defer backend.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			for _, prefix := range args {
				objects, err := backend.List(ctx, prefix)
				if err != nil {
					return err
				}
				for _, obj := range objects {
					fmt.Fprintf(a.stdout, "%s\t%d\t%s\n", backend.URI(obj.Key), obj.Size, obj.Modified.UTC().Format(time.RFC3339))
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("backend", "", "storage backend to list (local, s3, azure)")
	f.String("output-dir", "./data/arcframe", "base directory of the local backend")
	return cmd
}

// runConvert runs the configured pipeline over every input
func (a *app) runConvert(ctx context.Context, args []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	inputs, src, err := a.readInputs(ctx, cfg, args)
	if err != nil {
		return err
	}
	if src != nil {
		defer src.Close()
	}
	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}

	log := logger.Get("arcframe")
	sink, err := storage.New(&cfg.Storage, a.stdout, log)
	if err != nil {
		return err
	}
	if sink.Type() == "stdout" {
		// One writer keeps stdout in input order
		opts.Workers = 1
	}
	proc, err := newProcessor(opts, sink, log)
	if err != nil {
		return err
	}

	coord := shutdown.New(shutdownTimeout, log)
	coord.Register("storage", proc, shutdown.PriorityStorage)
	coord.RegisterFunc("metrics", func(context.Context) error {
		return a.writeMetrics()
	}, shutdown.PriorityMetrics)

	ctx, cancel := shutdown.SignalContext(ctx, log)
	defer cancel()

	results, batchErr := proc.ProcessBatch(ctx, inputs)
	if sink.Type() != "stdout" {
		for _, r := range results {
			if r.Err == nil {
				fmt.Fprintf(a.stdout, "%s\t%s\n", r.Name, r.URI)
			}
		}
	}
	var deleteErr error
	if cfg.Input.DeleteSource && src != nil {
		deleteErr = src.DeleteProcessed(ctx, results)
	}
	return errors.Join(batchErr, deleteErr, coord.Shutdown())
}

// newProcessor creates the pipeline processor, closing sink when that fails
func newProcessor(opts *pipeline.Options, sink storage.Sink, log zerolog.Logger) (*pipeline.Processor, error) {
	proc, err := pipeline.New(opts, sink, log)
	if err != nil {
		return nil, errors.Join(err, sink.Close())
	}
	return proc, nil
}
