package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/basekick-labs/arcframe/internal/config"
	"github.com/basekick-labs/arcframe/internal/logger"
	"github.com/basekick-labs/arcframe/internal/metrics"
	"github.com/basekick-labs/arcframe/internal/pipeline"
	"github.com/basekick-labs/arcframe/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"log-level":        "log.level",
	"log-format":       "log.format",
	"input-format":     "input.format",
	"max-payload-size": "input.max_payload_size",
	"source":           "input.source",
	"delete-source":    "input.delete_source",
	"metrics-file":     "metrics.textfile",
	"normalize":        "convert.normalize",
	"time-alias":       "convert.time_aliases",
	"field":            "convert.sort_field",
	"desc":             "convert.sort_descending",
	"format":           "output.format",
	"compression":      "output.compression",
	"workers":          "output.workers",
	"hint":             "output.legacy_hint",
	"backend":          "storage.backend",
	"output-dir":       "storage.local_path",
	"prefix":           "storage.prefix",
}

// app carries the state shared by every subcommand
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	v          *viper.Viper
	cfg        *config.Config
	metrics    *metrics.Metrics
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "arcframe",
		Short:         "Convert legacy query results into canonical columnar frames",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default: ./arcframe.toml, /etc/arcframe/, $HOME/.arcframe/)")
	pf.String("log-level", "info", "log level (trace, debug, info, warn, error, disabled)")
	pf.String("log-format", "json", "log format (json, console)")
	pf.String("input-format", "auto", "payload encoding (auto, json, msgpack, arrow, parquet)")
	pf.String("source", "files", "where inputs are read from (files, local, s3, azure); storage sources take object keys, a trailing / lists a prefix")
	pf.String("max-payload-size", "100MB", "maximum payload size, before and after decompression")
	pf.String("metrics-file", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		newClassifyCmd(a),
		newConvertCmd(a),
		newLegacyCmd(a),
		newSortCmd(a),
		newInferCmd(a),
		newListCmd(a),
	)
	return root
}

// load reads configuration (defaults, file, environment, flags) and sets up logging
func (a *app) load(cmd *cobra.Command) error {
	v, err := config.NewViper(a.configPath)
	if err != nil {
		return err
	}

	var bindErr error
	bind := func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = v.BindPFlag(key, f)
		}
	}
	cmd.InheritedFlags().VisitAll(bind)
	cmd.LocalFlags().VisitAll(bind)
	if bindErr != nil {
		return fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	a.v = v
	return nil
}

// loadConfig decodes and validates the configuration. Commands may override keys first.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.Decode(a.v)
	if err != nil {
		return nil, err
	}
	logger.SetupWriter(cfg.Log.Level, cfg.Log.Format, a.stderr)
	a.cfg = cfg
	a.metrics = metrics.Init(logger.Get("metrics"))
	return cfg, nil
}

// readInputs reads the inputs named on the command line. With a storage
// input.source the names are object keys and the returned source must be
// closed by the caller. Otherwise they are files; "-" or no names at all reads stdin.
func (a *app) readInputs(ctx context.Context, cfg *config.Config, names []string) ([]pipeline.Input, *pipeline.Source, error) {
	if cfg.Input.FromStorage() {
		return a.fetchInputs(ctx, cfg, names)
	}

	if len(names) == 0 {
		names = []string{"-"}
	}
	inputs := make([]pipeline.Input, 0, len(names))
	for _, name := range names {
		var data []byte
		var err error
		if name == "-" {
			data, err = io.ReadAll(a.stdin)
			name = "stdin"
		} else {
			data, err = os.ReadFile(name)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		inputs = append(inputs, pipeline.Input{Name: name, Data: data})
	}
	return inputs, nil, nil
}

func (a *app) fetchInputs(ctx context.Context, cfg *config.Config, keys []string) ([]pipeline.Input, *pipeline.Source, error) {
	if len(keys) == 0 {
		return nil, nil, fmt.Errorf("input.source %s needs at least one object key or prefix", cfg.Input.Source)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	log := logger.Get("source")
	srcCfg := cfg.SourceStorage()
	backend, err := storage.NewBackend(&srcCfg, log)
	if err != nil {
		return nil, nil, err
	}
	src := pipeline.NewSource(backend, cfg.Input.MaxPayloadSize, cfg.Output.Workers, log)
	inputs, err := src.Fetch(ctx, keys)
	if err != nil {
		return nil, nil, errors.Join(err, src.Close())
	}
	return inputs, src, nil
}

// writeMetrics writes the metrics textfile when one is configured
func (a *app) writeMetrics() error {
	if a.cfg == nil || a.cfg.Metrics.Textfile == "" {
		return nil
	}
	return a.metrics.WriteTextfile(a.cfg.Metrics.Textfile)
}
