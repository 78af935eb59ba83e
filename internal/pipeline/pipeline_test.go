package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/basekick-labs/arcframe/internal/arrowconv"
	"github.com/basekick-labs/arcframe/internal/codec"
	"github.com/basekick-labs/arcframe/internal/config"
	"github.com/basekick-labs/arcframe/internal/storage"
	"github.com/basekick-labs/arcframe/pkg/dataframe"
	"github.com/basekick-labs/arcframe/pkg/models"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memSink keeps written objects in memory
type memSink struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func newMemSink() *memSink {
	return &memSink{objects: map[string][]byte{}}
}

func (s *memSink) Write(ctx context.Context, key string, data []byte) error {
	if s.fail != nil {
		return s.fail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *memSink) URI(key string) string { return "mem://" + key }
func (s *memSink) Type() string          { return "mem" }
func (s *memSink) Close() error          { return nil }

func (s *memSink) get(t *testing.T, key string) []byte {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	require.True(t, ok, "object %s not written", key)
	return data
}

func defaultOptions() *Options {
	return &Options{
		InputFormat:    codec.FormatAuto,
		MaxPayloadSize: 1 << 20,
		SortField:      -1,
		OutputFormat:   OutputFrame,
		Compression:    "none",
		LegacyHint:     models.ShapeUnknown,
		Prefix:         "frames",
		Workers:        4,
	}
}

func newProcessor(t *testing.T, opts *Options, sink storage.Sink) *Processor {
	t.Helper()
	p, err := New(opts, sink, zerolog.Nop())
	require.NoError(t, err)
	return p
}

const timeSeriesPayload = `{"target":"cpu","datapoints":[[1.5,1000],[2.5,2000],[0.5,3000]],"refId":"A"}`

type wireField struct {
	Name   string        `json:"name"`
	Type   string        `json:"type"`
	Values []interface{} `json:"values"`
}

type wireFrame struct {
	Fields []wireField `json:"fields"`
}

func decodeFrame(t *testing.T, data []byte) wireFrame {
	t.Helper()
	var f wireFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestProcessTimeSeriesToFrame(t *testing.T) {
	sink := newMemSink()
	p := newProcessor(t, defaultOptions(), sink)

	res := p.Process(context.Background(), Input{Name: "cpu.json", Data: []byte(timeSeriesPayload)})
	require.NoError(t, res.Err)

	assert.Equal(t, models.ShapeTimeSeries, res.Shape)
	assert.Equal(t, 3, res.Rows)
	assert.Equal(t, 2, res.Fields)
	assert.True(t, strings.HasPrefix(res.Key, "frames/"), res.Key)
	assert.True(t, strings.HasSuffix(res.Key, ".json"), res.Key)
	assert.Equal(t, "mem://"+res.Key, res.URI)

	out := decodeFrame(t, sink.get(t, res.Key))
	require.Len(t, out.Fields, 2)
	assert.Equal(t, "cpu", out.Fields[0].Name)
	assert.Equal(t, []interface{}{1.5, 2.5, 0.5}, out.Fields[0].Values)
	assert.Equal(t, dataframe.DefaultTimeFieldName, out.Fields[1].Name)
	assert.Equal(t, "time", out.Fields[1].Type)
}

func TestProcessNormalizeAndSort(t *testing.T) {
	opts := defaultOptions()
	opts.Normalize = true
	opts.SortField = 1
	opts.SortDescending = true
	sink := newMemSink()
	p := newProcessor(t, opts, sink)

	payload := `{"columns":[{"text":"host"},{"text":"load"},{"text":"date"}],
		"rows":[["a",1,"2026-01-01T00:00:00Z"],["b",3,"2026-01-02T00:00:00Z"],["c",2,"2026-01-03T00:00:00Z"]]}`
	res := p.Process(context.Background(), Input{Name: "table.json", Data: []byte(payload)})
	require.NoError(t, res.Err)
	assert.Equal(t, models.ShapeTable, res.Shape)

	out := decodeFrame(t, sink.get(t, res.Key))
	require.Len(t, out.Fields, 3)
	assert.Equal(t, "string", out.Fields[0].Type)
	assert.Equal(t, "number", out.Fields[1].Type)
	assert.Equal(t, "time", out.Fields[2].Type)
	assert.Equal(t, []interface{}{"b", "c", "a"}, out.Fields[0].Values)
}

func TestProcessLegacyOutput(t *testing.T) {
	opts := defaultOptions()
	opts.OutputFormat = OutputLegacy
	sink := newMemSink()
	p := newProcessor(t, opts, sink)

	res := p.Process(context.Background(), Input{Name: "cpu.json", Data: []byte(timeSeriesPayload)})
	require.NoError(t, res.Err)

	var ts map[string]interface{}
	require.NoError(t, json.Unmarshal(sink.get(t, res.Key), &ts))
	assert.Equal(t, "cpu", ts["target"])
	assert.Equal(t, "A", ts["refId"])
	assert.Len(t, ts["datapoints"], 3)

	opts.LegacyHint = models.ShapeTable
	p = newProcessor(t, opts, sink)
	res = p.Process(context.Background(), Input{Name: "cpu.json", Data: []byte(timeSeriesPayload)})
	require.NoError(t, res.Err)

	var table map[string]interface{}
	require.NoError(t, json.Unmarshal(sink.get(t, res.Key), &table))
	assert.Equal(t, dataframe.TableType, table["type"])
	assert.Len(t, table["rows"], 3)
}

func TestProcessOutputFormats(t *testing.T) {
	tests := []struct {
		format      string
		compression string
		ext         string
	}{
		{OutputFrame, "gzip", ".json.gz"},
		{OutputMsgPack, "none", ".msgpack"},
		{OutputMsgPack, "zstd", ".msgpack.zst"},
		{OutputArrow, "none", ".arrows"},
		{OutputArrow, "gzip", ".arrows.gz"},
		{OutputParquet, "snappy", ".parquet"},
		{OutputParquet, "zstd", ".parquet"},
	}

	for _, tt := range tests {
		t.Run(tt.format+"/"+tt.compression, func(t *testing.T) {
			opts := defaultOptions()
			opts.OutputFormat = tt.format
			opts.Compression = tt.compression
			sink := newMemSink()
			p := newProcessor(t, opts, sink)

			res := p.Process(context.Background(), Input{Name: "cpu.json", Data: []byte(timeSeriesPayload)})
			require.NoError(t, res.Err)
			assert.True(t, strings.HasSuffix(res.Key, tt.ext), "key %s, want suffix %s", res.Key, tt.ext)
			data := sink.get(t, res.Key)

			decoded, err := codec.NewDecoder(1<<20, zerolog.Nop()).Decode(data, codec.FormatAuto)
			require.NoError(t, err)
			frame := dataframe.ToFrame(decoded.Value)
			require.Len(t, frame.Fields, 2)
			assert.Equal(t, 3, frame.Length())
			assert.Equal(t, "cpu", frame.Fields[0].Name)
		})
	}
}

func TestProcessErrors(t *testing.T) {
	t.Run("empty payload", func(t *testing.T) {
		p := newProcessor(t, defaultOptions(), newMemSink())
		res := p.Process(context.Background(), Input{Name: "empty"})
		assert.ErrorIs(t, res.Err, codec.ErrEmptyPayload)
	})

	t.Run("payload too large", func(t *testing.T) {
		opts := defaultOptions()
		opts.MaxPayloadSize = 8
		p := newProcessor(t, opts, newMemSink())
		res := p.Process(context.Background(), Input{Name: "big", Data: []byte(timeSeriesPayload)})
		assert.ErrorIs(t, res.Err, codec.ErrPayloadTooLarge)
	})

	t.Run("sort field out of range", func(t *testing.T) {
		opts := defaultOptions()
		opts.SortField = 5
		p := newProcessor(t, opts, newMemSink())
		res := p.Process(context.Background(), Input{Name: "cpu", Data: []byte(timeSeriesPayload)})
		assert.ErrorIs(t, res.Err, dataframe.ErrFieldIndexOutOfRange)
		assert.Equal(t, models.ShapeTimeSeries, res.Shape)
	})

	t.Run("sink failure", func(t *testing.T) {
		sink := newMemSink()
		sink.fail = errors.New("disk full")
		p := newProcessor(t, defaultOptions(), sink)
		res := p.Process(context.Background(), Input{Name: "cpu", Data: []byte(timeSeriesPayload)})
		require.Error(t, res.Err)
		assert.Contains(t, res.Err.Error(), "disk full")
		assert.Empty(t, res.Key)
	})

	t.Run("unknown shape writes empty frame", func(t *testing.T) {
		sink := newMemSink()
		p := newProcessor(t, defaultOptions(), sink)
		res := p.Process(context.Background(), Input{Name: "odd", Data: []byte(`[1, 2, 3]`)})
		require.NoError(t, res.Err)
		assert.Equal(t, models.ShapeUnknown, res.Shape)
		assert.Equal(t, 0, res.Fields)
		assert.Empty(t, decodeFrame(t, sink.get(t, res.Key)).Fields)
	})
}

func TestNewRejectsBadOptions(t *testing.T) {
	opts := defaultOptions()
	opts.OutputFormat = "csv"
	_, err := New(opts, newMemSink(), zerolog.Nop())
	assert.ErrorIs(t, err, codec.ErrUnsupportedFormat)

	opts = defaultOptions()
	opts.Compression = "lz4"
	_, err = New(opts, newMemSink(), zerolog.Nop())
	assert.Error(t, err)

	opts = defaultOptions()
	opts.MaxPayloadSize = 0
	_, err = New(opts, newMemSink(), zerolog.Nop())
	assert.Error(t, err)
}

func TestProcessBatch(t *testing.T) {
	sink := newMemSink()
	opts := defaultOptions()
	opts.Workers = 3
	p := newProcessor(t, opts, sink)

	var inputs []Input
	for i := 0; i < 20; i++ {
		payload := fmt.Sprintf(`{"target":"s%d","datapoints":[[%d,1000]]}`, i, i)
		inputs = append(inputs, Input{Name: fmt.Sprintf("in-%02d", i), Data: []byte(payload)})
	}
	inputs[7].Data = nil

	results, err := p.ProcessBatch(context.Background(), inputs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in-07")
	assert.ErrorIs(t, err, codec.ErrEmptyPayload)

	require.Len(t, results, 20)
	for i, r := range results {
		assert.Equal(t, inputs[i].Name, r.Name)
		if i == 7 {
			assert.Error(t, r.Err)
			continue
		}
		require.NoError(t, r.Err)
		out := decodeFrame(t, sink.get(t, r.Key))
		assert.Equal(t, fmt.Sprintf("s%d", i), out.Fields[0].Name)
	}
	assert.Len(t, sink.objects, 19)
}

func TestProcessBatchCancelled(t *testing.T) {
	sink := newMemSink()
	p := newProcessor(t, defaultOptions(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inputs := []Input{
		{Name: "a", Data: []byte(timeSeriesPayload)},
		{Name: "b", Data: []byte(timeSeriesPayload)},
	}
	results, err := p.ProcessBatch(ctx, inputs)
	assert.ErrorIs(t, err, context.Canceled)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Empty(t, sink.objects)
}

func TestProcessBatchLocalBackend(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	opts := defaultOptions()
	opts.OutputFormat = OutputParquet
	opts.Compression = "snappy"
	p := newProcessor(t, opts, backend)
	p.now = func() time.Time { return time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC) }
	defer p.Close()

	results, err := p.ProcessBatch(context.Background(), []Input{
		{Name: "a", Data: []byte(timeSeriesPayload)},
		{Name: "b", Data: []byte(`{"fields":[{"name":"x","values":[1,2]}]}`)},
	})
	require.NoError(t, err)

	objects, err := backend.List(context.Background(), "frames/2026/05/04/")
	require.NoError(t, err)
	assert.Len(t, objects, 2)

	data, err := backend.Read(context.Background(), results[1].Key, 0)
	require.NoError(t, err)
	frame, err := arrowconv.ReadParquet(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Length())
}

func TestProcessParquetInputs(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	opts := defaultOptions()
	opts.OutputFormat = OutputParquet
	opts.Compression = "zstd"
	opts.Prefix = "stage"
	writer := newProcessor(t, opts, backend)
	res := writer.Process(context.Background(), Input{Name: "cpu.json", Data: []byte(timeSeriesPayload)})
	require.NoError(t, res.Err)

	src := NewSource(backend, 1<<20, 2, zerolog.Nop())
	inputs, err := src.Fetch(context.Background(), []string{"stage/"})
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Equal(t, res.Key, inputs[0].Name)

	opts = defaultOptions()
	opts.OutputFormat = OutputLegacy
	sink := newMemSink()
	reader := newProcessor(t, opts, sink)
	results, err := reader.ProcessBatch(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, models.ShapeFrame, results[0].Shape)
	assert.Equal(t, 3, results[0].Rows)

	var ts map[string]interface{}
	require.NoError(t, json.Unmarshal(sink.get(t, results[0].Key), &ts))
	assert.Equal(t, "cpu", ts["target"])
	assert.Equal(t, "A", ts["refId"])
}

func TestProcessArrowInput(t *testing.T) {
	frame := dataframe.ToFrame(map[string]interface{}{
		"columns": []interface{}{map[string]interface{}{"text": "host"}, map[string]interface{}{"text": "load"}},
		"rows":    []interface{}{[]interface{}{"a", 2.0}, []interface{}{"b", 1.0}},
	})
	data, err := arrowconv.NewIPCEncoder(arrowconv.NewConverter(nil, zerolog.Nop())).EncodeFrame(frame)
	require.NoError(t, err)

	opts := defaultOptions()
	opts.InputFormat = codec.FormatArrow
	opts.SortField = 1
	sink := newMemSink()
	p := newProcessor(t, opts, sink)

	res := p.Process(context.Background(), Input{Name: "table.arrows", Data: data})
	require.NoError(t, res.Err)
	assert.Equal(t, models.ShapeFrame, res.Shape)

	out := decodeFrame(t, sink.get(t, res.Key))
	require.Len(t, out.Fields, 2)
	assert.Equal(t, []interface{}{"b", "a"}, out.Fields[0].Values)
}

func TestSourceFetch(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, backend.Write(ctx, "raw/a.json", []byte(timeSeriesPayload)))
	require.NoError(t, backend.Write(ctx, "raw/b.json", []byte(`{"fields":[]}`)))
	require.NoError(t, backend.Write(ctx, "other/c.json", []byte(`[]`)))

	src := NewSource(backend, 1<<20, 2, zerolog.Nop())

	t.Run("keys and prefixes", func(t *testing.T) {
		inputs, err := src.Fetch(ctx, []string{"other/c.json", "raw/"})
		require.NoError(t, err)
		require.Len(t, inputs, 3)
		assert.Equal(t, "other/c.json", inputs[0].Name)
		assert.Equal(t, "raw/a.json", inputs[1].Name)
		assert.Equal(t, "raw/b.json", inputs[2].Name)
		assert.Equal(t, timeSeriesPayload, string(inputs[1].Data))
	})

	t.Run("whole backend", func(t *testing.T) {
		keys, err := src.Resolve(ctx, []string{""})
		require.NoError(t, err)
		assert.Equal(t, []string{"other/c.json", "raw/a.json", "raw/b.json"}, keys)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := src.Fetch(ctx, []string{"raw/a.json", "raw/nope.json"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("empty prefix", func(t *testing.T) {
		inputs, err := src.Fetch(ctx, []string{"nothing/"})
		require.NoError(t, err)
		assert.Empty(t, inputs)
	})

	t.Run("too large", func(t *testing.T) {
		small := NewSource(backend, 16, 1, zerolog.Nop())
		_, err := small.Fetch(ctx, []string{"raw/a.json"})
		assert.ErrorIs(t, err, storage.ErrObjectTooLarge)

		_, err = small.Fetch(ctx, []string{"raw/"})
		assert.ErrorIs(t, err, storage.ErrObjectTooLarge)
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := src.Fetch(cctx, []string{"raw/a.json"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSourceDeleteProcessed(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, backend.Write(ctx, "raw/good.json", []byte(timeSeriesPayload)))
	require.NoError(t, backend.Write(ctx, "raw/bad.json", []byte(`{"target":"x","datapoints":[[1,2]]`)))

	src := NewSource(backend, 1<<20, 2, zerolog.Nop())
	defer src.Close()
	inputs, err := src.Fetch(ctx, []string{"raw/"})
	require.NoError(t, err)

	p := newProcessor(t, defaultOptions(), newMemSink())
	results, err := p.ProcessBatch(ctx, inputs)
	require.Error(t, err)

	require.NoError(t, src.DeleteProcessed(ctx, results))

	_, err = backend.Stat(ctx, "raw/good.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = backend.Stat(ctx, "raw/bad.json")
	assert.NoError(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Input:   config.InputConfig{Format: "json", MaxPayloadSize: 1024},
		Convert: config.ConvertConfig{Normalize: true, TimeAliases: []string{"ts"}, SortField: 2, SortDescending: true},
		Output:  config.OutputConfig{Format: "legacy", Compression: "gzip", Workers: 7, LegacyHint: "table"},
		Storage: config.StorageConfig{Backend: "stdout", Prefix: "out"},
	}

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, codec.FormatJSON, opts.InputFormat)
	assert.Equal(t, int64(1024), opts.MaxPayloadSize)
	assert.True(t, opts.Normalize)
	assert.Equal(t, []string{"ts"}, opts.TimeAliases)
	assert.Equal(t, 2, opts.SortField)
	assert.True(t, opts.SortDescending)
	assert.Equal(t, OutputLegacy, opts.OutputFormat)
	assert.Equal(t, models.ShapeTable, opts.LegacyHint)
	assert.Equal(t, "out", opts.Prefix)
	assert.Equal(t, 7, opts.Workers)

	cfg.Output.LegacyHint = "pie"
	_, err = OptionsFromConfig(cfg)
	assert.Error(t, err)
}
