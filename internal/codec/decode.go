package codec

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/basekick-labs/arcframe/internal/arrowconv"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// Format names a payload encoding.
type Format string

const (
	FormatAuto    Format = "auto"
	FormatJSON    Format = "json"
	FormatMsgPack Format = "msgpack"
	FormatArrow   Format = "arrow" // Arrow IPC stream
	FormatParquet Format = "parquet"
)

var (
	parquetMagic     = []byte("PAR1")
	arrowStreamMagic = []byte{0xff, 0xff, 0xff, 0xff}
)

// ParseFormat maps a config value to a Format. Empty means auto.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return FormatAuto, nil
	case "json":
		return FormatJSON, nil
	case "msgpack", "messagepack":
		return FormatMsgPack, nil
	case "arrow", "arrows", "ipc":
		return FormatArrow, nil
	case "parquet":
		return FormatParquet, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// DetectFormat guesses the encoding of an uncompressed payload. Parquet and
// Arrow IPC streams are recognized by their leading magic bytes. Anything
// starting (after whitespace) with an object or array bracket is JSON.
func DetectFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, parquetMagic):
		return FormatParquet
	case bytes.HasPrefix(data, arrowStreamMagic):
		return FormatArrow
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatMsgPack
}

// Decoder turns raw payload bytes into untyped trees (maps, lists, scalars)
// ready for shape classification.
type Decoder struct {
	maxSize int64
	logger  zerolog.Logger
}

// NewDecoder creates a decoder rejecting payloads larger than maxSize bytes,
// before and after decompression.
func NewDecoder(maxSize int64, logger zerolog.Logger) *Decoder {
	return &Decoder{
		maxSize: maxSize,
		logger:  logger.With().Str("component", "codec-decoder").Logger(),
	}
}

// Decoded is the result of Decode.
type Decoded struct {
	Value       interface{}
	Format      Format
	Compression Compression
	Size        int // decompressed size in bytes
}

// Decode decompresses data if it carries a gzip or zstd header, detects the
// encoding when format is FormatAuto, and decodes it. Arrow and Parquet
// payloads decode to a *models.Frame.
//
// JSON numbers become int64 when integral and in range, float64 otherwise;
// integers too large for int64 are kept exactly as decimal.Decimal.
func (d *Decoder) Decode(data []byte, format Format) (*Decoded, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	if int64(len(data)) > d.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}

	comp := DetectCompression(data)
	buf, err := Decompress(data, comp, d.maxSize)
	if err != nil {
		return nil, err
	}
	defer buf.Release()

	if comp != CompressionNone {
		d.logger.Debug().
			Str("compression", string(comp)).
			Int("compressed_size", len(data)).
			Int("decompressed_size", len(buf.Data)).
			Msg("Decompressed payload")
	}
	if len(buf.Data) == 0 {
		return nil, ErrEmptyPayload
	}

	if format == FormatAuto || format == "" {
		format = DetectFormat(buf.Data)
	}

	var value interface{}
	switch format {
	case FormatJSON:
		value, err = decodeJSON(buf.Data)
	case FormatMsgPack:
		value, err = decodeMsgPack(buf.Data)
	case FormatArrow:
		value, err = arrowconv.ReadFrame(bytes.NewReader(buf.Data))
	case FormatParquet:
		value, err = arrowconv.ReadParquet(context.Background(), buf.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	return &Decoded{
		Value:       value,
		Format:      format,
		Compression: comp,
		Size:        len(buf.Data),
	}, nil
}

func decodeJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return normalizeNumbers(v), nil
}

func decodeMsgPack(data []byte) (interface{}, error) {
	// Decode to generic interface{} so both map and array payloads are accepted
	var v interface{}
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal msgpack: %w", err)
	}
	return v, nil
}

// normalizeNumbers replaces json.Number leaves in place.
func normalizeNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case json.Number:
		return numberValue(string(val))
	case map[string]interface{}:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	}
	return v
}

func numberValue(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if !strings.ContainsAny(s, ".eE") {
		if d, err := decimal.NewFromString(s); err == nil {
			return d
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) {
		return f
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d
	}
	return s
}
