package pipeline

import (
	"fmt"

	"github.com/basekick-labs/arcframe/internal/arrowconv"
	"github.com/basekick-labs/arcframe/internal/codec"
	"github.com/basekick-labs/arcframe/internal/metrics"
	"github.com/basekick-labs/arcframe/pkg/dataframe"
	"github.com/basekick-labs/arcframe/pkg/models"
)

// Output formats
const (
	OutputFrame   = "frame"   // Columnar DTO as JSON
	OutputLegacy  = "legacy"  // Legacy shape as JSON
	OutputMsgPack = "msgpack" // Columnar DTO as MessagePack
	OutputArrow   = "arrow"   // Arrow IPC stream
	OutputParquet = "parquet"
)

// FrameEncoder renders a frame to the bytes of one stored object
type FrameEncoder interface {
	EncodeFrame(frame *models.Frame) ([]byte, error)
	Extension() string
}

// NewFrameEncoder returns the encoder for an output format. compression
// applies to every format; parquet compresses its pages, the others the
// whole object.
func NewFrameEncoder(format, compression string, hint models.ShapeTag, conv *arrowconv.Converter) (FrameEncoder, error) {
	switch format {
	case OutputParquet:
		return arrowconv.NewParquetEncoder(conv, compression)
	}

	comp, err := codec.ParseCompression(compression)
	if err != nil {
		return nil, err
	}

	switch format {
	case "", OutputFrame:
		enc, err := codec.NewEncoder(codec.FormatJSON, comp)
		if err != nil {
			return nil, err
		}
		return &dtoEncoder{enc: enc}, nil
	case OutputMsgPack:
		enc, err := codec.NewEncoder(codec.FormatMsgPack, comp)
		if err != nil {
			return nil, err
		}
		return &dtoEncoder{enc: enc}, nil
	case OutputLegacy:
		enc, err := codec.NewEncoder(codec.FormatJSON, comp)
		if err != nil {
			return nil, err
		}
		return &legacyEncoder{enc: enc, hint: hint}, nil
	case OutputArrow:
		return &compressedEncoder{inner: arrowconv.NewIPCEncoder(conv), compression: comp}, nil
	}
	return nil, fmt.Errorf("%w: output format %q", codec.ErrUnsupportedFormat, format)
}

// extension returns the object suffix for a codec encoding
func extension(format codec.Format, comp codec.Compression) string {
	ext := ".json"
	if format == codec.FormatMsgPack {
		ext = ".msgpack"
	}
	return ext + compressionSuffix(comp)
}

func compressionSuffix(comp codec.Compression) string {
	switch comp {
	case codec.CompressionGzip:
		return ".gz"
	case codec.CompressionZstd:
		return ".zst"
	}
	return ""
}

type dtoEncoder struct {
	enc *codec.Encoder
}

func (e *dtoEncoder) EncodeFrame(frame *models.Frame) ([]byte, error) {
	return e.enc.EncodeFrame(frame)
}

func (e *dtoEncoder) Extension() string {
	return extension(e.enc.Format(), e.enc.Compression())
}

type legacyEncoder struct {
	enc  *codec.Encoder
	hint models.ShapeTag
}

func (e *legacyEncoder) EncodeFrame(frame *models.Frame) ([]byte, error) {
	shape := dataframe.ToLegacy(frame, e.hint)
	metrics.Get().IncLegacyReconstruction(string(shape.Shape()))
	return e.enc.EncodeLegacy(shape)
}

func (e *legacyEncoder) Extension() string {
	return extension(e.enc.Format(), e.enc.Compression())
}

// compressedEncoder applies whole-object compression to a binary encoder
type compressedEncoder struct {
	inner       FrameEncoder
	compression codec.Compression
}

func (e *compressedEncoder) EncodeFrame(frame *models.Frame) ([]byte, error) {
	data, err := e.inner.EncodeFrame(frame)
	if err != nil {
		return nil, err
	}
	return codec.Compress(data, e.compression)
}

func (e *compressedEncoder) Extension() string {
	return e.inner.Extension() + compressionSuffix(e.compression)
}
