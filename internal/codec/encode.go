package codec

import (
	"bytes"
	"fmt"

	"github.com/basekick-labs/arcframe/pkg/dataframe"
	"github.com/basekick-labs/arcframe/pkg/models"
	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// Encoder renders frames and legacy shapes to wire bytes.
type Encoder struct {
	format      Format
	compression Compression
	indent      bool
}

// NewEncoder creates an encoder. format must be FormatJSON or FormatMsgPack.
func NewEncoder(format Format, compression Compression) (*Encoder, error) {
	if format != FormatJSON && format != FormatMsgPack {
		return nil, fmt.Errorf("%w: cannot encode as %q", ErrUnsupportedFormat, format)
	}
	if _, err := ParseCompression(string(compression)); err != nil {
		return nil, err
	}
	return &Encoder{format: format, compression: compression}, nil
}

// WithIndent returns a copy of e that pretty-prints JSON output.
func (e *Encoder) WithIndent() *Encoder {
	out := *e
	out.indent = true
	return &out
}

// Format returns the wire encoding used by e.
func (e *Encoder) Format() Format { return e.format }

// Compression returns the compression applied by e.
func (e *Encoder) Compression() Compression { return e.compression }

// EncodeFrame writes a frame as its columnar DTO wire object.
func (e *Encoder) EncodeFrame(frame *models.Frame) ([]byte, error) {
	return e.Encode(dataframe.ToDTO(frame).ToMap())
}

// EncodeLegacy writes a legacy shape in its wire layout.
func (e *Encoder) EncodeLegacy(shape models.LegacyShape) ([]byte, error) {
	return e.Encode(shape.ToMap())
}

// Encode marshals any value and applies the configured compression.
func (e *Encoder) Encode(v interface{}) ([]byte, error) {
	var data []byte
	var err error
	switch e.format {
	case FormatJSON:
		data, err = e.marshalJSON(v)
	case FormatMsgPack:
		data, err = marshalMsgPack(v)
	}
	if err != nil {
		return nil, err
	}
	return Compress(data, e.compression)
}

func (e *Encoder) marshalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if e.indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to marshal json: %w", err)
	}
	return buf.Bytes(), nil
}

func marshalMsgPack(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack: %w", err)
	}
	return buf.Bytes(), nil
}
