package arrowconv

import (
	"bytes"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/basekick-labs/arcframe/pkg/models"
)

// IPCEncoder writes frames as Arrow IPC streams (application/vnd.apache.arrow.stream).
type IPCEncoder struct {
	conv *Converter
}

// NewIPCEncoder creates an IPC stream encoder on top of conv.
func NewIPCEncoder(conv *Converter) *IPCEncoder {
	return &IPCEncoder{conv: conv}
}

// Extension returns the file extension used for encoded objects.
func (e *IPCEncoder) Extension() string { return ".arrows" }

// EncodeFrame writes frame as a single-record IPC stream.
func (e *IPCEncoder) EncodeFrame(frame *models.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.WriteFrame(&buf, frame); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFrame streams frame to w.
func (e *IPCEncoder) WriteFrame(w io.Writer, frame *models.Frame) error {
	record, err := e.conv.ToRecord(frame)
	if err != nil {
		return err
	}
	defer record.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(record.Schema()), ipc.WithAllocator(e.conv.mem))
	if err := writer.Write(record); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write Arrow record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close Arrow stream: %w", err)
	}

	e.conv.logger.Debug().
		Int("columns", int(record.NumCols())).
		Int("rows", int(record.NumRows())).
		Msg("Wrote Arrow IPC stream")
	return nil
}

// ReadFrame decodes an IPC stream into one frame. Record batches sharing the
// stream schema are concatenated; a stream without batches yields the
// schema's columns with no rows.
func ReadFrame(r io.Reader) (*models.Frame, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(sharedAllocator))
	if err != nil {
		return nil, fmt.Errorf("failed to open Arrow stream: %w", err)
	}
	defer reader.Release()

	var frame *models.Frame
	for reader.Next() {
		chunk, err := FromRecord(reader.Record())
		if err != nil {
			return nil, err
		}
		frame = appendChunk(frame, chunk)
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read Arrow stream: %w", err)
	}
	if frame == nil {
		return emptyFrame(reader.Schema())
	}
	return frame, nil
}
