package arrowconv

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/basekick-labs/arcframe/pkg/models"
)

// ParquetEncoder writes frames as Parquet files.
type ParquetEncoder struct {
	conv        *Converter
	compression compress.Compression
}

// NewParquetEncoder creates a Parquet encoder. compression is one of
// snappy, gzip, zstd or none; empty selects snappy.
func NewParquetEncoder(conv *Converter, compression string) (*ParquetEncoder, error) {
	var comp compress.Compression
	switch compression {
	case "", "snappy":
		comp = compress.Codecs.Snappy
	case "gzip":
		comp = compress.Codecs.Gzip
	case "zstd":
		comp = compress.Codecs.Zstd
	case "none":
		comp = compress.Codecs.Uncompressed
	default:
		return nil, fmt.Errorf("unsupported parquet compression: %s", compression)
	}
	return &ParquetEncoder{conv: conv, compression: comp}, nil
}

// Extension returns the file extension used for encoded objects.
func (e *ParquetEncoder) Extension() string { return ".parquet" }

// EncodeFrame writes frame as a single row group Parquet file.
func (e *ParquetEncoder) EncodeFrame(frame *models.Frame) ([]byte, error) {
	record, err := e.conv.ToRecord(frame)
	if err != nil {
		return nil, err
	}
	defer record.Release()

	var buf bytes.Buffer

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(e.compression),
		parquet.WithDictionaryDefault(true),
		parquet.WithStats(true),
		parquet.WithDataPageVersion(parquet.DataPageV2),
		parquet.WithAllocator(e.conv.mem),
	)
	// Store the Arrow schema so metadata and timestamp units survive
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(record.Schema(), &buf, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet writer: %w", err)
	}
	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Parquet writer: %w", err)
	}

	e.conv.logger.Debug().
		Int("columns", int(record.NumCols())).
		Int("rows", int(record.NumRows())).
		Int("size", buf.Len()).
		Msg("Wrote Parquet file")

	return buf.Bytes(), nil
}

// ReadParquet loads a Parquet file into a single frame.
func ReadParquet(ctx context.Context, data []byte) (*models.Frame, error) {
	table, err := pqarrow.ReadTable(ctx, bytes.NewReader(data), parquet.NewReaderProperties(sharedAllocator),
		pqarrow.ArrowReadProperties{}, sharedAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to read Parquet file: %w", err)
	}
	defer table.Release()

	reader := array.NewTableReader(table, 64*1024)
	defer reader.Release()

	var frame *models.Frame
	for reader.Next() {
		chunk, err := FromRecord(reader.Record())
		if err != nil {
			return nil, err
		}
		frame = appendChunk(frame, chunk)
	}
	if frame == nil {
		return emptyFrame(table.Schema())
	}
	return frame, nil
}

// appendChunk appends the rows of chunk to frame. A nil frame starts with chunk.
func appendChunk(frame, chunk *models.Frame) *models.Frame {
	if frame == nil {
		return chunk
	}
	for j, f := range chunk.Fields {
		merged := append(frame.Fields[j].Values.ToSlice(), f.Values.ToSlice()...)
		frame.Fields[j].Values = models.NewArrayVector(merged)
	}
	return frame
}

// emptyFrame converts schema to a frame with typed columns and no rows.
func emptyFrame(schema *arrow.Schema) (*models.Frame, error) {
	cols := make([]arrow.Array, schema.NumFields())
	for j := range cols {
		cols[j] = array.MakeArrayOfNull(sharedAllocator, schema.Field(j).Type, 0)
		defer cols[j].Release()
	}
	rec := array.NewRecord(schema, cols, 0)
	defer rec.Release()
	return FromRecord(rec)
}
