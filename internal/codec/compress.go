package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression names a byte-level compression codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression maps a config value to a Compression. Empty means none.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "gzip":
		return CompressionGzip, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return "", fmt.Errorf("%w: compression %q", ErrUnsupportedFormat, s)
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// DetectCompression sniffs the magic bytes of data.
func DetectCompression(data []byte) Compression {
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(data, zstdMagic):
		return CompressionZstd
	}
	return CompressionNone
}

const readChunkSize = 32 * 1024

// Pool for decompression buffers
var decompressBufferPool = sync.Pool{
	New: func() interface{} {
		// 256KB covers most decompressed payloads
		buf := make([]byte, 0, 256*1024)
		return &buf
	},
}

// Pool for gzip readers. klauspost gzip.Reader keeps ~32KB of state reusable via Reset().
var gzipReaderPool = sync.Pool{
	// No New func - gzip.NewReader requires valid data
}

// PooledBuffer wraps a decompression buffer that must be returned to the pool after use.
type PooledBuffer struct {
	Data   []byte
	bufPtr *[]byte
}

// Release returns the buffer to the pool. Safe to call multiple times.
func (pb *PooledBuffer) Release() {
	if pb.bufPtr != nil {
		*pb.bufPtr = (*pb.bufPtr)[:0]
		decompressBufferPool.Put(pb.bufPtr)
		pb.bufPtr = nil
		pb.Data = nil
	}
}

// Decompress inflates data with codec c into a pooled buffer. Output larger
// than maxSize fails with ErrPayloadTooLarge. The caller MUST Release the
// result once the bytes are no longer referenced.
func Decompress(data []byte, c Compression, maxSize int64) (*PooledBuffer, error) {
	switch c {
	case CompressionGzip:
		return decompressGzip(data, maxSize)
	case CompressionZstd:
		return decompressZstd(data, maxSize)
	case CompressionNone:
		if int64(len(data)) > maxSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
		}
		return &PooledBuffer{Data: data}, nil
	}
	return nil, fmt.Errorf("%w: compression %q", ErrUnsupportedFormat, c)
}

func decompressGzip(data []byte, maxSize int64) (*PooledBuffer, error) {
	var reader *gzip.Reader
	var err error
	if pooled := gzipReaderPool.Get(); pooled != nil {
		reader = pooled.(*gzip.Reader)
		err = reader.Reset(bytes.NewReader(data))
	} else {
		reader, err = gzip.NewReader(bytes.NewReader(data))
	}
	if err != nil {
		if reader != nil {
			gzipReaderPool.Put(reader)
		}
		return nil, fmt.Errorf("failed to initialize gzip reader: %w", err)
	}

	// Close() is called internally by Reset on next use
	defer gzipReaderPool.Put(reader)
	return readLimited(reader, maxSize)
}

func decompressZstd(data []byte, maxSize int64) (*PooledBuffer, error) {
	// Concurrency 1 decodes synchronously without background goroutines
	reader, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize zstd reader: %w", err)
	}
	defer reader.Close()
	return readLimited(reader, maxSize)
}

// readLimited drains r into a pooled buffer, reading at most maxSize+1 bytes.
func readLimited(r io.Reader, maxSize int64) (*PooledBuffer, error) {
	bufPtr := decompressBufferPool.Get().(*[]byte)
	buf := (*bufPtr)[:0]

	release := func() {
		*bufPtr = (*bufPtr)[:0]
		decompressBufferPool.Put(bufPtr)
	}

	limited := io.LimitReader(r, maxSize+1)
	for {
		if cap(buf)-len(buf) < readChunkSize {
			newBuf := make([]byte, len(buf), cap(buf)*2+readChunkSize)
			copy(newBuf, buf)
			buf = newBuf
		}

		n, readErr := limited.Read(buf[len(buf) : len(buf)+readChunkSize])
		buf = buf[:len(buf)+n]

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			release()
			return nil, fmt.Errorf("failed to decompress: %w", readErr)
		}
	}

	if int64(len(buf)) > maxSize {
		release()
		return nil, fmt.Errorf("%w: decompressed size over %d bytes", ErrPayloadTooLarge, maxSize)
	}

	*bufPtr = buf
	return &PooledBuffer{Data: buf, bufPtr: bufPtr}, nil
}

var (
	zstdEncoderOnce sync.Once
	zstdEncoder     *zstd.Encoder
	zstdEncoderErr  error
)

// Compress encodes data with codec c. CompressionNone returns data unchanged.
func Compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("gzip write failed: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("gzip close failed: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		zstdEncoderOnce.Do(func() {
			zstdEncoder, zstdEncoderErr = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		})
		if zstdEncoderErr != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", zstdEncoderErr)
		}
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	}
	return nil, fmt.Errorf("%w: compression %q", ErrUnsupportedFormat, c)
}
