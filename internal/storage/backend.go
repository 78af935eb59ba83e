package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/basekick-labs/arcframe/internal/config"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned by Read and Stat when the object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrObjectTooLarge is returned by Read when an object exceeds the size limit.
	ErrObjectTooLarge = errors.New("object too large")
)

// Sink receives encoded payloads (stdout, local files, S3, Azure)
type Sink interface {
	// Write stores data under key
	Write(ctx context.Context, key string, data []byte) error

	// URI returns a human readable location for key ("s3://bucket/key", a file path, ...)
	URI(key string) string

	// Type returns the storage type identifier ("stdout", "local", "s3", "azure")
	Type() string

	// Close closes any resources held by the sink
	Close() error
}

// Object describes one stored object.
type Object struct {
	Key      string
	Size     int64
	Modified time.Time
}

// Backend is a Sink that payloads can also be read back from. Converted
// frames and source payloads both live in backends.
type Backend interface {
	Sink

	// Read returns the object at key. Objects larger than maxSize bytes fail
	// with ErrObjectTooLarge; maxSize <= 0 disables the limit.
	Read(ctx context.Context, key string, maxSize int64) ([]byte, error)

	// Stat describes the object at key, or fails with ErrNotFound
	Stat(ctx context.Context, key string) (Object, error)

	// List returns the objects below prefix ordered by key
	List(ctx context.Context, prefix string) ([]Object, error)

	// Delete removes the object at key; deleting a missing object is not an error
	Delete(ctx context.Context, key string) error
}

// New creates the sink selected by cfg.Backend. stdout is used by the stdout backend.
// Remote backends are wrapped in a ResilientSink.
func New(cfg *config.StorageConfig, stdout io.Writer, logger zerolog.Logger) (Sink, error) {
	switch cfg.Backend {
	case "", "stdout":
		return NewStdoutSink(stdout), nil
	case "local":
		return NewLocalBackend(cfg.LocalPath, logger)
	}
	b, err := NewBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewResilientSink(b, nil, logger), nil
}

// NewBackend creates the readable backend selected by cfg.Backend. The
// stdout backend cannot be read from.
func NewBackend(cfg *config.StorageConfig, logger zerolog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalBackend(cfg.LocalPath, logger)
	case "s3":
		return NewS3Backend(&S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		}, logger)
	case "azure":
		return NewAzureBlobBackend(&AzureBlobConfig{
			ConnectionString:   cfg.AzureConnectionString,
			AccountName:        cfg.AzureAccountName,
			AccountKey:         cfg.AzureAccountKey,
			UseManagedIdentity: cfg.AzureUseManagedIdentity,
			ContainerName:      cfg.AzureContainer,
			Endpoint:           cfg.AzureEndpoint,
		}, logger)
	case "", "stdout":
		return nil, fmt.Errorf("storage backend stdout cannot be read from")
	}
	return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
}

// readLimited reads r up to maxSize bytes. key names the object in errors.
func readLimited(r io.Reader, key string, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrObjectTooLarge, key, maxSize)
	}
	return data, nil
}

// checkSize fails when a known object size exceeds maxSize.
func checkSize(key string, size, maxSize int64) error {
	if maxSize > 0 && size > maxSize {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrObjectTooLarge, key, size, maxSize)
	}
	return nil
}

// sortObjects orders objects by key.
func sortObjects(objects []Object) []Object {
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects
}

// NewObjectKey returns a unique key of the form prefix/YYYY/MM/DD/<uuid><ext>.
func NewObjectKey(prefix, ext string, now time.Time) string {
	name := uuid.NewString() + ext
	return path.Join(strings.Trim(prefix, "/"), now.UTC().Format("2006/01/02"), name)
}

// contentType maps an object key to its MIME type.
func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".parquet"):
		return "application/vnd.apache.parquet"
	case strings.HasSuffix(key, ".arrows"):
		return "application/vnd.apache.arrow.stream"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".json.gz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".msgpack"):
		return "application/msgpack"
	}
	return "application/octet-stream"
}
