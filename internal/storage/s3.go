package storage

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// Multipart upload thresholds
const (
	// Payloads at or above this size go through the multipart uploader (100MB)
	multipartThreshold   = 100 * 1024 * 1024
	multipartPartSize    = 16 * 1024 * 1024
	multipartConcurrency = 5
)

// S3Backend stores objects in S3 or MinIO
type S3Backend struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	region   string
	logger   zerolog.Logger
}

// S3Config holds S3 backend configuration
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string // Custom endpoint for MinIO (e.g., "http://localhost:9000")
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool // Use path-style addressing (required for MinIO)
}

// NewS3Backend creates a backend on cfg.Bucket. Without explicit keys the
// default AWS credential chain is used.
func NewS3Backend(cfg *S3Config, logger zerolog.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend needs a bucket")
	}
	log := logger.With().Str("component", "s3-storage").Str("bucket", cfg.Bucket).Logger()

	region := cmp.Or(cfg.Region, "us-east-1")
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if provider := cfg.staticCredentials(); provider != nil {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(provider))
	}
	awsCfg, err := config.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := cfg.endpointURL()
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	log.Debug().
		Str("region", region).
		Str("endpoint", endpoint).
		Bool("static_credentials", cfg.staticCredentials() != nil).
		Msg("Created S3 client")

	return &S3Backend{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = multipartPartSize
			u.Concurrency = multipartConcurrency
		}),
		bucket: cfg.Bucket,
		region: region,
		logger: log,
	}, nil
}

// staticCredentials returns a provider for the configured keys, falling back
// to AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY. It returns nil when either is missing.
func (cfg *S3Config) staticCredentials() aws.CredentialsProvider {
	id := cmp.Or(cfg.AccessKey, os.Getenv("AWS_ACCESS_KEY_ID"))
	secret := cmp.Or(cfg.SecretKey, os.Getenv("AWS_SECRET_ACCESS_KEY"))
	if id == "" || secret == "" {
		return nil
	}
	return credentials.NewStaticCredentialsProvider(id, secret, "")
}

// endpointURL returns the custom endpoint with a scheme. A bare host gets
// https when UseSSL is set, http otherwise.
func (cfg *S3Config) endpointURL() string {
	switch {
	case cfg.Endpoint == "":
		return ""
	case strings.Contains(cfg.Endpoint, "://"):
		return cfg.Endpoint
	case cfg.UseSSL:
		return "https://" + cfg.Endpoint
	}
	return "http://" + cfg.Endpoint
}

// Write uploads data to key. Large payloads use multipart upload.
func (b *S3Backend) Write(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	size := int64(len(data))

	var err error
	if size >= multipartThreshold {
		_, err = b.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType(key)),
		})
	} else {
		_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(size),
			ContentType:   aws.String(contentType(key)),
		})
	}
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("path", key).
			Int64("size", size).
			Msg("Failed to write to S3")
		return fmt.Errorf("failed to write to S3: %w", err)
	}

	b.logger.Debug().
		Str("path", key).
		Int64("size", size).
		Str("bucket", b.bucket).
		Dur("duration", time.Since(start)).
		Bool("multipart", size >= multipartThreshold).
		Msg("Wrote to S3")
	return nil
}

// Read downloads the object at key. The advertised content length is checked
// against maxSize before the body is read.
func (b *S3Backend) Read(ctx context.Context, key string, maxSize int64) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, b.wrapErr("get", key, err)
	}
	defer out.Body.Close()

	if err := checkSize(b.URI(key), aws.ToInt64(out.ContentLength), maxSize); err != nil {
		return nil, err
	}
	data, err := readLimited(out.Body, b.URI(key), maxSize)
	if err != nil {
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}

	b.logger.Debug().
		Str("path", key).
		Int("size", len(data)).
		Msg("Read from S3")
	return data, nil
}

// Stat describes the object at key with a HEAD request
func (b *S3Backend) Stat(ctx context.Context, key string) (Object, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Object{}, b.wrapErr("head", key, err)
	}
	return Object{
		Key:      key,
		Size:     aws.ToInt64(out.ContentLength),
		Modified: aws.ToTime(out.LastModified),
	}, nil
}

// List pages through every object below prefix
func (b *S3Backend) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, b.wrapErr("list", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// zero-byte "directory" markers created by consoles
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			objects = append(objects, Object{
				Key:      key,
				Size:     aws.ToInt64(obj.Size),
				Modified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return sortObjects(objects), nil
}

// Delete removes the object at key. S3 reports success for missing keys.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return b.wrapErr("delete", key, err)
	}
	b.logger.Debug().Str("path", key).Msg("Deleted from S3")
	return nil
}

// wrapErr maps missing objects to ErrNotFound and tags other failures with the operation
func (b *S3Backend) wrapErr(op, key string, err error) error {
	if isNotFoundError(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, b.URI(key))
	}
	return fmt.Errorf("s3 %s %s: %w", op, b.URI(key), err)
}

// isNotFoundError checks if an error indicates the object doesn't exist
func isNotFoundError(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	// HeadObject errors carry no typed body
	errStr := err.Error()
	return strings.Contains(errStr, "NotFound") || strings.Contains(errStr, "404")
}

// URI returns the s3:// location of key
func (b *S3Backend) URI(key string) string {
	return "s3://" + b.bucket + "/" + strings.TrimPrefix(key, "/")
}

// Bucket returns the bucket name
func (b *S3Backend) Bucket() string { return b.bucket }

// Region returns the configured region
func (b *S3Backend) Region() string { return b.region }

func (b *S3Backend) Type() string { return "s3" }

func (b *S3Backend) Close() error { return nil }
