package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/rs/zerolog"
)

// AzureBlobBackend stores objects in an Azure Blob Storage container
type AzureBlobBackend struct {
	client        *azblob.Client
	containerName string
	accountName   string
	logger        zerolog.Logger
}

// AzureBlobConfig selects the container and how to authenticate. The
// connection string wins over the shared key, which wins over managed identity.
type AzureBlobConfig struct {
	ConnectionString   string
	AccountName        string
	AccountKey         string
	UseManagedIdentity bool
	ContainerName      string
	Endpoint           string // service URL override, e.g. Azurite
}

// serviceURL returns the blob service URL of the account
func (cfg *AzureBlobConfig) serviceURL() string {
	if cfg.Endpoint != "" || cfg.AccountName == "" {
		return cfg.Endpoint
	}
	return "https://" + cfg.AccountName + ".blob.core.windows.net"
}

// newAzureClient builds a client for the first usable authentication method
// and returns the method's name.
func newAzureClient(cfg *AzureBlobConfig) (*azblob.Client, string, error) {
	switch {
	case cfg.ConnectionString != "":
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, "", fmt.Errorf("azure connection string: %w", err)
		}
		return client, "connection_string", nil

	case cfg.AccountName != "" && cfg.AccountKey != "":
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, "", fmt.Errorf("azure shared key: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(cfg.serviceURL(), cred, nil)
		if err != nil {
			return nil, "", fmt.Errorf("azure shared key client: %w", err)
		}
		return client, "shared_key", nil

	case cfg.UseManagedIdentity && cfg.AccountName != "":
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, "", fmt.Errorf("azure managed identity: %w", err)
		}
		client, err := azblob.NewClient(cfg.serviceURL(), cred, nil)
		if err != nil {
			return nil, "", fmt.Errorf("azure managed identity client: %w", err)
		}
		return client, "managed_identity", nil
	}
	return nil, "", fmt.Errorf("azure backend needs a connection string, an account key or a managed identity")
}

// NewAzureBlobBackend creates a backend on cfg.ContainerName
func NewAzureBlobBackend(cfg *AzureBlobConfig, logger zerolog.Logger) (*AzureBlobBackend, error) {
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure backend needs a container")
	}
	client, auth, err := newAzureClient(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.With().Str("component", "azure-storage").Str("container", cfg.ContainerName).Logger()
	log.Debug().Str("auth", auth).Msg("Created Azure Blob client")
	return &AzureBlobBackend{
		client:        client,
		containerName: cfg.ContainerName,
		accountName:   cfg.AccountName,
		logger:        log,
	}, nil
}

// Write uploads data as a block blob
func (b *AzureBlobBackend) Write(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	ct := contentType(key)

	_, err := b.client.UploadBuffer(ctx, b.containerName, key, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: &ct,
		},
	})
	if err != nil {
		b.logger.Error().
			Err(err).
			Str("path", key).
			Int("size", len(data)).
			Msg("Failed to write to Azure Blob Storage")
		return fmt.Errorf("failed to write to Azure Blob Storage: %w", err)
	}

	b.logger.Debug().
		Str("path", key).
		Int("size", len(data)).
		Str("container", b.containerName).
		Dur("duration", time.Since(start)).
		Msg("Wrote to Azure Blob Storage")
	return nil
}

// Read downloads the blob at key, checking its content length against maxSize first
func (b *AzureBlobBackend) Read(ctx context.Context, key string, maxSize int64) ([]byte, error) {
	resp, err := b.client.DownloadStream(ctx, b.containerName, key, nil)
	if err != nil {
		return nil, b.wrapErr("download", key, err)
	}
	defer resp.Body.Close()

	var size int64
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}
	if err := checkSize(b.URI(key), size, maxSize); err != nil {
		return nil, err
	}
	data, err := readLimited(resp.Body, b.URI(key), maxSize)
	if err != nil {
		return nil, fmt.Errorf("azure download %s: %w", key, err)
	}

	b.logger.Debug().
		Str("path", key).
		Int("size", len(data)).
		Msg("Read from Azure Blob Storage")
	return data, nil
}

// Stat reads the blob properties of key
func (b *AzureBlobBackend) Stat(ctx context.Context, key string) (Object, error) {
	props, err := b.client.ServiceClient().
		NewContainerClient(b.containerName).
		NewBlobClient(key).
		GetProperties(ctx, nil)
	if err != nil {
		return Object{}, b.wrapErr("stat", key, err)
	}

	obj := Object{Key: key}
	if props.ContentLength != nil {
		obj.Size = *props.ContentLength
	}
	if props.LastModified != nil {
		obj.Modified = *props.LastModified
	}
	return obj, nil
}

// List walks the flat blob listing below prefix
func (b *AzureBlobBackend) List(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	pager := b.client.NewListBlobsFlatPager(b.containerName, &container.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, b.wrapErr("list", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			obj := Object{Key: *item.Name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					obj.Size = *p.ContentLength
				}
				if p.LastModified != nil {
					obj.Modified = *p.LastModified
				}
			}
			objects = append(objects, obj)
		}
	}
	return sortObjects(objects), nil
}

// Delete removes the blob at key; a missing blob is not an error
func (b *AzureBlobBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.client.DeleteBlob(ctx, b.containerName, key, nil); err != nil {
		if isAzureNotFoundError(err) {
			return nil
		}
		return b.wrapErr("delete", key, err)
	}
	b.logger.Debug().Str("path", key).Msg("Deleted from Azure Blob Storage")
	return nil
}

// wrapErr maps missing blobs to ErrNotFound and tags other failures with the operation
func (b *AzureBlobBackend) wrapErr(op, key string, err error) error {
	if isAzureNotFoundError(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, b.URI(key))
	}
	return fmt.Errorf("azure %s %s: %w", op, b.URI(key), err)
}

// isAzureNotFoundError checks if an error indicates the blob doesn't exist
func isAzureNotFoundError(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	errStr := err.Error()
	return strings.Contains(errStr, "BlobNotFound") || strings.Contains(errStr, "404")
}

// URI returns the azure:// location of key
func (b *AzureBlobBackend) URI(key string) string {
	return "azure://" + b.containerName + "/" + strings.TrimPrefix(key, "/")
}

// Container returns the container name
func (b *AzureBlobBackend) Container() string { return b.containerName }

func (b *AzureBlobBackend) Type() string { return "azure" }

func (b *AzureBlobBackend) Close() error { return nil }
