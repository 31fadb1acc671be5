package docloader

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// StorageAdapter wraps the GCS client to implement ObjectStore.
type StorageAdapter struct {
	client *storage.Client
}

// NewStorageAdapter creates a StorageAdapter using application default credentials.
func NewStorageAdapter(ctx context.Context) (*StorageAdapter, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("docloader.NewStorageAdapter: %w", err)
	}
	return &StorageAdapter{client: client}, nil
}

// Upload writes data to a GCS object.
func (a *StorageAdapter) Upload(ctx context.Context, bucket, object string, data []byte, contentType string) error {
	w := a.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("docloader.Upload write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("docloader.Upload close: %w", err)
	}
	return nil
}

// Download reads an object from GCS.
func (a *StorageAdapter) Download(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := a.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("docloader.Download: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// DeleteAll removes every object under the given prefix, used when a
// tenant's documents are purged.
func (a *StorageAdapter) DeleteAll(ctx context.Context, bucket, prefix string) error {
	it := a.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return fmt.Errorf("docloader.DeleteAll: list: %w", err)
		}
		if derr := a.client.Bucket(bucket).Object(attrs.Name).Delete(ctx); derr != nil {
			return fmt.Errorf("docloader.DeleteAll: delete %s: %w", attrs.Name, derr)
		}
	}
}

// Close closes the underlying client.
func (a *StorageAdapter) Close() {
	a.client.Close()
}
