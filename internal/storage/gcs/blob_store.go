// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrObjectExists is returned when the target object was already written.
// Archive objects are immutable, so uploads never overwrite.
var ErrObjectExists = errors.New("object already exists")

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// CacheControl is stamped on every object; empty leaves the bucket default.
	CacheControl string
}

// BlobStore writes archive objects to a configured GCS bucket.
type BlobStore struct {
	bucket       *storage.BucketHandle
	name         string
	cacheControl string
}

// New creates a GCS-backed blob store. Credentials come from the client.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	name := strings.TrimSpace(cfg.Bucket)
	if name == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		bucket:       client.Bucket(name),
		name:         name,
		cacheControl: cfg.CacheControl,
	}, nil
}

// PutObject uploads data as a new object and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path, contentType string, data []byte) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	obj := s.bucket.Object(path).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = s.cacheControl
	// Batches are small; a single request avoids the resumable-upload handshake.
	w.ChunkSize = 0

	_, err := w.Write(data)
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return "", fmt.Errorf("upload gs://%s/%s: %w", s.name, path, ErrObjectExists)
		}
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.name, path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, path), nil
}
