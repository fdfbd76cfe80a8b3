// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// PublicBaseURL, when set, replaces the gs:// URI in returned locations
	// (for example a CDN or a public bucket domain).
	PublicBaseURL string
	CacheControl  string
}

// objectWriter is the subset of *storage.Writer used for uploads.
type objectWriter interface {
	io.WriteCloser
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	bucket        string
	publicBaseURL string
	cacheControl  string
	newWriter     func(ctx context.Context, path string, contentType string, cacheControl string) objectWriter
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	handle := client.Bucket(cfg.Bucket)
	return &BlobStore{
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		cacheControl:  cfg.CacheControl,
		newWriter: func(ctx context.Context, path, contentType, cacheControl string) objectWriter {
			w := handle.Object(path).NewWriter(ctx)
			if contentType != "" {
				w.ContentType = contentType
			}
			if cacheControl != "" {
				w.CacheControl = cacheControl
			}
			return w
		},
	}, nil
}

// PutObject uploads data to the configured bucket and returns its location.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.newWriter(ctx, path, contentType, s.cacheControl)
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return s.location(path), nil
}

func (s *BlobStore) location(path string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + strings.TrimLeft(path, "/")
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path)
}
