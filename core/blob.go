package core

import (
	"context"
	"io"
)

// Buckets
const (
	BucketDocuments    = "documents"
	BucketCertificates = "certificates"
)

type BlobObject struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
}

// BlobStore stores uploaded files (generated PDFs).
type BlobStore interface {
	Put(ctx context.Context, bucket, path string, r io.Reader, contentType string) (BlobObject, error)
	Open(ctx context.Context, bucket, path string) (io.ReadCloser, error)
	Remove(ctx context.Context, bucket string, paths ...string) error
	PublicURL(bucket, path string) string
}
