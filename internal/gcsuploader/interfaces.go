package gcsuploader

import (
	"context"
	"io"

	"cloud.google.com/go/storage"

	"github.com/whiro/dami/internal/gcs"
)

// Re-export interface from shared package so callers only import gcsuploader.
type StorageService = gcs.StorageService

var _ StorageService = (*Handler)(nil)

// Handler is the concrete StorageService backed by Google Cloud Storage. It
// holds one shared client; the caller owns and closes it.
type Handler struct {
	client  *storage.Client
	objects objectReader
}

// NewHandler creates a Handler around an existing storage client.
func NewHandler(client *storage.Client) *Handler {
	return &Handler{client: client, objects: clientObjects{client}}
}

// objectIterator is the part of *storage.ObjectIterator the handler uses.
type objectIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

// objectReader lists and reads bucket objects. Tests swap in a bucket held
// in memory.
type objectReader interface {
	List(ctx context.Context, bucket, prefix string) objectIterator
	Open(ctx context.Context, bucket, name string) (io.ReadCloser, error)
}

type clientObjects struct {
	client *storage.Client
}

func (c clientObjects) List(ctx context.Context, bucket, prefix string) objectIterator {
	return c.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
}

func (c clientObjects) Open(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(name).NewReader(ctx)
}
