package gcsuploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cloud.google.com/go/storage"

	"github.com/whiro/dami/internal/gcs"
	"github.com/whiro/dami/internal/logger"
)

const uploadTimeout = 2 * time.Minute

// UploadFile uploads a local file to a GCS bucket under the given object name.
func (h *Handler) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("UploadFile: open file %q: %w", filePath, err)
	}
	defer f.Close()

	return h.upload(ctx, f, gcs.Location{Bucket: bucketName, Path: objectName})
}

// UploadBytes writes data to loc, replacing any existing object.
func (h *Handler) UploadBytes(ctx context.Context, data []byte, loc gcs.Location) error {
	return h.upload(ctx, bytes.NewReader(data), loc)
}

func (h *Handler) upload(ctx context.Context, r io.Reader, loc gcs.Location) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := h.client.Bucket(loc.Bucket).Object(loc.Path).NewWriter(ctx)
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("upload %s: copy to GCS writer: %w", loc, err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: finalize: %w", loc, err)
	}

	logger.FromContext(ctx).Info().
		Str("uri", loc.URI()).
		Int64("bytes", n).
		Msg("uploaded object")
	return nil
}

// DeleteBlob removes the object at loc.
func (h *Handler) DeleteBlob(ctx context.Context, loc gcs.Location) error {
	err := h.client.Bucket(loc.Bucket).Object(loc.Path).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return &gcs.BlobNotFoundError{Location: loc}
	}
	if err != nil {
		return fmt.Errorf("DeleteBlob: %s: %w", loc, err)
	}
	return nil
}
