package gcsuploader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"golang.org/x/text/encoding"
	"google.golang.org/api/iterator"

	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/gcs"
)

// frameLoader parses downloaded bytes into a frame.
type frameLoader func(data []byte, enc encoding.Encoding) (*frame.Frame, error)

var loaders = map[string]frameLoader{
	"csv": delimitedLoader(','),
	"tsv": delimitedLoader('\t'),
}

func delimitedLoader(comma rune) frameLoader {
	return func(data []byte, enc encoding.Encoding) (*frame.Frame, error) {
		return frame.ReadCSV(bytes.NewReader(data), frame.CSVOptions{Encoding: enc, Comma: comma})
	}
}

func loaderFor(name string) (frameLoader, error) {
	ext := gcs.Extension(name)
	loader, ok := loaders[ext]
	if !ok {
		return nil, &gcs.UnsupportedFileTypeError{Extension: ext}
	}
	return loader, nil
}

// GetBlob returns the attributes of the object at loc.
func (h *Handler) GetBlob(ctx context.Context, loc gcs.Location) (*storage.ObjectAttrs, error) {
	attrs, err := h.client.Bucket(loc.Bucket).Object(loc.Path).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, &gcs.BlobNotFoundError{Location: loc}
	}
	if err != nil {
		return nil, fmt.Errorf("GetBlob: %s: %w", loc, err)
	}
	return attrs, nil
}

// GetLatestBlob lists objects under prefix and returns the most recently
// updated one whose name ends with suffix. It returns nil, nil when nothing
// matches.
func (h *Handler) GetLatestBlob(ctx context.Context, prefix gcs.Location, suffix string) (*storage.ObjectAttrs, error) {
	it := h.objects.List(ctx, prefix.Bucket, prefix.Path)
	var all []*storage.ObjectAttrs
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("GetLatestBlob: listing %s: %w", prefix, err)
		}
		all = append(all, attrs)
	}
	return latestOf(all, suffix), nil
}

// latestOf picks the newest object by Updated whose name ends with suffix.
// Ties go to the lexically greatest name so the choice is stable.
func latestOf(objects []*storage.ObjectAttrs, suffix string) *storage.ObjectAttrs {
	var latest *storage.ObjectAttrs
	for _, o := range objects {
		if !strings.HasSuffix(o.Name, suffix) {
			continue
		}
		if latest == nil ||
			o.Updated.After(latest.Updated) ||
			(o.Updated.Equal(latest.Updated) && o.Name > latest.Name) {
			latest = o
		}
	}
	return latest
}

// Download reads the full content of an object.
func (h *Handler) Download(ctx context.Context, attrs *storage.ObjectAttrs) ([]byte, error) {
	rc, err := h.objects.Open(ctx, attrs.Bucket, attrs.Name)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, &gcs.BlobNotFoundError{Location: gcs.Location{Bucket: attrs.Bucket, Path: attrs.Name}}
	}
	if err != nil {
		return nil, fmt.Errorf("Download: reading object %s/%s: %w", attrs.Bucket, attrs.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Download: reading bytes: %w", err)
	}
	return data, nil
}

// DownloadFrame downloads an object and parses it with the loader for its
// extension. enc decodes text formats; nil means UTF-8.
func (h *Handler) DownloadFrame(ctx context.Context, attrs *storage.ObjectAttrs, enc encoding.Encoding) (*frame.Frame, error) {
	loader, err := loaderFor(attrs.Name)
	if err != nil {
		return nil, err
	}
	data, err := h.Download(ctx, attrs)
	if err != nil {
		return nil, err
	}
	f, err := loader(data, enc)
	if err != nil {
		return nil, fmt.Errorf("DownloadFrame: gs://%s/%s: %w", attrs.Bucket, attrs.Name, err)
	}
	return f, nil
}
