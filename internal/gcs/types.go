package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"golang.org/x/text/encoding"

	"github.com/whiro/dami/internal/frame"
)

const scheme = "gs://"

// Location addresses an object, or an object prefix, inside a bucket.
type Location struct {
	Bucket string
	Path   string
}

// URI returns the gs:// form of the location.
func (l Location) URI() string {
	return scheme + l.Bucket + "/" + l.Path
}

func (l Location) String() string { return l.URI() }

// ParseURI splits "gs://bucket/path" into a Location. The path may be empty
// ("gs://bucket/"), which addresses the whole bucket as a prefix.
func ParseURI(uri string) (Location, error) {
	if !strings.HasPrefix(uri, scheme) {
		return Location{}, fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, scheme), "/", 2)
	if parts[0] == "" {
		return Location{}, fmt.Errorf("invalid GCS URI (no bucket): %s", uri)
	}
	if len(parts) != 2 {
		return Location{}, fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return Location{Bucket: parts[0], Path: parts[1]}, nil
}

// ParseObjectURI is ParseURI for a single object; the path must be non-empty.
func ParseObjectURI(uri string) (Location, error) {
	loc, err := ParseURI(uri)
	if err != nil {
		return Location{}, err
	}
	if loc.Path == "" || strings.HasSuffix(loc.Path, "/") {
		return Location{}, fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return loc, nil
}

// Extension returns the lower-cased text after the last dot of the object
// name, or "" when there is none.
func Extension(name string) string {
	base := path.Base(name)
	i := strings.LastIndex(base, ".")
	if i < 0 {
		return ""
	}
	return strings.ToLower(base[i+1:])
}

// BlobNotFoundError is returned when an addressed object does not exist.
type BlobNotFoundError struct {
	Location Location
}

func (e *BlobNotFoundError) Error() string {
	return "blob not found: " + e.Location.URI()
}

// UnsupportedFileTypeError is returned when no frame loader handles an
// object's extension.
type UnsupportedFileTypeError struct {
	Extension string
}

func (e *UnsupportedFileTypeError) Error() string {
	return fmt.Sprintf("unsupported file type for frame loading: %q", e.Extension)
}

// StorageService provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type StorageService interface {
	// GetBlob returns the attributes of an existing object.
	GetBlob(ctx context.Context, loc Location) (*storage.ObjectAttrs, error)

	// GetLatestBlob returns the most recently updated object under prefix
	// whose name ends with suffix, or nil when there is none.
	GetLatestBlob(ctx context.Context, prefix Location, suffix string) (*storage.ObjectAttrs, error)

	// DownloadFrame reads an object into a frame, choosing the loader by
	// file extension.
	DownloadFrame(ctx context.Context, attrs *storage.ObjectAttrs, enc encoding.Encoding) (*frame.Frame, error)

	// UploadBytes writes data to loc, replacing any existing object.
	UploadBytes(ctx context.Context, data []byte, loc Location) error

	// UploadFile uploads a local file to a storage bucket under the given object name.
	UploadFile(ctx context.Context, bucketName, objectName, filePath string) error

	// DeleteBlob removes an object.
	DeleteBlob(ctx context.Context, loc Location) error
}
