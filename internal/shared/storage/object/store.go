package object

import (
	"context"
	"fmt"
	"io"
)

// ObjectStore is the contract for saving and retrieving document photos.
type ObjectStore interface {
	// Save stores a new object under the owner's namespace and returns the
	// generated storage key, the byte count, and the sniffed MIME type.
	Save(ctx context.Context, ownerID string, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
	// SaveWithKey stores data at a caller-chosen key, used for derived
	// renditions placed next to the original.
	SaveWithKey(ctx context.Context, storageKey string, contentType string, r io.Reader) (int64, error)
	// Open retrieves a stored object for reading.
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	// Provider names the backing implementation ("s3", "local").
	Provider() string
}

// UploadError wraps a failure to persist an object.
type UploadError struct {
	Key string
	Err error
}

func (e *UploadError) Error() string { return fmt.Sprintf("upload %s: %v", e.Key, e.Err) }
func (e *UploadError) Unwrap() error { return e.Err }

// DownloadError wraps a failure to retrieve an object.
type DownloadError struct {
	Key string
	Err error
}

func (e *DownloadError) Error() string { return fmt.Sprintf("download %s: %v", e.Key, e.Err) }
func (e *DownloadError) Unwrap() error { return e.Err }
