package upload

import (
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a stored file doesn't exist.
var ErrNotFound = errors.New("upload: file not found")

// ErrTooLarge is returned when a file exceeds the store's size limit.
var ErrTooLarge = errors.New("upload: file too large")

// Store is the interface for durable upload storage backends. Files parsed
// out of a request body live in a per-request temporary directory and die
// with the request; a handler that wants to keep one saves it into a Store
// before ending the response.
type Store interface {
	// Save stores a file and returns an opaque id for later retrieval.
	Save(filename, contentType string, size int64, r io.Reader) (id string, err error)

	// Claim retrieves and removes a stored file.
	Claim(id string) (*File, error)

	// Cleanup removes stored files older than maxAge. Call periodically.
	Cleanup(maxAge time.Duration) error
}

// File is a stored upload.
type File struct {
	// ID is the store-assigned identifier.
	ID string

	// Filename is the original filename from the client.
	Filename string

	// ContentType is the MIME type of the file.
	ContentType string

	// Size is the file size in bytes.
	Size int64

	// Path is the local filesystem path (DiskStore).
	Path string

	// URL is a remote access URL (S3Store presigned).
	URL string

	// Reader provides the file contents. May be nil for disk-backed files;
	// use Path instead.
	Reader io.ReadCloser
}

// Close closes the file reader if open.
func (f *File) Close() error {
	if f.Reader != nil {
		return f.Reader.Close()
	}
	return nil
}
