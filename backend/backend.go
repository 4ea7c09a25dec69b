// Package backend stores cached package files.
package backend

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist in the backend.
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey is returned for keys that are empty, absolute, or escape
	// the backend root.
	ErrInvalidKey = errors.New("invalid key")
)

// Info describes a stored file.
type Info struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Backend stores package files by slash-separated key.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Write stores r at key, replacing any existing file, and returns the
	// number of bytes written. Readers never observe a partial file.
	Write(ctx context.Context, key string, r io.Reader) (int64, error)

	// Read opens key. Returns ErrNotFound if the key does not exist.
	// The caller must close the returned ReadCloser.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Stat describes key. Returns ErrNotFound if the key does not exist.
	Stat(ctx context.Context, key string) (Info, error)

	// List describes every file under prefix.
	List(ctx context.Context, prefix string) ([]Info, error)

	// ListIncomplete describes files under prefix left by writes that never
	// completed. They are invisible to List and Read.
	ListIncomplete(ctx context.Context, prefix string) ([]Info, error)
}
