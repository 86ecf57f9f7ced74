package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a static file does not exist
	ErrNotFound = errors.New("object not found")
	// ErrInvalidKey is returned for keys that escape the storage root
	ErrInvalidKey = errors.New("invalid key: path traversal")
)

// Object describes a file in the static directory
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Directory is the static asset tree the bundler reads deployed files from
// and writes bundles into. Keys are slash separated and relative to the root.
type Directory interface {
	// ReadFile returns the full content of a file
	ReadFile(ctx context.Context, key string) ([]byte, error)

	// WriteFile replaces a file atomically; readers never observe a partial write
	WriteFile(ctx context.Context, key string, data []byte) error

	// Delete removes a file, or every file below key when it names a directory
	Delete(ctx context.Context, key string) error

	// List returns every file below prefix, sorted by key
	List(ctx context.Context, prefix string) ([]Object, error)
}

// Provider is a Directory backed by a concrete storage system
type Provider interface {
	Directory

	// Name returns the provider name
	Name() string

	// Health checks if the storage is healthy
	Health(ctx context.Context) error
}

// CleanKey normalises a key and rejects attempts to escape the root
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return "", ErrInvalidKey
		}
	}
	return strings.Trim(path.Clean("/"+key), "/"), nil
}

// ContentTypeFor maps a file name to the MIME type served for it
func ContentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".js":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".html":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
