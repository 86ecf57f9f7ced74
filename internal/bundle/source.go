package bundle

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/fluxbase-eu/pagepack/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/encoding/charmap"
)

// SourceReader reads deployed module sources through a memoizing cache. The
// cache is shared by concurrent bucket renders and never invalidated during a
// pass; Reset drops it between passes.
type SourceReader struct {
	dir   storage.Directory
	cache *lru.Cache[string, string]
}

// NewSourceReader creates a reader holding at most size sources
func NewSourceReader(dir storage.Directory, size int) (*SourceReader, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create source cache: %w", err)
	}
	return &SourceReader{dir: dir, cache: cache}, nil
}

// Read returns the UTF-8 source stored under key
func (r *SourceReader) Read(ctx context.Context, key string) (string, error) {
	if content, ok := r.cache.Get(key); ok {
		return content, nil
	}

	data, err := r.dir.ReadFile(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrMissingContent, key)
		}
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}

	content, err := toUTF8(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", key, err)
	}
	r.cache.Add(key, content)
	return content, nil
}

// Reset empties the cache
func (r *SourceReader) Reset() {
	r.cache.Purge()
}

// toUTF8 passes valid UTF-8 through and decodes anything else as Windows-1252,
// the usual encoding of legacy vendor scripts.
func toUTF8(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
