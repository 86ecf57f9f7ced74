package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// LocalStorage implements Provider using the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local filesystem storage provider
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// Name returns the provider name
func (ls *LocalStorage) Name() string {
	return "local"
}

// BasePath returns the root directory
func (ls *LocalStorage) BasePath() string {
	return ls.basePath
}

// Health checks if the storage is healthy
func (ls *LocalStorage) Health(ctx context.Context) error {
	if _, err := os.Stat(ls.basePath); err != nil {
		return fmt.Errorf("storage directory not accessible: %w", err)
	}

	testFile := filepath.Join(ls.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("storage directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	return nil
}

// getPath returns the full filesystem path for a key
func (ls *LocalStorage) getPath(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(ls.basePath, filepath.FromSlash(cleaned)), nil
}

// ReadFile reads a file from disk
func (ls *LocalStorage) ReadFile(ctx context.Context, key string) ([]byte, error) {
	filePath, err := ls.getPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// WriteFile writes to a temp file in the target directory and renames it into place
func (ls *LocalStorage) WriteFile(ctx context.Context, key string, data []byte) error {
	filePath, err := ls.getPath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filePath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	log.Debug().Str("key", key).Int("size", len(data)).Msg("File written to local storage")
	return nil
}

// Delete removes a file or a directory tree. Missing keys are not an error.
func (ls *LocalStorage) Delete(ctx context.Context, key string) error {
	filePath, err := ls.getPath(key)
	if err != nil {
		return err
	}
	if filepath.Clean(filePath) == filepath.Clean(ls.basePath) {
		return fmt.Errorf("refusing to delete storage root")
	}

	if err := os.RemoveAll(filePath); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	log.Debug().Str("key", key).Msg("Deleted from local storage")
	return nil
}

// List walks the tree below prefix
func (ls *LocalStorage) List(ctx context.Context, prefix string) ([]Object, error) {
	searchPath, err := ls.getPath(prefix)
	if err != nil {
		return nil, err
	}

	var objects []Object
	err = filepath.WalkDir(searchPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.Contains(d.Name(), ".tmp-") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(ls.basePath, p)
		if err != nil {
			return err
		}

		objects = append(objects, Object{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}
