package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync/atomic"
	"time"

	"github.com/fluxbase-eu/pagepack/internal/storage"
)

// ManifestName is the file written next to the bundles after a successful pass
const ManifestName = "manifest.json"

// ManifestFile describes one written artifact
type ManifestFile struct {
	Key     string   `json:"key" yaml:"key"`
	Kind    string   `json:"kind" yaml:"kind"`
	Name    string   `json:"name" yaml:"name"`
	Bytes   int      `json:"bytes" yaml:"bytes"`
	Modules []string `json:"modules,omitempty" yaml:"modules,omitempty"`
}

// Manifest records the result of a build pass
type Manifest struct {
	BuildID   string         `json:"build_id" yaml:"build_id"`
	Mode      string         `json:"mode" yaml:"mode"`
	Area      string         `json:"area" yaml:"area"`
	Theme     string         `json:"theme" yaml:"theme"`
	Locale    string         `json:"locale" yaml:"locale"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
	Duration  time.Duration  `json:"duration_ns" yaml:"duration_ns"`
	Files     []ManifestFile `json:"files" yaml:"files"`
}

// Keys returns the storage keys of every file in build order
func (m *Manifest) Keys() []string {
	keys := make([]string, len(m.Files))
	for i, f := range m.Files {
		keys[i] = f.Key
	}
	return keys
}

// TotalBytes sums the size of every file
func (m *Manifest) TotalBytes() int {
	total := 0
	for _, f := range m.Files {
		total += f.Bytes
	}
	return total
}

func manifestFiles(outputs []Output) []ManifestFile {
	files := make([]ManifestFile, len(outputs))
	for i, o := range outputs {
		files[i] = ManifestFile{Key: o.Key, Kind: o.Kind, Name: o.Name, Bytes: len(o.Data), Modules: o.Modules}
	}
	return files
}

// ReadManifest loads the manifest of bundleDir. It returns storage.ErrNotFound
// when no build has completed yet.
func ReadManifest(ctx context.Context, dir storage.Directory, bundleDir string) (*Manifest, error) {
	data, err := dir.ReadFile(ctx, path.Join(bundleDir, ManifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

func writeManifest(ctx context.Context, dir storage.Directory, bundleDir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := dir.WriteFile(ctx, path.Join(bundleDir, ManifestName), data); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Catalog holds the manifest of the last finished build for request-time reads
type Catalog struct {
	current atomic.Pointer[Manifest]
}

// Store publishes a manifest
func (c *Catalog) Store(m *Manifest) {
	c.current.Store(m)
}

// Current returns the published manifest or nil
func (c *Catalog) Current() *Manifest {
	return c.current.Load()
}

// Refresh publishes the manifest found in storage. A missing manifest is not
// an error: the catalog is emptied.
func (c *Catalog) Refresh(ctx context.Context, dir storage.Directory, bundleDir string) error {
	m, err := ReadManifest(ctx, dir, bundleDir)
	if errors.Is(err, storage.ErrNotFound) {
		c.Store(nil)
		return nil
	}
	if err != nil {
		return err
	}
	c.Store(m)
	return nil
}
