package bundle

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/fluxbase-eu/pagepack/internal/storage"
)

// memDir is an in-memory storage.Directory
type memDir struct {
	mu       sync.Mutex
	files    map[string][]byte
	reads    map[string]int
	writeErr error
}

func newMemDir(files map[string]string) *memDir {
	d := &memDir{files: make(map[string][]byte), reads: make(map[string]int)}
	for k, v := range files {
		d.files[k] = []byte(v)
	}
	return d
}

func (d *memDir) ReadFile(_ context.Context, key string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads[key]++
	data, ok := d.files[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (d *memDir) WriteFile(_ context.Context, key string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.writeErr != nil {
		return d.writeErr
	}
	d.files[key] = append([]byte(nil), data...)
	return nil
}

func (d *memDir) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	prefix := strings.TrimSuffix(key, "/") + "/"
	for k := range d.files {
		if k == key || strings.HasPrefix(k, prefix) {
			delete(d.files, k)
		}
	}
	return nil
}

func (d *memDir) List(_ context.Context, prefix string) ([]storage.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []storage.Object
	for k, v := range d.files {
		if prefix == "" || strings.HasPrefix(k, strings.TrimSuffix(prefix, "/")+"/") {
			out = append(out, storage.Object{Key: k, Size: int64(len(v))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (d *memDir) get(key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.files[key]
	return string(data), ok
}

func (d *memDir) keysUnder(prefix string) []string {
	objs, _ := d.List(context.Background(), prefix)
	keys := make([]string, len(objs))
	for i, o := range objs {
		keys[i] = o.Key
	}
	return keys
}

var errDiskFull = errors.New("disk full")

// failingValidator rejects every file whose name contains match
type failingValidator struct {
	match string
}

func (v failingValidator) Validate(name, _ string) error {
	if strings.Contains(name, v.match) {
		return ErrInvalidOutput
	}
	return nil
}
