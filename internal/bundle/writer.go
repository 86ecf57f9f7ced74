package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fluxbase-eu/pagepack/internal/observability"
	"github.com/fluxbase-eu/pagepack/internal/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// initJS bootstraps the loader's static bundle plugins and is appended to the
// last flat bundle file.
const initJS = "require.config({\n" +
	"    bundles: {\n" +
	"        'mage/requirejs/static': [\n" +
	"            'jsbuild',\n" +
	"            'buildTools',\n" +
	"            'text',\n" +
	"            'statistician'\n" +
	"        ]\n" +
	"    },\n" +
	"    deps: [\n" +
	"        'jsbuild'\n" +
	"    ]\n" +
	"});\n"

// Member is a bucket entry resolved to its deployed source
type Member struct {
	ID    string
	Asset Asset
}

// ResolvedBucket is a bucket whose entries have been matched to assets
type ResolvedBucket struct {
	Name    string
	Members []Member
}

// WriterOptions configures a Writer
type WriterOptions struct {
	// BundleDir is the storage key prefix bundles are written under
	BundleDir string
	// RegistryDir is the loader relative bundle directory (js/bundle)
	RegistryDir  string
	Minification Minification
	// Validator may be nil to skip output validation
	Validator   Validator
	Parallelism int
}

// Writer renders and writes bundle files
type Writer struct {
	dir     storage.Directory
	sources *SourceReader
	orderer *Orderer
	wrapper *Wrapper
	opts    WriterOptions
	metrics *observability.Metrics
}

// NewWriter creates a writer
func NewWriter(dir storage.Directory, sources *SourceReader, orderer *Orderer, wrapper *Wrapper, opts WriterOptions) *Writer {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Writer{
		dir:     dir,
		sources: sources,
		orderer: orderer,
		wrapper: wrapper,
		opts:    opts,
	}
}

// SetMetrics sets the metrics instance
func (w *Writer) SetMetrics(m *observability.Metrics) {
	w.metrics = m
}

type flatFile struct {
	pool    string
	entries []flatEntry
}

type flatEntry struct {
	key     string
	content string
}

// RenderFlat packs every pool into size bounded files. A file is extended while
// the remaining budget is strictly larger than the next source; a source larger
// than the whole budget ends up alone in its own file. Sizes are measured in
// characters / 1024.
func (w *Writer) RenderFlat(ctx context.Context, pools []Pool, maxSizeKB int) ([]Output, error) {
	var files []flatFile
	for _, pool := range pools {
		if len(pool.Assets) == 0 {
			continue
		}
		current := flatFile{pool: pool.Name}
		free := float64(maxSizeKB)
		for _, asset := range pool.Assets {
			content, err := w.sources.Read(ctx, asset.SourceKey)
			if err != nil {
				return nil, err
			}
			size := float64(utf8.RuneCountInString(content)) / 1024
			if len(current.entries) > 0 && !(free > size) {
				files = append(files, current)
				current = flatFile{pool: pool.Name}
				free = float64(maxSizeKB)
			}
			free -= size
			current.entries = append(current.entries, flatEntry{
				key:     w.opts.Minification.AddMinifiedSign(asset.Path),
				content: content,
			})
		}
		files = append(files, current)
	}

	outputs := make([]Output, 0, len(files))
	for i, f := range files {
		var buf bytes.Buffer
		buf.WriteString("require.config({\"config\": {\n")
		buf.WriteString("        " + strconv.Quote(f.pool) + ":")
		if err := writeFlatConfig(&buf, f.entries); err != nil {
			return nil, err
		}
		buf.WriteString("\n}});\n")
		if i == len(files)-1 {
			buf.WriteString(initJS)
		}

		name := "bundle" + strconv.Itoa(i)
		key := w.opts.Minification.AddMinifiedSign(path.Join(w.opts.BundleDir, name+".js"))
		modules := make([]string, len(f.entries))
		for j, e := range f.entries {
			modules[j] = e.key
		}
		outputs = append(outputs, Output{Key: key, Kind: KindShared, Name: name, Data: buf.Bytes(), Modules: modules})
	}
	return outputs, nil
}

// writeFlatConfig writes entries as one JSON object in insertion order.
// Slashes and HTML characters are not escaped.
func writeFlatConfig(buf *bytes.Buffer, entries []flatEntry) error {
	if len(entries) == 0 {
		buf.WriteString("{}")
		return nil
	}
	buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(buf, e.key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeJSONString(buf, e.content); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode bundle content: %w", err)
	}
	// Encode terminates every value with a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}

// RenderPageSpecific renders one bundle per non-empty bucket, in parallel, and
// one loader configuration per page type. Buckets share the source cache.
func (w *Writer) RenderPageSpecific(ctx context.Context, buckets []ResolvedBucket, pageTypes []string) ([]Output, *Registry, error) {
	for _, b := range buckets {
		if !validBucketName(b.Name) {
			return nil, nil, fmt.Errorf("%w: %q", ErrInvalidBucketName, b.Name)
		}
	}
	for _, pt := range pageTypes {
		if !validBucketName(pt) {
			return nil, nil, fmt.Errorf("%w: %q", ErrInvalidBucketName, pt)
		}
	}

	results := make([]*Output, len(buckets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Parallelism)
	for i, b := range buckets {
		if len(b.Members) == 0 {
			continue
		}
		i, b := i, b
		g.Go(func() error {
			out, err := w.renderBucket(gctx, b)
			if err != nil {
				return fmt.Errorf("bucket %s: %w", b.Name, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	registry := NewRegistry(w.opts.RegistryDir)
	outputs := make([]Output, 0, len(buckets)+len(pageTypes))
	for i, b := range buckets {
		if results[i] == nil {
			continue
		}
		registry.Add(b.Name, results[i].Modules)
		outputs = append(outputs, *results[i])
	}

	for _, pt := range pageTypes {
		if pt == DefaultBucket {
			continue
		}
		key := ConfigKey(w.opts.BundleDir, pt, w.opts.Minification)
		data := []byte(registry.ConfigScript(pt))
		if err := w.validate(key, data); err != nil {
			return nil, nil, err
		}
		outputs = append(outputs, Output{Key: key, Kind: KindConfig, Name: pt, Data: data})
	}

	return outputs, registry, nil
}

func (w *Writer) renderBucket(ctx context.Context, b ResolvedBucket) (out *Output, err error) {
	ctx, span := observability.StartBucketSpan(ctx, b.Name, len(b.Members))
	defer func() { observability.EndSpan(span, err) }()

	modules := make([]Module, len(b.Members))
	for i, m := range b.Members {
		content, err := w.sources.Read(ctx, m.Asset.SourceKey)
		if err != nil {
			return nil, err
		}
		modules[i] = Module{ID: m.ID, Content: content}
	}

	ordered, err := w.orderer.Order(modules)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	ids := make([]string, len(ordered))
	for i, m := range ordered {
		ids[i] = m.ID
		buf.WriteString(w.wrapper.Wrap(m.ID, m.Content))
		buf.WriteByte('\n')
	}

	key := w.opts.Minification.AddMinifiedSign(path.Join(w.opts.BundleDir, b.Name+".js"))
	if err := w.validate(key, buf.Bytes()); err != nil {
		return nil, err
	}

	if w.metrics != nil {
		w.metrics.SetBucketModules(b.Name, len(ordered))
	}
	return &Output{Key: key, Kind: KindPage, Name: b.Name, Data: buf.Bytes(), Modules: ids}, nil
}

func (w *Writer) validate(key string, data []byte) error {
	if w.opts.Validator == nil {
		return nil
	}
	return w.opts.Validator.Validate(key, string(data))
}

// Write stores rendered outputs. Validation happens before anything is
// written; the first storage failure aborts the pass.
func (w *Writer) Write(ctx context.Context, outputs []Output) error {
	for _, o := range outputs {
		if o.Kind == KindShared {
			if err := w.validate(o.Key, o.Data); err != nil {
				return err
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Parallelism)
	for _, o := range outputs {
		o := o
		g.Go(func() error {
			start := time.Now()
			if err := w.dir.WriteFile(gctx, o.Key, o.Data); err != nil {
				log.Error().Err(err).Str("key", o.Key).Msg("Failed to write bundle file")
				return fmt.Errorf("failed to write %s: %w", o.Key, err)
			}
			log.Debug().
				Str("key", o.Key).
				Str("kind", o.Kind).
				Int("bytes", len(o.Data)).
				Dur("duration", time.Since(start)).
				Msg("Bundle file written")
			if w.metrics != nil {
				w.metrics.RecordBundleFile(o.Kind, len(o.Data))
			}
			return nil
		})
	}
	return g.Wait()
}

// validBucketName keeps bucket files inside the bundle directory
func validBucketName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
