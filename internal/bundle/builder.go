package bundle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fluxbase-eu/pagepack/internal/config"
	"github.com/fluxbase-eu/pagepack/internal/observability"
	"github.com/fluxbase-eu/pagepack/internal/storage"
	"github.com/fluxbase-eu/pagepack/internal/usage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrBuildInProgress is returned when a pass is requested while another runs
var ErrBuildInProgress = errors.New("a bundle build is already running")

// PathNormalizer maps deployed asset paths onto recorded dependency paths
type PathNormalizer interface {
	NormalizePath(path string) string
}

// Builder runs complete build passes for one area/theme/locale
type Builder struct {
	cfg        config.BundleConfig
	store      usage.Store
	dir        storage.Directory
	normalizer PathNormalizer
	catalog    *Catalog

	sources *SourceReader
	orderer *Orderer
	writer  *Writer
	sizes   SizeProvider
	pools   *Pools
	minify  Minification
	metrics *observability.Metrics

	mu sync.Mutex
}

// NewBuilder wires the build pipeline from configuration
func NewBuilder(cfg config.BundleConfig, store usage.Store, dir storage.Directory, normalizer PathNormalizer, catalog *Catalog) (*Builder, error) {
	sources, err := NewSourceReader(dir, cfg.SourceCacheSize)
	if err != nil {
		return nil, err
	}
	if catalog == nil {
		catalog = &Catalog{}
	}

	minify := Minification{Enabled: cfg.Minify}
	orderer := NewOrderer(AMDExtractor{})
	wrapper := NewWrapper(cfg.ExemptModules, NewStaticShims(cfg.Shims))

	var validator Validator
	if cfg.Validate {
		validator = ESBuildValidator{}
	}

	writer := NewWriter(dir, sources, orderer, wrapper, WriterOptions{
		BundleDir:    cfg.BundlePath(),
		RegistryDir:  cfg.Dir,
		Minification: minify,
		Validator:    validator,
		Parallelism:  cfg.Parallelism,
	})

	return &Builder{
		cfg:        cfg,
		store:      store,
		dir:        dir,
		normalizer: normalizer,
		catalog:    catalog,
		sources:    sources,
		orderer:    orderer,
		writer:     writer,
		sizes:      NewConfigSizes(cfg),
		pools:      NewPools(cfg.ContentPools),
		minify:     minify,
	}, nil
}

// SetMetrics sets the metrics instance
func (b *Builder) SetMetrics(m *observability.Metrics) {
	b.metrics = m
	b.writer.SetMetrics(m)
}

// Catalog returns the catalog updated after every successful pass
func (b *Builder) Catalog() *Catalog {
	return b.catalog
}

// Config returns the bundle configuration
func (b *Builder) Config() config.BundleConfig {
	return b.cfg
}

// plan is the rendered but not yet written result of a pass
type plan struct {
	mode      string
	partition *Partition
	resolved  []ResolvedBucket
	missing   map[string][]string
	pools     []Pool
}

func (b *Builder) prepare(ctx context.Context) (*plan, error) {
	records, err := b.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load usage records: %w", err)
	}
	records = validRecords(records)

	assets, err := Discover(ctx, b.dir, b.cfg.Root(), b.cfg.BundlePath(), b.pools, b.cfg.Exclude, b.minify)
	if err != nil {
		return nil, err
	}

	p := &plan{partition: PartitionRecords(records)}
	if b.cfg.IsAdmin() || p.partition.Empty() {
		p.mode = ModeFlat
		p.pools = b.pools.Group(assets)
		return p, nil
	}

	p.mode = ModePageSpecific
	p.resolved, p.missing = b.resolve(p.partition, assets)
	return p, nil
}

// resolve matches bucket entries to deployed assets in bucket order. Entries
// without a deployed file are reported as missing.
func (b *Builder) resolve(part *Partition, assets []Asset) ([]ResolvedBucket, map[string][]string) {
	index := make(map[string]Asset, len(assets))
	for _, a := range assets {
		key := b.normalizer.NormalizePath(a.Path)
		if _, ok := index[key]; !ok {
			index[key] = a
		}
	}

	missing := make(map[string][]string)
	buckets := part.Buckets()
	resolved := make([]ResolvedBucket, 0, len(buckets))
	for _, bucket := range buckets {
		rb := ResolvedBucket{Name: bucket.Name}
		for _, e := range bucket.Entries() {
			asset, ok := index[e.Path]
			if !ok {
				missing[bucket.Name] = append(missing[bucket.Name], e.Path)
				continue
			}
			rb.Members = append(rb.Members, Member{ID: e.ID, Asset: asset})
		}
		resolved = append(resolved, rb)
	}
	return resolved, missing
}

func pageTypeNames(part *Partition) []string {
	names := make([]string, 0, len(part.PageTypes()))
	for _, b := range part.PageTypes() {
		names = append(names, b.Name)
	}
	return names
}

// Build runs a full pass: partition usage, render every bundle, clear the
// bundle directory, write the outputs and publish the manifest. Nothing is
// deleted when rendering fails.
func (b *Builder) Build(ctx context.Context) (manifest *Manifest, err error) {
	if !b.mu.TryLock() {
		return nil, ErrBuildInProgress
	}
	defer b.mu.Unlock()

	start := time.Now()
	buildID := uuid.NewString()
	mode := "unknown"

	ctx, span := observability.StartBuildSpan(ctx, b.cfg.Area, b.cfg.Theme, b.cfg.Locale)
	defer func() {
		observability.EndSpan(span, err)
		if b.metrics != nil {
			b.metrics.RecordBundleBuild(mode, time.Since(start), err)
		}
	}()

	logger := log.With().
		Str("build_id", buildID).
		Str("area", b.cfg.Area).
		Str("theme", b.cfg.Theme).
		Str("locale", b.cfg.Locale).
		Logger()

	b.sources.Reset()
	defer b.sources.Reset()

	p, err := b.prepare(ctx)
	if err != nil {
		return nil, err
	}
	mode = p.mode

	var outputs []Output
	switch p.mode {
	case ModeFlat:
		outputs, err = b.writer.RenderFlat(ctx, p.pools, b.sizes.MaxSizeKB(b.cfg.Area, b.cfg.Theme))
	default:
		for bucket, paths := range p.missing {
			logger.Warn().Str("bucket", bucket).Strs("paths", paths).Msg("Recorded dependencies have no deployed file, skipping")
		}
		outputs, _, err = b.writer.RenderPageSpecific(ctx, p.resolved, pageTypeNames(p.partition))
	}
	if err != nil {
		logger.Error().Err(err).Str("mode", p.mode).Msg("Bundle build failed")
		return nil, err
	}

	// from here on the previous bundles are gone
	if err := b.clearDir(ctx); err != nil {
		b.catalog.Store(nil)
		return nil, err
	}
	if err := b.writer.Write(ctx, outputs); err != nil {
		b.catalog.Store(nil)
		logger.Error().Err(err).Msg("Bundle build failed while writing")
		return nil, err
	}

	manifest = &Manifest{
		BuildID:   buildID,
		Mode:      p.mode,
		Area:      b.cfg.Area,
		Theme:     b.cfg.Theme,
		Locale:    b.cfg.Locale,
		CreatedAt: start.UTC(),
		Duration:  time.Since(start),
		Files:     manifestFiles(outputs),
	}
	if err := writeManifest(ctx, b.dir, b.cfg.BundlePath(), manifest); err != nil {
		b.catalog.Store(nil)
		return nil, err
	}
	b.catalog.Store(manifest)

	logger.Info().
		Str("mode", p.mode).
		Int("files", len(manifest.Files)).
		Int("bytes", manifest.TotalBytes()).
		Strs("page_types", pageTypeNames(p.partition)).
		Dur("duration", manifest.Duration).
		Msg("Bundle build completed")

	return manifest, nil
}

// Clear deletes every bundle and the manifest
func (b *Builder) Clear(ctx context.Context) error {
	if !b.mu.TryLock() {
		return ErrBuildInProgress
	}
	defer b.mu.Unlock()

	if err := b.clearDir(ctx); err != nil {
		return err
	}
	b.catalog.Store(nil)
	log.Info().Str("dir", b.cfg.BundlePath()).Msg("Bundle directory cleared")
	return nil
}

func (b *Builder) clearDir(ctx context.Context) error {
	if err := b.dir.Delete(ctx, b.cfg.BundlePath()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error().Err(err).Str("dir", b.cfg.BundlePath()).Msg("Failed to clear bundle directory")
		return fmt.Errorf("failed to clear bundle directory: %w", err)
	}
	return nil
}

// PlanBucket previews one bundle of a pass
type PlanBucket struct {
	Name    string   `json:"name" yaml:"name"`
	Modules []string `json:"modules" yaml:"modules"`
	Missing []string `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// Plan previews a pass without writing anything
type Plan struct {
	Mode    string       `json:"mode" yaml:"mode"`
	Buckets []PlanBucket `json:"buckets" yaml:"buckets"`
}

// Plan computes what Build would write. Page specific buckets list their
// modules in dependency order; flat pools list their assets.
func (b *Builder) Plan(ctx context.Context) (*Plan, error) {
	p, err := b.prepare(ctx)
	if err != nil {
		return nil, err
	}

	out := &Plan{Mode: p.mode}
	if p.mode == ModeFlat {
		for _, pool := range p.pools {
			pb := PlanBucket{Name: pool.Name}
			for _, a := range pool.Assets {
				pb.Modules = append(pb.Modules, a.Path)
			}
			out.Buckets = append(out.Buckets, pb)
		}
		return out, nil
	}

	for _, rb := range p.resolved {
		modules := make([]Module, len(rb.Members))
		for i, m := range rb.Members {
			content, err := b.sources.Read(ctx, m.Asset.SourceKey)
			if err != nil {
				return nil, err
			}
			modules[i] = Module{ID: m.ID, Content: content}
		}
		ordered, err := b.orderer.Order(modules)
		if err != nil {
			return nil, fmt.Errorf("bucket %s: %w", rb.Name, err)
		}
		pb := PlanBucket{Name: rb.Name, Modules: make([]string, len(ordered)), Missing: p.missing[rb.Name]}
		for i, m := range ordered {
			pb.Modules[i] = m.ID
		}
		out.Buckets = append(out.Buckets, pb)
	}
	return out, nil
}

// validRecords drops records whose page type cannot name a bundle file. The
// collector rejects such reports; this guards rows written by older versions
// or by hand.
func validRecords(records []usage.Record) []usage.Record {
	out := records[:0:0]
	for _, r := range records {
		if !usage.ValidPageType(r.PageType) {
			log.Warn().Str("page_type", r.PageType).Str("path", r.DependencyPath).Msg("Ignoring usage record with invalid page type")
			continue
		}
		out = append(out, r)
	}
	return out
}
