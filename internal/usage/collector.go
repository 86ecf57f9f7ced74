package usage

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fluxbase-eu/pagepack/internal/observability"
	"github.com/rs/zerolog/log"
)

// Payload is a dependency report posted by the instrumentation script
type Payload struct {
	Route string     `json:"route"`
	Deps  []string   `json:"deps"`
	Paths AliasTable `json:"paths"`
}

// pageTypePattern limits page types to names usable as bundle file names
var pageTypePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidPageType reports whether name can be used as a page type
func ValidPageType(name string) bool {
	return pageTypePattern.MatchString(name)
}

// Validate rejects reports that cannot be attributed to a page type
func (p *Payload) Validate() error {
	if strings.TrimSpace(p.Route) == "" {
		return ErrInvalidPayload
	}
	if !ValidPageType(p.Route) {
		return fmt.Errorf("%w: page type %q", ErrInvalidPayload, p.Route)
	}
	return nil
}

// Result counts what happened to each reported dependency
type Result struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Collector records dependency reports in a Store. Repeated pairs are left
// to the store's unique key, so a reset made anywhere is seen by every
// collector immediately.
type Collector struct {
	store      Store
	normalizer *Normalizer
	metrics    *observability.Metrics
}

// NewCollector creates a collector
func NewCollector(store Store, normalizer *Normalizer) *Collector {
	return &Collector{
		store:      store,
		normalizer: normalizer,
	}
}

// SetMetrics sets the metrics instance
func (c *Collector) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

// Store returns the underlying record store
func (c *Collector) Store() Store {
	return c.store
}

// Collect stores every resolvable dependency of a report. Per-item failures
// are absorbed; the caller always acknowledges the report.
func (c *Collector) Collect(ctx context.Context, p Payload) Result {
	ctx, span := observability.StartCollectSpan(ctx, p.Route, len(p.Deps))
	defer span.End()

	var res Result
	for _, raw := range p.Deps {
		if reason, skip := c.normalizer.Skip(raw); skip {
			log.Trace().Str("dependency", raw).Str("reason", string(reason)).Msg("Skipping dependency")
			res.Skipped++
			continue
		}

		path := c.normalizer.NormalizePath(raw)
		id, ok := c.normalizer.ModuleID(path, p.Paths)
		if !ok || id == "" {
			res.Skipped++
			continue
		}

		inserted, err := c.store.Insert(ctx, Record{
			PageType:       p.Route,
			DependencyName: id,
			DependencyPath: path,
		}, ConflictIgnore)
		if err != nil {
			observability.RecordError(ctx, err)
			log.Warn().Err(err).Str("route", p.Route).Str("path", path).Msg("Failed to record dependency")
			res.Failed++
			continue
		}

		if inserted {
			res.Inserted++
		} else {
			res.Duplicates++
		}
	}

	if c.metrics != nil {
		c.metrics.RecordCollectedDependencies(res.Inserted, res.Duplicates, res.Skipped)
	}

	log.Debug().
		Str("route", p.Route).
		Int("inserted", res.Inserted).
		Int("duplicates", res.Duplicates).
		Int("skipped", res.Skipped).
		Int("failed", res.Failed).
		Msg("Dependency report processed")

	return res
}

// Reset clears the store
func (c *Collector) Reset(ctx context.Context) (int64, error) {
	return c.store.Reset(ctx)
}
