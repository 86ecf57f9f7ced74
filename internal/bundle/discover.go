package bundle

import (
	"context"
	"fmt"
	"strings"

	"github.com/fluxbase-eu/pagepack/internal/storage"
)

// Discover lists the deployed assets below root whose content type has a pool.
// Files in the bundle directory and excluded paths are skipped. When minification is
// enabled the minified variant of a file is preferred as its source.
func Discover(ctx context.Context, dir storage.Directory, root, bundleDir string, pools *Pools, exclude []string, minify Minification) ([]Asset, error) {
	objects, err := dir.List(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}

	skip := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		skip[e] = true
	}
	bundlePrefix := strings.TrimSuffix(bundleDir, "/") + "/"
	rootPrefix := ""
	if root != "" {
		rootPrefix = strings.TrimSuffix(root, "/") + "/"
	}

	var assets []Asset
	index := make(map[string]int)
	for _, obj := range objects {
		if !strings.HasPrefix(obj.Key, rootPrefix) || strings.HasPrefix(obj.Key, bundlePrefix) {
			continue
		}
		rel := strings.TrimPrefix(obj.Key, rootPrefix)
		ct := contentTypeOf(rel)
		if !pools.Handles(ct) {
			continue
		}

		canonical := rel
		if minify.Enabled {
			canonical = minify.RemoveMinifiedSign(rel)
		}
		if skip[canonical] || skip[rel] {
			continue
		}

		if i, ok := index[canonical]; ok {
			// keep the minified variant when both are deployed
			if rel != canonical {
				assets[i].SourceKey = obj.Key
			}
			continue
		}
		index[canonical] = len(assets)
		assets = append(assets, Asset{Path: canonical, SourceKey: obj.Key, ContentType: ct})
	}
	return assets, nil
}

// Pool is a named group of assets bundled together in flat mode
type Pool struct {
	Name   string
	Assets []Asset
}

// Pools maps content types to pool names
type Pools struct {
	byType map[string]string
	order  []string
}

// NewPools creates the default js -> jsbuild and html -> text pools extended
// by extra content type -> pool mappings.
func NewPools(extra map[string]string) *Pools {
	p := &Pools{
		byType: map[string]string{"js": "jsbuild", "html": "text"},
		order:  []string{"jsbuild", "text"},
	}
	for ct, name := range extra {
		p.byType[strings.ToLower(ct)] = name
	}
	return p
}

// Handles reports whether a content type is mapped to a pool
func (p *Pools) Handles(contentType string) bool {
	_, ok := p.byType[contentType]
	return ok
}

// PoolFor returns the pool of a content type; unknown types go to "text"
func (p *Pools) PoolFor(contentType string) string {
	if name, ok := p.byType[contentType]; ok {
		return name
	}
	return "text"
}

// Group splits assets into pools. jsbuild and text come first, other pools
// follow in the order their first asset appears. Empty pools are dropped.
func (p *Pools) Group(assets []Asset) []Pool {
	order := append([]string(nil), p.order...)
	members := make(map[string][]Asset)
	for _, a := range assets {
		name := p.PoolFor(a.ContentType)
		if _, seen := members[name]; !seen && name != "jsbuild" && name != "text" {
			order = append(order, name)
		}
		members[name] = append(members[name], a)
	}

	var pools []Pool
	for _, name := range order {
		if len(members[name]) == 0 {
			continue
		}
		pools = append(pools, Pool{Name: name, Assets: members[name]})
	}
	return pools
}
