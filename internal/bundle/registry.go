package bundle

import (
	"path"
	"strings"
)

// Registry collects the loader "bundles" map entries of a page specific build
type Registry struct {
	dir     string
	entries map[string][]string
}

// NewRegistry creates a registry whose bundle names live under dir (js/bundle)
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, entries: make(map[string][]string)}
}

// Add records the ordered module ids written to a page type bundle
func (r *Registry) Add(pageType string, ids []string) {
	r.entries[pageType] = append([]string(nil), ids...)
}

// Modules returns the module ids recorded for a page type
func (r *Registry) Modules(pageType string) ([]string, bool) {
	ids, ok := r.entries[pageType]
	return ids, ok
}

// BundleName is the loader name of a page type bundle
func (r *Registry) BundleName(pageType string) string {
	return path.Join(r.dir, pageType)
}

// Entry renders 'js/bundle/<page type>':['id1','id2']
func (r *Registry) Entry(pageType string) (string, bool) {
	ids, ok := r.entries[pageType]
	if !ok {
		return "", false
	}
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + idEscaper.Replace(id) + "'"
	}
	return "'" + idEscaper.Replace(r.BundleName(pageType)) + "':[" + strings.Join(quoted, ",") + "]", true
}

// ConfigScript renders the loader configuration for a page type: the default
// bundle entry merged with the page type's own entry.
func (r *Registry) ConfigScript(pageType string) string {
	var parts []string
	if entry, ok := r.Entry(DefaultBucket); ok {
		parts = append(parts, entry)
	}
	if pageType != DefaultBucket {
		if entry, ok := r.Entry(pageType); ok {
			parts = append(parts, entry)
		}
	}
	return "requirejs.config({bundles:{" + strings.Join(parts, ",") + "}});"
}
