package bundle

import (
	"path"
	"strings"
)

const configPrefix = "requirejs-config-"

// Selector narrows the bundle set served to a page
type Selector struct {
	production bool
	adminRoute string
}

// NewSelector creates a selector
func NewSelector(production bool, adminRoute string) *Selector {
	return &Selector{production: production, adminRoute: adminRoute}
}

// Select returns only the loader configuration of route when running in
// production outside the admin area and such a file exists. Otherwise bundles
// is returned unchanged. The result aliases the input.
func (s *Selector) Select(bundles []string, route string) []string {
	if !s.production || route == "" || route == s.adminRoute {
		return bundles
	}
	for i, b := range bundles {
		if isConfigFor(b, route) {
			return bundles[i : i+1 : i+1]
		}
	}
	return bundles
}

func isConfigFor(key, route string) bool {
	base := path.Base(key)
	if !strings.HasPrefix(base, configPrefix) {
		return false
	}
	name := base[len(configPrefix):]
	if !strings.HasPrefix(name, route) {
		return false
	}
	ext := name[len(route):]
	return ext == ".js" || ext == ".min.js"
}

// ConfigKey is the storage key of a page type's loader configuration
func ConfigKey(bundleDir, pageType string, minify Minification) string {
	return minify.AddMinifiedSign(path.Join(bundleDir, configPrefix+pageType+".js"))
}
