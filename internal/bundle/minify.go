package bundle

import (
	"path"
	"strings"

	"github.com/fluxbase-eu/pagepack/internal/config"
)

// minifiable lists the extensions that get a minified sign
var minifiable = map[string]bool{".js": true, ".html": true, ".css": true}

// Minification maps file names to and from their minified form
type Minification struct {
	Enabled bool
}

// AddMinifiedSign turns foo.js into foo.min.js when minification is enabled
func (m Minification) AddMinifiedSign(p string) string {
	if !m.Enabled {
		return p
	}
	ext := path.Ext(p)
	if !minifiable[ext] || strings.HasSuffix(strings.TrimSuffix(p, ext), ".min") {
		return p
	}
	return strings.TrimSuffix(p, ext) + ".min" + ext
}

// RemoveMinifiedSign turns foo.min.js back into foo.js
func (m Minification) RemoveMinifiedSign(p string) string {
	ext := path.Ext(p)
	base := strings.TrimSuffix(p, ext)
	if !minifiable[ext] || !strings.HasSuffix(base, ".min") {
		return p
	}
	return strings.TrimSuffix(base, ".min") + ext
}

// SizeProvider returns the flat bundle size budget in kilobytes
type SizeProvider interface {
	MaxSizeKB(area, theme string) int
}

// ConfigSizes reads budgets from bundle configuration
type ConfigSizes struct {
	Default   int
	Overrides map[string]int
}

// NewConfigSizes creates a size provider from bundle configuration
func NewConfigSizes(cfg config.BundleConfig) ConfigSizes {
	overrides := make(map[string]int, len(cfg.MaxSizeOverrides))
	for k, v := range cfg.MaxSizeOverrides {
		overrides[strings.ToLower(k)] = v
	}
	return ConfigSizes{Default: cfg.MaxSizeKB, Overrides: overrides}
}

// MaxSizeKB returns the override for area/theme or the default budget
func (s ConfigSizes) MaxSizeKB(area, theme string) int {
	if size, ok := s.Overrides[strings.ToLower(area+"/"+theme)]; ok {
		return size
	}
	return s.Default
}
