package usage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fluxbase-eu/pagepack/internal/config"
)

// Alias is one entry of the loader's path alias table
type Alias struct {
	Name string
	Path string
}

// AliasTable is the client's alias -> path map, kept in document order so
// that the first alias pointing at a path wins, as it does in the loader.
type AliasTable []Alias

// UnmarshalJSON decodes a JSON object preserving key order. Non-string
// values (loaders allow fallback arrays) keep their first string element.
func (t *AliasTable) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*t = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("paths must be an object")
	}

	var out AliasTable
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if path, ok := aliasTarget(raw); ok {
			out = append(out, Alias{Name: name, Path: path})
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*t = out
	return nil
}

func aliasTarget(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0], true
	}
	return "", false
}

// Lookup returns the first alias whose target equals path
func (t AliasTable) Lookup(path string) (string, bool) {
	for _, a := range t {
		if a.Path == path {
			return a.Name, true
		}
	}
	return "", false
}

// SkipReason explains why a reported dependency was not stored
type SkipReason string

const (
	SkipBundled    SkipReason = "bundled"
	SkipAbsolute   SkipReason = "absolute_url"
	SkipUnresolved SkipReason = "unresolved"
)

// Normalizer turns raw loader paths into canonical paths and module ids.
type Normalizer struct {
	skipMarkers  []string
	pathRewrites []config.RewriteRule
	pluginAlias  config.RewriteRule
	idRewrites   []config.RewriteRule
}

// NewNormalizer builds a normalizer from collector configuration
func NewNormalizer(cfg config.CollectorConfig) *Normalizer {
	return &Normalizer{
		skipMarkers:  cfg.SkipMarkers,
		pathRewrites: cfg.PathRewrites,
		pluginAlias:  cfg.PluginAlias,
		idRewrites:   cfg.IDRewrites,
	}
}

// Skip reports whether a raw path must not be recorded at all
func (n *Normalizer) Skip(raw string) (SkipReason, bool) {
	for _, marker := range n.skipMarkers {
		if marker != "" && strings.Contains(raw, marker) {
			return SkipBundled, true
		}
	}
	if strings.HasPrefix(raw, "//") || strings.Contains(raw, "://") {
		return SkipAbsolute, true
	}
	return "", false
}

// NormalizePath applies the rewrite rules in order, each to the whole string
func (n *Normalizer) NormalizePath(path string) string {
	return applyRules(path, n.pathRewrites)
}

// ModuleID derives the loader module id for a normalized path
func (n *Normalizer) ModuleID(path string, aliases AliasTable) (string, bool) {
	switch {
	case strings.HasSuffix(path, ".html"):
		return TemplatePrefix + path, true
	case strings.HasSuffix(path, ".js"):
		modulePath := strings.TrimSuffix(path, ".js")
		if modulePath == "" {
			return "", false
		}
		if alias, ok := aliases.Lookup(modulePath); ok {
			if n.pluginAlias.From != "" && alias == n.pluginAlias.From {
				return n.pluginAlias.To, true
			}
			return alias, true
		}
		return applyRules(modulePath, n.idRewrites), true
	default:
		return "", false
	}
}

// TemplatePrefix marks module ids loaded through the text plugin
const TemplatePrefix = "text!"

func applyRules(s string, rules []config.RewriteRule) string {
	for _, r := range rules {
		if r.From == "" {
			continue
		}
		s = strings.ReplaceAll(s, r.From, r.To)
	}
	return s
}
