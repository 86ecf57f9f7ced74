package bundle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/fluxbase-eu/pagepack/internal/config"
)

// TemplatePrefix marks module ids loaded through the text plugin
const TemplatePrefix = "text!"

var (
	definePattern = regexp.MustCompile(`\bdefine\s*\(`)

	templateIDReplacer = strings.NewReplacer("Magento_Ui/templates", "ui/template")

	templateEscaper = strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		"\r", `\r`,
		"\n", `\n`,
	)
	idEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)
)

// IsTemplate reports whether a module id names a text plugin template
func IsTemplate(id string) bool {
	return len(id) >= len(TemplatePrefix) && strings.EqualFold(id[:len(TemplatePrefix)], TemplatePrefix)
}

// IsAMD reports whether source contains a define call
func IsAMD(content string) bool {
	return definePattern.MatchString(content)
}

// ShimLookup supplies the dependency list and export value of legacy scripts
// as JavaScript expressions.
type ShimLookup interface {
	DepsExpr(id string) string
	ExportsExpr(id string) string
}

// RuntimeShims reads the shim configuration the loader holds at runtime
type RuntimeShims struct{}

func (RuntimeShims) DepsExpr(id string) string {
	ref := shimRef(id)
	return fmt.Sprintf("(%s && %s.deps || [])", ref, ref)
}

func (RuntimeShims) ExportsExpr(id string) string {
	ref := shimRef(id)
	return fmt.Sprintf("(%s && %s.exportsFn && %s.exportsFn())", ref, ref, ref)
}

func shimRef(id string) string {
	return "require.s.contexts._.config.shim['" + idEscaper.Replace(id) + "']"
}

// StaticShims resolves shims from build configuration and falls back to the
// runtime lookup for modules it does not know.
type StaticShims struct {
	shims    map[string]config.ShimConfig
	fallback RuntimeShims
}

// NewStaticShims indexes configured shims by module id
func NewStaticShims(shims []config.ShimConfig) *StaticShims {
	s := &StaticShims{shims: make(map[string]config.ShimConfig, len(shims))}
	for _, shim := range shims {
		s.shims[shim.Module] = shim
	}
	return s
}

func (s *StaticShims) DepsExpr(id string) string {
	shim, ok := s.shims[id]
	if !ok {
		return s.fallback.DepsExpr(id)
	}
	deps := shim.Deps
	if deps == nil {
		deps = []string{}
	}
	encoded, _ := json.Marshal(deps)
	return string(encoded)
}

func (s *StaticShims) ExportsExpr(id string) string {
	shim, ok := s.shims[id]
	if !ok {
		return s.fallback.ExportsExpr(id)
	}
	if shim.Exports == "" {
		return "undefined"
	}
	return shim.Exports
}

// Wrapper gives every bundled module an explicit id
type Wrapper struct {
	exempt map[string]struct{}
	shims  ShimLookup
}

// NewWrapper creates a wrapper. Exempt modules are emitted untouched because
// their consumers rely on an anonymous global definition.
func NewWrapper(exempt []string, shims ShimLookup) *Wrapper {
	if shims == nil {
		shims = RuntimeShims{}
	}
	w := &Wrapper{exempt: make(map[string]struct{}, len(exempt)), shims: shims}
	for _, id := range exempt {
		w.exempt[id] = struct{}{}
	}
	return w
}

// Wrap renders one module for inclusion in a page bundle
func (w *Wrapper) Wrap(id, content string) string {
	switch {
	case IsTemplate(id):
		return w.wrapTemplate(id, content)
	case IsAMD(content):
		return w.wrapAMD(id, content)
	default:
		return w.wrapLegacy(id, content)
	}
}

func (w *Wrapper) wrapTemplate(id, content string) string {
	return "define('" + idEscaper.Replace(templateIDReplacer.Replace(id)) +
		"', function() {return '" + templateEscaper.Replace(content) + "';});"
}

// wrapAMD names the first anonymous define call. Named defines are left alone.
func (w *Wrapper) wrapAMD(id, content string) string {
	if _, ok := w.exempt[id]; ok {
		return content
	}
	for _, loc := range definePattern.FindAllStringIndex(content, -1) {
		rest := strings.TrimLeft(content[loc[1]:], " \t\r\n")
		if strings.HasPrefix(rest, "'") || strings.HasPrefix(rest, `"`) {
			continue
		}
		return content[:loc[0]] + "define('" + idEscaper.Replace(id) + "'," + content[loc[1]:]
	}
	return content
}

func (w *Wrapper) wrapLegacy(id, content string) string {
	return "define('" + idEscaper.Replace(id) + "', " + w.shims.DepsExpr(id) + ", function() {\n" +
		"    " + content + "\n" +
		"    return " + w.shims.ExportsExpr(id) + ";\n" +
		"}.bind(window));"
}
