package bundle

import (
	"regexp"
	"strings"
)

// DependencyExtractor finds the module ids a source file declares as dependencies
type DependencyExtractor interface {
	Extract(content string) []string
}

// amdDepsPattern matches the dependency array of the first define call,
// tolerating an explicit module id before it.
var amdDepsPattern = regexp.MustCompile(`(?s)define\s*\(\s*(?:['"][^'"]*['"]\s*,\s*)?\[(.*?)\]`)

// AMDExtractor reads the dependency list of an AMD define call with a regular
// expression. It is a heuristic: only string literal ids are understood.
type AMDExtractor struct{}

// Extract returns the declared dependencies of the first define call
func (AMDExtractor) Extract(content string) []string {
	m := amdDepsPattern.FindStringSubmatch(content)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return nil
	}

	var deps []string
	for _, part := range strings.Split(m[1], ",") {
		id := strings.Trim(strings.TrimSpace(part), `'"`)
		if id != "" {
			deps = append(deps, id)
		}
	}
	return deps
}
