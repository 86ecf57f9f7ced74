package bundle

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Validator checks generated bundle files before they are written
type Validator interface {
	Validate(name, source string) error
}

// ESBuildValidator parses output with esbuild. The source is not transformed.
type ESBuildValidator struct{}

// Validate returns ErrInvalidOutput with esbuild's messages when source does not parse
func (ESBuildValidator) Validate(name, source string) error {
	result := api.Transform(source, api.TransformOptions{
		Loader:     api.LoaderJS,
		Sourcefile: name,
		LogLevel:   api.LogLevelSilent,
	})
	if len(result.Errors) == 0 {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		if e.Location != nil {
			msgs = append(msgs, fmt.Sprintf("%d:%d: %s", e.Location.Line, e.Location.Column, e.Text))
			continue
		}
		msgs = append(msgs, e.Text)
	}
	return fmt.Errorf("%w: %s: %s", ErrInvalidOutput, name, strings.Join(msgs, "; "))
}
