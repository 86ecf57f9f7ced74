// Package bundle turns recorded module usage into dependency ordered bundle
// files for the module loader.
//
// A build pass partitions usage records into a shared default bucket and one
// bucket per page type, reads the deployed source of every member, orders the
// modules so declared dependencies load first, wraps each one with an explicit
// module id and writes the bundles plus a loader configuration file per page
// type. When there is no usage data (or for the admin area) the pass falls back
// to flat, size bounded bundles grouped by content pool.
package bundle

import (
	"errors"
	"path"
	"strings"
)

var (
	// ErrMissingContent is returned when the source of a bundled module cannot be read
	ErrMissingContent = errors.New("missing module content")
	// ErrDuplicateModule is returned when one bundle lists the same module id twice
	ErrDuplicateModule = errors.New("duplicate module id")
	// ErrInvalidOutput is returned when a generated bundle does not parse as JavaScript
	ErrInvalidOutput = errors.New("generated bundle is not valid JavaScript")
	// ErrInvalidBucketName is returned for bucket names that are not plain file names
	ErrInvalidBucketName = errors.New("invalid bucket name")
)

// DefaultBucket holds modules used by every observed page type
const DefaultBucket = "default"

// Build modes
const (
	ModeFlat         = "flat"
	ModePageSpecific = "page_specific"
)

// Output kinds
const (
	KindShared = "shared"
	KindPage   = "page"
	KindConfig = "config"
)

// Module is one bundle member with its loader id and source text
type Module struct {
	ID      string
	Content string
}

// Asset is a deployed static file that may be bundled
type Asset struct {
	// Path is relative to the area/theme/locale root, without a minified sign
	Path string
	// SourceKey is the storage key the content is read from
	SourceKey string
	// ContentType is the file extension without the dot (js, html, ...)
	ContentType string
}

// Output is a rendered bundle artifact waiting to be written
type Output struct {
	Key     string
	Kind    string
	Name    string
	Data    []byte
	Modules []string
}

// contentTypeOf returns the extension of a file without the leading dot
func contentTypeOf(p string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(p)), ".")
}
