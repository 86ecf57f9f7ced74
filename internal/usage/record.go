// Package usage collects which client-side modules each page type loads and
// persists them as the input of the bundle build.
package usage

import (
	"context"
	"errors"
)

var (
	// ErrInvalidPayload is returned for dependency reports that cannot be processed at all
	ErrInvalidPayload = errors.New("invalid dependency payload")
	// ErrDuplicateRecord is returned by ConflictError inserts that hit an existing pair
	ErrDuplicateRecord = errors.New("usage record already exists")
)

// Record is one observed (page type, dependency) pair
type Record struct {
	PageType       string `json:"page_type" yaml:"page_type"`
	DependencyName string `json:"dependency_name" yaml:"dependency_name"`
	DependencyPath string `json:"dependency_path" yaml:"dependency_path"`
}

// PageTypeStat summarises the records of one page type
type PageTypeStat struct {
	PageType     string `json:"page_type" yaml:"page_type"`
	Dependencies int    `json:"dependencies" yaml:"dependencies"`
}

// ConflictMode selects how Insert treats an existing (page type, path) pair
type ConflictMode int

const (
	// ConflictIgnore drops the write silently and reports inserted=false
	ConflictIgnore ConflictMode = iota
	// ConflictError fails the write with ErrDuplicateRecord
	ConflictError
)

// Store persists usage records. Implementations enforce uniqueness of
// (PageType, DependencyPath) natively so concurrent inserts converge to one row.
type Store interface {
	// Insert adds a record and reports whether a new row was created
	Insert(ctx context.Context, rec Record, mode ConflictMode) (bool, error)

	// List returns all records in insertion order
	List(ctx context.Context) ([]Record, error)

	// Stats returns per page type counts ordered by page type
	Stats(ctx context.Context) ([]PageTypeStat, error)

	// Reset deletes every record and returns how many were removed
	Reset(ctx context.Context) (int64, error)
}
