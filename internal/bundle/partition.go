package bundle

import (
	"github.com/fluxbase-eu/pagepack/internal/usage"
)

// BucketEntry maps a dependency path to its module id
type BucketEntry struct {
	Path string
	ID   string
}

// Bucket is an insertion ordered dependency path -> module id map
type Bucket struct {
	Name    string
	entries []BucketEntry
	index   map[string]int
}

// NewBucket creates an empty bucket
func NewBucket(name string) *Bucket {
	return &Bucket{Name: name, index: make(map[string]int)}
}

// Put adds a path. A path keeps its first-seen position; a later id replaces
// the stored one.
func (b *Bucket) Put(path, id string) {
	if i, ok := b.index[path]; ok {
		b.entries[i].ID = id
		return
	}
	b.index[path] = len(b.entries)
	b.entries = append(b.entries, BucketEntry{Path: path, ID: id})
}

// Entries returns the bucket contents in insertion order
func (b *Bucket) Entries() []BucketEntry {
	return b.entries
}

// Len returns the number of entries
func (b *Bucket) Len() int {
	return len(b.entries)
}

// Partition splits usage records into the shared default bucket and one bucket
// per page type.
type Partition struct {
	Default   *Bucket
	pageTypes []*Bucket
	byName    map[string]*Bucket
	records   int
}

// PartitionRecords classifies every record. A path observed under every
// distinct page type goes to the default bucket, anything else to the bucket
// of its own page type. With a single page type everything is shared.
func PartitionRecords(records []usage.Record) *Partition {
	p := &Partition{
		Default: NewBucket(DefaultBucket),
		byName:  make(map[string]*Bucket),
		records: len(records),
	}

	spread := make(map[string]map[string]struct{})
	for _, r := range records {
		pts, ok := spread[r.DependencyPath]
		if !ok {
			pts = make(map[string]struct{})
			spread[r.DependencyPath] = pts
		}
		pts[r.PageType] = struct{}{}
		p.bucketFor(r.PageType)
	}
	// byName also holds a page type literally called "default"
	total := len(p.byName)

	for _, r := range records {
		if len(spread[r.DependencyPath]) == total {
			p.Default.Put(r.DependencyPath, r.DependencyName)
			continue
		}
		p.bucketFor(r.PageType).Put(r.DependencyPath, r.DependencyName)
	}

	return p
}

func (p *Partition) bucketFor(pageType string) *Bucket {
	if pageType == DefaultBucket {
		p.byName[DefaultBucket] = p.Default
		return p.Default
	}
	b, ok := p.byName[pageType]
	if !ok {
		b = NewBucket(pageType)
		p.byName[pageType] = b
		p.pageTypes = append(p.pageTypes, b)
	}
	return b
}

// Empty reports whether no usage data was partitioned
func (p *Partition) Empty() bool {
	return p.records == 0
}

// PageTypes returns the page type buckets in first-seen order, excluding default
func (p *Partition) PageTypes() []*Bucket {
	return p.pageTypes
}

// Buckets returns the default bucket followed by every page type bucket
func (p *Partition) Buckets() []*Bucket {
	out := make([]*Bucket, 0, len(p.pageTypes)+1)
	out = append(out, p.Default)
	return append(out, p.pageTypes...)
}
