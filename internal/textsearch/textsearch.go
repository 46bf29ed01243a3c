package textsearch

import (
	"context"
	"sort"
	"time"

	"github.com/dshills/ragless-mcp/pkg/types"
)

// Dispatcher runs one pattern search across a path set and returns
// normalized match records. Implementations must treat "no matches" as an
// empty slice with a nil error.
type Dispatcher interface {
	// Search runs the pattern over every searchable file under paths.
	Search(ctx context.Context, pattern string, paths []string, opts Options) ([]types.MatchRecord, error)

	// Available reports whether the underlying search capability can be
	// invoked at all; a non-nil error wraps types.ErrToolUnavailable.
	Available() error
}

// Options controls a single dispatch pass.
type Options struct {
	Concurrency   int           // Parallel search tasks (default 10)
	MaxDepth      int           // Directory recursion limit, 0 = unlimited
	Include       []string      // Glob patterns on the base name; empty = all
	Exclude       []string      // Glob patterns to skip
	CaseSensitive bool          // Searches are case-insensitive by default
	Timeout       time.Duration // Per-file/per-invocation timeout
	MaxRetries    int           // Transient I/O retries per task
	Level         int           // Keyword level tag stamped on each record
}

// withDefaults fills in zero fields.
func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	return o
}

// MergeOverlapping collapses duplicate spans (same file, overlapping offset
// ranges), keeping the longest remaining variant. Output is sorted by path,
// then start offset, so downstream ranking is deterministic.
func MergeOverlapping(records []types.MatchRecord) []types.MatchRecord {
	if len(records) <= 1 {
		return records
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].Path != records[j].Path {
			return records[i].Path < records[j].Path
		}
		if records[i].StartOffset != records[j].StartOffset {
			return records[i].StartOffset < records[j].StartOffset
		}
		return records[i].EndOffset > records[j].EndOffset
	})

	merged := records[:1]
	for _, rec := range records[1:] {
		last := &merged[len(merged)-1]
		if rec.Overlaps(last) {
			// Keep whichever variant covers more bytes.
			if rec.Len() > last.Len() {
				*last = rec
			}
			continue
		}
		merged = append(merged, rec)
	}
	return merged
}
