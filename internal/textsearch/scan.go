package textsearch

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/ragless-mcp/pkg/types"
)

// ScanDispatcher searches file contents with a pure-Go line scanner. It is
// the fallback when no external search utility is installed, and the
// implementation the tests exercise.
type ScanDispatcher struct{}

// NewScanDispatcher creates a scanner-backed dispatcher.
func NewScanDispatcher() *ScanDispatcher {
	return &ScanDispatcher{}
}

// Available always succeeds; the scanner has no external dependency.
func (d *ScanDispatcher) Available() error { return nil }

// Search runs the pattern over every searchable file under paths, one task
// per file under a bounded worker pool.
func (d *ScanDispatcher) Search(ctx context.Context, pattern string, paths []string, opts Options) ([]types.MatchRecord, error) {
	opts = opts.withDefaults()

	re, err := compilePattern(pattern, opts.CaseSensitive)
	if err != nil {
		return nil, fmt.Errorf("%w: bad pattern %q: %v", types.ErrInvalidInput, pattern, err)
	}

	walk, err := DiscoverFiles(paths, opts)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		records []types.MatchRecord
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, entry := range walk.Files {
		g.Go(func() error {
			matches, err := scanFileWithRetry(gctx, entry.Path, re, opts)
			if err != nil {
				// Unreadable mid-search is a skip, not a failure; the
				// file may have been removed since discovery.
				return nil
			}
			if len(matches) == 0 {
				return nil
			}
			mu.Lock()
			records = append(records, matches...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCancelled, err)
	}

	return MergeOverlapping(records), nil
}

// scanFileWithRetry retries transient open failures with a short backoff.
func scanFileWithRetry(ctx context.Context, path string, re *regexp.Regexp, opts Options) ([]types.MatchRecord, error) {
	var lastErr error
	backoff := 50 * time.Millisecond

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
		matches, err := scanFile(ctx, path, re, opts.Level)
		if err == nil {
			return matches, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %s: %v", types.ErrTransientIO, path, lastErr)
}

// scanFile reads one file line by line, recording byte-accurate match spans.
func scanFile(ctx context.Context, path string, re *regexp.Regexp, level int) ([]types.MatchRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var records []types.MatchRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	offset := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := scanner.Text()
		if loc := re.FindStringIndex(line); loc != nil {
			records = append(records, types.MatchRecord{
				Path:        path,
				Line:        lineNo,
				StartOffset: offset + loc[0],
				EndOffset:   offset + loc[1],
				Text:        line,
				Level:       level,
			})
		}
		offset += len(scanner.Bytes()) + 1 // +1 for the newline
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// compilePattern builds the regex, defaulting to case-insensitive to mirror
// how the external tool is invoked.
func compilePattern(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}
