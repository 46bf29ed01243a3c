package textsearch

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/ragless-mcp/pkg/types"
)

// Supported external tools, tried in order when none is pinned.
const (
	ToolRipgrep = "rg"
	ToolGrep    = "grep"
)

// ExecDispatcher invokes an external line-oriented search utility through a
// process boundary and normalizes its output. A non-zero exit with empty
// output means "no matches" and is not an error.
type ExecDispatcher struct {
	tool string

	lookPath func(string) (string, error) // Stubbed in tests
	runCmd   func(ctx context.Context, name string, args ...string) ([]byte, int, error)
}

// NewExecDispatcher creates a dispatcher for the named tool ("rg" or "grep").
// An empty name auto-detects, preferring ripgrep.
func NewExecDispatcher(tool string) *ExecDispatcher {
	return &ExecDispatcher{
		tool:     tool,
		lookPath: exec.LookPath,
		runCmd:   runCommand,
	}
}

// Available resolves the tool binary, surfacing types.ErrToolUnavailable with
// a remediation hint when nothing can be invoked.
func (d *ExecDispatcher) Available() error {
	if d.tool != "" {
		if _, err := d.lookPath(d.tool); err != nil {
			return fmt.Errorf("%w: %q not found in PATH (install ripgrep or set retrieval.search_tool to builtin)", types.ErrToolUnavailable, d.tool)
		}
		return nil
	}
	for _, tool := range []string{ToolRipgrep, ToolGrep} {
		if _, err := d.lookPath(tool); err == nil {
			d.tool = tool
			return nil
		}
	}
	return fmt.Errorf("%w: neither rg nor grep found in PATH (install ripgrep or set retrieval.search_tool to builtin)", types.ErrToolUnavailable)
}

// Search fans out one tool invocation per root path under a bounded pool and
// merges the normalized results.
func (d *ExecDispatcher) Search(ctx context.Context, pattern string, paths []string, opts Options) ([]types.MatchRecord, error) {
	opts = opts.withDefaults()

	if err := d.Available(); err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		records  []types.MatchRecord
		okPaths  int
		warnings []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for _, root := range paths {
		g.Go(func() error {
			recs, err := d.searchPath(gctx, pattern, root, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("%s: %v", root, err))
				return nil
			}
			okPaths++
			records = append(records, recs...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCancelled, err)
	}
	if okPaths == 0 && len(paths) > 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrNoSearchableInput, strings.Join(warnings, "; "))
	}

	return MergeOverlapping(records), nil
}

// searchPath runs one invocation with per-call timeout and bounded retries.
func (d *ExecDispatcher) searchPath(ctx context.Context, pattern, root string, opts Options) ([]types.MatchRecord, error) {
	args := d.buildArgs(pattern, root, opts)

	var lastErr error
	backoff := 100 * time.Millisecond

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
		out, exitCode, err := d.runCmd(callCtx, d.tool, args...)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		// Exit code 1 (rg and grep alike) means no matches. rg uses 2 for
		// errors but still emits partial results on unreadable subtrees.
		if exitCode > 1 && len(bytes.TrimSpace(out)) == 0 {
			lastErr = fmt.Errorf("exit code %d", exitCode)
			continue
		}

		return d.parseOutput(out, opts.Level), nil
	}
	return nil, fmt.Errorf("%w: %v", types.ErrTransientIO, lastErr)
}

// buildArgs assembles the command line for the configured tool. Both tools
// emit path:line:byte-offset:text with these flags.
func (d *ExecDispatcher) buildArgs(pattern, root string, opts Options) []string {
	var args []string
	switch d.tool {
	case ToolRipgrep:
		args = []string{"--no-heading", "--with-filename", "--line-number", "--byte-offset"}
		if !opts.CaseSensitive {
			args = append(args, "--ignore-case")
		}
		if opts.MaxDepth > 0 {
			args = append(args, "--max-depth", strconv.Itoa(opts.MaxDepth))
		}
		for _, glob := range opts.Include {
			args = append(args, "--glob", glob)
		}
		for _, glob := range opts.Exclude {
			args = append(args, "--glob", "!"+glob)
		}
		args = append(args, "--regexp", pattern, root)
	default:
		args = []string{"-r", "-n", "-b", "-H", "-E"}
		if !opts.CaseSensitive {
			args = append(args, "-i")
		}
		for _, glob := range opts.Include {
			args = append(args, "--include="+glob)
		}
		for _, glob := range opts.Exclude {
			args = append(args, "--exclude="+glob)
		}
		args = append(args, pattern, root)
	}
	return args
}

// parseOutput normalizes path:line:offset:text lines into MatchRecords.
// Malformed lines are dropped rather than failing the whole invocation.
func (d *ExecDispatcher) parseOutput(out []byte, level int) []types.MatchRecord {
	var records []types.MatchRecord

	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		rec, ok := parseMatchLine(line, level, d.tool)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records
}

// parseMatchLine splits one output line. ripgrep's --byte-offset reports the
// offset of the matched line's start; grep -b does the same.
func parseMatchLine(line string, level int, tool string) (types.MatchRecord, bool) {
	parts := strings.SplitN(line, ":", 4)
	if len(parts) < 4 {
		return types.MatchRecord{}, false
	}

	lineNo, err := strconv.Atoi(parts[1])
	if err != nil || lineNo < 1 {
		return types.MatchRecord{}, false
	}
	offset, err := strconv.Atoi(parts[2])
	if err != nil || offset < 0 {
		return types.MatchRecord{}, false
	}

	text := parts[3]
	return types.MatchRecord{
		Path:        parts[0],
		Line:        lineNo,
		StartOffset: offset,
		EndOffset:   offset + len(text),
		Text:        text,
		Level:       level,
	}, true
}

// runCommand executes the tool and separates the exit code from hard
// invocation failures.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = nil

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return stdout.Bytes(), exitErr.ExitCode(), nil
	}
	return nil, -1, err
}
