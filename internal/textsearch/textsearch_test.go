package textsearch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragless-mcp/pkg/types"
)

// writeCorpus creates a small searchable tree and returns its root.
func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"alpha.md":       "# Alpha notes\n\nThe attention mechanism scales quadratically.\nNothing else here.\n",
		"beta.txt":       "plain text without the magic words\nattention is mentioned once\n",
		"sub/gamma.go":   "package gamma\n\n// attention: this is a code comment\nfunc Gamma() {}\n",
		"sub/.hidden.md": "attention attention attention\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func TestScanDispatcherFindsMatches(t *testing.T) {
	dir := writeCorpus(t)
	d := NewScanDispatcher()

	records, err := d.Search(context.Background(), "attention", []string{dir}, Options{})
	require.NoError(t, err)

	paths := make(map[string]int)
	for _, rec := range records {
		paths[filepath.Base(rec.Path)]++
		require.NoError(t, rec.Validate())
	}

	assert.Equal(t, 1, paths["alpha.md"])
	assert.Equal(t, 1, paths["beta.txt"])
	assert.Equal(t, 1, paths["gamma.go"])
	assert.Zero(t, paths[".hidden.md"], "hidden files must be skipped")
}

func TestScanDispatcherCaseInsensitiveByDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("ATTENTION HERE\n"), 0644))

	d := NewScanDispatcher()
	records, err := d.Search(context.Background(), "attention", []string{dir}, Options{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Line)
}

func TestScanDispatcherByteOffsets(t *testing.T) {
	dir := t.TempDir()
	content := "first line\nsecond attention line\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte(content), 0644))

	d := NewScanDispatcher()
	records, err := d.Search(context.Background(), "attention", []string{dir}, Options{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, 2, rec.Line)
	assert.Equal(t, "attention", content[rec.StartOffset:rec.EndOffset])
}

func TestScanDispatcherNoMatchesIsEmptyNotError(t *testing.T) {
	dir := writeCorpus(t)
	d := NewScanDispatcher()

	records, err := d.Search(context.Background(), "zzz_nonexistent_zzz", []string{dir}, Options{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestScanDispatcherBadPattern(t *testing.T) {
	d := NewScanDispatcher()
	_, err := d.Search(context.Background(), "([", []string{t.TempDir()}, Options{})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestDiscoverFilesAllPathsUnreadable(t *testing.T) {
	_, err := DiscoverFiles([]string{"/no/such/path/one", "/no/such/path/two"}, Options{})
	assert.ErrorIs(t, err, types.ErrNoSearchableInput)
}

func TestDiscoverFilesPartialFailureIsWarning(t *testing.T) {
	dir := writeCorpus(t)
	result, err := DiscoverFiles([]string{dir, "/no/such/path"}, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Files)
	assert.NotEmpty(t, result.Warnings)
}

func TestDiscoverFilesMaxDepth(t *testing.T) {
	dir := writeCorpus(t)
	result, err := DiscoverFiles([]string{dir}, Options{MaxDepth: 1})
	require.NoError(t, err)

	for _, f := range result.Files {
		assert.NotContains(t, f.Path, "sub"+string(filepath.Separator), "depth 1 must not descend into sub/")
	}
}

func TestDiscoverFilesGlobs(t *testing.T) {
	dir := writeCorpus(t)

	result, err := DiscoverFiles([]string{dir}, Options{Include: []string{"*.md"}})
	require.NoError(t, err)
	require.Len(t, result.Files, 1)
	assert.Equal(t, "alpha.md", filepath.Base(result.Files[0].Path))

	result, err = DiscoverFiles([]string{dir}, Options{Exclude: []string{"*.go"}})
	require.NoError(t, err)
	for _, f := range result.Files {
		assert.NotEqual(t, ".go", filepath.Ext(f.Path))
	}
}

func TestMergeOverlapping(t *testing.T) {
	records := []types.MatchRecord{
		{Path: "a", Line: 1, StartOffset: 0, EndOffset: 10, Text: "short"},
		{Path: "a", Line: 1, StartOffset: 5, EndOffset: 30, Text: "longer"},
		{Path: "a", Line: 3, StartOffset: 40, EndOffset: 50, Text: "separate"},
		{Path: "b", Line: 1, StartOffset: 0, EndOffset: 10, Text: "other file"},
	}

	merged := MergeOverlapping(records)
	require.Len(t, merged, 3)

	// The overlapping pair collapses to the longest variant.
	assert.Equal(t, "longer", merged[0].Text)
	assert.Equal(t, "separate", merged[1].Text)
	assert.Equal(t, "b", merged[2].Path)
}

func TestMergeOverlappingDeterministicOrder(t *testing.T) {
	records := []types.MatchRecord{
		{Path: "b", Line: 1, StartOffset: 0, EndOffset: 5},
		{Path: "a", Line: 2, StartOffset: 20, EndOffset: 25},
		{Path: "a", Line: 1, StartOffset: 0, EndOffset: 5},
	}

	merged := MergeOverlapping(records)
	require.Len(t, merged, 3)
	assert.Equal(t, "a", merged[0].Path)
	assert.Equal(t, 0, merged[0].StartOffset)
	assert.Equal(t, "a", merged[1].Path)
	assert.Equal(t, "b", merged[2].Path)
}

func TestExecDispatcherUnavailable(t *testing.T) {
	d := NewExecDispatcher("definitely-not-a-real-tool")
	d.lookPath = func(string) (string, error) { return "", os.ErrNotExist }

	err := d.Available()
	assert.ErrorIs(t, err, types.ErrToolUnavailable)

	_, err = d.Search(context.Background(), "x", []string{t.TempDir()}, Options{})
	assert.ErrorIs(t, err, types.ErrToolUnavailable)
}

func TestExecDispatcherParsesToolOutput(t *testing.T) {
	dir := t.TempDir()
	d := NewExecDispatcher(ToolRipgrep)
	d.lookPath = func(string) (string, error) { return "/usr/bin/rg", nil }
	d.runCmd = func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
		out := "doc.md:3:42:the attention mechanism\nbad line without fields\n"
		return []byte(out), 0, nil
	}

	records, err := d.Search(context.Background(), "attention", []string{dir}, Options{})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "doc.md", rec.Path)
	assert.Equal(t, 3, rec.Line)
	assert.Equal(t, 42, rec.StartOffset)
	assert.Equal(t, 42+len("the attention mechanism"), rec.EndOffset)
}

func TestExecDispatcherNoMatchesExitCode(t *testing.T) {
	d := NewExecDispatcher(ToolRipgrep)
	d.lookPath = func(string) (string, error) { return "/usr/bin/rg", nil }
	d.runCmd = func(ctx context.Context, name string, args ...string) ([]byte, int, error) {
		return nil, 1, nil // rg exit 1: no matches
	}

	records, err := d.Search(context.Background(), "nothing", []string{t.TempDir()}, Options{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDetectType(t *testing.T) {
	assert.Equal(t, types.FileTypeMarkdown, DetectType("readme.md"))
	assert.Equal(t, types.FileTypeSource, DetectType("main.go"))
	assert.Equal(t, types.FileTypeData, DetectType("config.yaml"))
	assert.Equal(t, types.FileTypeBinary, DetectType("image.png"))
}

func TestExtractTitle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")
	require.NoError(t, os.WriteFile(path, []byte("\n# The Real Title\n\nbody\n"), 0644))
	assert.Equal(t, "The Real Title", ExtractTitle(path))
}
