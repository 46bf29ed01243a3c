package textsearch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dshills/ragless-mcp/pkg/types"
)

// FileEntry is a discovered file with the metadata retrieval needs.
type FileEntry struct {
	Path    string
	Size    int64
	ModTime int64 // Unix nanos; callers convert when building candidates
	Type    types.FileType
}

// WalkResult carries discovered files plus per-path warnings for inputs that
// could not be read. Unreadable paths are skipped, not fatal, unless every
// path fails.
type WalkResult struct {
	Files    []FileEntry
	Warnings []string
}

// DiscoverFiles walks the path set and returns every searchable file.
// Hidden directories and obviously binary files are skipped. Returns
// types.ErrNoSearchableInput when all paths fail.
func DiscoverFiles(paths []string, opts Options) (*WalkResult, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths given", types.ErrInvalidInput)
	}

	result := &WalkResult{}
	okPaths := 0

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipping %s: %v", root, err))
			continue
		}
		okPaths++

		if !info.IsDir() {
			if entry, ok := fileEntry(root, info, opts); ok {
				result.Files = append(result.Files, entry)
			}
			continue
		}

		rootDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))
		walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("skipping %s: %v", path, err))
				return nil
			}
			if info.IsDir() {
				if strings.HasPrefix(info.Name(), ".") && path != root {
					return filepath.SkipDir
				}
				if opts.MaxDepth > 0 {
					depth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - rootDepth
					if depth >= opts.MaxDepth {
						return filepath.SkipDir
					}
				}
				return nil
			}
			if entry, ok := fileEntry(path, info, opts); ok {
				result.Files = append(result.Files, entry)
			}
			return nil
		})
		if walkErr != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("walking %s: %v", root, walkErr))
		}
	}

	if okPaths == 0 {
		return nil, fmt.Errorf("%w: all %d paths unreadable", types.ErrNoSearchableInput, len(paths))
	}
	return result, nil
}

// fileEntry applies name filters and type detection to a single file.
func fileEntry(path string, info os.FileInfo, opts Options) (FileEntry, bool) {
	name := info.Name()
	if strings.HasPrefix(name, ".") {
		return FileEntry{}, false
	}
	if !matchGlobs(name, opts.Include, true) || matchGlobs(name, opts.Exclude, false) {
		return FileEntry{}, false
	}

	ft := DetectType(path)
	if ft == types.FileTypeBinary {
		return FileEntry{}, false
	}

	return FileEntry{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime().UnixNano(),
		Type:    ft,
	}, true
}

// matchGlobs reports whether name matches any pattern. emptyResult is what an
// empty pattern list means (include-all vs exclude-none).
func matchGlobs(name string, patterns []string, emptyResult bool) bool {
	if len(patterns) == 0 {
		return emptyResult
	}
	for _, p := range patterns {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// DetectType classifies a file by extension, falling back to a content sniff
// for extensionless files.
func DetectType(path string) types.FileType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".rst":
		return types.FileTypeMarkdown
	case ".txt", ".log", ".text":
		return types.FileTypeText
	case ".go", ".py", ".js", ".ts", ".java", ".c", ".h", ".cpp", ".rs", ".rb", ".sh", ".sql":
		return types.FileTypeSource
	case ".json", ".yaml", ".yml", ".toml", ".csv", ".xml":
		return types.FileTypeData
	case ".png", ".jpg", ".jpeg", ".gif", ".pdf", ".zip", ".gz", ".tar", ".exe", ".so", ".dylib", ".bin":
		return types.FileTypeBinary
	}

	f, err := os.Open(path)
	if err != nil {
		return types.FileTypeBinary
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return types.FileTypeText // Empty files are searchable, just vacuously
	}
	if !looksTextual(buf[:n]) {
		return types.FileTypeBinary
	}
	return types.FileTypeText
}

// looksTextual rejects content with NUL bytes or mostly-invalid UTF-8.
func looksTextual(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	invalid := 0
	for i := 0; i < len(data); {
		if data[i] == 0 {
			return false
		}
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			invalid++
		}
		i += size
	}
	return invalid*10 < len(data)
}

// ExtractTitle returns the first Markdown heading or non-empty line of a
// file's opening bytes, used for the filename/title ranking bonus.
func ExtractTitle(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 2048)
	n, _ := f.Read(buf)
	for _, line := range strings.Split(string(buf[:n]), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "# "))
		}
		// Only treat the first line as a title when it is heading-like.
		if len(line) <= 120 {
			return line
		}
		return ""
	}
	return ""
}
