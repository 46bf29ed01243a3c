package types

import (
	"errors"
	"time"
)

// FileType classifies a candidate file by how its content should be treated.
type FileType string

const (
	FileTypeText     FileType = "text"
	FileTypeMarkdown FileType = "markdown"
	FileTypeSource   FileType = "source"
	FileTypeData     FileType = "data"
	FileTypeBinary   FileType = "binary"
)

// FileCandidate is a ranked file produced by retrieval. Created during a
// search pass and never mutated; discarded afterward unless its content is
// promoted into evidence.
type FileCandidate struct {
	Path     string
	Size     int64
	FileType FileType
	Title    string // Detected document title or first heading, may be empty
	ModTime  time.Time
	Score    float64 // TF-IDF style relevance, higher is better
	Matches  int     // Deduplicated match count that contributed to Score
}

// MatchRecord is a single normalized hit from the text-search utility.
// Ephemeral: owned exclusively by the retrieval pass that created it.
type MatchRecord struct {
	Path        string
	Line        int // 1-based line number
	StartOffset int // Byte offset of the match within the file
	EndOffset   int
	Text        string // The matched line or fragment
	Level       int    // Keyword level that produced this match
}

// Validate checks internal consistency of a match record.
func (m *MatchRecord) Validate() error {
	if m.Path == "" {
		return errors.New("match record requires a path")
	}
	if m.Line < 1 {
		return errors.New("line numbers are 1-based")
	}
	if m.StartOffset < 0 || m.EndOffset < m.StartOffset {
		return errors.New("invalid offset range")
	}
	return nil
}

// Overlaps reports whether two match records cover overlapping byte ranges in
// the same file.
func (m *MatchRecord) Overlaps(other *MatchRecord) bool {
	if m.Path != other.Path {
		return false
	}
	return m.StartOffset < other.EndOffset && other.StartOffset < m.EndOffset
}

// Len returns the byte length of the matched range.
func (m *MatchRecord) Len() int {
	return m.EndOffset - m.StartOffset
}
