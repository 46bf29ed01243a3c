package types

import (
	"encoding/json"
	"strings"
)

// FlexText models a field that is either a single text value or a list of
// texts. This is a tagged variant with explicit accessors rather than an
// untyped union; the zero value is an empty scalar.
type FlexText struct {
	scalar string
	list   []string
	isList bool
}

// Scalar creates a single-value FlexText.
func Scalar(text string) FlexText {
	return FlexText{scalar: text}
}

// List creates a multi-value FlexText. The slice is copied.
func List(texts []string) FlexText {
	cp := make([]string, len(texts))
	copy(cp, texts)
	return FlexText{list: cp, isList: true}
}

// IsList reports whether the value holds multiple texts.
func (f FlexText) IsList() bool { return f.isList }

// IsEmpty reports whether the value carries no text at all.
func (f FlexText) IsEmpty() bool {
	if f.isList {
		return len(f.list) == 0
	}
	return f.scalar == ""
}

// String returns the scalar value, or the list joined with newlines.
func (f FlexText) String() string {
	if f.isList {
		return strings.Join(f.list, "\n")
	}
	return f.scalar
}

// Lines returns the value as a slice: the list itself, or a one-element slice
// holding the scalar. An empty scalar yields an empty slice.
func (f FlexText) Lines() []string {
	if f.isList {
		cp := make([]string, len(f.list))
		copy(cp, f.list)
		return cp
	}
	if f.scalar == "" {
		return []string{}
	}
	return []string{f.scalar}
}

// Append returns a new FlexText with the given text added, promoting a scalar
// to a list when necessary.
func (f FlexText) Append(text string) FlexText {
	lines := f.Lines()
	lines = append(lines, text)
	if len(lines) == 1 {
		return Scalar(lines[0])
	}
	return List(lines)
}

// MarshalJSON encodes a scalar as a JSON string and a list as a JSON array,
// matching how the field appears on the wire.
func (f FlexText) MarshalJSON() ([]byte, error) {
	if f.isList {
		return json.Marshal(f.list)
	}
	return json.Marshal(f.scalar)
}

// UnmarshalJSON accepts either a JSON string or an array of strings.
func (f *FlexText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = Scalar(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = List(list)
	return nil
}
