package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexTextScalar(t *testing.T) {
	f := Scalar("a single line")

	assert.False(t, f.IsList())
	assert.False(t, f.IsEmpty())
	assert.Equal(t, "a single line", f.String())
	assert.Equal(t, []string{"a single line"}, f.Lines())
}

func TestFlexTextList(t *testing.T) {
	f := List([]string{"first", "second"})

	assert.True(t, f.IsList())
	assert.Equal(t, "first\nsecond", f.String())
	assert.Equal(t, []string{"first", "second"}, f.Lines())
}

func TestFlexTextAppendPromotesScalar(t *testing.T) {
	f := Scalar("first").Append("second")

	assert.True(t, f.IsList())
	assert.Equal(t, []string{"first", "second"}, f.Lines())
}

func TestFlexTextZeroValue(t *testing.T) {
	var f FlexText
	assert.True(t, f.IsEmpty())
	assert.Empty(t, f.Lines())
}

func TestFlexTextJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   FlexText
		want string
	}{
		{"scalar", Scalar("hello"), `"hello"`},
		{"list", List([]string{"a", "b"}), `["a","b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))

			var out FlexText
			require.NoError(t, json.Unmarshal(data, &out))
			assert.Equal(t, tt.in.Lines(), out.Lines())
			assert.Equal(t, tt.in.IsList(), out.IsList())
		})
	}
}

func TestLifecycleTransitions(t *testing.T) {
	tests := []struct {
		from, to Lifecycle
		ok       bool
	}{
		{LifecycleEmerging, LifecycleStable, true},
		{LifecycleEmerging, LifecycleContested, true},
		{LifecycleEmerging, LifecycleDeprecated, true},
		{LifecycleStable, LifecycleContested, true},
		{LifecycleContested, LifecycleStable, true},
		{LifecycleStable, LifecycleDeprecated, true},
		{LifecycleDeprecated, LifecycleStable, false},
		{LifecycleDeprecated, LifecycleEmerging, false},
		{LifecycleDeprecated, LifecycleContested, false},
		{LifecycleStable, LifecycleEmerging, false},
		{LifecycleContested, LifecycleEmerging, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestLifecycleSelfTransitionAllowed(t *testing.T) {
	for _, l := range []Lifecycle{LifecycleEmerging, LifecycleStable, LifecycleContested, LifecycleDeprecated} {
		assert.True(t, l.CanTransition(l))
	}
}

func TestMoreAdvanced(t *testing.T) {
	assert.Equal(t, LifecycleStable, MoreAdvanced(LifecycleEmerging, LifecycleStable))
	assert.Equal(t, LifecycleStable, MoreAdvanced(LifecycleStable, LifecycleContested))
	assert.Equal(t, LifecycleDeprecated, MoreAdvanced(LifecycleStable, LifecycleDeprecated))
}

func TestAbstractionLevelOrdering(t *testing.T) {
	assert.Less(t, int(LevelTechnique), int(LevelPrinciple))
	assert.Less(t, int(LevelPrinciple), int(LevelParadigm))
	assert.Less(t, int(LevelParadigm), int(LevelFoundation))
	assert.Less(t, int(LevelFoundation), int(LevelPhilosophy))
}

func TestAbstractionLevelRoundTrip(t *testing.T) {
	for _, l := range []AbstractionLevel{LevelTechnique, LevelPrinciple, LevelParadigm, LevelFoundation, LevelPhilosophy} {
		parsed, err := ParseAbstractionLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}

	_, err := ParseAbstractionLevel("bogus")
	assert.Error(t, err)
}

func TestEvidenceUnitValidate(t *testing.T) {
	valid := EvidenceUnit{Path: "doc.md", Start: 0, End: 10, Text: "hello", Score: 0.5}
	require.NoError(t, valid.Validate())

	inverted := valid
	inverted.Start, inverted.End = 10, 10
	assert.Error(t, inverted.Validate())

	badScore := valid
	badScore.Score = 1.5
	assert.Error(t, badScore.Validate())
}

func TestMatchRecordOverlaps(t *testing.T) {
	a := MatchRecord{Path: "f", Line: 1, StartOffset: 0, EndOffset: 10}
	b := MatchRecord{Path: "f", Line: 1, StartOffset: 5, EndOffset: 15}
	c := MatchRecord{Path: "f", Line: 2, StartOffset: 10, EndOffset: 20}
	d := MatchRecord{Path: "other", Line: 1, StartOffset: 0, EndOffset: 10}

	assert.True(t, a.Overlaps(&b))
	assert.False(t, a.Overlaps(&c)) // Touching ranges do not overlap
	assert.False(t, a.Overlaps(&d))
}

func TestClusterCloneIsDeep(t *testing.T) {
	c := &KnowledgeCluster{
		ID:        "id-1",
		Name:      "test",
		Lifecycle: LifecycleEmerging,
		Evidence:  []EvidenceUnit{{Path: "a", Start: 0, End: 5, Score: 0.9}},
		Patterns:  []string{"p1"},
	}

	cp := c.Clone()
	cp.Evidence[0].Score = 0.1
	cp.Patterns[0] = "mutated"

	assert.Equal(t, 0.9, c.Evidence[0].Score)
	assert.Equal(t, "p1", c.Patterns[0])
}
