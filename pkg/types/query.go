package types

// SearchMode selects how much of the pipeline a search runs.
type SearchMode string

const (
	// ModeFast runs retrieval and heuristic-only sampling; no LLM calls
	// inside the sampler.
	ModeFast SearchMode = "fast"
	// ModeDeep runs the full sampling pipeline with LLM relevance scoring
	// and LLM cluster synthesis.
	ModeDeep SearchMode = "deep"
	// ModeFilenameOnly matches file names and paths only. Never invokes the
	// sampler or the LLM boundary.
	ModeFilenameOnly SearchMode = "filename_only"
)

// Valid reports whether the mode is one of the three supported contracts.
func (m SearchMode) Valid() bool {
	switch m {
	case ModeFast, ModeDeep, ModeFilenameOnly:
		return true
	}
	return false
}

// SearchQuery is the externally visible request.
type SearchQuery struct {
	Query         string
	Paths         []string
	Mode          SearchMode
	MaxDepth      int      // Directory recursion limit, 0 = unlimited
	TopKFiles     int      // Candidate files to carry into sampling
	Include       []string // Glob patterns; empty means everything
	Exclude       []string
	ReturnCluster bool // When true the full cluster rides on the result
}

// Usage accounts for LLM token consumption during a search.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	LLMCalls         int
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.LLMCalls += other.LLMCalls
}

// SearchResult is the externally visible response.
type SearchResult struct {
	Answer     string // Formatted summary of what was found
	Cluster    *KnowledgeCluster
	ClusterID  string
	Candidates []FileCandidate
	Evidence   []EvidenceUnit
	Reused     bool     // True when a stored cluster satisfied the query
	Partial    bool     // True when a budget or cancellation cut the search short
	Warnings   []string // Skipped paths, degraded scoring, ambiguous reuse
	Usage      Usage
}
