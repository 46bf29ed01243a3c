package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/ragless-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams     = -32602 // Invalid method parameters
	ErrorCodeInternalError     = -32603 // Internal JSON-RPC error
	ErrorCodeNoSearchableInput = -32001 // No search path could be read
	ErrorCodeToolUnavailable   = -32002 // Configured search tool missing
	ErrorCodeNotFound          = -32003 // Cluster does not exist
	ErrorCodeLLMFailure        = -32004 // Model call failed after retries
	ErrorCodeStoreConflict     = -32005 // Store rejected a state change
	ErrorCodeCancelled         = -32006 // Caller cancelled the request
)

// handleSearch handles the search tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	paths := getStringSlice(args, "paths")
	if len(paths) == 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "paths parameter is required", map[string]interface{}{
			"param":  "paths",
			"reason": "missing or empty",
		})
	}

	mode := getStringDefault(args, "mode", "FAST")
	searchMode := types.SearchMode(strings.ToLower(mode))
	if !searchMode.Valid() {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   mode,
			"allowed": []string{"FAST", "DEEP", "FILENAME_ONLY"},
		})
	}

	topK := getIntDefault(args, "top_k_files", 0)
	if topK < 0 || topK > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "top_k_files must be between 1 and 100", map[string]interface{}{
			"param": "top_k_files",
			"value": topK,
		})
	}
	maxDepth := getIntDefault(args, "max_depth", 0)
	if maxDepth < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "max_depth cannot be negative", map[string]interface{}{
			"param": "max_depth",
			"value": maxDepth,
		})
	}

	result, err := s.orch.Search(ctx, types.SearchQuery{
		Query:         query,
		Paths:         paths,
		Mode:          searchMode,
		MaxDepth:      maxDepth,
		TopKFiles:     topK,
		Include:       getStringSlice(args, "include"),
		Exclude:       getStringSlice(args, "exclude"),
		ReturnCluster: getBoolDefault(args, "return_cluster", false),
	})
	if err != nil {
		return nil, toolError(err)
	}

	response := map[string]interface{}{
		"answer":  result.Answer,
		"reused":  result.Reused,
		"partial": result.Partial,
		"usage": map[string]interface{}{
			"prompt_tokens":     result.Usage.PromptTokens,
			"completion_tokens": result.Usage.CompletionTokens,
			"llm_calls":         result.Usage.LLMCalls,
		},
	}
	if result.ClusterID != "" {
		response["cluster_id"] = result.ClusterID
	}
	if len(result.Warnings) > 0 {
		response["warnings"] = result.Warnings
	}
	if len(result.Candidates) > 0 {
		candidates := make([]map[string]interface{}, 0, len(result.Candidates))
		for _, c := range result.Candidates {
			candidates = append(candidates, map[string]interface{}{
				"path":    c.Path,
				"score":   c.Score,
				"matches": c.Matches,
			})
		}
		response["candidates"] = candidates
	}
	if len(result.Evidence) > 0 {
		response["evidence"] = evidenceJSON(result.Evidence)
	}
	if result.Cluster != nil {
		response["cluster"] = clusterJSON(result.Cluster)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetCluster handles the get_cluster tool invocation
func (s *Server) handleGetCluster(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	id, ok := args["cluster_id"].(string)
	if !ok || strings.TrimSpace(id) == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "cluster_id parameter is required", map[string]interface{}{
			"param":  "cluster_id",
			"reason": "missing or empty",
		})
	}

	cluster, err := s.orch.GetCluster(ctx, id)
	if err != nil {
		return nil, toolError(err)
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"cluster": clusterJSON(cluster),
	})), nil
}

// handleListClusters handles the list_clusters tool invocation
func (s *Server) handleListClusters(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		args = map[string]interface{}{}
	}

	limit := getIntDefault(args, "limit", 20)
	if limit < 1 || limit > 200 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 200", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}
	sortBy := getStringDefault(args, "sort_by", "last_modified")

	clusters, err := s.orch.ListClusters(ctx, limit, sortBy)
	if err != nil {
		return nil, toolError(err)
	}

	summaries := make([]map[string]interface{}, 0, len(clusters))
	for _, c := range clusters {
		summaries = append(summaries, map[string]interface{}{
			"id":             c.ID,
			"name":           c.Name,
			"description":    c.Description.String(),
			"lifecycle":      string(c.Lifecycle),
			"confidence":     c.Confidence,
			"hotness":        c.Hotness,
			"corroborations": c.Corroborations,
			"evidence_count": len(c.Evidence),
			"updated_at":     c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"count":    len(summaries),
		"clusters": summaries,
	})), nil
}

// handleGetStats handles the get_stats tool invocation
func (s *Server) handleGetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.orch.Stats(ctx)
	if err != nil {
		return nil, toolError(err)
	}

	lifecycle := make(map[string]interface{}, len(stats.Lifecycle))
	for state, n := range stats.Lifecycle {
		lifecycle[string(state)] = n
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"total_clusters":       stats.Total,
		"lifecycle":            lifecycle,
		"confidence_histogram": stats.ConfidenceHist[:],
		"hotness_histogram":    stats.HotnessHist[:],
	})), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toolError maps a pipeline error onto an MCP error code. Every error
// leaving the orchestrator wraps a known sentinel, so an unmatched error
// can only mean a bug; it maps to the internal code.
func toolError(err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		code = ErrorCodeInvalidParams
	case errors.Is(err, types.ErrNoSearchableInput):
		code = ErrorCodeNoSearchableInput
	case errors.Is(err, types.ErrToolUnavailable):
		code = ErrorCodeToolUnavailable
	case errors.Is(err, types.ErrNotFound):
		code = ErrorCodeNotFound
	case errors.Is(err, types.ErrLLM):
		code = ErrorCodeLLMFailure
	case errors.Is(err, types.ErrStoreConflict), errors.Is(err, types.ErrAmbiguousReuse):
		code = ErrorCodeStoreConflict
	case errors.Is(err, types.ErrCancelled):
		code = ErrorCodeCancelled
	}
	return newMCPError(code, err.Error(), nil)
}

// evidenceJSON renders evidence spans for transport.
func evidenceJSON(units []types.EvidenceUnit) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(units))
	for _, u := range units {
		span := map[string]interface{}{
			"path":  u.Path,
			"start": u.Start,
			"end":   u.End,
			"score": u.Score,
			"text":  u.Text,
		}
		if u.Justification != "" {
			span["justification"] = u.Justification
		}
		if u.Degraded {
			span["degraded"] = true
		}
		out = append(out, span)
	}
	return out
}

// clusterJSON renders a full cluster for transport.
func clusterJSON(c *types.KnowledgeCluster) map[string]interface{} {
	out := map[string]interface{}{
		"id":             c.ID,
		"name":           c.Name,
		"description":    c.Description,
		"content":        c.Content,
		"confidence":     c.Confidence,
		"abstraction":    c.Abstraction.String(),
		"lifecycle":      string(c.Lifecycle),
		"hotness":        c.Hotness,
		"corroborations": c.Corroborations,
		"evidence":       evidenceJSON(c.Evidence),
		"created_at":     c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		"updated_at":     c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if len(c.Patterns) > 0 {
		out["patterns"] = c.Patterns
	}
	if len(c.Constraints) > 0 {
		constraints := make([]map[string]interface{}, 0, len(c.Constraints))
		for _, con := range c.Constraints {
			constraints = append(constraints, map[string]interface{}{
				"kind": con.Kind,
				"text": con.Text,
			})
		}
		out["constraints"] = constraints
	}
	if len(c.QueryRefs) > 0 {
		out["query_refs"] = c.QueryRefs
	}
	if len(c.Scan.SourceFiles) > 0 {
		scan := map[string]interface{}{
			"source_files": c.Scan.SourceFiles,
			"total_bytes":  c.Scan.TotalBytes,
		}
		if len(c.Scan.MissingFiles) > 0 {
			scan["missing_files"] = c.Scan.MissingFiles
		}
		if !c.Scan.LastScannedAt.IsZero() {
			scan["last_scanned_at"] = c.Scan.LastScannedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		out["scan"] = scan
	}
	return out
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter
func getStringSlice(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		if vals, ok := args[key].([]string); ok {
			return vals
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
