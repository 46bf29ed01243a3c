package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// searchTool returns the tool definition for search
func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search",
		Description: "Search files under the given paths without building an index. Matches are localized to evidence spans and distilled into a reusable knowledge cluster.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"paths": map[string]interface{}{
					"type":        "array",
					"description": "Absolute directory or file paths to search",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Search depth: FAST (heuristic scoring only), DEEP (adds LLM relevance confirmation and synthesis), or FILENAME_ONLY (name matching, no content access)",
					"enum":        []string{"FAST", "DEEP", "FILENAME_ONLY"},
					"default":     "FAST",
				},
				"max_depth": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum directory depth to descend (0 = unlimited)",
					"default":     0,
					"minimum":     0,
				},
				"top_k_files": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum candidate files to rank (1-100)",
					"minimum":     1,
					"maximum":     100,
				},
				"include": map[string]interface{}{
					"type":        "array",
					"description": "Glob patterns a file must match to be searched (e.g., '**/*.md')",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"exclude": map[string]interface{}{
					"type":        "array",
					"description": "Glob patterns that exclude files from the search",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"return_cluster": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, include the full knowledge cluster in the response",
					"default":     false,
				},
			},
			Required: []string{"query", "paths"},
		},
	}
}

// getClusterTool returns the tool definition for get_cluster
func getClusterTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_cluster",
		Description: "Fetch one stored knowledge cluster by id, including its evidence spans",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"cluster_id": map[string]interface{}{
					"type":        "string",
					"description": "Cluster identifier returned by a previous search",
				},
			},
			Required: []string{"cluster_id"},
		},
	}
}

// listClustersTool returns the tool definition for list_clusters
func listClustersTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_clusters",
		Description: "List stored knowledge clusters ordered by a sort key",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of clusters to return (1-200)",
					"default":     20,
					"minimum":     1,
					"maximum":     200,
				},
				"sort_by": map[string]interface{}{
					"type":        "string",
					"description": "Ordering key",
					"enum":        []string{"hotness", "confidence", "last_modified"},
					"default":     "last_modified",
				},
			},
		},
	}
}

// getStatsTool returns the tool definition for get_stats
func getStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_stats",
		Description: "Report aggregate statistics over the knowledge store",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
