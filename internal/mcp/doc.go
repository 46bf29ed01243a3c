// Package mcp implements the Model Context Protocol (MCP) server for Ragless.
//
// The MCP server exposes four tools to AI coding assistants:
//   - search: Search files on disk without an index, returning ranked
//     evidence spans and a distilled knowledge cluster
//   - get_cluster: Fetch one stored knowledge cluster by id
//   - list_clusters: List stored clusters ordered by a sort key
//   - get_stats: Report aggregate statistics over the knowledge store
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server communicates with MCP clients via standard input/output,
// making it simple to integrate with any MCP-compatible client.
//
// # Tool: search
//
// Search a set of paths for content relevant to a query:
//
//	Request:
//	{
//	  "name": "search",
//	  "arguments": {
//	    "query": "how does retry backoff work",
//	    "paths": ["/path/to/project"],
//	    "mode": "FAST",
//	    "return_cluster": false
//	  }
//	}
//
// The response carries a formatted answer, the ranked candidate files,
// the localized evidence spans, and the id of the knowledge cluster the
// search produced or reused. DEEP mode additionally confirms evidence
// relevance with the configured model and synthesizes the cluster text;
// FILENAME_ONLY matches names without reading file content.
//
// # Tool: get_cluster
//
//	Request:
//	{
//	  "name": "get_cluster",
//	  "arguments": {"cluster_id": "..."}
//	}
//
// # Tool: list_clusters
//
//	Request:
//	{
//	  "name": "list_clusters",
//	  "arguments": {"limit": 20, "sort_by": "hotness"}
//	}
//
// # Error Codes
//
// Tool failures map the pipeline's error categories onto JSON-RPC codes:
// invalid parameters (-32602), unreadable search paths (-32001), missing
// search tool (-32002), unknown cluster (-32003), model failure (-32004),
// store conflict (-32005), and cancellation (-32006). Anything else is an
// internal error (-32603).
package mcp
