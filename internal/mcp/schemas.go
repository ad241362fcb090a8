package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexProjectTool returns the tool definition for index_project
func indexProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_project",
		Description: "Index a source tree to make its symbols and documents searchable",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the project root",
				},
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, reprocess every file ignoring content fingerprints",
					"default":     false,
				},
			},
			Required: []string{"path"},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search the indexed project with exact, fuzzy or semantic queries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (symbol name, keywords or natural language)",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy",
					"enum":        []string{"exact", "fuzzy", "semantic", "semantic_with_context"},
					"default":     "fuzzy",
				},
				"language": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one source language",
					"enum":        []string{"go", "python", "javascript", "markdown"},
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"threshold": map[string]interface{}{
					"type":        "number",
					"description": "Minimum similarity score for semantic results (0-1)",
				},
				"probe_count": map[string]interface{}{
					"type":        "integer",
					"description": "Vector clusters examined per semantic search (0 = automatic)",
					"minimum":     0,
				},
			},
			Required: []string{"query"},
		},
	}
}

// findSymbolTool returns the tool definition for find_symbol
func findSymbolTool() mcp.Tool {
	return mcp.Tool{
		Name:        "find_symbol",
		Description: "Look up symbols by exact name",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Exact symbol name",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results",
					"default":     10,
				},
			},
			Required: []string{"name"},
		},
	}
}

// getRelationshipsTool returns the tool definition for get_relationships
func getRelationshipsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_relationships",
		Description: "Walk the relationship graph (calls, implements, extends, uses) from a named symbol",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Symbol name to start the traversal from",
				},
				"depth": map[string]interface{}{
					"type":        "integer",
					"description": "Traversal depth (1-5)",
					"default":     1,
					"minimum":     1,
					"maximum":     5,
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results",
					"default":     25,
				},
			},
			Required: []string{"name"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics: tracked files, indexed documents and stored vectors",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
