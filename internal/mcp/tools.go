package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codegraph-mcp/internal/indexer"
	"github.com/dshills/codegraph-mcp/internal/searcher"
	"github.com/dshills/codegraph-mcp/internal/security"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeNoFiles       = -32001 // Discover stage found nothing to index
	ErrorCodeEmptyQuery    = -32004 // Query parameter is empty
)

// handleIndexProject handles the index_project tool invocation
func (s *Server) handleIndexProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	canonical, err := validatePath(path)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	force := getBoolDefault(args, "force", false)

	report, err := s.indexer.Run(ctx, canonical, force)
	if errors.Is(err, indexer.ErrNoFiles) {
		return nil, newMCPError(ErrorCodeNoFiles, "no indexable files found", map[string]interface{}{
			"path": path,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"run_id":            report.RunID,
		"files_discovered":  report.FilesDiscovered,
		"files_indexed":     report.FilesIndexed,
		"files_skipped":     report.FilesSkipped,
		"files_failed":      report.FilesFailed,
		"symbols":           report.Symbols,
		"relationships":     report.Relationships,
		"chunks":            report.Chunks,
		"embeddings_failed": report.EmbeddingsFailed,
		"duration_ms":       report.Duration.Milliseconds(),
	}

	if len(report.Errors) > 0 {
		limit := len(report.Errors)
		if limit > 5 {
			limit = 5
		}
		errs := make([]string, 0, limit)
		for _, fe := range report.Errors[:limit] {
			errs = append(errs, fmt.Sprintf("%s (%s): %s", fe.Path, fe.Stage, fe.Err))
		}
		response["errors"] = errs
		response["error_count"] = len(report.Errors)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	req := searcher.Request{
		Query:     query,
		Mode:      searcher.Mode(getStringDefault(args, "mode", string(searcher.ModeFuzzy))),
		Language:  types.Language(getStringDefault(args, "language", "")),
		Limit:     getIntDefault(args, "limit", searcher.DefaultLimit),
		Threshold: getFloatDefault(args, "threshold", 0),

		// Per-request override of the configured cluster probe budget
		ProbeCount: getIntDefault(args, "probe_count", s.settings.Vector.ProbeCount),
	}

	results, err := s.searcher.Search(ctx, req)
	if errors.Is(err, searcher.ErrUnknownMode) {
		return nil, newMCPError(ErrorCodeInvalidParams, "unknown search mode", map[string]interface{}{
			"param": "mode",
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(searchResponse(query, results))), nil
}

// handleFindSymbol handles the find_symbol tool invocation
func (s *Server) handleFindSymbol(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "name parameter is required", map[string]interface{}{
			"param":  "name",
			"reason": "missing or empty",
		})
	}

	results, err := s.searcher.Search(ctx, searcher.Request{
		Query: name,
		Mode:  searcher.ModeExact,
		Limit: getIntDefault(args, "limit", searcher.DefaultLimit),
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(searchResponse(name, results))), nil
}

// handleGetRelationships handles the get_relationships tool invocation
func (s *Server) handleGetRelationships(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "name parameter is required", map[string]interface{}{
			"param":  "name",
			"reason": "missing or empty",
		})
	}

	results, err := s.searcher.Search(ctx, searcher.Request{
		Query: name,
		Mode:  searcher.ModeTraverse,
		Depth: getIntDefault(args, "depth", 1),
		Limit: getIntDefault(args, "limit", 25),
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "traversal failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(searchResponse(name, results))), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files, err := s.storage.ListFiles(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list files", map[string]interface{}{
			"error": err.Error(),
		})
	}

	docCount, err := s.text.Count()
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read text index", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"server":         ServerName,
		"version":        ServerVersion,
		"tracked_files":  len(files),
		"text_documents": docCount,
		"vectors":        s.vectors.Count(),
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// searchResponse formats ranked results for the MCP response
func searchResponse(query string, results []types.SearchResult) map[string]interface{} {
	formatted := make([]map[string]interface{}, 0, len(results))
	for i := range results {
		res := &results[i]
		entry := map[string]interface{}{
			"rank":      res.Rank,
			"name":      res.Name,
			"kind":      string(res.Kind),
			"file_path": res.FilePath,
			"line":      res.Line,
			"language":  string(res.Language),
			"score":     res.Score,
			"source":    string(res.Source),
		}
		if res.SymbolID != 0 {
			entry["symbol_id"] = uint64(res.SymbolID)
		}
		if res.Doc != "" {
			entry["doc"] = res.Doc
		}
		if len(res.Calls) > 0 {
			entry["calls"] = relatedNames(res.Calls)
		}
		if len(res.CalledBy) > 0 {
			entry["called_by"] = relatedNames(res.CalledBy)
		}
		formatted = append(formatted, entry)
	}

	return map[string]interface{}{
		"query":   query,
		"count":   len(results),
		"results": formatted,
	}
}

func relatedNames(related []types.RelatedSymbol) []string {
	names := make([]string, 0, len(related))
	for _, r := range related {
		names = append(names, r.Name)
	}
	return names
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
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

// validatePath checks that path is a readable directory and returns its
// canonical form, symlinks resolved, so the indexer's workspace boundary
// is anchored at the real location
func validatePath(path string) (string, error) {
	if path == "" {
		return "", ErrPathRequired
	}
	if !filepath.IsAbs(path) {
		return "", ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return "", ErrPathNotFound
	}
	if err != nil {
		return "", ErrPathNotReadable
	}
	if !info.IsDir() {
		return "", ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return "", ErrPathNotReadable
	}
	_ = f.Close()

	boundary, err := security.NewBoundary(path)
	if err != nil {
		return "", ErrPathNotReadable
	}
	return boundary.Root(), nil
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

// getFloatDefault extracts a float parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
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

// Validation errors

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
