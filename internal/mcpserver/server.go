// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes read-only Othala tools for LLM integration via stdio
// transport. No tool mutates the destination, the ledger, or the
// conflict log.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/othala/internal/conflictlog"
	"github.com/starford/othala/internal/merge"
	"github.com/starford/othala/internal/models"
	"github.com/starford/othala/internal/scan"
)

const (
	// previewLimit caps preview_merge output; collections can hold far more
	// files than an LLM context can use.
	previewLimit = 200
	// conflictTail is how many trailing conflict lines list_conflicts returns.
	conflictTail = 50
)

// Server wraps the MCP server with Othala tools. The engine must be a
// dry-run engine; tools only ever call its Preview path.
type Server struct {
	mcp          *server.MCPServer
	eng          *merge.Engine
	roots        []string
	exts         []string
	extSet       map[string]struct{}
	skip         []string
	conflictPath string
}

// New creates a new MCP server with all Othala tools registered.
// roots/exts/skip mirror what a batch run would enumerate; conflictPath
// points at the on-disk conflict log.
func New(eng *merge.Engine, roots, exts, skip []string, conflictPath string) *Server {
	s := &Server{
		eng:          eng,
		roots:        roots,
		exts:         exts,
		extSet:       scan.ExtSet(exts),
		skip:         skip,
		conflictPath: conflictPath,
	}

	s.mcp = server.NewMCPServer(
		"Othala",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("check_file",
		mcp.WithDescription("Report the decision the merge would take for one file "+
			"(copy, rename, duplicate-of, already seen) without changing anything."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the file to evaluate")),
	), s.checkFile)

	s.mcp.AddTool(mcp.NewTool("preview_merge",
		mcp.WithDescription("Dry-run the configured merge and return the planned "+
			"per-file decisions as JSON. Capped at 200 files; nothing is copied."),
	), s.previewMerge)

	s.mcp.AddTool(mcp.NewTool("list_conflicts",
		mcp.WithDescription("Return the most recent entries of the conflict log: "+
			"duplicates that were skipped and files that were renamed on merge."),
	), s.listConflicts)

	// Resource: the raw conflict log tail.
	s.mcp.AddResource(
		mcp.NewResource("othala://conflict-log", "Conflict Log",
			mcp.WithResourceDescription("Trailing entries of the merge conflict log."),
			mcp.WithMIMEType("text/plain"),
		),
		s.readConflictLogResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) checkFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sf, err := scan.FileInfo(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	if _, ok := s.extSet[sf.Ext]; !ok {
		return mcp.NewToolResultText(fmt.Sprintf("not eligible: extension %q is not merged", sf.Ext)), nil
	}

	one := make(chan models.SourceFile, 1)
	one <- sf
	close(one)
	decisions, err := s.eng.Preview(ctx, one, 1)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(decisions) == 0 {
		return mcp.NewToolResultError(fmt.Sprintf("could not evaluate: %s", path)), nil
	}
	out, _ := json.MarshalIndent(decisions[0], "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) previewMerge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Cancel the producer once the preview cap is reached.
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	candidates := scan.Sources(cctx, s.roots, s.exts, s.skip, slog.Default())
	decisions, err := s.eng.Preview(cctx, candidates, previewLimit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(decisions) == 0 {
		return mcp.NewToolResultText("no eligible files found"), nil
	}
	out, _ := json.MarshalIndent(decisions, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listConflicts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lines, err := conflictlog.Tail(s.conflictPath, conflictTail)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(lines) == 0 {
		return mcp.NewToolResultText("no conflicts recorded"), nil
	}
	return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
}

func (s *Server) readConflictLogResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	lines, err := conflictlog.Tail(s.conflictPath, previewLimit)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "othala://conflict-log",
			MIMEType: "text/plain",
			Text:     strings.Join(lines, "\n"),
		},
	}, nil
}
