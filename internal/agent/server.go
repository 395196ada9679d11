// Package agent exposes document editing to LLM agents as MCP tools. Every
// tool works on one open document; edits stay in memory until the save
// tool writes them back.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentic-research/formgraph/internal/document"
	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/report"
	"github.com/agentic-research/formgraph/internal/writeback"
	billy "github.com/go-git/go-billy/v5"
	"github.com/golang/glog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Session is one open document.
type Session struct {
	mu    sync.Mutex
	fs    billy.Filesystem
	path  string
	doc   *document.Document
	dirty bool
}

// NewSession wraps d, loaded from path on fs.
func NewSession(fs billy.Filesystem, path string, d *document.Document) *Session {
	return &Session{fs: fs, path: path, doc: d}
}

// Dirty reports whether there are unsaved edits.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// NewServer builds the MCP server for s.
func NewServer(s *Session, version string) *server.MCPServer {
	srv := server.NewMCPServer("formgraph", version, server.WithToolCapabilities(false))

	pathArg := mcp.WithString("path", mcp.Required(),
		mcp.Description("Absolute node path, e.g. /data/group/q, or its #form/... alias"))

	srv.AddTool(mcp.NewTool("references",
		mcp.WithDescription("List every expression and text referencing a path or anything below it"),
		pathArg,
	), s.references)
	srv.AddTool(mcp.NewTool("diagnostics",
		mcp.WithDescription("Validate the document: broken references, missing labels, reserved names, pending renames"),
	), s.diagnostics)
	srv.AddTool(mcp.NewTool("rename",
		mcp.WithDescription("Rename a node; every reference to it is rewritten"),
		pathArg,
		mcp.WithString("new_id", mcp.Required(), mcp.Description("New node id")),
	), s.rename)
	srv.AddTool(mcp.NewTool("move",
		mcp.WithDescription("Move a node relative to another; references to the moved paths are rewritten"),
		pathArg,
		mcp.WithString("reference", mcp.Required(), mcp.Description("Path of the reference node")),
		mcp.WithString("position", mcp.Description("before, after, into, first or last (default into)"),
			mcp.Enum("before", "after", "into", "first", "last")),
	), s.move)
	srv.AddTool(mcp.NewTool("remove",
		mcp.WithDescription("Remove a node with its subtree; references to it are reported broken"),
		pathArg,
	), s.remove)
	srv.AddTool(mcp.NewTool("duplicate",
		mcp.WithDescription("Copy a node after itself as copy-N-of-<id>"),
		pathArg,
	), s.duplicate)
	srv.AddTool(mcp.NewTool("set_property",
		mcp.WithDescription("Set a node property such as bind/relevant; an empty value clears it"),
		pathArg,
		mcp.WithString("property", mcp.Required(), mcp.Description("Property as group/name, e.g. bind/calculate")),
		mcp.WithString("value", mcp.Description("New value")),
	), s.setProperty)
	srv.AddTool(mcp.NewTool("save",
		mcp.WithDescription("Write the document back to its file"),
	), s.save)
	return srv
}

// Serve runs the server on stdin and stdout.
func Serve(srv *server.MCPServer) error {
	return server.ServeStdio(srv)
}

func (s *Session) references(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	report.Locations(&b, s.doc, s.doc.References(p))
	if b.Len() == 0 {
		return mcp.NewToolResultText("no references"), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Session) diagnostics(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	report.Diagnostics(&b, s.path, s.doc)
	return mcp.NewToolResultText(b.String()), nil
}

// edit resolves the path argument and runs op as one batch.
func (s *Session) edit(req mcp.CallToolRequest, op func(id graph.Ident) (*document.Change, error)) (*mcp.CallToolResult, error) {
	p, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.doc.Resolve(p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	change, err := op(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.dirty = true
	if glog.V(1) {
		glog.Infof("agent: %s on %s, batch %d", change.Op, p, change.Batch)
	}
	var b strings.Builder
	report.Change(&b, s.doc, change)
	return mcp.NewToolResultText(b.String()), nil
}

func (s *Session) rename(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	newID, err := req.RequireString("new_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.edit(req, func(id graph.Ident) (*document.Change, error) {
		return s.doc.Rename(id, newID)
	})
}

func (s *Session) move(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("reference")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	pos, err := graph.ParsePosition(req.GetString("position", "into"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.edit(req, func(id graph.Ident) (*document.Change, error) {
		to, err := s.doc.Resolve(ref)
		if err != nil {
			return nil, err
		}
		return s.doc.Move(id, pos, to)
	})
}

func (s *Session) remove(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.edit(req, func(id graph.Ident) (*document.Change, error) {
		return s.doc.Remove(id)
	})
}

func (s *Session) duplicate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.edit(req, func(id graph.Ident) (*document.Change, error) {
		_, c, err := s.doc.Duplicate(id)
		return c, err
	})
}

func (s *Session) setProperty(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prop, err := req.RequireString("property")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value := req.GetString("value", "")
	return s.edit(req, func(id graph.Ident) (*document.Change, error) {
		return s.doc.SetProperty(id, graph.Prop(prop), value)
	})
}

func (s *Session) save(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeback.Save(s.fs, s.path, s.doc); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	s.dirty = false
	return mcp.NewToolResultText(fmt.Sprintf("wrote %s", s.path)), nil
}
