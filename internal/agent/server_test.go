package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/agentic-research/formgraph/internal/document"
	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/ingest"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) *Session {
	t.Helper()
	d := document.New("data")
	root := d.Tree().Root().ID
	_, _, err := d.Add(graph.KindInt, "age", graph.Into, root)
	require.NoError(t, err)
	group, _, err := d.Add(graph.KindGroup, "group", graph.Into, root)
	require.NoError(t, err)
	q, _, err := d.Add(graph.KindText, "q", graph.Into, group.ID)
	require.NoError(t, err)
	_, err = d.SetProperty(q.ID, graph.PropRelevant, "#form/age > 18")
	require.NoError(t, err)
	return NewSession(memfs.New(), "intake.json", d)
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestReferences(t *testing.T) {
	s := newSession(t)
	res, err := s.references(context.Background(), call(map[string]any{"path": "#form/age"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "/data/group/q bind/relevant\n", text(t, res))

	res, err = s.references(context.Background(), call(map[string]any{"path": "/data/group"}))
	require.NoError(t, err)
	assert.Equal(t, "no references", text(t, res))

	res, err = s.references(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestRenameAndSave(t *testing.T) {
	s := newSession(t)
	res, err := s.rename(context.Background(), call(map[string]any{"path": "/data/age", "new_id": "years"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "/data/age -> /data/years")
	assert.Contains(t, text(t, res), "rewrote 1 references")
	assert.True(t, s.Dirty())

	res, err = s.save(context.Background(), call(nil))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.False(t, s.Dirty())

	d, err := ingest.NewLoader(s.fs).Load("intake.json")
	require.NoError(t, err)
	q, err := d.GetByPath("/data/group/q")
	require.NoError(t, err)
	assert.Equal(t, "#form/years > 18", q.Props[graph.PropRelevant])
}

func TestEditErrorsAreToolErrors(t *testing.T) {
	s := newSession(t)
	res, err := s.rename(context.Background(), call(map[string]any{"path": "/data/age", "new_id": "group"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.False(t, s.Dirty())

	res, err = s.move(context.Background(), call(map[string]any{"path": "/data/age", "reference": "/data/group", "position": "sideways"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.setProperty(context.Background(), call(map[string]any{"path": "/data/group", "property": "bind/calculate", "value": "1"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMoveRemoveDuplicate(t *testing.T) {
	s := newSession(t)
	ctx := context.Background()

	res, err := s.move(ctx, call(map[string]any{"path": "/data/age", "reference": "/data/group"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "/data/age -> /data/group/age")

	res, err = s.duplicate(ctx, call(map[string]any{"path": "/data/group"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "/data/copy-1-of-group")

	res, err = s.remove(ctx, call(map[string]any{"path": "/data/group/age"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	assert.Contains(t, text(t, res), "references deleted node /data/group/age")

	res, err = s.diagnostics(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "broken-path-reference")
}

func TestServerListsTools(t *testing.T) {
	srv := NewServer(newSession(t), "test")
	msg := srv.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	for _, name := range []string{"references", "diagnostics", "rename", "move", "remove", "duplicate", "set_property", "save"} {
		assert.Contains(t, string(raw), `"name":"`+name+`"`)
	}
}
