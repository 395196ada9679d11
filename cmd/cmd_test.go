package cmd

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/ingest"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const intake = `{
  "version": "1",
  "root": "data",
  "questions": [
    {"id": "age", "type": "int", "texts": {"label": "age-label"}},
    {"id": "group", "type": "group", "texts": {"label": "group-label"}, "children": [
      {"id": "q", "type": "text", "properties": {"bind/relevant": "#form/age > 18"}, "texts": {"label": "group/q-label"}}
    ]},
    {"id": "calc", "type": "hidden", "properties": {"bind/calculate": "/data/group/q"}}
  ],
  "texts": [
    {"id": "age-label", "forms": {"default": {"en": "Age"}}},
    {"id": "group-label", "forms": {"default": {"en": "Group"}}},
    {"id": "group/q-label", "forms": {"default": {"en": "Older than <output value=\"/data/age\"/>?"}}}
  ]
}`

func setup(t *testing.T) billy.Filesystem {
	t.Helper()
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "intake.json", []byte(intake), 0o644))
	return fs
}

func run(t *testing.T, fs billy.Filesystem, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(fs)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRefs(t *testing.T) {
	out, err := run(t, setup(t), "refs", "intake.json", "#form/age")
	require.NoError(t, err)
	assert.Equal(t, "/data/group/q bind/relevant\ntext group/q-label [default/en]\n", out)
}

func TestRenameWritesBack(t *testing.T) {
	fs := setup(t)
	out, err := run(t, fs, "rename", "intake.json", "/data/age", "years")
	require.NoError(t, err)
	assert.Contains(t, out, "/data/age -> /data/years")
	assert.Contains(t, out, "rewrote 2 references")
	assert.Contains(t, out, "wrote intake.json")

	d, err := ingest.NewLoader(fs).Load("intake.json")
	require.NoError(t, err)
	q, err := d.GetByPath("/data/group/q")
	require.NoError(t, err)
	assert.Equal(t, "#form/years > 18", q.Props[graph.PropRelevant])
}

func TestDryRunLeavesFile(t *testing.T) {
	fs := setup(t)
	_, err := run(t, fs, "move", "--dry-run", "intake.json", "/data/group/q", "/data", "--position", "last")
	require.NoError(t, err)
	raw, err := util.ReadFile(fs, "intake.json")
	require.NoError(t, err)
	assert.Equal(t, intake, string(raw))
}

func TestMoveToOut(t *testing.T) {
	fs := setup(t)
	out, err := run(t, fs, "move", "intake.json", "/data/group/q", "/data", "-p", "last", "-o", "moved/intake.json")
	require.NoError(t, err)
	assert.Contains(t, out, "/data/group/q -> /data/q")

	d, err := ingest.NewLoader(fs).Load("moved/intake.json")
	require.NoError(t, err)
	calc, err := d.GetByPath("/data/calc")
	require.NoError(t, err)
	assert.Equal(t, "/data/q", calc.Props[graph.PropCalculate])
}

func TestRemoveReportsBroken(t *testing.T) {
	out, err := run(t, setup(t), "remove", "-n", "intake.json", "/data/group")
	require.NoError(t, err)
	assert.Contains(t, out, "removed /data/group/q")
	assert.Contains(t, out, "references deleted node /data/group/q")
}

func TestDuplicate(t *testing.T) {
	fs := setup(t)
	out, err := run(t, fs, "duplicate", "intake.json", "/data/group")
	require.NoError(t, err)
	assert.Contains(t, out, "/data/group -> /data/copy-1-of-group")

	d, err := ingest.NewLoader(fs).Load("intake.json")
	require.NoError(t, err)
	_, err = d.GetByPath("/data/copy-1-of-group/q")
	assert.NoError(t, err)
}

func TestCheck(t *testing.T) {
	fs := setup(t)
	out, err := run(t, fs, "check", "intake.json")
	require.NoError(t, err)
	assert.Equal(t, "intake.json: ok\n", out)

	broken := `{"questions": [{"id": "calc", "type": "hidden", "properties": {"bind/calculate": "/data/missing"}}]}`
	require.NoError(t, util.WriteFile(fs, "broken.json", []byte(broken), 0o644))
	out, err = run(t, fs, "check", "broken.json")
	assert.Error(t, err)
	assert.Contains(t, out, "broken.json:/data/calc:")
	assert.Contains(t, out, "#form/missing does not exist")
}

func TestEditRejectsSelector(t *testing.T) {
	_, err := run(t, setup(t), "--select", "$.forms[0]", "rename", "intake.json", "/data/age", "years")
	assert.ErrorContains(t, err, "--select")
}

func TestConfigFile(t *testing.T) {
	fs := setup(t)
	require.NoError(t, util.WriteFile(fs, "formgraph.hcl", []byte(`reserved_names = ["age"]`), 0o644))
	out, err := run(t, fs, "check", "intake.json")
	require.NoError(t, err)
	assert.Contains(t, out, "/data/age:")
	assert.Contains(t, out, "reserved")
}

func TestIndexSidecar(t *testing.T) {
	db := filepath.Join(t.TempDir(), "intake.db")
	out, err := run(t, setup(t), "index", "intake.json", "--out", db, "--query", "#form/age")
	require.NoError(t, err)
	assert.Contains(t, out, "into "+db)
	assert.Contains(t, out, "bind/relevant")
}

func TestLsAndCat(t *testing.T) {
	fs := setup(t)
	out, err := run(t, fs, "ls", "intake.json", "#form/group/q")
	require.NoError(t, err)
	assert.Equal(t, "@kind\n@bind.relevant\n@label\n", out)

	out, err = run(t, fs, "cat", "intake.json", "/data/group/q/@bind.relevant")
	require.NoError(t, err)
	assert.Equal(t, "#form/age > 18\n", out)
}

func TestSet(t *testing.T) {
	fs := setup(t)
	_, err := run(t, fs, "set", "intake.json", "/data/age/@bind.constraint", ". > 0")
	require.NoError(t, err)
	out, err := run(t, fs, "cat", "intake.json", "/data/age/@bind.constraint")
	require.NoError(t, err)
	assert.Equal(t, ". > 0\n", out)

	_, err = run(t, fs, "set", "intake.json", "/data/group/q/@bind.relevant", "")
	require.NoError(t, err)
	_, err = run(t, fs, "cat", "intake.json", "/data/group/q/@bind.relevant")
	assert.Error(t, err)
}
