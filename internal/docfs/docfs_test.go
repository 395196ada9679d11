package docfs

import (
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/agentic-research/formgraph/internal/document"
	"github.com/agentic-research/formgraph/internal/graph"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDoc(t *testing.T) *document.Document {
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
	return d
}

func names(infos []os.FileInfo) []string {
	out := make([]string, 0, len(infos))
	for _, fi := range infos {
		out = append(out, fi.Name())
	}
	return out
}

func TestStatRoot(t *testing.T) {
	fs := New(newTestDoc(t))

	info, err := fs.Stat("/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	infos, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"data", SourcesFile}, names(infos))
}

func TestReadDirNode(t *testing.T) {
	fs := New(newTestDoc(t))

	infos, err := fs.ReadDir("/data/group/q")
	require.NoError(t, err)
	assert.Equal(t, []string{"@kind", "@bind.relevant", "@label"}, names(infos))

	infos, err = fs.ReadDir("/data")
	require.NoError(t, err)
	assert.Equal(t, []string{"@kind", "age", "group"}, names(infos))
	assert.True(t, infos[1].IsDir())
}

func TestReadAttributes(t *testing.T) {
	fs := New(newTestDoc(t))

	got, err := util.ReadFile(fs, "/data/group/q/@bind.relevant")
	require.NoError(t, err)
	assert.Equal(t, "#form/age > 18", string(got))

	got, err = util.ReadFile(fs, "/data/group/q/@label")
	require.NoError(t, err)
	assert.Equal(t, "q", string(got))

	got, err = util.ReadFile(fs, "/data/age/@kind")
	require.NoError(t, err)
	assert.Equal(t, "int", string(got))

	info, err := fs.Stat("/data/group/q/@bind.relevant")
	require.NoError(t, err)
	assert.Equal(t, int64(len("#form/age > 18")), info.Size())

	_, err = fs.Stat("/data/group/q/@bind.constraint")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = fs.Stat("/data/group/@bind.calculate")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = fs.Open("/data/group")
	assert.Error(t, err)
}

func TestReadOnlyByDefault(t *testing.T) {
	fs := New(newTestDoc(t))
	assert.Error(t, util.WriteFile(fs, "/data/age/@bind.relevant", []byte("true()"), 0o644))
	assert.Error(t, fs.Rename("/data/age", "/data/years"))
	assert.Error(t, fs.Remove("/data/age"))
	assert.Zero(t, fs.Capabilities()&billy.WriteCapability)
}

func TestWriteAttributeCommitsOnClose(t *testing.T) {
	d := newTestDoc(t)
	fs := New(d)
	fs.SetWritable(true)

	require.NoError(t, util.WriteFile(fs, "/data/age/@bind.constraint", []byte(". > 0\n"), 0o644))
	n, err := d.GetByPath("/data/age")
	require.NoError(t, err)
	assert.Equal(t, ". > 0", n.Props[graph.PropConstraint])

	require.NoError(t, util.WriteFile(fs, "/data/age/@hint", []byte("In years"), 0o644))
	got, err := util.ReadFile(fs, "/data/age/@hint")
	require.NoError(t, err)
	assert.Equal(t, "In years", string(got))

	assert.Error(t, util.WriteFile(fs, "/data/age/@kind", []byte("text"), 0o644))
}

func TestRenameRewritesReferences(t *testing.T) {
	d := newTestDoc(t)
	fs := New(d)
	fs.SetWritable(true)

	require.NoError(t, fs.Rename("/data/age", "/data/years"))
	got, err := util.ReadFile(fs, "/data/group/q/@bind.relevant")
	require.NoError(t, err)
	assert.Equal(t, "#form/years > 18", string(got))

	require.NoError(t, fs.Rename("/data/years", "/data/group/years"))
	got, err = util.ReadFile(fs, "/data/group/q/@bind.relevant")
	require.NoError(t, err)
	assert.Equal(t, "#form/group/years > 18", string(got))

	assert.Error(t, fs.Rename("/data/group/years", "/data/age"))
}

func TestRemove(t *testing.T) {
	d := newTestDoc(t)
	fs := New(d)
	fs.SetWritable(true)

	require.NoError(t, fs.Remove("/data/group/q/@bind.relevant"))
	_, err := fs.Stat("/data/group/q/@bind.relevant")
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, fs.Remove("/data/group"))
	_, err = fs.Stat("/data/group")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestChroot(t *testing.T) {
	fs := New(newTestDoc(t))
	sub, err := fs.Chroot("/data/group")
	require.NoError(t, err)
	got, err := util.ReadFile(sub, "q/@bind.relevant")
	require.NoError(t, err)
	assert.Equal(t, "#form/age > 18", string(got))
}

func TestSeekAndReadAt(t *testing.T) {
	fs := New(newTestDoc(t))

	f, err := fs.Open("/data/group/q/@bind.relevant")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	pos, err := f.Seek(6, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)
	buf := make([]byte, 3)
	n, _ := f.Read(buf)
	assert.Equal(t, "age", string(buf[:n]))

	n, _ = f.ReadAt(buf, 0)
	assert.Equal(t, "#fo", string(buf[:n]))
}

func TestSourcesFile(t *testing.T) {
	d := newTestDoc(t)
	q, err := d.GetByPath("/data/group/q")
	require.NoError(t, err)
	_, err = d.SetSource(q.ID, "districts", "jr://fixture/districts")
	require.NoError(t, err)
	_, err = d.SetProperty(q.ID, graph.PropRequired, "count(instance('districts')/root/item) > 0")
	require.NoError(t, err)

	got, err := util.ReadFile(New(d), "/"+SourcesFile)
	require.NoError(t, err)
	assert.Equal(t, "districts jr://fixture/districts\n", string(got))
}

func TestUnsupported(t *testing.T) {
	fs := New(newTestDoc(t))
	fs.SetWritable(true)
	assert.ErrorIs(t, fs.MkdirAll("/data/new", 0o755), billy.ErrNotSupported)
	_, err := fs.TempFile("/data", "x")
	assert.ErrorIs(t, err, billy.ErrNotSupported)
	assert.Equal(t, "/", fs.Root())
	assert.Equal(t, "a/b/c", fs.Join("a", "b", "c"))
	assert.NotZero(t, fs.Capabilities()&billy.WriteCapability)
}

func TestNFSServerStarts(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", New(newTestDoc(t)))
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	assert.True(t, srv.Port() > 0, "server should be on a valid port")

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	require.NoError(t, err)
	_ = conn.Close()
}
