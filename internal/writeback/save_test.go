package writeback

import (
	"encoding/json"
	"testing"

	"github.com/agentic-research/formgraph/api"
	"github.com/agentic-research/formgraph/internal/document"
	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/ingest"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T) *document.Document {
	t.Helper()
	d := document.New("data")
	root := d.Tree().Root().ID
	age, _, err := d.Add(graph.KindInt, "age", graph.Into, root)
	require.NoError(t, err)
	group, _, err := d.Add(graph.KindGroup, "group", graph.Into, root)
	require.NoError(t, err)
	q, _, err := d.Add(graph.KindText, "q", graph.Into, group.ID)
	require.NoError(t, err)
	_, err = d.SetProperty(q.ID, graph.PropRelevant, "#form/age > 18")
	require.NoError(t, err)
	_, err = d.SetText(age.ID, graph.TextHint, "", "", "In years")
	require.NoError(t, err)
	return d
}

func TestExportDropsEmptyTexts(t *testing.T) {
	d := build(t)
	doc, err := Export(d)
	require.NoError(t, err)

	assert.Equal(t, api.Version, doc.Version)
	assert.Equal(t, "data", doc.Root)
	require.Len(t, doc.Questions, 2)
	age := doc.Questions[0]
	assert.Equal(t, "int", age.Type)
	assert.Equal(t, map[string]string{"label": "age-label", "hint": "age-hint"}, age.Texts)

	group := doc.Questions[1]
	require.Len(t, group.Children, 1)
	assert.Equal(t, map[string]string{"bind/relevant": "#form/age > 18"}, group.Children[0].Properties)

	var ids []string
	for _, tx := range doc.Texts {
		ids = append(ids, tx.ID)
	}
	assert.Equal(t, []string{"age-label", "age-hint", "group-label", "group/q-label"}, ids)
	assert.Equal(t, map[string]map[string]string{"default": {"en": "In years"}}, doc.Texts[1].Forms)
}

func TestExportDeduplicatesTextIDs(t *testing.T) {
	d := build(t)
	age, err := d.GetByPath("/data/age")
	require.NoError(t, err)
	q, err := d.GetByPath("/data/group/q")
	require.NoError(t, err)
	_, err = d.SetTextID(age.Texts[graph.TextLabel], "label")
	require.NoError(t, err)
	_, err = d.SetTextID(q.Texts[graph.TextLabel], "label")
	require.NoError(t, err)

	doc, err := Export(d)
	require.NoError(t, err)
	assert.Equal(t, "label", doc.Questions[0].Texts["label"])
	assert.Equal(t, "label2", doc.Questions[1].Children[0].Texts["label"])
}

func TestSaveRoundTrip(t *testing.T) {
	fs := memfs.New()
	d := build(t)
	require.NoError(t, Save(fs, "forms/intake.json", d))

	raw, err := util.ReadFile(fs, "forms/intake.json")
	require.NoError(t, err)
	var stored api.Document
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Equal(t, "data", stored.Root)

	loaded, err := ingest.NewLoader(fs).Load("forms/intake.json")
	require.NoError(t, err)
	age, err := loaded.Resolve("/data/age")
	require.NoError(t, err)
	_, err = loaded.Rename(age, "years")
	require.NoError(t, err)
	require.NoError(t, Save(fs, "forms/intake.json", loaded))

	again, err := ingest.NewLoader(fs).Load("forms/intake.json")
	require.NoError(t, err)
	q, err := again.GetByPath("/data/group/q")
	require.NoError(t, err)
	assert.Equal(t, "#form/years > 18", q.Props[graph.PropRelevant])
	years, err := again.GetByPath("/data/years")
	require.NoError(t, err)
	hint, ok := again.Texts().Get(years.Texts[graph.TextHint])
	require.True(t, ok)
	assert.Equal(t, "years-hint", hint.ID)
	assert.Equal(t, "In years", hint.Value("default", "en"))

	entries, err := fs.ReadDir("forms")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are renamed away")
}

func TestWriteFileReplaces(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, WriteFile(fs, "a.json", []byte("one")))
	require.NoError(t, WriteFile(fs, "a.json", []byte("two")))
	got, err := util.ReadFile(fs, "a.json")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}
