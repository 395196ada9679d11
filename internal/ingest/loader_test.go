package ingest

import (
	"testing"

	"github.com/agentic-research/formgraph/internal/document"
	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clinicForm = `{
  "version": "1",
  "root": "data",
  "languages": ["en", "hin"],
  "questions": [
    {"id": "age", "type": "int", "texts": {"label": "age-label"}},
    {"id": "details", "type": "group", "texts": {"label": "details-label"}, "children": [
      {"id": "weight", "type": "decimal",
       "properties": {"bind/relevant": "#form/age > 1"},
       "texts": {"label": "details/weight-label"}}
    ]},
    {"id": "district", "type": "hidden",
     "properties": {"bind/calculate": "instance('districts')/root/item[1]"},
     "sources": {"districts": "jr://fixture/districts"}},
    {"id": "note", "type": "label", "texts": {"label": "shared-label"}},
    {"id": "note2", "type": "label", "texts": {"label": "shared-label"}}
  ],
  "instances": [{"id": "districts", "uri": "jr://fixture/districts"}],
  "texts": [
    {"id": "age-label", "forms": {"default": {"en": "Age", "hin": "Umar"}}},
    {"id": "details-label", "forms": {"default": {"en": "Details"}}},
    {"id": "details/weight-label", "forms": {"default": {"en": "Weight at <output value=\"#form/age\"/>"}}},
    {"id": "shared-label", "forms": {"default": {"en": "Note"}}}
  ]
}`

func TestLoaderBuildsDocument(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "forms/clinic.json", []byte(clinicForm), 0o644))

	d, err := NewLoader(fs).Load("forms/clinic.json")
	require.NoError(t, err)

	weight, err := d.GetByPath("#form/details/weight")
	require.NoError(t, err)
	assert.Equal(t, graph.KindDecimal, weight.Kind)
	assert.Equal(t, "#form/age > 1", weight.Props[graph.PropRelevant])

	assert.Equal(t, []string{"en", "hin"}, d.Texts().Languages())
	label, ok := d.Texts().Get(weight.Texts[graph.TextLabel])
	require.True(t, ok)
	assert.True(t, label.AutoID)

	assert.Len(t, d.References("/data/age"), 2, "relevant and the output in the weight label")

	src, ok := d.Sources().Get("districts")
	require.True(t, ok)
	assert.Equal(t, "jr://fixture/districts", src.URI)

	note, err := d.GetByPath("/data/note")
	require.NoError(t, err)
	shared, ok := d.Texts().Get(note.Texts[graph.TextLabel])
	require.True(t, ok)
	assert.True(t, shared.Shared)
	assert.False(t, shared.AutoID)
}

func TestLoaderRenameFollowsStoredIDs(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "clinic.json", []byte(clinicForm), 0o644))

	d, err := NewLoader(fs).Load("clinic.json")
	require.NoError(t, err)
	age, err := d.Resolve("/data/age")
	require.NoError(t, err)

	_, err = d.Rename(age, "years")
	require.NoError(t, err)

	weight, err := d.GetByPath("/data/details/weight")
	require.NoError(t, err)
	assert.Equal(t, "#form/years > 1", weight.Props[graph.PropRelevant])
	label, _ := d.Texts().Get(weight.Texts[graph.TextLabel])
	assert.Equal(t, `Weight at <output value="#form/years"/>`, label.Value("default", "en"))

	n, _ := d.Get(age)
	ageLabel, _ := d.Texts().Get(n.Texts[graph.TextLabel])
	assert.Equal(t, "years-label", ageLabel.ID)
}

func TestLoaderSelectorEnvelope(t *testing.T) {
	fs := memfs.New()
	envelope := `{"forms": [` + clinicForm + `, {"root": "survey", "questions": [{"id": "q", "type": "text"}]}]}`
	require.NoError(t, util.WriteFile(fs, "app.json", []byte(envelope), 0o644))

	l := NewLoader(fs, document.WithReserved("case")).WithSelector("$.forms[*]")
	docs, err := l.LoadAll("app.json")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "survey", docs[1].Tree().Root().NodeID)

	_, err = l.Load("app.json")
	assert.ErrorContains(t, err, "matched 2 documents")
}

func TestLoaderDefaultsRoot(t *testing.T) {
	docs, err := NewLoader(memfs.New()).Decode([]byte(`{"questions": [{"id": "q", "type": "text"}]}`))
	require.NoError(t, err)
	require.Len(t, docs, 1)

	d, err := Build(docs[0])
	require.NoError(t, err)
	_, err = d.GetByPath("/data/q")
	assert.NoError(t, err)
}

func TestLoaderErrors(t *testing.T) {
	fs := memfs.New()
	_, err := NewLoader(fs).Load("missing.json")
	assert.Error(t, err)

	require.NoError(t, util.WriteFile(fs, "bad-kind.json", []byte(`{"questions": [{"id": "q", "type": "slider"}]}`), 0o644))
	_, err = NewLoader(fs).Load("bad-kind.json")
	assert.ErrorContains(t, err, "/data/q")

	require.NoError(t, util.WriteFile(fs, "dup.json", []byte(`{"questions": [{"id": "q", "type": "text"}, {"id": "q", "type": "int"}]}`), 0o644))
	_, err = NewLoader(fs).Load("dup.json")
	assert.ErrorIs(t, err, graph.ErrSiblingIDCollision)
}
