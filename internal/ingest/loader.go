// Package ingest reads stored form documents and builds editable documents
// from them.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/agentic-research/formgraph/api"
	"github.com/agentic-research/formgraph/internal/datasource"
	"github.com/agentic-research/formgraph/internal/document"
	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/itext"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/golang/glog"
	"github.com/ohler55/ojg/oj"
)

// DefaultRoot names the form root when a stored document leaves it out.
const DefaultRoot = "data"

// Loader reads documents from a filesystem.
type Loader struct {
	fs       billy.Filesystem
	walker   Walker
	selector string
	root     string
	langs    []string
	opts     []document.Option
}

// NewLoader creates a loader over fs. opts are passed to every opened
// document.
func NewLoader(fs billy.Filesystem, opts ...document.Option) *Loader {
	return &Loader{fs: fs, walker: NewJsonWalker(), selector: DefaultSelector, root: DefaultRoot, opts: opts}
}

// WithDefaults sets the root name and languages used for documents that
// leave them out.
func (l *Loader) WithDefaults(root string, langs ...string) *Loader {
	if root != "" {
		l.root = root
	}
	l.langs = langs
	return l
}

// WithSelector sets the JSONPath selecting document objects in a file, e.g.
// "$.forms[*]".
func (l *Loader) WithSelector(selector string) *Loader {
	l.selector = selector
	return l
}

// Decode selects and decodes the stored documents in data.
func (l *Loader) Decode(data []byte) ([]*api.Document, error) {
	root, err := ParseJSON(data)
	if err != nil {
		return nil, err
	}
	matches, err := l.walker.Query(root, l.selector)
	if err != nil {
		return nil, err
	}
	docs := make([]*api.Document, 0, len(matches))
	for i, m := range matches {
		var doc api.Document
		if err := json.Unmarshal([]byte(oj.JSON(m.Context())), &doc); err != nil {
			return nil, fmt.Errorf("decode document %d: %w", i, err)
		}
		if doc.Root == "" {
			doc.Root = l.root
		}
		if len(doc.Languages) == 0 {
			doc.Languages = l.langs
		}
		docs = append(docs, &doc)
	}
	return docs, nil
}

// LoadAll reads every document path selects.
func (l *Loader) LoadAll(path string) ([]*document.Document, error) {
	data, err := util.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	stored, err := l.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	out := make([]*document.Document, 0, len(stored))
	for _, s := range stored {
		d, err := Build(s, l.opts...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, d)
	}
	if glog.V(1) {
		glog.Infof("ingest: loaded %d documents from %s", len(out), path)
	}
	return out, nil
}

// Load reads the single document path selects.
func (l *Loader) Load(path string) (*document.Document, error) {
	docs, err := l.LoadAll(path)
	if err != nil {
		return nil, err
	}
	if len(docs) != 1 {
		return nil, fmt.Errorf("%s: selector %q matched %d documents, want 1", path, l.selector, len(docs))
	}
	return docs[0], nil
}

type builder struct {
	tree  *graph.Store
	texts *itext.Registry
	byID  map[string]itext.Key
	links map[itext.Key]int
}

// Build turns a stored document into an editable one. Node and text ids are
// kept as stored; text items whose id matches the id derived from their
// node's path are marked as following the path.
func Build(doc *api.Document, opts ...document.Option) (*document.Document, error) {
	root := doc.Root
	if root == "" {
		root = DefaultRoot
	}
	b := &builder{
		tree:  graph.NewStore(root),
		texts: itext.NewRegistry(doc.Languages...),
		byID:  make(map[string]itext.Key),
		links: make(map[itext.Key]int),
	}
	for _, t := range doc.Texts {
		it := &itext.Item{ID: t.ID, Shared: t.Shared, Forms: make(map[string]map[string]string)}
		for form, langs := range t.Forms {
			m := make(map[string]string, len(langs))
			for lang, v := range langs {
				m[lang] = v
			}
			it.Forms[form] = m
		}
		b.texts.Put(it)
		if _, dup := b.byID[t.ID]; !dup {
			b.byID[t.ID] = it.Key
		}
	}

	if err := b.questions(b.tree.Root().ID, "/"+root, doc.Questions); err != nil {
		return nil, err
	}
	for key, n := range b.links {
		if it, ok := b.texts.Get(key); ok && n > 1 {
			it.Shared = true
		}
	}

	declared := make([]datasource.Source, 0, len(doc.Instances))
	for _, inst := range doc.Instances {
		declared = append(declared, datasource.Source{ID: inst.ID, URI: inst.URI})
	}
	return document.Open(b.tree, b.texts, declared, opts...)
}

func (b *builder) questions(parent graph.Ident, parentPath string, qs []api.Question) error {
	for _, q := range qs {
		kind, err := graph.ParseKind(q.Type)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", parentPath, q.ID, err)
		}
		n := graph.NewNode(kind, q.ID)
		p := parentPath + "/" + q.ID
		for k, v := range q.Properties {
			n.Props[graph.Prop(k)] = v
		}
		for prop, id := range q.Texts {
			key, ok := b.byID[id]
			if !ok {
				key = b.texts.Create(id).Key
				b.byID[id] = key
			}
			n.Texts[graph.TextProp(prop)] = key
			b.links[key]++
			if it, _ := b.texts.Get(key); it.ID == itext.AutoID(p, prop) {
				it.AutoID = true
			}
		}
		if len(q.Sources) > 0 {
			n.Sources = make(map[string]string, len(q.Sources))
			for id, uri := range q.Sources {
				n.Sources[id] = uri
			}
		}
		if err := b.tree.Insert(graph.Last, parent, n); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		if err := b.questions(n.ID, p, q.Children); err != nil {
			return err
		}
	}
	return nil
}
