// Package writeback turns documents back into their stored form and writes
// them out.
package writeback

import (
	"fmt"

	"github.com/agentic-research/formgraph/api"
	"github.com/agentic-research/formgraph/internal/document"
	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/itext"
)

// Export prepares d for serialization and reads it out. Text ids are made
// unique, unreachable and empty text items are left out and data sources
// are reconciled first, so Export is itself an edit batch on d.
func Export(d *document.Document) (*api.Document, error) {
	if _, err := d.PrepareSerialization(); err != nil {
		return nil, fmt.Errorf("prepare serialization: %w", err)
	}
	tree := d.Tree()
	texts := d.Texts()

	var order []itext.Key
	tree.Walk(func(n *graph.Node, _ string) bool {
		for _, t := range graph.TextProps {
			if k, ok := n.Texts[t]; ok {
				order = append(order, k)
			}
		}
		return true
	})
	keep := make(map[itext.Key]*itext.Item)
	out := &api.Document{
		Version:   api.Version,
		Root:      tree.Root().NodeID,
		Languages: texts.Languages(),
	}
	for _, it := range texts.Serializable(order) {
		keep[it.Key] = it
		out.Texts = append(out.Texts, exportText(it))
	}

	qs, err := exportChildren(tree, tree.Root(), keep)
	if err != nil {
		return nil, err
	}
	out.Questions = qs
	for _, s := range d.Sources().Sources() {
		out.Instances = append(out.Instances, api.Instance{ID: s.ID, URI: s.URI})
	}
	return out, nil
}

func exportChildren(tree *graph.Store, parent *graph.Node, keep map[itext.Key]*itext.Item) ([]api.Question, error) {
	kids, err := tree.Children(parent.ID)
	if err != nil {
		return nil, err
	}
	var qs []api.Question
	for _, n := range kids {
		q := api.Question{ID: n.NodeID, Type: n.Kind.String()}
		for p, v := range n.Props {
			if v == "" {
				continue
			}
			if q.Properties == nil {
				q.Properties = make(map[string]string)
			}
			q.Properties[string(p)] = v
		}
		for t, key := range n.Texts {
			it, ok := keep[key]
			if !ok {
				continue
			}
			if q.Texts == nil {
				q.Texts = make(map[string]string)
			}
			q.Texts[string(t)] = it.ID
		}
		for id, uri := range n.Sources {
			if uri == "" {
				continue
			}
			if q.Sources == nil {
				q.Sources = make(map[string]string)
			}
			q.Sources[id] = uri
		}
		if q.Children, err = exportChildren(tree, n, keep); err != nil {
			return nil, err
		}
		qs = append(qs, q)
	}
	return qs, nil
}

func exportText(it *itext.Item) api.Text {
	t := api.Text{ID: it.ID, Shared: it.Shared, Forms: make(map[string]map[string]string)}
	for _, form := range it.FormNames() {
		langs := make(map[string]string)
		for lang, v := range it.Forms[form] {
			if v != "" {
				langs[lang] = v
			}
		}
		t.Forms[form] = langs
	}
	return t
}
