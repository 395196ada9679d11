package document

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/itext"
	"github.com/agentic-research/formgraph/internal/refindex"
)

// Add creates a node of kind with nodeID at pos relative to ref. Each text
// property the kind allows gets a fresh auto-id item; the label starts out
// as the node id.
func (d *Document) Add(kind graph.Kind, nodeID string, pos graph.Position, ref graph.Ident) (*graph.Node, *Change, error) {
	n := graph.NewNode(kind, nodeID)
	change, err := d.run("add", func(b *batch) error {
		if err := d.tree.Insert(pos, ref, n); err != nil {
			return err
		}
		p, err := d.tree.AbsolutePath(n.ID)
		if err != nil {
			return err
		}
		for _, t := range graph.TextProps {
			if kind.Spec().Text(t) == graph.NotAllowed {
				continue
			}
			it := d.texts.CreateAutoID(p, string(t))
			if t == graph.TextLabel {
				d.texts.Set(it.Key, "", "", nodeID)
			}
			if err := d.tree.SetText(n.ID, t, it.Key); err != nil {
				return err
			}
			d.indexText(it.Key)
		}
		d.indexNodeAt(n, p)
		b.affect(n.ID)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return n, change, nil
}

// Insert attaches a prepared subtree (nodes[0] and its linked descendants)
// whose text items are already in the registry.
func (d *Document) Insert(pos graph.Position, ref graph.Ident, nodes ...*graph.Node) (*Change, error) {
	return d.run("insert", func(b *batch) error {
		if err := d.tree.Insert(pos, ref, nodes...); err != nil {
			return err
		}
		for _, n := range nodes {
			d.indexNode(n.ID)
			b.affect(n.ID)
		}
		return nil
	})
}

// Move relocates a node with its subtree and rewrites every reference to
// the moved paths.
func (d *Document) Move(id graph.Ident, pos graph.Position, ref graph.Ident) (*Change, error) {
	return d.run("move", func(b *batch) error {
		deltas, err := d.tree.Move(id, pos, ref)
		if err != nil {
			return err
		}
		return d.relocated(b, id, deltas)
	})
}

// Rename changes a node's id. A sibling collision is rejected; the
// attempted id is kept as a pending rename until the node is renamed
// successfully or removed.
func (d *Document) Rename(id graph.Ident, nodeID string) (*Change, error) {
	change, err := d.run("rename", func(b *batch) error {
		deltas, err := d.tree.Rename(id, nodeID)
		if err != nil {
			return err
		}
		return d.relocated(b, id, deltas)
	})
	var collision *graph.CollisionError
	switch {
	case errors.As(err, &collision):
		d.pending[id] = nodeID
	case err == nil:
		delete(d.pending, id)
	}
	return change, err
}

// relocated finishes a move or rename: references are rewritten, the
// subtree's own expressions are re-analyzed under their new paths and auto
// text ids follow.
func (d *Document) relocated(b *batch, id graph.Ident, deltas []graph.Delta) error {
	b.affect(id)
	if len(deltas) == 0 {
		return nil
	}
	b.deltas(deltas)
	res, err := d.engine.Apply(deltas, nil)
	if err != nil {
		return err
	}
	b.rewritten(res)
	d.indexSubtree(id)
	d.followAutoIDs(d.tree.Subtree(id))
	return nil
}

// followAutoIDs re-derives the id of every unshared auto-id item linked
// from ids.
func (d *Document) followAutoIDs(ids []graph.Ident) {
	for _, id := range ids {
		n, err := d.tree.Get(id)
		if err != nil {
			continue
		}
		p, _ := d.tree.AbsolutePath(id)
		for t, key := range n.Texts {
			if it, ok := d.texts.Get(key); ok && it.AutoID && !it.Shared {
				d.texts.SetID(key, itext.AutoID(p, string(t)))
			}
		}
	}
}

// Remove deletes a node and its descendants. References to the removed
// paths are kept and reported broken; text items no longer linked from any
// node are dropped.
func (d *Document) Remove(id graph.Ident) (*Change, error) {
	change, err := d.run("remove", func(b *batch) error {
		deltas, removed, err := d.tree.Remove(id)
		if err != nil {
			return err
		}
		for _, n := range removed {
			d.index.RemoveNode(n.ID)
		}
		b.deltas(deltas)
		res, err := d.engine.Apply(deltas, nil)
		if err != nil {
			return err
		}
		b.rewritten(res)
		reach, _ := d.reachableTexts()
		d.collectTexts(b, reach)
		return nil
	})
	if err == nil {
		for _, dl := range change.Deltas {
			delete(d.pending, dl.Node)
		}
	}
	return change, err
}

var copyPrefix = regexp.MustCompile(`^copy-\d+-of-`)

// copyName returns copy-N-of-base for the smallest N not used by a child of
// parent.
func (d *Document) copyName(parent graph.Ident, nodeID string) string {
	base := copyPrefix.ReplaceAllString(nodeID, "")
	used := make(map[string]bool)
	if kids, err := d.tree.Children(parent); err == nil {
		for _, k := range kids {
			used[k.NodeID] = true
		}
	}
	for n := 1; ; n++ {
		c := "copy-" + strconv.Itoa(n) + "-of-" + base
		if !used[c] {
			return c
		}
	}
}

// Duplicate deep-copies a node after itself. The copy is named
// copy-N-of-X; its unshared text items are cloned and its references into
// the original subtree are pointed at the copy.
func (d *Document) Duplicate(id graph.Ident) (*graph.Node, *Change, error) {
	var top *graph.Node
	change, err := d.run("duplicate", func(b *batch) error {
		orig, err := d.tree.Get(id)
		if err != nil {
			return err
		}
		if orig.Parent.IsZero() {
			return &graph.StructuralError{Op: "duplicate", Node: id, Reason: "the root cannot be duplicated"}
		}
		before := d.tree.Subtree(id)
		clones, mapping, err := d.tree.Clone(id)
		if err != nil {
			return err
		}
		top = clones[0]
		top.NodeID = d.copyName(orig.Parent, orig.NodeID)

		cloneTexts := make(map[itext.Key]bool)
		for _, c := range clones {
			for t, key := range c.Texts {
				it, ok := d.texts.Get(key)
				if !ok || it.Shared {
					continue
				}
				cp, _ := d.texts.Clone(key)
				c.Texts[t] = cp.Key
				cloneTexts[cp.Key] = true
			}
		}
		if err := d.tree.Insert(graph.After, id, clones...); err != nil {
			return err
		}

		var deltas []graph.Delta
		owned := make(map[graph.Ident]bool, len(clones))
		for _, o := range before {
			c := mapping[o]
			owned[c] = true
			op, _ := d.tree.AbsolutePath(o)
			cp, _ := d.tree.AbsolutePath(c)
			deltas = append(deltas, graph.Delta{Node: c, Old: op, New: cp})
			d.indexNode(c)
			b.affect(c)
		}
		for k := range cloneTexts {
			d.indexText(k)
		}

		scope := func(loc refindex.Location) bool {
			if loc.IsText() {
				return cloneTexts[loc.Text]
			}
			return owned[loc.Node]
		}
		b.deltas(deltas)
		res, err := d.engine.Apply(deltas, scope)
		if err != nil {
			return err
		}
		b.rewritten(res)
		d.followAutoIDs(d.tree.Subtree(top.ID))
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return top, change, nil
}

// SetProperty stores a property value; an empty value clears it.
func (d *Document) SetProperty(id graph.Ident, p graph.Prop, value string) (*Change, error) {
	return d.run("set-property", func(b *batch) error {
		n, err := d.tree.Get(id)
		if err != nil {
			return err
		}
		if n.Kind.Spec().Prop(p) == graph.NotAllowed {
			return &graph.StructuralError{Op: "set property", Node: id, Reason: fmt.Sprintf("a %s has no %s", n.Kind, p)}
		}
		if err := d.tree.SetProp(id, p, value); err != nil {
			return err
		}
		if p.IsExpression() {
			d.indexNode(id)
		}
		b.affect(id)
		return nil
	})
}

// SetText stores a value of the text item linked to t, creating an auto-id
// item when none is linked yet. Empty form and lang mean the default ones.
func (d *Document) SetText(id graph.Ident, t graph.TextProp, form, lang, value string) (*Change, error) {
	return d.run("set-text", func(b *batch) error {
		n, err := d.tree.Get(id)
		if err != nil {
			return err
		}
		if n.Kind.Spec().Text(t) == graph.NotAllowed {
			return &graph.StructuralError{Op: "set text", Node: id, Reason: fmt.Sprintf("a %s has no %s", n.Kind, t)}
		}
		key, ok := n.Texts[t]
		if !ok {
			p, _ := d.tree.AbsolutePath(id)
			key = d.texts.CreateAutoID(p, string(t)).Key
			if err := d.tree.SetText(id, t, key); err != nil {
				return err
			}
		}
		d.texts.Set(key, form, lang, value)
		d.indexText(key)
		b.affect(id)
		return nil
	})
}

// LinkText points t at an existing item. An item linked from more than one
// node becomes shared: duplicates reference it instead of cloning it.
func (d *Document) LinkText(id graph.Ident, t graph.TextProp, key itext.Key) (*Change, error) {
	return d.run("link-text", func(b *batch) error {
		it, ok := d.texts.Get(key)
		if !ok {
			return fmt.Errorf("text item %s: %w", key, graph.ErrNotFound)
		}
		if err := d.tree.SetText(id, t, key); err != nil {
			return err
		}
		users := 0
		d.tree.Walk(func(n *graph.Node, _ string) bool {
			for _, k := range n.Texts {
				if k == key {
					users++
				}
			}
			return true
		})
		if users > 1 {
			it.Shared = true
		}
		b.affect(id)
		reach, _ := d.reachableTexts()
		d.collectTexts(b, reach)
		return nil
	})
}

// SetTextID gives an item a manual id, which stops it following the path.
func (d *Document) SetTextID(key itext.Key, id string) (*Change, error) {
	return d.run("set-text-id", func(*batch) error {
		it, ok := d.texts.Get(key)
		if !ok {
			return fmt.Errorf("text item %s: %w", key, graph.ErrNotFound)
		}
		it.AutoID = false
		d.texts.SetID(key, id)
		return nil
	})
}

// SetSource records which uri a node expects for data source sourceID.
func (d *Document) SetSource(id graph.Ident, sourceID, uri string) (*Change, error) {
	return d.run("set-source", func(b *batch) error {
		if err := d.tree.SetSource(id, sourceID, uri); err != nil {
			return err
		}
		b.affect(id)
		return nil
	})
}

// Resolve is a convenience for callers holding paths rather than
// identities.
func (d *Document) Resolve(p string) (graph.Ident, error) {
	n, err := d.GetByPath(p)
	if err != nil {
		return graph.Ident{}, err
	}
	return n.ID, nil
}
