package graph

import (
	"fmt"
	"strings"

	"github.com/agentic-research/formgraph/internal/itext"
)

// Position places a node relative to a reference node.
type Position uint8

const (
	Before Position = iota
	After
	Into // last child of the reference
	First
	Last
)

var positionNames = map[string]Position{
	"before": Before, "after": After, "into": Into, "first": First, "last": Last,
}

// ParsePosition resolves before, after, into, first or last.
func ParsePosition(s string) (Position, error) {
	p, ok := positionNames[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("unknown position %q", s)
	}
	return p, nil
}

func (p Position) String() string {
	for name, v := range positionNames {
		if v == p {
			return name
		}
	}
	return fmt.Sprintf("Position(%d)", p)
}

// Delta is one path change produced by a mutation. New is empty when the
// node no longer exists.
type Delta struct {
	Node Ident
	Old  string
	New  string
}

// target resolves where pos and ref place a child: the parent and the index
// in its child list, ignoring moving (which is about to be detached).
func (s *Store) target(op string, pos Position, ref Ident, moving Ident) (*Node, int, error) {
	r, err := s.Get(ref)
	if err != nil {
		return nil, 0, err
	}
	switch pos {
	case Into, Last, First:
		idx := 0
		if pos != First {
			idx = len(without(r.Children, moving))
		}
		return r, idx, nil
	case Before, After:
		if r.Parent.IsZero() {
			return nil, 0, &StructuralError{Op: op, Node: ref, Reason: "nothing can be placed beside the root"}
		}
		parent := s.nodes[r.Parent]
		siblings := without(parent.Children, moving)
		idx := indexOf(siblings, ref)
		if idx < 0 {
			return nil, 0, &StructuralError{Op: op, Node: ref, Reason: "reference node cannot be its own anchor"}
		}
		if pos == After {
			idx++
		}
		return parent, idx, nil
	}
	return nil, 0, &StructuralError{Op: op, Node: ref, Reason: fmt.Sprintf("unknown position %d", pos)}
}

func without(ids []Ident, id Ident) []Ident {
	if id.IsZero() || indexOf(ids, id) < 0 {
		return ids
	}
	out := make([]Ident, 0, len(ids)-1)
	for _, c := range ids {
		if c != id {
			out = append(out, c)
		}
	}
	return out
}

func indexOf(ids []Ident, id Ident) int {
	for i, c := range ids {
		if c == id {
			return i
		}
	}
	return -1
}

// checkPlacement enforces the kind table and sibling uniqueness for a node
// of kind with nodeID placed under parent. self is ignored when comparing.
func (s *Store) checkPlacement(op string, parent *Node, kind Kind, nodeID string, self Ident) error {
	if !CanContain(parent.Kind, kind) {
		return &StructuralError{
			Op:     op,
			Node:   self,
			Reason: fmt.Sprintf("a %s cannot contain a %s", parent.Kind, kind),
		}
	}
	return s.checkUnique(parent, kind, nodeID, self)
}

func (s *Store) checkUnique(parent *Node, kind Kind, nodeID string, self Ident) error {
	if kind.Spec().AddressByValue {
		return nil
	}
	for _, c := range parent.Children {
		if c == self {
			continue
		}
		if sib := s.nodes[c]; sib.NodeID == nodeID && !sib.Kind.Spec().AddressByValue {
			return &CollisionError{Parent: parent.ID, NodeID: nodeID, Existing: c}
		}
	}
	return nil
}

func (s *Store) paths(ids []Ident) map[Ident]string {
	out := make(map[Ident]string, len(ids))
	for _, id := range ids {
		p, _ := s.AbsolutePath(id)
		out[id] = p
	}
	return out
}

func (s *Store) deltas(ids []Ident, before map[Ident]string) []Delta {
	var out []Delta
	for _, id := range ids {
		p, _ := s.AbsolutePath(id)
		if p != before[id] {
			out = append(out, Delta{Node: id, Old: before[id], New: p})
		}
	}
	return out
}

// Insert attaches a detached subtree. nodes[0] is the subtree root; the
// remaining nodes are its descendants, already linked to each other. A zero
// identity on the subtree root is replaced by a fresh one.
func (s *Store) Insert(pos Position, ref Ident, nodes ...*Node) error {
	if len(nodes) == 0 {
		return nil
	}
	top := nodes[0]
	if top.ID.IsZero() {
		top.ID = NewIdent()
	}
	for _, n := range nodes {
		if err := ValidNodeID(n.Kind, n.NodeID); err != nil {
			return err
		}
		if n.Kind == KindForm {
			return &StructuralError{Op: "insert", Node: n.ID, Reason: "a document has a single form root"}
		}
		if _, exists := s.nodes[n.ID]; exists {
			return &StructuralError{Op: "insert", Node: n.ID, Reason: "node is already in the tree"}
		}
	}
	parent, idx, err := s.target("insert", pos, ref, Ident{})
	if err != nil {
		return err
	}
	if err := s.checkPlacement("insert", parent, top.Kind, top.NodeID, top.ID); err != nil {
		return err
	}
	if err := checkSubtree(nodes); err != nil {
		return err
	}

	s.touch(parent.ID)
	for _, n := range nodes {
		s.touch(n.ID)
		if n.Props == nil {
			n.Props = make(map[Prop]string)
		}
		if n.Texts == nil {
			n.Texts = make(map[TextProp]itext.Key)
		}
		s.nodes[n.ID] = n
	}
	top.Parent = parent.ID
	parent.Children = insertAt(parent.Children, idx, top.ID)
	return nil
}

// checkSubtree applies the kind table and sibling uniqueness inside a
// detached subtree: every descendant must hang off a node of the batch that
// lists it as a child.
func checkSubtree(nodes []*Node) error {
	batch := make(map[Ident]*Node, len(nodes))
	for _, n := range nodes {
		batch[n.ID] = n
	}
	for _, n := range nodes[1:] {
		if n.ID.IsZero() {
			return &StructuralError{Op: "insert", Node: n.ID, Reason: "descendant has no identity"}
		}
		parent, ok := batch[n.Parent]
		if !ok || n.ID == nodes[0].ID || indexOf(parent.Children, n.ID) < 0 {
			return &StructuralError{Op: "insert", Node: n.ID, Reason: "descendant is not linked into the subtree"}
		}
		if !CanContain(parent.Kind, n.Kind) {
			return &StructuralError{
				Op:     "insert",
				Node:   n.ID,
				Reason: fmt.Sprintf("a %s cannot contain a %s", parent.Kind, n.Kind),
			}
		}
	}
	for _, n := range nodes {
		seen := make(map[string]Ident, len(n.Children))
		for _, c := range n.Children {
			child, ok := batch[c]
			if !ok {
				return &StructuralError{Op: "insert", Node: n.ID, Reason: fmt.Sprintf("child %s is missing from the subtree", c)}
			}
			if child.Kind.Spec().AddressByValue {
				continue
			}
			if prev, dup := seen[child.NodeID]; dup {
				return &CollisionError{Parent: n.ID, NodeID: child.NodeID, Existing: prev}
			}
			seen[child.NodeID] = c
		}
	}
	return nil
}

func insertAt(ids []Ident, idx int, id Ident) []Ident {
	ids = append(ids, Ident{})
	copy(ids[idx+1:], ids[idx:])
	ids[idx] = id
	return ids
}

// Move relocates id and its subtree. Identities are preserved; the returned
// deltas cover the node and every descendant whose path changed.
func (s *Store) Move(id Ident, pos Position, ref Ident) ([]Delta, error) {
	n, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if n.Parent.IsZero() {
		return nil, &StructuralError{Op: "move", Node: id, Reason: "the root cannot be moved"}
	}
	parent, idx, err := s.target("move", pos, ref, id)
	if err != nil {
		return nil, err
	}
	if s.Contains(id, parent.ID) {
		return nil, &StructuralError{Op: "move", Node: id, Reason: "a node cannot be moved inside itself"}
	}
	if err := s.checkPlacement("move", parent, n.Kind, n.NodeID, id); err != nil {
		return nil, err
	}

	sub := s.Subtree(id)
	before := s.paths(sub)

	old := s.nodes[n.Parent]
	s.touch(old.ID)
	old.Children = without(old.Children, id)
	s.touch(parent.ID)
	parent.Children = insertAt(parent.Children, idx, id)
	s.touch(id)
	n.Parent = parent.ID

	return s.deltas(sub, before), nil
}

// Rename changes the user-visible id. A sibling collision is rejected
// before anything changes.
func (s *Store) Rename(id Ident, nodeID string) ([]Delta, error) {
	n, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if n.Parent.IsZero() {
		return nil, &StructuralError{Op: "rename", Node: id, Reason: "the root cannot be renamed"}
	}
	if err := ValidNodeID(n.Kind, nodeID); err != nil {
		return nil, err
	}
	if n.NodeID == nodeID {
		return nil, nil
	}
	if err := s.checkUnique(s.nodes[n.Parent], n.Kind, nodeID, id); err != nil {
		return nil, err
	}
	sub := s.Subtree(id)
	before := s.paths(sub)
	s.touch(id)
	n.NodeID = nodeID
	return s.deltas(sub, before), nil
}

// Remove deletes id and its descendants. It returns one deletion delta per
// removed node, in pre-order, and the removed nodes.
func (s *Store) Remove(id Ident) ([]Delta, []*Node, error) {
	n, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if n.Parent.IsZero() {
		return nil, nil, &StructuralError{Op: "remove", Node: id, Reason: "the root cannot be removed"}
	}
	sub := s.Subtree(id)
	before := s.paths(sub)

	parent := s.nodes[n.Parent]
	s.touch(parent.ID)
	parent.Children = without(parent.Children, id)

	deltas := make([]Delta, 0, len(sub))
	removed := make([]*Node, 0, len(sub))
	for _, d := range sub {
		s.touch(d)
		removed = append(removed, s.nodes[d])
		delete(s.nodes, d)
		deltas = append(deltas, Delta{Node: d, Old: before[d]})
	}
	return deltas, removed, nil
}

// Clone deep-copies the subtree at id with fresh identities. The copy is
// detached; mapping relates each original identity to its clone.
func (s *Store) Clone(id Ident) ([]*Node, map[Ident]Ident, error) {
	if _, err := s.Get(id); err != nil {
		return nil, nil, err
	}
	sub := s.Subtree(id)
	mapping := make(map[Ident]Ident, len(sub))
	for _, orig := range sub {
		mapping[orig] = NewIdent()
	}
	out := make([]*Node, 0, len(sub))
	for _, orig := range sub {
		c := s.nodes[orig].clone()
		c.ID = mapping[orig]
		if orig == id {
			c.Parent = Ident{}
		} else {
			c.Parent = mapping[c.Parent]
		}
		for i, child := range c.Children {
			c.Children[i] = mapping[child]
		}
		out = append(out, c)
	}
	return out, mapping, nil
}

// SetProp stores a property value; an empty value clears it.
func (s *Store) SetProp(id Ident, p Prop, value string) error {
	n, err := s.Get(id)
	if err != nil {
		return err
	}
	if n.Props[p] == value {
		return nil
	}
	s.touch(id)
	if value == "" {
		delete(n.Props, p)
	} else {
		n.Props[p] = value
	}
	return nil
}

// SetText links a text property to an item; an empty key unlinks it.
func (s *Store) SetText(id Ident, t TextProp, key itext.Key) error {
	n, err := s.Get(id)
	if err != nil {
		return err
	}
	if n.Texts[t] == key {
		return nil
	}
	s.touch(id)
	if key == "" {
		delete(n.Texts, t)
	} else {
		n.Texts[t] = key
	}
	return nil
}

// SetSource records the uri a node expects for data source sourceID; an
// empty uri clears the hint.
func (s *Store) SetSource(id Ident, sourceID, uri string) error {
	n, err := s.Get(id)
	if err != nil {
		return err
	}
	if n.Sources[sourceID] == uri {
		return nil
	}
	s.touch(id)
	if uri == "" {
		delete(n.Sources, sourceID)
		return nil
	}
	if n.Sources == nil {
		n.Sources = make(map[string]string)
	}
	n.Sources[sourceID] = uri
	return nil
}
