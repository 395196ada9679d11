package graph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/agentic-research/formgraph/internal/itext"
	"github.com/oklog/ulid/v2"
)

// Ident is the stable internal identity of a node. It is assigned once at
// creation, never changes, and is never reused.
type Ident ulid.ULID

// NewIdent returns a fresh identity.
func NewIdent() Ident { return Ident(ulid.Make()) }

// ParseIdent parses the string form produced by Ident.String.
func ParseIdent(s string) (Ident, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return Ident{}, fmt.Errorf("parse node identity %q: %w", s, err)
	}
	return Ident(u), nil
}

func (i Ident) String() string { return ulid.ULID(i).String() }

// IsZero reports whether i is the unset identity.
func (i Ident) IsZero() bool { return i == Ident{} }

// Node is one element of the document tree. Nodes are owned by a Store and
// must be changed only through its methods; fields are exported for reading.
type Node struct {
	ID       Ident
	NodeID   string // user-visible name, the value for choices
	Kind     Kind
	Parent   Ident // zero at the root
	Children []Ident
	Props    map[Prop]string
	Texts    map[TextProp]itext.Key
	Sources  map[string]string // data source id -> uri declared by this node
}

// NewNode returns a detached node of the given kind.
func NewNode(kind Kind, nodeID string) *Node {
	return &Node{
		ID:     NewIdent(),
		NodeID: nodeID,
		Kind:   kind,
		Props:  make(map[Prop]string),
		Texts:  make(map[TextProp]itext.Key),
	}
}

func (n *Node) clone() *Node {
	c := *n
	c.Children = append([]Ident(nil), n.Children...)
	c.Props = make(map[Prop]string, len(n.Props))
	for k, v := range n.Props {
		c.Props[k] = v
	}
	c.Texts = make(map[TextProp]itext.Key, len(n.Texts))
	for k, v := range n.Texts {
		c.Texts[k] = v
	}
	if n.Sources != nil {
		c.Sources = make(map[string]string, len(n.Sources))
		for k, v := range n.Sources {
			c.Sources[k] = v
		}
	}
	return &c
}

var ncName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// ValidNodeID checks the id rules for kind. Choice values only need to be a
// single non-empty path segment; every other kind needs an element name.
func ValidNodeID(kind Kind, id string) error {
	if kind.Spec().AddressByValue {
		if id == "" || strings.ContainsAny(id, "/ \t\r\n") {
			return fmt.Errorf("%w: choice value %q", ErrInvalidNodeID, id)
		}
		return nil
	}
	if !ncName.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidNodeID, id)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Store: arena of nodes keyed by identity
// -----------------------------------------------------------------------------

// Store is the node arena. Parent and child links are identities into the
// flat node table. A Store is not safe for concurrent use.
type Store struct {
	nodes map[Ident]*Node
	root  Ident
	tx    *journal
}

// NewStore creates a tree holding only the form root named rootID.
func NewStore(rootID string) *Store {
	root := NewNode(KindForm, rootID)
	return &Store{
		nodes: map[Ident]*Node{root.ID: root},
		root:  root.ID,
	}
}

// Root returns the form root.
func (s *Store) Root() *Node { return s.nodes[s.root] }

// Len is the number of nodes including the root.
func (s *Store) Len() int { return len(s.nodes) }

// Get returns the node with identity id.
func (s *Store) Get(id Ident) (*Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return n, nil
}

// Parent returns the parent of id, or ErrNotFound at the root.
func (s *Store) Parent(id Ident) (*Node, error) {
	n, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if n.Parent.IsZero() {
		return nil, fmt.Errorf("%w: %s has no parent", ErrNotFound, id)
	}
	return s.Get(n.Parent)
}

// Children returns the children of id in order.
func (s *Store) Children(id Ident) ([]*Node, error) {
	n, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, s.nodes[c])
	}
	return out, nil
}

// AbsolutePath returns "/" joined node ids from the root to id.
func (s *Store) AbsolutePath(id Ident) (string, error) {
	var segs []string
	for cur := id; !cur.IsZero(); {
		n, ok := s.nodes[cur]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrNotFound, cur)
		}
		segs = append(segs, n.NodeID)
		cur = n.Parent
	}
	var b strings.Builder
	for i := len(segs) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segs[i])
	}
	return b.String(), nil
}

// GetByPath resolves an absolute path. When choices share a value the first
// one wins.
func (s *Store) GetByPath(path string) (*Node, error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	cur := s.nodes[s.root]
	if len(segs) == 0 || segs[0] != cur.NodeID {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	for _, seg := range segs[1:] {
		next := s.child(cur, seg)
		if next == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		cur = next
	}
	return cur, nil
}

func (s *Store) child(parent *Node, nodeID string) *Node {
	for _, c := range parent.Children {
		if n := s.nodes[c]; n.NodeID == nodeID {
			return n
		}
	}
	return nil
}

// Subtree returns id and all its descendants in pre-order.
func (s *Store) Subtree(id Ident) []Ident {
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	out := []Ident{id}
	for _, c := range n.Children {
		out = append(out, s.Subtree(c)...)
	}
	return out
}

// Contains reports whether id is ancestor or equal to other.
func (s *Store) Contains(id, other Ident) bool {
	for cur := other; !cur.IsZero(); {
		if cur == id {
			return true
		}
		n, ok := s.nodes[cur]
		if !ok {
			return false
		}
		cur = n.Parent
	}
	return false
}

// Walk visits every node below the root in pre-order with its absolute path.
// Returning false from fn skips the node's children.
func (s *Store) Walk(fn func(n *Node, path string) bool) {
	root := s.nodes[s.root]
	s.walk(root, "/"+root.NodeID, fn)
}

func (s *Store) walk(n *Node, path string, fn func(*Node, string) bool) {
	for _, c := range n.Children {
		child := s.nodes[c]
		p := path + "/" + child.NodeID
		if fn(child, p) {
			s.walk(child, p, fn)
		}
	}
}

// Siblings returns the other children of id's parent.
func (s *Store) Siblings(id Ident) []*Node {
	n, ok := s.nodes[id]
	if !ok || n.Parent.IsZero() {
		return nil
	}
	var out []*Node
	for _, c := range s.nodes[n.Parent].Children {
		if c != id {
			out = append(out, s.nodes[c])
		}
	}
	return out
}
