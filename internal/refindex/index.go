// Package refindex is the expression index: for every expression-bearing
// location in a document it records which node paths and data sources the
// stored text references, and answers the reverse question through roaring
// bitmaps keyed by token.
package refindex

import (
	"fmt"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/itext"
	"github.com/agentic-research/formgraph/internal/paths"
	"github.com/golang/glog"
)

// Location is one place an expression is stored: a node property, or one
// language/form value of a text item.
type Location struct {
	Node graph.Ident
	Prop graph.Prop
	Text itext.Key
	Form string
	Lang string
}

// NodeLocation addresses an expression property of a node.
func NodeLocation(id graph.Ident, p graph.Prop) Location {
	return Location{Node: id, Prop: p}
}

// TextLocation addresses one value of a text item.
func TextLocation(key itext.Key, form, lang string) Location {
	return Location{Text: key, Form: form, Lang: lang}
}

// IsText reports whether the location is inside a text item.
func (l Location) IsText() bool { return l.Text != "" }

func (l Location) String() string {
	if l.IsText() {
		return fmt.Sprintf("text:%s/%s/%s", l.Text, l.Form, l.Lang)
	}
	return fmt.Sprintf("node:%s#%s", l.Node, l.Prop)
}

const (
	pathToken     = "path:"
	instanceToken = "instance:"
)

// PathToken is the token under which references to p or its descendants
// are indexed.
func PathToken(p string) string { return pathToken + p }

// InstanceToken is the token for references to a data source id.
func InstanceToken(id string) string { return instanceToken + id }

// Index maps locations to their analyzed entries and tokens to the bitmap of
// locations mentioning them. Location ids are assigned once and never
// reused. An Index is not safe for concurrent use.
type Index struct {
	aliases *paths.Aliaser

	ids     map[Location]uint32
	locs    map[uint32]Location
	next    uint32
	entries map[uint32]*Entry

	tokens   map[string]*roaring.Bitmap
	byNode   map[graph.Ident]*roaring.Bitmap
	byText   map[itext.Key]*roaring.Bitmap
	unparsed *roaring.Bitmap
}

// New creates an empty index resolving hashtags through a.
func New(a *paths.Aliaser) *Index {
	return &Index{
		aliases: a,
		ids:     make(map[Location]uint32),
		locs:    make(map[uint32]Location),
		entries: make(map[uint32]*Entry),
		tokens:  make(map[string]*roaring.Bitmap),
		byNode:  make(map[graph.Ident]*roaring.Bitmap),
		byText:  make(map[itext.Key]*roaring.Bitmap),

		unparsed: roaring.New(),
	}
}

// Aliases returns the aliaser used for hashtag resolution.
func (x *Index) Aliases() *paths.Aliaser { return x.aliases }

// Len is the number of indexed locations.
func (x *Index) Len() int { return len(x.entries) }

func tokensOf(e *Entry) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range e.Paths {
		segs := paths.Split(p)
		for i := 1; i <= len(segs); i++ {
			t := PathToken(paths.Join(segs[:i]))
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	for _, id := range e.Instances {
		out = append(out, InstanceToken(id))
	}
	return out
}

func addBit(m map[string]*roaring.Bitmap, key string, id uint32) {
	bm, ok := m[key]
	if !ok {
		bm = roaring.New()
		m[key] = bm
	}
	bm.Add(id)
}

// Update re-analyzes the text stored at loc. For node locations self is the
// owning node's path, used for self-reference detection. An empty value
// drops the location.
func (x *Index) Update(loc Location, value, self string) *Entry {
	if value == "" {
		x.Remove(loc)
		return nil
	}
	id, ok := x.ids[loc]
	if ok {
		x.untoken(id)
	} else {
		id = x.next
		x.next++
		x.ids[loc] = id
		x.locs[id] = loc
		if loc.IsText() {
			bm, ok := x.byText[loc.Text]
			if !ok {
				bm = roaring.New()
				x.byText[loc.Text] = bm
			}
			bm.Add(id)
		} else {
			bm, ok := x.byNode[loc.Node]
			if !ok {
				bm = roaring.New()
				x.byNode[loc.Node] = bm
			}
			bm.Add(id)
		}
	}

	var e Entry
	if loc.IsText() {
		e = AnalyzeText(x.aliases, value)
	} else {
		e = Analyze(x.aliases, value, self)
	}
	x.entries[id] = &e
	if e.Err != nil {
		x.unparsed.Add(id)
	} else {
		x.unparsed.Remove(id)
	}
	for _, t := range tokensOf(&e) {
		addBit(x.tokens, t, id)
	}
	if glog.V(2) {
		glog.Infof("refindex: %s -> paths=%v instances=%v", loc, e.Paths, e.Instances)
	}
	return &e
}

func (x *Index) untoken(id uint32) {
	old, ok := x.entries[id]
	if !ok {
		return
	}
	for _, t := range tokensOf(old) {
		if bm, ok := x.tokens[t]; ok {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(x.tokens, t)
			}
		}
	}
}

// Remove drops one location.
func (x *Index) Remove(loc Location) {
	id, ok := x.ids[loc]
	if !ok {
		return
	}
	x.untoken(id)
	x.unparsed.Remove(id)
	delete(x.entries, id)
	delete(x.ids, loc)
	delete(x.locs, id)
	if loc.IsText() {
		if bm := x.byText[loc.Text]; bm != nil {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(x.byText, loc.Text)
			}
		}
	} else if bm := x.byNode[loc.Node]; bm != nil {
		bm.Remove(id)
		if bm.IsEmpty() {
			delete(x.byNode, loc.Node)
		}
	}
}

// RemoveNode drops every location owned by node id.
func (x *Index) RemoveNode(id graph.Ident) {
	for _, loc := range x.NodeLocations(id) {
		x.Remove(loc)
	}
}

// RemoveText drops every location inside text item key.
func (x *Index) RemoveText(key itext.Key) {
	for _, loc := range x.TextLocations(key) {
		x.Remove(loc)
	}
}

// Entry returns the analyzed entry of loc.
func (x *Index) Entry(loc Location) (*Entry, bool) {
	id, ok := x.ids[loc]
	if !ok {
		return nil, false
	}
	return x.entries[id], true
}

func (x *Index) expand(bm *roaring.Bitmap) []Location {
	if bm == nil {
		return nil
	}
	out := make([]Location, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, x.locs[it.Next()])
	}
	return out
}

// Locations returns every indexed location in id order.
func (x *Index) Locations() []Location {
	ids := make([]uint32, 0, len(x.locs))
	for id := range x.locs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Location, len(ids))
	for i, id := range ids {
		out[i] = x.locs[id]
	}
	return out
}

// NodeLocations returns the locations owned by a node.
func (x *Index) NodeLocations(id graph.Ident) []Location { return x.expand(x.byNode[id]) }

// TextLocations returns the locations inside a text item.
func (x *Index) TextLocations(key itext.Key) []Location { return x.expand(x.byText[key]) }

// Referencing returns the locations that reference p or any path below it.
// Matching is per segment: /data/text does not match /data/text2.
func (x *Index) Referencing(p string) []Location {
	return x.expand(x.tokens[PathToken(p)])
}

// ReferencingAny unions the candidates for several paths.
func (x *Index) ReferencingAny(ps []string) []Location {
	bms := make([]*roaring.Bitmap, 0, len(ps))
	for _, p := range ps {
		if bm, ok := x.tokens[PathToken(p)]; ok {
			bms = append(bms, bm)
		}
	}
	if len(bms) == 0 {
		return nil
	}
	return x.expand(roaring.FastOr(bms...))
}

// Unparsed returns the locations whose stored text does not parse.
func (x *Index) Unparsed() []Location { return x.expand(x.unparsed) }

// InstanceLocations returns the locations referencing data source id.
func (x *Index) InstanceLocations(id string) []Location {
	return x.expand(x.tokens[InstanceToken(id)])
}

// Instances returns every referenced data source id, sorted.
func (x *Index) Instances() []string {
	var out []string
	for t := range x.tokens {
		if id, ok := strings.CutPrefix(t, instanceToken); ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Tokens returns a copy of the token bitmaps, for export.
func (x *Index) Tokens() map[string]*roaring.Bitmap {
	out := make(map[string]*roaring.Bitmap, len(x.tokens))
	for t, bm := range x.tokens {
		out[t] = bm.Clone()
	}
	return out
}

// LocationID returns the internal id of loc.
func (x *Index) LocationID(loc Location) (uint32, bool) {
	id, ok := x.ids[loc]
	return id, ok
}
