package refindex

import (
	"github.com/agentic-research/formgraph/internal/itext"
	"github.com/agentic-research/formgraph/internal/paths"
	"github.com/agentic-research/formgraph/internal/xpath"
)

// Entry is what one location's stored text references.
type Entry struct {
	Value     string
	Paths     []string // absolute node paths, canonical form
	Unknown   []string // hashtags with no alias rule
	Instances []string // data source ids, including those implied by hashtags
	Implied   []string // ids of Instances reached only through a hashtag
	SelfRef   bool     // references the owning node itself
	Err       error    // parse failure; the other fields are empty
}

// TreeSegments returns the node path segments addressed by p, or false when
// p does not address a tree node (relative paths, instance paths, hashtags
// that do not map onto the tree).
func TreeSegments(a *paths.Aliaser, p *xpath.PathExpr) ([]string, bool) {
	var segs []string
	switch p.Kind {
	case xpath.PathAbsolute:
	case xpath.PathHashtag:
		r, ok := a.Rule(p.Hashtag)
		if !ok || !r.TreeRooted() {
			return nil, false
		}
		segs = paths.Split(r.Canonical)
	default:
		return nil, false
	}
	for _, s := range p.NameSteps() {
		segs = append(segs, s.Name)
	}
	if len(segs) == 0 {
		return nil, false
	}
	return segs, true
}

type collector struct {
	aliases   *paths.Aliaser
	self      string
	entry     Entry
	seenPath  map[string]bool
	seenInst  map[string]bool
	literal   map[string]bool
	seenUnkwn map[string]bool
}

func newCollector(a *paths.Aliaser, self string) *collector {
	return &collector{
		aliases:   a,
		self:      self,
		seenPath:  make(map[string]bool),
		seenInst:  make(map[string]bool),
		literal:   make(map[string]bool),
		seenUnkwn: make(map[string]bool),
	}
}

func (c *collector) instance(id string) {
	if !c.seenInst[id] {
		c.seenInst[id] = true
		c.entry.Instances = append(c.entry.Instances, id)
	}
}

func (c *collector) scan(src string) error {
	e, err := xpath.Parse(src)
	if err != nil {
		return err
	}
	xpath.Walk(e, func(n xpath.Expr) bool {
		switch n := n.(type) {
		case *xpath.FuncCall:
			if lit, ok := n.InstanceID(); ok {
				c.literal[lit.Value] = true
				c.instance(lit.Value)
			}
		case *xpath.PathExpr:
			c.path(n)
		}
		return true
	})
	return nil
}

func (c *collector) finish(value string) Entry {
	c.entry.Value = value
	for _, id := range c.entry.Instances {
		if !c.literal[id] {
			c.entry.Implied = append(c.entry.Implied, id)
		}
	}
	return c.entry
}

func (c *collector) path(p *xpath.PathExpr) {
	if p.IsContext() {
		c.entry.SelfRef = true
		return
	}
	if p.Kind == xpath.PathHashtag {
		r, ok := c.aliases.Rule(p.Hashtag)
		if !ok {
			if !c.seenUnkwn[p.Hashtag] {
				c.seenUnkwn[p.Hashtag] = true
				c.entry.Unknown = append(c.entry.Unknown, p.Hashtag)
			}
			return
		}
		for _, id := range r.Instances {
			c.instance(id)
		}
	}
	segs, ok := TreeSegments(c.aliases, p)
	if !ok {
		return
	}
	abs := paths.Join(segs)
	if c.self != "" && abs == c.self {
		c.entry.SelfRef = true
	}
	if !c.seenPath[abs] {
		c.seenPath[abs] = true
		c.entry.Paths = append(c.entry.Paths, abs)
	}
}

// Analyze classifies the references of a property expression owned by the
// node at self.
func Analyze(a *paths.Aliaser, expr, self string) Entry {
	c := newCollector(a, self)
	if err := c.scan(expr); err != nil {
		return Entry{Value: expr, Err: err}
	}
	return c.finish(expr)
}

// AnalyzeText classifies the output references embedded in a text body.
func AnalyzeText(a *paths.Aliaser, body string) Entry {
	c := newCollector(a, "")
	for _, o := range itext.Outputs(body) {
		if err := c.scan(o.Expr); err != nil {
			return Entry{Value: body, Err: err}
		}
	}
	e := c.finish(body)
	e.SelfRef = false
	return e
}
