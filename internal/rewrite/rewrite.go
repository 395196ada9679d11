// Package rewrite keeps stored expressions pointing at the right nodes after
// structural edits. Given the path deltas of one tree operation it finds the
// affected locations through the expression index, rewrites the matching
// path references in their syntax trees and splices the result back into
// the stored text.
package rewrite

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/itext"
	"github.com/agentic-research/formgraph/internal/paths"
	"github.com/agentic-research/formgraph/internal/refindex"
	"github.com/agentic-research/formgraph/internal/xpath"
	"github.com/golang/glog"
)

// Target stores the text of every location.
type Target interface {
	Value(loc refindex.Location) string
	SetValue(loc refindex.Location, value string) error
	// SelfPath is the path of the node owning loc, or "" for text locations.
	SelfPath(loc refindex.Location) string
}

// Scope limits a batch to some locations. A nil Scope admits all.
type Scope func(refindex.Location) bool

// StaleExpressionWarning reports a location that could not be parsed and
// was left untouched.
type StaleExpressionWarning struct {
	Location refindex.Location
	Expr     string
	Err      error
}

func (w StaleExpressionWarning) String() string {
	return fmt.Sprintf("%s: expression could not be parsed and was not updated: %v", w.Location, w.Err)
}

// BrokenReferenceWarning reports a reference to a path that no longer
// exists. The reference is kept as written.
type BrokenReferenceWarning struct {
	Location refindex.Location
	Path     string
}

func (w BrokenReferenceWarning) String() string {
	return fmt.Sprintf("%s: references deleted node %s", w.Location, w.Path)
}

// Result summarizes one batch.
type Result struct {
	Rewritten []refindex.Location
	Stale     []StaleExpressionWarning
	Broken    []BrokenReferenceWarning
}

func (r *Result) merge(o *Result) {
	r.Rewritten = append(r.Rewritten, o.Rewritten...)
	r.Stale = append(r.Stale, o.Stale...)
	r.Broken = append(r.Broken, o.Broken...)
}

// Engine applies path and data source renames to indexed locations.
type Engine struct {
	index  *refindex.Index
	target Target
}

// New creates an engine over index, reading and writing through target.
func New(index *refindex.Index, target Target) *Engine {
	return &Engine{index: index, target: target}
}

type segDelta struct {
	old, new []string
	deleted  bool
}

func prepare(deltas []graph.Delta) []segDelta {
	out := make([]segDelta, 0, len(deltas))
	for _, d := range deltas {
		out = append(out, segDelta{old: paths.Split(d.Old), new: paths.Split(d.New), deleted: d.New == ""})
	}
	// Longest old path first, so each reference takes its most specific delta.
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].old) > len(out[j].old) })
	return out
}

func hasSegPrefix(segs, prefix []string) bool {
	if len(prefix) == 0 || len(prefix) > len(segs) {
		return false
	}
	for i, p := range prefix {
		if segs[i] != p {
			return false
		}
	}
	return true
}

// Apply rewrites every in-scope location referencing an old path of the
// batch. Locations that do not parse are reported stale; references to
// deleted paths are reported broken and left as they are. The index is
// updated for every rewritten location before Apply returns.
func (e *Engine) Apply(deltas []graph.Delta, scope Scope) (*Result, error) {
	res := &Result{}
	if len(deltas) == 0 {
		return res, nil
	}
	prepared := prepare(deltas)
	olds := make([]string, 0, len(deltas))
	for _, d := range deltas {
		olds = append(olds, d.Old)
	}

	for _, loc := range e.index.Unparsed() {
		if scope != nil && !scope(loc) {
			continue
		}
		value := e.target.Value(loc)
		if e.mentionsAny(value, olds) {
			entry, _ := e.index.Entry(loc)
			w := StaleExpressionWarning{Location: loc, Expr: value}
			if entry != nil {
				w.Err = entry.Err
			}
			glog.Warningf("rewrite: %s", w)
			res.Stale = append(res.Stale, w)
		}
	}

	for _, loc := range e.index.ReferencingAny(olds) {
		if scope != nil && !scope(loc) {
			continue
		}
		value := e.target.Value(loc)
		var broken []string
		out, err := e.edit(loc, value, func(ast xpath.Expr) []xpath.Edit {
			edits, b := e.pathEdits(ast, prepared)
			broken = append(broken, b...)
			return edits
		})
		if err != nil {
			w := StaleExpressionWarning{Location: loc, Expr: value, Err: err}
			glog.Warningf("rewrite: %s", w)
			res.Stale = append(res.Stale, w)
			continue
		}
		for _, p := range broken {
			res.Broken = append(res.Broken, BrokenReferenceWarning{Location: loc, Path: p})
		}
		if err := e.store(loc, value, out, res); err != nil {
			return res, err
		}
	}
	if glog.V(1) {
		glog.Infof("rewrite: %d deltas, %d rewritten, %d stale, %d broken",
			len(deltas), len(res.Rewritten), len(res.Stale), len(res.Broken))
	}
	return res, nil
}

// RenameInstance rewrites instance('from') to instance('to') in locs.
func (e *Engine) RenameInstance(from, to string, locs []refindex.Location) (*Result, error) {
	res := &Result{}
	for _, loc := range locs {
		value := e.target.Value(loc)
		out, err := e.edit(loc, value, func(ast xpath.Expr) []xpath.Edit {
			var edits []xpath.Edit
			xpath.Walk(ast, func(n xpath.Expr) bool {
				if call, ok := n.(*xpath.FuncCall); ok {
					if lit, ok := call.InstanceID(); ok && lit.Value == from {
						edits = append(edits, xpath.Edit{Span: lit.Pos, Text: xpath.Quote(to, lit.Quote)})
					}
				}
				return true
			})
			return edits
		})
		if err != nil {
			res.Stale = append(res.Stale, StaleExpressionWarning{Location: loc, Expr: value, Err: err})
			continue
		}
		if err := e.store(loc, value, out, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (e *Engine) store(loc refindex.Location, before, after string, res *Result) error {
	if after == before {
		return nil
	}
	if err := e.target.SetValue(loc, after); err != nil {
		return fmt.Errorf("store rewritten %s: %w", loc, err)
	}
	e.index.Update(loc, after, e.target.SelfPath(loc))
	res.Rewritten = append(res.Rewritten, loc)
	if glog.V(2) {
		glog.Infof("rewrite: %s: %q -> %q", loc, before, after)
	}
	return nil
}

// edit parses the expression (or each output expression of a text body),
// collects edits from fn and splices them into value.
func (e *Engine) edit(loc refindex.Location, value string, fn func(xpath.Expr) []xpath.Edit) (string, error) {
	if !loc.IsText() {
		ast, err := xpath.Parse(value)
		if err != nil {
			return "", err
		}
		return xpath.Splice(value, fn(ast))
	}
	var edits []xpath.Edit
	for _, o := range itext.Outputs(value) {
		ast, err := xpath.Parse(o.Expr)
		if err != nil {
			return "", err
		}
		for _, ed := range fn(ast) {
			edits = append(edits, ed.Shift(o.Start))
		}
	}
	return xpath.Splice(value, edits)
}

// pathEdits rewrites each tree path reference with the most specific delta
// whose old path is a segment prefix of it.
func (e *Engine) pathEdits(ast xpath.Expr, deltas []segDelta) ([]xpath.Edit, []string) {
	var edits []xpath.Edit
	var broken []string
	aliases := e.index.Aliases()
	xpath.Walk(ast, func(n xpath.Expr) bool {
		p, ok := n.(*xpath.PathExpr)
		if !ok {
			return true
		}
		segs, ok := refindex.TreeSegments(aliases, p)
		if !ok {
			return true
		}
		for _, d := range deltas {
			if !hasSegPrefix(segs, d.old) {
				continue
			}
			if d.deleted {
				broken = append(broken, paths.Join(segs))
			} else {
				edits = append(edits, prefixEdits(aliases, p, d.old, d.new)...)
			}
			break
		}
		return true
	})
	return edits, broken
}

// prefixEdits replaces the old leading segments of p with the new ones.
// Steps present in both paths keep their predicates byte-identical: names
// are edited in place, and steps are inserted or dropped only where the two
// paths differ.
func prefixEdits(a *paths.Aliaser, p *xpath.PathExpr, old, repl []string) []xpath.Edit {
	off := 0
	if p.Kind == xpath.PathHashtag {
		r, _ := a.Rule(p.Hashtag)
		off = len(paths.Split(r.Canonical))
	}
	steps := p.NameSteps()
	m, n := len(old), len(repl)
	if m <= off {
		return nil
	}
	if n <= off || !equal(repl[:off], old[:off]) {
		// The new path leaves the hashtag's subtree: spell it out.
		return []xpath.Edit{{Span: xpath.Span{Start: p.Pos.Start, End: steps[m-off-1].NameSpan.End}, Text: paths.Join(repl)}}
	}
	step := func(i int) *xpath.Step { return steps[i-off] }

	if m == n {
		var edits []xpath.Edit
		for i := off; i < m; i++ {
			if old[i] != repl[i] {
				edits = append(edits, xpath.Edit{Span: step(i).NameSpan, Text: repl[i]})
			}
		}
		return edits
	}

	c := off
	for c < m && c < n && old[c] == repl[c] {
		c++
	}
	sfx := 0
	for c+sfx < m && c+sfx < n && old[m-1-sfx] == repl[n-1-sfx] {
		sfx++
	}
	if c == m || c == n {
		// One path is a prefix of the other; no node moves into its own
		// subtree, so this only guards the indexing below.
		return []xpath.Edit{{Span: xpath.Span{Start: p.Pos.Start, End: steps[m-off-1].NameSpan.End}, Text: paths.Join(repl)}}
	}
	// old[c:m-sfx] gives way to repl[c:n-sfx].
	if sfx == 0 {
		return []xpath.Edit{{
			Span: xpath.Span{Start: step(c).NameSpan.Start, End: step(m - 1).NameSpan.End},
			Text: strings.Join(repl[c:], "/"),
		}}
	}
	var b strings.Builder
	for _, name := range repl[c : n-sfx] {
		b.WriteString(name)
		b.WriteByte('/')
	}
	end := step(m - sfx).NameSpan.Start
	start := end
	if c < m-sfx {
		start = step(c).NameSpan.Start
	}
	return []xpath.Edit{{Span: xpath.Span{Start: start, End: end}, Text: b.String()}}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// mentionsAny reports whether raw text contains any of ps, absolute or
// aliased, ending at a segment boundary. It is only used for text that no
// longer parses.
func (e *Engine) mentionsAny(value string, ps []string) bool {
	for _, p := range ps {
		for _, form := range []string{p, e.index.Aliases().Alias(p)} {
			if mentions(value, form) {
				return true
			}
		}
	}
	return false
}

func mentions(value, p string) bool {
	for from := 0; ; {
		i := strings.Index(value[from:], p)
		if i < 0 {
			return false
		}
		end := from + i + len(p)
		if end == len(value) || !isNameByte(value[end]) {
			return true
		}
		from = from + i + 1
	}
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' || c == '.' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}
