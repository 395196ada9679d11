// Package validate computes per-node diagnostics over a document's tree,
// expression index and registries. It never mutates what it inspects.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agentic-research/formgraph/internal/datasource"
	"github.com/agentic-research/formgraph/internal/graph"
	"github.com/agentic-research/formgraph/internal/itext"
	"github.com/agentic-research/formgraph/internal/paths"
	"github.com/agentic-research/formgraph/internal/refindex"
)

// Kind classifies a diagnostic.
type Kind string

const (
	RequiredPropertyMissing Kind = "required-property-missing"
	SiblingCollisionPending Kind = "sibling-id-collision-pending"
	BrokenPathReference     Kind = "broken-path-reference"
	ReservedNameUsed        Kind = "reserved-name-used"
	ExpressionSelfReference Kind = "expression-self-reference"
	StaleExpression         Kind = "stale-expression"
	UnknownDataSource       Kind = "unknown-data-source"
	DuplicateChoiceValue    Kind = "duplicate-choice-value"
)

// Severity orders diagnostics; errors block a save, warnings do not.
type Severity uint8

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

type Diagnostic struct {
	Kind     Kind
	Severity Severity
	Message  string
	Location string // property or text the diagnostic is about, if any
}

func (d Diagnostic) String() string {
	if d.Location != "" {
		return fmt.Sprintf("%s: %s (%s): %s", d.Severity, d.Kind, d.Location, d.Message)
	}
	return fmt.Sprintf("%s: %s: %s", d.Severity, d.Kind, d.Message)
}

// Checker is an extra rule run for every node, e.g. a domain-specific
// naming policy.
type Checker func(in *Input, n *graph.Node, path string) []Diagnostic

// Input is everything a diagnosis reads.
type Input struct {
	Tree    *graph.Store
	Index   *refindex.Index
	Texts   *itext.Registry
	Sources *datasource.Registry

	// Pending holds rename attempts rejected for a sibling collision.
	Pending map[graph.Ident]string
	// Reserved node ids, compared case-insensitively.
	Reserved []string
	// Allowed path tails below the root that may be referenced without a
	// node, e.g. "meta/deviceID".
	Allowed  []string
	Checkers []Checker
}

// Diagnose returns the diagnostics of every node that has any.
func Diagnose(in *Input) map[graph.Ident][]Diagnostic {
	d := &diagnoser{in: in, out: make(map[graph.Ident][]Diagnostic)}
	d.allowed = make(map[string]bool, len(in.Allowed))
	root := in.Tree.Root()
	for _, a := range in.Allowed {
		d.allowed["/"+root.NodeID+"/"+strings.Trim(a, "/")] = true
	}
	d.reserved = make(map[string]bool, len(in.Reserved))
	for _, r := range in.Reserved {
		d.reserved[strings.ToLower(r)] = true
	}

	in.Tree.Walk(func(n *graph.Node, path string) bool {
		d.node(n, path)
		return true
	})
	for id, ds := range d.out {
		sort.SliceStable(ds, func(i, j int) bool {
			if ds[i].Severity != ds[j].Severity {
				return ds[i].Severity > ds[j].Severity
			}
			return ds[i].Kind < ds[j].Kind
		})
		d.out[id] = ds
	}
	return d.out
}

type diagnoser struct {
	in       *Input
	out      map[graph.Ident][]Diagnostic
	allowed  map[string]bool
	reserved map[string]bool
}

// missingProps returns the required properties n leaves empty, in
// graph.Props order.
func missingProps(spec *graph.Spec, n *graph.Node) []graph.Prop {
	var out []graph.Prop
	for _, p := range graph.Props {
		if spec.Prop(p) == graph.Required && n.Props[p] == "" {
			out = append(out, p)
		}
	}
	return out
}

func (d *diagnoser) add(n *graph.Node, diag Diagnostic) {
	d.out[n.ID] = append(d.out[n.ID], diag)
}

func (d *diagnoser) node(n *graph.Node, path string) {
	spec := n.Kind.Spec()

	for _, t := range graph.TextProps {
		if spec.Text(t) != graph.Required {
			continue
		}
		if !d.hasText(n.Texts[t]) {
			d.add(n, Diagnostic{
				Kind: RequiredPropertyMissing, Severity: Error, Location: string(t),
				Message: fmt.Sprintf("%s is required", t),
			})
		}
	}
	for _, p := range missingProps(spec, n) {
		d.add(n, Diagnostic{
			Kind: RequiredPropertyMissing, Severity: Error, Location: string(p),
			Message: fmt.Sprintf("%s is required", p),
		})
	}

	if attempted, ok := d.in.Pending[n.ID]; ok {
		d.add(n, Diagnostic{
			Kind: SiblingCollisionPending, Severity: Error,
			Message: fmt.Sprintf("cannot rename %q to %q: a sibling already uses that id", n.NodeID, attempted),
		})
	}

	if !spec.AddressByValue && d.reserved[strings.ToLower(n.NodeID)] {
		d.add(n, Diagnostic{
			Kind: ReservedNameUsed, Severity: Warning,
			Message: fmt.Sprintf("%q is a reserved name", n.NodeID),
		})
	}

	if n.Kind == graph.KindSelect || n.Kind == graph.KindMultiSelect {
		d.choices(n)
	}

	for _, loc := range d.in.Index.NodeLocations(n.ID) {
		d.location(n, loc, loc.Prop.AllowsSelfReference())
	}
	seen := make(map[itext.Key]bool)
	for _, t := range graph.TextProps {
		key, ok := n.Texts[t]
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		for _, loc := range d.in.Index.TextLocations(key) {
			d.location(n, loc, true)
		}
	}

	for _, c := range d.in.Checkers {
		for _, diag := range c(d.in, n, path) {
			d.add(n, diag)
		}
	}
}

func (d *diagnoser) hasText(key itext.Key) bool {
	if key == "" || d.in.Texts == nil {
		return false
	}
	it, ok := d.in.Texts.Get(key)
	return ok && !it.IsEmpty()
}

func (d *diagnoser) choices(n *graph.Node) {
	kids, err := d.in.Tree.Children(n.ID)
	if err != nil {
		return
	}
	first := make(map[string]bool)
	for _, c := range kids {
		if c.Kind != graph.KindChoice {
			continue
		}
		if first[c.NodeID] {
			d.add(c, Diagnostic{
				Kind: DuplicateChoiceValue, Severity: Error,
				Message: fmt.Sprintf("choice value %q is used more than once", c.NodeID),
			})
			continue
		}
		first[c.NodeID] = true
	}
}

func (d *diagnoser) location(n *graph.Node, loc refindex.Location, selfOK bool) {
	e, ok := d.in.Index.Entry(loc)
	if !ok {
		return
	}
	where := loc.String()
	if !loc.IsText() {
		where = string(loc.Prop)
	}
	if e.Err != nil {
		d.add(n, Diagnostic{
			Kind: StaleExpression, Severity: Warning, Location: where,
			Message: fmt.Sprintf("expression could not be parsed: %v", e.Err),
		})
		return
	}
	if e.SelfRef && !selfOK {
		d.add(n, Diagnostic{
			Kind: ExpressionSelfReference, Severity: Error, Location: where,
			Message: "expression references its own question",
		})
	}
	for _, p := range e.Paths {
		if d.resolves(p) {
			continue
		}
		d.add(n, Diagnostic{
			Kind: BrokenPathReference, Severity: Error, Location: where,
			Message: fmt.Sprintf("%s does not exist", d.in.Index.Aliases().Alias(p)),
		})
	}
	for _, tag := range e.Unknown {
		d.add(n, Diagnostic{
			Kind: BrokenPathReference, Severity: Error, Location: where,
			Message: fmt.Sprintf("unknown namespace %s", tag),
		})
	}
	if d.in.Sources == nil {
		return
	}
	for _, id := range e.Instances {
		if src, ok := d.in.Sources.Get(id); !ok || src.URI == "" {
			d.add(n, Diagnostic{
				Kind: UnknownDataSource, Severity: Warning, Location: where,
				Message: fmt.Sprintf("no source is known for instance('%s')", id),
			})
		}
	}
}

func (d *diagnoser) resolves(p string) bool {
	if _, err := d.in.Tree.GetByPath(p); err == nil {
		return true
	}
	for a := range d.allowed {
		if paths.HasPrefix(p, a) {
			return true
		}
	}
	return false
}
