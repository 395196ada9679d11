package xpath

// Span is a half-open byte range [Start, End) in the parsed source.
type Span struct {
	Start int
	End   int
}

// Expr is any node of a parsed expression.
type Expr interface {
	Span() Span
}

// PathKind distinguishes how a location path is rooted.
type PathKind int

const (
	PathRelative PathKind = iota // a/b, ./a, ../a
	PathAbsolute                 // /a/b, //a
	PathHashtag                  // #form/a/b
	PathFiltered                 // instance('x')/a/b
)

// Step is a single location step.
type Step struct {
	Sep        string // "/" or "//" before the step; empty for the first step of a relative path
	Axis       string // explicit axis name, "@" for the attribute abbreviation, empty for child
	Name       string // name test, node type test such as "text()", "." or ".."
	NameSpan   Span
	Predicates []Expr
	Pos        Span
}

// IsChildName reports whether the step selects children by an explicit name
// through a single slash, the only shape that addresses a tree node.
func (s *Step) IsChildName() bool {
	if s.Axis != "" && s.Axis != "child" {
		return false
	}
	if s.Sep == "//" || s.Name == "" || s.Name == "." || s.Name == ".." || s.Name == "*" {
		return false
	}
	return s.Name[len(s.Name)-1] != ')' && s.Name[len(s.Name)-1] != '*'
}

// PathExpr is a location path, optionally rooted at a hashtag or a filter
// expression.
type PathExpr struct {
	Kind    PathKind
	Hashtag string // "#form" for PathHashtag
	HashPos Span
	Filter  Expr // primary expression for PathFiltered
	Steps   []*Step
	Pos     Span
}

func (p *PathExpr) Span() Span { return p.Pos }

// NameSteps returns the leading run of steps that are plain child names.
// For a relative path the run is empty: relative references are not tree
// addresses on their own.
func (p *PathExpr) NameSteps() []*Step {
	if p.Kind != PathAbsolute && p.Kind != PathHashtag {
		return nil
	}
	n := 0
	for _, s := range p.Steps {
		if !s.IsChildName() {
			break
		}
		n++
	}
	return p.Steps[:n]
}

// IsContext reports whether the path is the bare context node ".".
func (p *PathExpr) IsContext() bool {
	return p.Kind == PathRelative && len(p.Steps) == 1 && p.Steps[0].Name == "." && len(p.Steps[0].Predicates) == 0
}

// BinaryExpr is an infix operation; Op is the operator as written.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
	Pos   Span
}

func (b *BinaryExpr) Span() Span { return b.Pos }

// UnaryExpr is numeric negation.
type UnaryExpr struct {
	Operand Expr
	Pos     Span
}

func (u *UnaryExpr) Span() Span { return u.Pos }

// ParenExpr is a parenthesized expression.
type ParenExpr struct {
	Inner Expr
	Pos   Span
}

func (p *ParenExpr) Span() Span { return p.Pos }

// FilterExpr is a primary expression followed by predicates.
type FilterExpr struct {
	Primary    Expr
	Predicates []Expr
	Pos        Span
}

func (f *FilterExpr) Span() Span { return f.Pos }

// Literal is a quoted string. Quote is the delimiter used in the source.
type Literal struct {
	Value string
	Quote byte
	Pos   Span
}

func (l *Literal) Span() Span { return l.Pos }

// Number is a numeric literal kept as written.
type Number struct {
	Text string
	Pos  Span
}

func (n *Number) Span() Span { return n.Pos }

// VarRef is a $variable reference.
type VarRef struct {
	Name string
	Pos  Span
}

func (v *VarRef) Span() Span { return v.Pos }

// FuncCall is a function invocation.
type FuncCall struct {
	Name string
	Args []Expr
	Pos  Span
}

func (f *FuncCall) Span() Span { return f.Pos }

// InstanceID returns the literal id of an instance('id') call.
func (f *FuncCall) InstanceID() (*Literal, bool) {
	if f.Name != "instance" || len(f.Args) != 1 {
		return nil, false
	}
	lit, ok := f.Args[0].(*Literal)
	return lit, ok
}

// Walk visits e and every sub-expression in source order. Returning false
// from fn skips the children of the visited node.
func Walk(e Expr, fn func(Expr) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch n := e.(type) {
	case *BinaryExpr:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *UnaryExpr:
		Walk(n.Operand, fn)
	case *ParenExpr:
		Walk(n.Inner, fn)
	case *FilterExpr:
		Walk(n.Primary, fn)
		for _, p := range n.Predicates {
			Walk(p, fn)
		}
	case *FuncCall:
		for _, a := range n.Args {
			Walk(a, fn)
		}
	case *PathExpr:
		if n.Filter != nil {
			Walk(n.Filter, fn)
		}
		for _, s := range n.Steps {
			for _, p := range s.Predicates {
				Walk(p, fn)
			}
		}
	}
}
