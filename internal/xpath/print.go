package xpath

import (
	"fmt"
	"sort"
	"strings"
)

// Print renders e in canonical form: single spaces around binary operators,
// ", " between arguments, literals with their original quote.
func Print(e Expr) string {
	var b strings.Builder
	printExpr(&b, e)
	return b.String()
}

func printExpr(b *strings.Builder, e Expr) {
	switch n := e.(type) {
	case *BinaryExpr:
		printExpr(b, n.Left)
		b.WriteString(" " + n.Op + " ")
		printExpr(b, n.Right)
	case *UnaryExpr:
		b.WriteByte('-')
		printExpr(b, n.Operand)
	case *ParenExpr:
		b.WriteByte('(')
		printExpr(b, n.Inner)
		b.WriteByte(')')
	case *FilterExpr:
		printExpr(b, n.Primary)
		printPredicates(b, n.Predicates)
	case *Literal:
		b.WriteByte(n.Quote)
		b.WriteString(n.Value)
		b.WriteByte(n.Quote)
	case *Number:
		b.WriteString(n.Text)
	case *VarRef:
		b.WriteString("$" + n.Name)
	case *FuncCall:
		b.WriteString(n.Name + "(")
		for i, a := range n.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			printExpr(b, a)
		}
		b.WriteByte(')')
	case *PathExpr:
		switch n.Kind {
		case PathHashtag:
			b.WriteString(n.Hashtag)
		case PathFiltered:
			printExpr(b, n.Filter)
		case PathAbsolute:
			if len(n.Steps) == 0 {
				b.WriteByte('/')
			}
		}
		for _, s := range n.Steps {
			b.WriteString(s.Sep)
			switch s.Axis {
			case "":
			case "@":
				b.WriteByte('@')
			default:
				b.WriteString(s.Axis + "::")
			}
			b.WriteString(s.Name)
			printPredicates(b, s.Predicates)
		}
	}
}

func printPredicates(b *strings.Builder, preds []Expr) {
	for _, p := range preds {
		b.WriteByte('[')
		printExpr(b, p)
		b.WriteByte(']')
	}
}

// Edit replaces the bytes of Span with Text.
type Edit struct {
	Span Span
	Text string
}

// Shift returns the edit moved by offset bytes.
func (e Edit) Shift(offset int) Edit {
	e.Span.Start += offset
	e.Span.End += offset
	return e
}

// Splice applies edits to src. Edits nested inside a wider edit are
// dropped; partially overlapping edits are an error.
func Splice(src string, edits []Edit) (string, error) {
	if len(edits) == 0 {
		return src, nil
	}
	sorted := append([]Edit(nil), edits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Span.Start != sorted[j].Span.Start {
			return sorted[i].Span.Start < sorted[j].Span.Start
		}
		return sorted[i].Span.End > sorted[j].Span.End
	})

	var b strings.Builder
	last := 0
	for _, e := range sorted {
		if e.Span.Start < 0 || e.Span.End > len(src) || e.Span.Start > e.Span.End {
			return "", fmt.Errorf("edit [%d:%d] outside expression of length %d", e.Span.Start, e.Span.End, len(src))
		}
		if e.Span.Start < last {
			if e.Span.End <= last {
				continue
			}
			return "", fmt.Errorf("edit [%d:%d] overlaps previous edit ending at %d", e.Span.Start, e.Span.End, last)
		}
		b.WriteString(src[last:e.Span.Start])
		b.WriteString(e.Text)
		last = e.Span.End
	}
	b.WriteString(src[last:])
	return b.String(), nil
}

// Quote renders s as a literal, preferring the given quote character.
func Quote(s string, quote byte) string {
	if quote != '\'' && quote != '"' {
		quote = '\''
	}
	if strings.IndexByte(s, quote) >= 0 {
		if quote == '\'' {
			quote = '"'
		} else {
			quote = '\''
		}
	}
	return string(quote) + s + string(quote)
}
