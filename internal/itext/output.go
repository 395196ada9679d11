package itext

import "regexp"

// outputRef matches <output value="..."/> and <output ref='...'/> markup.
var outputRef = regexp.MustCompile(`<output\s+(value|ref)\s*=\s*(?:"([^"]*)"|'([^']*)')\s*/?>`)

// Output is one expression embedded in a text body.
type Output struct {
	Attr  string // "value" or "ref"
	Expr  string
	Start int // byte offset of Expr within the body
	End   int
}

// Outputs returns the embedded expressions of body in order.
func Outputs(body string) []Output {
	var out []Output
	for _, m := range outputRef.FindAllStringSubmatchIndex(body, -1) {
		o := Output{Attr: body[m[2]:m[3]]}
		switch {
		case m[4] >= 0:
			o.Start, o.End = m[4], m[5]
		default:
			o.Start, o.End = m[6], m[7]
		}
		o.Expr = body[o.Start:o.End]
		out = append(out, o)
	}
	return out
}
