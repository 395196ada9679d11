package xpath

import "fmt"

type parser struct {
	src  string
	toks []token
	i    int
}

// Parse parses src into an expression tree.
func Parse(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 1 {
		return nil, &SyntaxError{Expr: src, Msg: "expression is empty"}
	}
	p := &parser{src: src, toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tkEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	return e, nil
}

// MustParse is Parse for expressions known to be valid, such as alias
// canonicals. It panics on error.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) advance() token {
	t := p.toks[p.i]
	if t.kind != tkEOF {
		p.i++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Expr: p.src, Offset: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.peek()
	if t.kind != kind {
		if t.kind == tkEOF {
			return t, p.errorf(t, "expected %s, found end of expression", what)
		}
		return t, p.errorf(t, "expected %s, found %q", what, t.text)
	}
	return p.advance(), nil
}

func (p *parser) binary(next func() (Expr, error), kinds ...tokenKind) (Expr, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		matched := false
		for _, k := range kinds {
			if t.kind == k {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{
			Op:    t.text,
			Left:  left,
			Right: right,
			Pos:   Span{left.Span().Start, right.Span().End},
		}
	}
}

func (p *parser) parseOr() (Expr, error)  { return p.binary(p.parseAnd, tkOr) }
func (p *parser) parseAnd() (Expr, error) { return p.binary(p.parseEquality, tkAnd) }
func (p *parser) parseEquality() (Expr, error) {
	return p.binary(p.parseRelational, tkEq, tkNeq)
}

func (p *parser) parseRelational() (Expr, error) {
	return p.binary(p.parseAdditive, tkLt, tkLte, tkGt, tkGte)
}

func (p *parser) parseAdditive() (Expr, error) {
	return p.binary(p.parseMultiplicative, tkPlus, tkMinus)
}

func (p *parser) parseMultiplicative() (Expr, error) {
	return p.binary(p.parseUnary, tkMul, tkDiv, tkMod)
}

func (p *parser) parseUnary() (Expr, error) {
	t := p.peek()
	if t.kind != tkMinus {
		return p.binary(p.parsePath, tkPipe)
	}
	p.advance()
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{Operand: operand, Pos: Span{t.pos, operand.Span().End}}, nil
}

func startsStep(k tokenKind) bool {
	switch k {
	case tkName, tkDot, tkDDot, tkAt, tkAxis, tkNodeType:
		return true
	}
	return false
}

func (p *parser) parsePath() (Expr, error) {
	t := p.peek()
	switch {
	case t.kind == tkSlash || t.kind == tkDSlash:
		p.advance()
		path := &PathExpr{Kind: PathAbsolute, Pos: Span{t.pos, t.end}}
		if t.kind == tkSlash && !startsStep(p.peek().kind) {
			return path, nil
		}
		return path, p.parseSteps(path, t.text)
	case t.kind == tkHashtag:
		p.advance()
		path := &PathExpr{Kind: PathHashtag, Hashtag: t.text, HashPos: Span{t.pos, t.end}, Pos: Span{t.pos, t.end}}
		if next := p.peek(); next.kind == tkSlash || next.kind == tkDSlash {
			p.advance()
			return path, p.parseSteps(path, next.text)
		}
		return path, nil
	case startsStep(t.kind):
		path := &PathExpr{Kind: PathRelative, Pos: Span{t.pos, t.pos}}
		return path, p.parseSteps(path, "")
	}

	primary, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	next := p.peek()
	if next.kind != tkSlash && next.kind != tkDSlash {
		return primary, nil
	}
	p.advance()
	path := &PathExpr{Kind: PathFiltered, Filter: primary, Pos: primary.Span()}
	return path, p.parseSteps(path, next.text)
}

// parseSteps reads a relative location path into path; sep is the separator
// already consumed before the first step.
func (p *parser) parseSteps(path *PathExpr, sep string) error {
	for {
		step, err := p.parseStep(sep)
		if err != nil {
			return err
		}
		path.Steps = append(path.Steps, step)
		path.Pos.End = step.Pos.End
		t := p.peek()
		if t.kind != tkSlash && t.kind != tkDSlash {
			return nil
		}
		p.advance()
		sep = t.text
	}
}

func (p *parser) parseStep(sep string) (*Step, error) {
	t := p.peek()
	step := &Step{Sep: sep, Pos: Span{t.pos, t.end}}
	switch t.kind {
	case tkDot, tkDDot:
		p.advance()
		step.Name = t.text
		step.NameSpan = Span{t.pos, t.end}
		return step, nil
	case tkAt:
		p.advance()
		step.Axis = "@"
	case tkAxis:
		p.advance()
		step.Axis = t.text
	}

	test := p.peek()
	switch test.kind {
	case tkName:
		p.advance()
		step.Name = test.text
		step.NameSpan = Span{test.pos, test.end}
	case tkNodeType:
		p.advance()
		if _, err := p.expect(tkLParen, "'('"); err != nil {
			return nil, err
		}
		if test.text == "processing-instruction" && p.peek().kind == tkString {
			p.advance()
		}
		closing, err := p.expect(tkRParen, "')'")
		if err != nil {
			return nil, err
		}
		step.Name = p.src[test.pos:closing.end]
		step.NameSpan = Span{test.pos, closing.end}
	default:
		if test.kind == tkEOF {
			return nil, p.errorf(test, "expected node test, found end of expression")
		}
		return nil, p.errorf(test, "expected node test, found %q", test.text)
	}
	step.Pos.End = step.NameSpan.End

	preds, end, err := p.parsePredicates()
	if err != nil {
		return nil, err
	}
	step.Predicates = preds
	if end > 0 {
		step.Pos.End = end
	}
	return step, nil
}

func (p *parser) parsePredicates() ([]Expr, int, error) {
	var preds []Expr
	end := 0
	for p.peek().kind == tkLBracket {
		p.advance()
		e, err := p.parseOr()
		if err != nil {
			return nil, 0, err
		}
		closing, err := p.expect(tkRBracket, "']'")
		if err != nil {
			return nil, 0, err
		}
		preds = append(preds, e)
		end = closing.end
	}
	return preds, end, nil
}

func (p *parser) parseFilter() (Expr, error) {
	primary, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	preds, end, err := p.parsePredicates()
	if err != nil {
		return nil, err
	}
	if len(preds) == 0 {
		return primary, nil
	}
	return &FilterExpr{Primary: primary, Predicates: preds, Pos: Span{primary.Span().Start, end}}, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.advance()
	switch t.kind {
	case tkVar:
		return &VarRef{Name: t.text[1:], Pos: Span{t.pos, t.end}}, nil
	case tkString:
		return &Literal{Value: t.text[1 : len(t.text)-1], Quote: t.text[0], Pos: Span{t.pos, t.end}}, nil
	case tkNumber:
		return &Number{Text: t.text, Pos: Span{t.pos, t.end}}, nil
	case tkLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, err := p.expect(tkRParen, "')'")
		if err != nil {
			return nil, err
		}
		return &ParenExpr{Inner: inner, Pos: Span{t.pos, closing.end}}, nil
	case tkFunc:
		call := &FuncCall{Name: t.text, Pos: Span{t.pos, t.end}}
		if _, err := p.expect(tkLParen, "'('"); err != nil {
			return nil, err
		}
		if p.peek().kind != tkRParen {
			for {
				arg, err := p.parseOr()
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if p.peek().kind != tkComma {
					break
				}
				p.advance()
			}
		}
		closing, err := p.expect(tkRParen, "')'")
		if err != nil {
			return nil, err
		}
		call.Pos.End = closing.end
		return call, nil
	case tkEOF:
		return nil, p.errorf(t, "unexpected end of expression")
	}
	return nil, p.errorf(t, "unexpected %q", t.text)
}
