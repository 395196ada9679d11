package xpath

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidXPath reports that an expression is not valid XPath.
var ErrInvalidXPath = errors.New("invalid xpath")

// SyntaxError locates a parse failure inside an expression.
type SyntaxError struct {
	Expr   string
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid xpath at offset %d: %s (in %q)", e.Offset, e.Msg, e.Expr)
}

func (e *SyntaxError) Unwrap() error { return ErrInvalidXPath }

type tokenKind int

const (
	tkEOF tokenKind = iota
	tkName
	tkNodeType
	tkFunc
	tkAxis
	tkHashtag
	tkVar
	tkString
	tkNumber
	tkDot
	tkDDot
	tkAt
	tkComma
	tkLParen
	tkRParen
	tkLBracket
	tkRBracket
	tkSlash
	tkDSlash
	tkPipe
	tkPlus
	tkMinus
	tkMul
	tkDiv
	tkMod
	tkAnd
	tkOr
	tkEq
	tkNeq
	tkLt
	tkLte
	tkGt
	tkGte
)

// isOperator follows the XPath 1.0 lexical rule: after an operator (or one
// of @ :: ( [ ,) the next token starts an operand.
func (k tokenKind) isOperator() bool {
	switch k {
	case tkSlash, tkDSlash, tkPipe, tkPlus, tkMinus, tkMul, tkDiv, tkMod,
		tkAnd, tkOr, tkEq, tkNeq, tkLt, tkLte, tkGt, tkGte:
		return true
	}
	return false
}

func (k tokenKind) opensOperand() bool {
	switch k {
	case tkAt, tkAxis, tkLParen, tkLBracket, tkComma:
		return true
	}
	return k.isOperator()
}

type token struct {
	kind tokenKind
	text string
	pos  int
	end  int
}

var nodeTypes = map[string]bool{
	"node":                   true,
	"text":                   true,
	"comment":                true,
	"processing-instruction": true,
}

var operatorNames = map[string]tokenKind{
	"and": tkAnd,
	"or":  tkOr,
	"div": tkDiv,
	"mod": tkMod,
}

var punct = map[string]tokenKind{
	"//": tkDSlash,
	"..": tkDDot,
	"!=": tkNeq,
	"<=": tkLte,
	">=": tkGte,
	"/":  tkSlash,
	"@":  tkAt,
	",":  tkComma,
	"(":  tkLParen,
	")":  tkRParen,
	"[":  tkLBracket,
	"]":  tkRBracket,
	"|":  tkPipe,
	"+":  tkPlus,
	"-":  tkMinus,
	"=":  tkEq,
	"<":  tkLt,
	">":  tkGt,
}

type lexer struct {
	src  string
	pos  int
	toks []token
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for {
		l.skipSpace()
		if l.pos >= len(l.src) {
			l.emit(tkEOF, l.pos, l.pos)
			return l.toks, nil
		}
		if err := l.next(); err != nil {
			return nil, err
		}
	}
}

func (l *lexer) errorf(offset int, format string, args ...any) error {
	return &SyntaxError{Expr: l.src, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

func (l *lexer) emit(kind tokenKind, start, end int) {
	l.toks = append(l.toks, token{kind: kind, text: l.src[start:end], pos: start, end: end})
}

// operatorContext reports whether '*' and the operator names must be read
// as operators at the current position.
func (l *lexer) operatorContext() bool {
	if len(l.toks) == 0 {
		return false
	}
	return !l.toks[len(l.toks)-1].kind.opensOperand()
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) next() error {
	start := l.pos
	c := l.src[start]
	switch {
	case c == '"' || c == '\'':
		end := indexByteFrom(l.src, c, start+1)
		if end < 0 {
			return l.errorf(start, "unterminated string literal")
		}
		l.pos = end + 1
		l.emit(tkString, start, l.pos)
		return nil
	case isDigit(c) || (c == '.' && start+1 < len(l.src) && isDigit(l.src[start+1])):
		l.pos = scanNumber(l.src, start)
		l.emit(tkNumber, start, l.pos)
		return nil
	case c == '.':
		if start+1 < len(l.src) && l.src[start+1] == '.' {
			l.pos += 2
			l.emit(tkDDot, start, l.pos)
			return nil
		}
		l.pos++
		l.emit(tkDot, start, l.pos)
		return nil
	case c == '*':
		l.pos++
		if l.operatorContext() {
			l.emit(tkMul, start, l.pos)
		} else {
			l.emit(tkName, start, l.pos)
		}
		return nil
	case c == '$':
		end := scanQName(l.src, start+1)
		if end == start+1 {
			return l.errorf(start, "expected variable name after $")
		}
		l.pos = end
		l.emit(tkVar, start, l.pos)
		return nil
	case c == '#':
		end := scanNCName(l.src, start+1)
		if end == start+1 {
			return l.errorf(start, "expected name after #")
		}
		l.pos = end
		l.emit(tkHashtag, start, l.pos)
		return nil
	case isNameStart(l.src, start):
		return l.name(start)
	}
	for _, width := range []int{2, 1} {
		if start+width > len(l.src) {
			continue
		}
		if kind, ok := punct[l.src[start:start+width]]; ok {
			l.pos += width
			l.emit(kind, start, l.pos)
			return nil
		}
	}
	return l.errorf(start, "unexpected character %q", c)
}

func (l *lexer) name(start int) error {
	end := scanQName(l.src, start)
	text := l.src[start:end]
	if l.operatorContext() {
		if kind, ok := operatorNames[text]; ok {
			l.pos = end
			l.emit(kind, start, end)
			return nil
		}
	}
	look := end
	for look < len(l.src) && (l.src[look] == ' ' || l.src[look] == '\t' || l.src[look] == '\n' || l.src[look] == '\r') {
		look++
	}
	switch {
	case look+1 < len(l.src) && l.src[look] == ':' && l.src[look+1] == ':':
		l.pos = look + 2
		l.toks = append(l.toks, token{kind: tkAxis, text: text, pos: start, end: l.pos})
	case look < len(l.src) && l.src[look] == '(':
		l.pos = end
		if nodeTypes[text] {
			l.emit(tkNodeType, start, end)
		} else {
			l.emit(tkFunc, start, end)
		}
	default:
		l.pos = end
		l.emit(tkName, start, end)
	}
	return nil
}

func indexByteFrom(s string, c byte, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func scanNumber(s string, i int) int {
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	}
	return i
}

func isNameStart(s string, i int) bool {
	r, _ := utf8.DecodeRuneInString(s[i:])
	return r == '_' || unicode.IsLetter(r)
}

func isNameChar(r rune) bool {
	return r == '_' || r == '-' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r) ||
		unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r)
}

// scanNCName returns the end offset of the NCName starting at i, or i when
// there is none.
func scanNCName(s string, i int) int {
	if i >= len(s) || !isNameStart(s, i) {
		return i
	}
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if !isNameChar(r) {
			break
		}
		i += w
	}
	return i
}

// scanQName accepts prefix:local and prefix:* in addition to an NCName.
func scanQName(s string, i int) int {
	end := scanNCName(s, i)
	if end == i || end+1 >= len(s) || s[end] != ':' || s[end+1] == ':' {
		return end
	}
	if s[end+1] == '*' {
		return end + 2
	}
	if local := scanNCName(s, end+1); local > end+1 {
		return local
	}
	return end
}
