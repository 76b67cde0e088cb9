package chain

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// Eval evaluates a restricted boolean expression against the chain
// context. The grammar allows context lookups, string/number/bool
// literals, comparisons, boolean operators, parentheses, and the len and
// contains functions, nothing else. Unknown context keys evaluate to
// nil. Arbitrary code execution is impossible by construction.
func Eval(expr string, cc map[string]any) (bool, error) {
	toks, err := lex(expr)
	if err != nil {
		return false, fmt.Errorf("expression %q: %w", expr, err)
	}
	p := &parser{tokens: toks, ctx: cc}
	v, err := p.parseOr()
	if err != nil {
		return false, fmt.Errorf("expression %q: %w", expr, err)
	}
	if !p.atEnd() {
		return false, fmt.Errorf("expression %q: unexpected %q", expr, p.peek().text)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q: result is %T, want bool", expr, v)
	}
	return b, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOp    // == != < <= > >= && || !
	tokPunct // ( ) ,
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

func lex(input string) ([]token, error) {
	var toks []token
	runes := []rune(input)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')' || r == ',':
			toks = append(toks, token{tokPunct, string(r)})
			i++
		case r == '"' || r == '\'':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, fmt.Errorf("unterminated string")
			}
			toks = append(toks, token{tokString, string(runes[i+1 : j])})
			i = j + 1
		case strings.ContainsRune("=!<>&|", r):
			j := i + 1
			if j < len(runes) && strings.ContainsRune("=&|", runes[j]) {
				j++
			}
			op := string(runes[i:j])
			switch op {
			case "==", "!=", "<", "<=", ">", ">=", "&&", "||", "!":
				toks = append(toks, token{tokOp, op})
			default:
				return nil, fmt.Errorf("unknown operator %q", op)
			}
			i = j
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, string(runes[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q", string(r))
		}
	}
	return append(toks, token{tokEOF, ""}), nil
}

type parser struct {
	tokens []token
	pos    int
	ctx    map[string]any
}

func (p *parser) peek() token { return p.tokens[p.pos] }
func (p *parser) next() token { t := p.tokens[p.pos]; p.pos++; return t }
func (p *parser) atEnd() bool { return p.peek().kind == tokEOF }

func (p *parser) accept(kind tokenKind, text string) bool {
	if p.peek().kind == kind && p.peek().text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOp, "||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lb, rb, err := boolPair(left, right, "||")
		if err != nil {
			return nil, err
		}
		left = lb || rb
	}
	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.accept(tokOp, "&&") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lb, rb, err := boolPair(left, right, "&&")
		if err != nil {
			return nil, err
		}
		left = lb && rb
	}
	return left, nil
}

func (p *parser) parseUnary() (any, error) {
	if p.accept(tokOp, "!") {
		v, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("operand of ! is %T, want bool", v)
		}
		return !b, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind != tokOp {
		return left, nil
	}
	switch t.text {
	case "==", "!=", "<", "<=", ">", ">=":
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return compare(left, right, t.text)
	}
	return left, nil
}

func (p *parser) parseTerm() (any, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return f, nil
	case tokString:
		return t.text, nil
	case tokIdent:
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "len":
			args, err := p.parseArgs(1)
			if err != nil {
				return nil, err
			}
			return lengthOf(args[0])
		case "contains":
			args, err := p.parseArgs(2)
			if err != nil {
				return nil, err
			}
			return containsValue(args[0], args[1])
		default:
			// Context lookup; absent keys are nil.
			return p.ctx[t.text], nil
		}
	case tokPunct:
		if t.text == "(" {
			v, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.accept(tokPunct, ")") {
				return nil, fmt.Errorf("missing closing parenthesis")
			}
			return v, nil
		}
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}

// parseArgs consumes "(a, b, ...)" with an exact arity.
func (p *parser) parseArgs(n int) ([]any, error) {
	if !p.accept(tokPunct, "(") {
		return nil, fmt.Errorf("expected ( after function name")
	}
	var args []any
	for {
		v, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, v)
		if p.accept(tokPunct, ",") {
			continue
		}
		if p.accept(tokPunct, ")") {
			break
		}
		return nil, fmt.Errorf("expected , or ) in argument list")
	}
	if len(args) != n {
		return nil, fmt.Errorf("wrong argument count: got %d, want %d", len(args), n)
	}
	return args, nil
}

func boolPair(l, r any, op string) (bool, bool, error) {
	lb, lok := l.(bool)
	rb, rok := r.(bool)
	if !lok || !rok {
		return false, false, fmt.Errorf("operands of %s must be bool, got %T and %T", op, l, r)
	}
	return lb, rb, nil
}

// compare applies a comparison operator. Equality across mismatched
// types is false (inequality true); ordering requires two numbers or
// two strings.
func compare(l, r any, op string) (bool, error) {
	if op == "==" || op == "!=" {
		eq := looseEqual(l, r)
		if op == "==" {
			return eq, nil
		}
		return !eq, nil
	}

	lf, lok := asNumber(l)
	rf, rok := asNumber(r)
	if lok && rok {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	ls, lok2 := l.(string)
	rs, rok2 := r.(string)
	if lok2 && rok2 {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return false, fmt.Errorf("cannot order %T and %T", l, r)
}

// looseEqual never panics: slices and maps (search results land in the
// context as []any of map[string]any) are compared deeply instead of
// through the interface comparison, which would crash on uncomparable
// dynamic types.
func looseEqual(l, r any) bool {
	if lf, ok := asNumber(l); ok {
		if rf, ok := asNumber(r); ok {
			return lf == rf
		}
		return false
	}
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if !reflect.TypeOf(l).Comparable() || !reflect.TypeOf(r).Comparable() {
		return reflect.DeepEqual(l, r)
	}
	return l == r
}

// asNumber coerces the numeric types a chain context can hold.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return 0, false
}

func lengthOf(v any) (any, error) {
	if v == nil {
		return float64(0), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return float64(rv.Len()), nil
	}
	return nil, fmt.Errorf("len of %T is not defined", v)
}

func containsValue(haystack, needle any) (any, error) {
	if hs, ok := haystack.(string); ok {
		ns, ok := needle.(string)
		if !ok {
			return nil, fmt.Errorf("contains on a string needs a string, got %T", needle)
		}
		return strings.Contains(hs, ns), nil
	}
	rv := reflect.ValueOf(haystack)
	if haystack != nil && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
		for i := 0; i < rv.Len(); i++ {
			if looseEqual(rv.Index(i).Interface(), needle) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, fmt.Errorf("contains of %T is not defined", haystack)
}
