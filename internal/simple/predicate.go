package simple

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/Alwanly/conduit/internal/core"
)

// Predicate is a compiled condition such as
// "${header.priority} > 5 && ${body} contains 'urgent'".
type Predicate struct {
	source string
	root   node
}

type node interface {
	eval(ex *core.Exchange) (bool, error)
}

type orNode []node

func (n orNode) eval(ex *core.Exchange) (bool, error) {
	for _, c := range n {
		ok, err := c.eval(ex)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

type andNode []node

func (n andNode) eval(ex *core.Exchange) (bool, error) {
	for _, c := range n {
		ok, err := c.eval(ex)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

type operand struct {
	literal any
	value   valueFunc
}

func (o operand) resolve(ex *core.Exchange) (any, error) {
	if o.value != nil {
		return o.value(ex)
	}
	return o.literal, nil
}

type compareNode struct {
	left, right operand
	op          string
	negate      bool
	pattern     *regexp.Regexp
}

// CompilePredicate parses a predicate. Operators are ==, !=, >, >=, <, <=,
// contains, regex and in (each of the last three may be prefixed by not),
// combined with && and ||. A lone operand is true when it is the boolean
// true or the string "true".
func CompilePredicate(expr string) (*Predicate, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, source: expr}
	root, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected %q in %q", ErrSyntax, p.toks[p.pos].text, expr)
	}
	return &Predicate{source: expr, root: root}, nil
}

func (p *Predicate) String() string {
	return p.source
}

// Matches evaluates the predicate against ex.
func (p *Predicate) Matches(ex *core.Exchange) (bool, error) {
	return p.root.eval(ex)
}

type tokenKind int

const (
	tokFunc tokenKind = iota
	tokString
	tokWord
	tokOp
)

type lexToken struct {
	kind tokenKind
	text string
}

func lex(s string) ([]lexToken, error) {
	var toks []lexToken
	for i := 0; i < len(s); {
		ch := s[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n':
			i++
		case strings.HasPrefix(s[i:], "${"):
			end := closing(s, i+2)
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated ${ in %q", ErrSyntax, s)
			}
			toks = append(toks, lexToken{tokFunc, strings.TrimSpace(s[i+2 : end])})
			i = end + 1
		case ch == '\'' || ch == '"':
			end := strings.IndexByte(s[i+1:], ch)
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated quote in %q", ErrSyntax, s)
			}
			toks = append(toks, lexToken{tokString, s[i+1 : i+1+end]})
			i += end + 2
		case strings.HasPrefix(s[i:], "&&"), strings.HasPrefix(s[i:], "||"),
			strings.HasPrefix(s[i:], "=="), strings.HasPrefix(s[i:], "!="),
			strings.HasPrefix(s[i:], ">="), strings.HasPrefix(s[i:], "<="):
			toks = append(toks, lexToken{tokOp, s[i : i+2]})
			i += 2
		case ch == '>' || ch == '<':
			toks = append(toks, lexToken{tokOp, s[i : i+1]})
			i++
		default:
			j := i
			for j < len(s) && !unicode.IsSpace(rune(s[j])) && !strings.ContainsRune("'\"<>=!&|", rune(s[j])) {
				j++
			}
			if j == i {
				return nil, fmt.Errorf("%w: unexpected %q in %q", ErrSyntax, s[i:i+1], s)
			}
			toks = append(toks, lexToken{tokWord, s[i:j]})
			i = j
		}
	}
	return toks, nil
}

type parser struct {
	toks   []lexToken
	pos    int
	source string
}

func (p *parser) peek() (lexToken, bool) {
	if p.pos >= len(p.toks) {
		return lexToken{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) accept(kind tokenKind, text string) bool {
	t, ok := p.peek()
	if ok && t.kind == kind && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *parser) or() (node, error) {
	n, err := p.and()
	if err != nil {
		return nil, err
	}
	nodes := orNode{n}
	for p.accept(tokOp, "||") || p.accept(tokWord, "or") {
		n, err := p.and()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return nodes, nil
}

func (p *parser) and() (node, error) {
	n, err := p.compare()
	if err != nil {
		return nil, err
	}
	nodes := andNode{n}
	for p.accept(tokOp, "&&") || p.accept(tokWord, "and") {
		n, err := p.compare()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return nodes, nil
}

func (p *parser) compare() (node, error) {
	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	n := &compareNode{left: left}

	t, ok := p.peek()
	switch {
	case !ok:
		return n, nil
	case t.kind == tokOp && t.text != "&&" && t.text != "||":
		n.op = t.text
		p.pos++
	case t.kind == tokWord && t.text == "not":
		p.pos++
		next, ok := p.peek()
		if !ok || next.kind != tokWord || !isWordOp(next.text) {
			return nil, fmt.Errorf("%w: expected contains, regex or in after not in %q", ErrSyntax, p.source)
		}
		n.op, n.negate = next.text, true
		p.pos++
	case t.kind == tokWord && isWordOp(t.text):
		n.op = t.text
		p.pos++
	default:
		return n, nil
	}

	if n.right, err = p.operand(); err != nil {
		return nil, err
	}
	if n.op == "regex" && n.right.value == nil {
		re, err := regexp.Compile(core.ToString(n.right.literal))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid regex: %v", ErrSyntax, err)
		}
		n.pattern = re
	}
	return n, nil
}

func isWordOp(s string) bool {
	return s == "contains" || s == "regex" || s == "in"
}

func (p *parser) operand() (operand, error) {
	t, ok := p.peek()
	if !ok {
		return operand{}, fmt.Errorf("%w: missing operand in %q", ErrSyntax, p.source)
	}
	p.pos++
	switch t.kind {
	case tokFunc:
		fn, err := token(t.text)
		if err != nil {
			return operand{}, err
		}
		return operand{value: fn}, nil
	case tokString:
		return operand{literal: t.text}, nil
	case tokWord:
		switch t.text {
		case "null":
			return operand{literal: nil}, nil
		case "true":
			return operand{literal: true}, nil
		case "false":
			return operand{literal: false}, nil
		}
		if n, err := strconv.ParseFloat(t.text, 64); err == nil {
			return operand{literal: n}, nil
		}
		return operand{literal: t.text}, nil
	}
	return operand{}, fmt.Errorf("%w: unexpected %q in %q", ErrSyntax, t.text, p.source)
}

func (n *compareNode) eval(ex *core.Exchange) (bool, error) {
	left, err := n.left.resolve(ex)
	if err != nil {
		return false, err
	}
	if n.op == "" {
		switch v := left.(type) {
		case bool:
			return v, nil
		case nil:
			return false, nil
		}
		return strings.EqualFold(core.ToString(left), "true"), nil
	}
	right, err := n.right.resolve(ex)
	if err != nil {
		return false, err
	}

	var result bool
	switch n.op {
	case "==":
		result = equal(left, right)
	case "!=":
		result = !equal(left, right)
	case ">", ">=", "<", "<=":
		c, ok := compare(left, right)
		if !ok {
			return false, nil
		}
		switch n.op {
		case ">":
			result = c > 0
		case ">=":
			result = c >= 0
		case "<":
			result = c < 0
		case "<=":
			result = c <= 0
		}
	case "contains":
		result = contains(left, right)
	case "regex":
		re := n.pattern
		if re == nil {
			if re, err = regexp.Compile(core.ToString(right)); err != nil {
				return false, fmt.Errorf("invalid regex: %w", err)
			}
		}
		result = left != nil && re.MatchString(core.ToString(left))
	case "in":
		l := core.ToString(left)
		for _, item := range strings.Split(core.ToString(right), ",") {
			if strings.TrimSpace(item) == l {
				result = true
				break
			}
		}
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrSyntax, n.op)
	}
	if n.negate {
		result = !result
	}
	return result, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case nil, bool:
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(core.ToString(v)), 64)
	return f, err == nil
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return x == y
		}
	}
	return core.ToString(a) == core.ToString(b)
}

// compare orders numerically when both sides are numbers, else as strings.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
	}
	return strings.Compare(core.ToString(a), core.ToString(b)), true
}

func contains(container, item any) bool {
	if container == nil {
		return false
	}
	rv := reflect.ValueOf(container)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		for i := 0; i < rv.Len(); i++ {
			if equal(rv.Index(i).Interface(), item) {
				return true
			}
		}
		return false
	}
	if rv.Kind() == reflect.Map {
		return rv.MapIndex(reflect.ValueOf(core.ToString(item))).IsValid()
	}
	return strings.Contains(core.ToString(container), core.ToString(item))
}
