// Package simple implements the small expression language used in route
// definitions: ${...} interpolation and boolean predicates over an exchange.
package simple

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Alwanly/conduit/internal/core"
)

var ErrSyntax = errors.New("simple syntax error")

// valueFunc resolves one ${...} token against an exchange.
type valueFunc func(ex *core.Exchange) (any, error)

type segment struct {
	text  string
	value valueFunc
}

// Expression is a compiled template such as "order-${header.id}.json".
type Expression struct {
	source   string
	segments []segment
}

// Compile parses expr. Unknown tokens and unterminated ${ are errors.
func Compile(expr string) (*Expression, error) {
	e := &Expression{source: expr}
	rest := expr
	for rest != "" {
		start := strings.Index(rest, "${")
		if start < 0 {
			e.segments = append(e.segments, segment{text: rest})
			break
		}
		if start > 0 {
			e.segments = append(e.segments, segment{text: rest[:start]})
		}
		end := closing(rest, start+2)
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated ${ in %q", ErrSyntax, expr)
		}
		fn, err := token(strings.TrimSpace(rest[start+2 : end]))
		if err != nil {
			return nil, err
		}
		e.segments = append(e.segments, segment{value: fn})
		rest = rest[end+1:]
	}
	return e, nil
}

// MustCompile is Compile that panics on error.
func MustCompile(expr string) *Expression {
	e, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return e
}

// closing returns the index of the } matching the ${ that ends at from.
func closing(s string, from int) int {
	depth := 1
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (e *Expression) String() string {
	return e.source
}

// Evaluate renders the expression as a string.
func (e *Expression) Evaluate(ex *core.Exchange) (string, error) {
	var b strings.Builder
	for _, s := range e.segments {
		if s.value == nil {
			b.WriteString(s.text)
			continue
		}
		v, err := s.value(ex)
		if err != nil {
			return "", err
		}
		b.WriteString(core.ToString(v))
	}
	return b.String(), nil
}

// Value returns the raw value when the expression is a single token, so
// ${body} keeps the body type. Anything else evaluates to a string.
func (e *Expression) Value(ex *core.Exchange) (any, error) {
	if len(e.segments) == 1 && e.segments[0].value != nil {
		return e.segments[0].value(ex)
	}
	return e.Evaluate(ex)
}

func token(name string) (valueFunc, error) {
	switch name {
	case "body", "in.body":
		return func(ex *core.Exchange) (any, error) { return ex.Message.Body, nil }, nil
	case "bodyAs(string)", "bodyAs(String)":
		return func(ex *core.Exchange) (any, error) { return ex.Message.BodyString() }, nil
	case "bodyAs(bytes)", "bodyAs(byte[])":
		return func(ex *core.Exchange) (any, error) { return ex.Message.BodyBytes() }, nil
	case "bodyAs(int)", "bodyAs(Integer)":
		return func(ex *core.Exchange) (any, error) {
			s, err := ex.Message.BodyString()
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				return nil, fmt.Errorf("body %q is not an int", s)
			}
			return n, nil
		}, nil
	case "headers", "in.headers":
		return func(ex *core.Exchange) (any, error) { return ex.Message.Headers, nil }, nil
	case "exchangeId", "id":
		return func(ex *core.Exchange) (any, error) { return ex.ID, nil }, nil
	case "routeId":
		return func(ex *core.Exchange) (any, error) { return ex.FromRouteID, nil }, nil
	case "fromEndpoint":
		return func(ex *core.Exchange) (any, error) { return ex.FromEndpoint, nil }, nil
	case "exception.message", "exception":
		return func(ex *core.Exchange) (any, error) {
			if ex.Err != nil {
				return ex.Err.Error(), nil
			}
			if v, ok := ex.Property(core.PropertyExceptionCaught); ok {
				return v, nil
			}
			return nil, nil
		}, nil
	}

	for _, prefix := range []string{"in.headers.", "in.header.", "headers.", "header."} {
		if h, ok := strings.CutPrefix(name, prefix); ok && h != "" {
			return func(ex *core.Exchange) (any, error) {
				v, _ := ex.Message.Header(h)
				return v, nil
			}, nil
		}
	}
	if h, ok := bracket(name, "header"); ok {
		return func(ex *core.Exchange) (any, error) {
			v, _ := ex.Message.Header(h)
			return v, nil
		}, nil
	}
	if p, ok := strings.CutPrefix(name, "exchangeProperty."); ok && p != "" {
		return func(ex *core.Exchange) (any, error) {
			v, _ := ex.Property(p)
			return v, nil
		}, nil
	}
	if v, ok := strings.CutPrefix(name, "env:"); ok && v != "" {
		return func(*core.Exchange) (any, error) { return os.Getenv(v), nil }, nil
	}
	if v, ok := strings.CutPrefix(name, "sysenv."); ok && v != "" {
		return func(*core.Exchange) (any, error) { return os.Getenv(v), nil }, nil
	}
	if spec, ok := strings.CutPrefix(name, "date:"); ok {
		return dateToken(spec)
	}
	if args, ok := call(name, "random"); ok {
		return randomToken(args)
	}
	return nil, fmt.Errorf("%w: unknown function ${%s}", ErrSyntax, name)
}

// bracket parses name[arg].
func bracket(s, name string) (string, bool) {
	if !strings.HasPrefix(s, name+"[") || !strings.HasSuffix(s, "]") {
		return "", false
	}
	return strings.Trim(s[len(name)+1:len(s)-1], `'"`), true
}

// call parses name(args).
func call(s, name string) (string, bool) {
	if !strings.HasPrefix(s, name+"(") || !strings.HasSuffix(s, ")") {
		return "", false
	}
	return s[len(name)+1 : len(s)-1], true
}

// dateToken handles date:now[:layout] and date:header.NAME[:layout] with Go layouts.
func dateToken(spec string) (valueFunc, error) {
	source, layout, _ := strings.Cut(spec, ":")
	if layout == "" {
		layout = time.RFC3339
	}

	var when func(ex *core.Exchange) (time.Time, error)
	switch {
	case source == "now":
		when = func(*core.Exchange) (time.Time, error) { return time.Now(), nil }
	case source == "exchangeCreated":
		when = func(ex *core.Exchange) (time.Time, error) { return ex.Created, nil }
	case strings.HasPrefix(source, "header."):
		h := strings.TrimPrefix(source, "header.")
		when = func(ex *core.Exchange) (time.Time, error) {
			v, _ := ex.Message.Header(h)
			t, ok := v.(time.Time)
			if !ok {
				return time.Time{}, fmt.Errorf("header %s is not a time", h)
			}
			return t, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown date source %q", ErrSyntax, source)
	}
	return func(ex *core.Exchange) (any, error) {
		t, err := when(ex)
		if err != nil {
			return nil, err
		}
		return t.Format(layout), nil
	}, nil
}

// randomToken handles random(max) and random(min,max), max exclusive.
func randomToken(args string) (valueFunc, error) {
	lo, hi := 0, 0
	parts := strings.Split(args, ",")
	var err error
	switch len(parts) {
	case 1:
		hi, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	case 2:
		if lo, err = strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
			hi, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		}
	default:
		err = errors.New("too many arguments")
	}
	if err != nil || hi <= lo {
		return nil, fmt.Errorf("%w: invalid random(%s)", ErrSyntax, args)
	}
	return func(*core.Exchange) (any, error) {
		return lo + rand.IntN(hi-lo), nil
	}, nil
}
