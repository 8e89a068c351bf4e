package routes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/internal/engine"
	"github.com/Alwanly/conduit/internal/simple"
	"github.com/Alwanly/conduit/pkg/logger"
)

// BuildError locates a step that could not be compiled.
type BuildError struct {
	RouteID string
	Index   int
	Kind    string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("route %q step %d (%s): %v", e.RouteID, e.Index, e.Kind, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

type nameValue struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type logArgs struct {
	Message string `yaml:"message"`
	Level   string `yaml:"level"`
}

type throttleArgs struct {
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

type compiled struct {
	def  engine.RouteDefinition
	uris []string
}

// Compile turns a definition into an engine route definition without
// registering it.
func Compile(c *engine.Context, def Definition) (engine.RouteDefinition, error) {
	out, err := compile(c, def)
	return out.def, err
}

func compile(c *engine.Context, def Definition) (compiled, error) {
	out := compiled{
		def: engine.RouteDefinition{
			ID:           def.ID,
			From:         def.From,
			ErrorHandler: def.ErrorHandler,
			AutoStartup:  def.AutoStartup,
		},
		uris: []string{def.From},
	}
	log := c.Logger().WithRouteID(def.ID)

	for i, step := range def.Steps {
		p, uri, err := compileStep(c, log, step)
		if err != nil {
			return out, &BuildError{RouteID: def.ID, Index: i, Kind: step.Kind, Err: err}
		}
		if uri != "" {
			out.uris = append(out.uris, uri)
		}
		out.def.Steps = append(out.def.Steps, p)
	}
	return out, nil
}

// Build compiles every definition and adds the routes to c. Nothing is
// registered when any definition fails to compile.
func Build(ctx context.Context, c *engine.Context, defs []Definition) ([]*engine.Route, error) {
	all := make([]compiled, 0, len(defs))
	for _, def := range defs {
		out, err := compile(c, def)
		if err != nil {
			return nil, err
		}
		all = append(all, out)
	}

	routes := make([]*engine.Route, 0, len(all))
	for _, out := range all {
		r, err := c.AddRoute(ctx, out.def)
		if err != nil {
			return routes, err
		}
		routes = append(routes, r)
	}
	return routes, nil
}

// Validate compiles every definition and resolves its static endpoint URIs
// against the registered components. Routes are not added.
func Validate(c *engine.Context, defs []Definition) error {
	var errs []error
	for _, def := range defs {
		out, err := compile(c, def)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, uri := range out.uris {
			if _, err := c.Endpoint(uri); err != nil {
				errs = append(errs, fmt.Errorf("route %q: %w", def.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func compileStep(c *engine.Context, log *logger.CanonicalLogger, step Step) (core.Processor, string, error) {
	args := &step.Args
	switch step.Kind {
	case "to":
		uri, err := scalar(args)
		if err != nil {
			return nil, "", err
		}
		return c.To(uri), uri, nil

	case "toD":
		expr, err := compileScalar(args)
		if err != nil {
			return nil, "", err
		}
		return c.ToD(func(ex *core.Exchange) (string, error) {
			return expr.Evaluate(ex)
		}), "", nil

	case "log":
		a := logArgs{Level: "info"}
		if args.Kind == yaml.ScalarNode {
			a.Message = args.Value
		} else if err := args.Decode(&a); err != nil {
			return nil, "", err
		}
		level, err := zapcore.ParseLevel(a.Level)
		if err != nil {
			return nil, "", err
		}
		expr, err := simple.Compile(a.Message)
		if err != nil {
			return nil, "", err
		}
		return &logStep{message: expr, level: level, logger: log}, "", nil

	case "setBody":
		expr, err := compileScalar(args)
		if err != nil {
			return nil, "", err
		}
		return &setBodyStep{expr: expr}, "", nil

	case "setHeader", "setProperty":
		var nv nameValue
		if err := args.Decode(&nv); err != nil {
			return nil, "", err
		}
		if nv.Name == "" {
			return nil, "", errors.New("name is required")
		}
		expr, err := simple.Compile(nv.Value)
		if err != nil {
			return nil, "", err
		}
		if step.Kind == "setHeader" {
			return &setHeaderStep{name: nv.Name, expr: expr}, "", nil
		}
		return &setPropertyStep{name: nv.Name, expr: expr}, "", nil

	case "removeHeader":
		name, err := scalar(args)
		if err != nil {
			return nil, "", err
		}
		return &removeHeaderStep{name: name}, "", nil

	case "filter":
		src, err := scalar(args)
		if err != nil {
			return nil, "", err
		}
		pred, err := simple.CompilePredicate(src)
		if err != nil {
			return nil, "", err
		}
		return &filterStep{predicate: pred}, "", nil

	case "throttle":
		a := throttleArgs{Burst: 1}
		if args.Kind == yaml.ScalarNode {
			if err := args.Decode(&a.Rate); err != nil {
				return nil, "", err
			}
		} else if err := args.Decode(&a); err != nil {
			return nil, "", err
		}
		if a.Rate <= 0 || a.Burst < 1 {
			return nil, "", fmt.Errorf("rate must be positive and burst at least 1, got rate=%v burst=%d", a.Rate, a.Burst)
		}
		return &throttleStep{limiter: rate.NewLimiter(rate.Limit(a.Rate), a.Burst)}, "", nil

	case "marshal", "unmarshal":
		format, err := scalar(args)
		if err != nil {
			return nil, "", err
		}
		if format != FormatJSON {
			return nil, "", fmt.Errorf("unsupported data format %q", format)
		}
		if step.Kind == "marshal" {
			return marshalStep{}, "", nil
		}
		return unmarshalStep{}, "", nil

	case "convertBodyTo":
		to, err := scalar(args)
		if err != nil {
			return nil, "", err
		}
		if to != ConvertString && to != ConvertBytes {
			return nil, "", fmt.Errorf("cannot convert body to %q", to)
		}
		return &convertStep{to: to}, "", nil

	case "delay":
		raw, err := scalar(args)
		if err != nil {
			return nil, "", err
		}
		d, err := parseDelay(raw)
		if err != nil {
			return nil, "", err
		}
		return &delayStep{d: d}, "", nil
	}
	return nil, "", ErrUnknownStep
}

func scalar(n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode || n.Value == "" {
		return "", fmt.Errorf("line %d: expected a non-empty value", n.Line)
	}
	return n.Value, nil
}

func compileScalar(n *yaml.Node) (*simple.Expression, error) {
	s, err := scalar(n)
	if err != nil {
		return nil, err
	}
	return simple.Compile(s)
}

// parseDelay accepts a Go duration or a number of milliseconds.
func parseDelay(s string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative delay %d", ms)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid delay %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative delay %s", s)
	}
	return d, nil
}
