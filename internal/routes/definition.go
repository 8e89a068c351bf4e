// Package routes loads YAML route definitions and compiles them into engine
// routes.
package routes

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Alwanly/conduit/internal/engine"
	"github.com/Alwanly/conduit/pkg/validator"
)

var (
	// ErrInvalidDefinition is returned when a route document fails validation.
	ErrInvalidDefinition = errors.New("routes: invalid definition")
	// ErrUnknownStep is returned for a step kind the builder does not know.
	ErrUnknownStep = errors.New("routes: unknown step")
)

// Document is the root of a routes file.
type Document struct {
	Routes []Definition `yaml:"routes"`
}

// Definition describes one route: a consumer URI and its steps.
type Definition struct {
	ID          string `yaml:"id,omitempty"`
	Description string `yaml:"description,omitempty"`
	From        string `yaml:"from" validate:"required"`

	// AutoStartup defaults to true when omitted.
	AutoStartup  *bool                      `yaml:"autoStartup,omitempty"`
	ErrorHandler *engine.ErrorHandlerConfig `yaml:"errorHandler,omitempty"`
	Steps        []Step                     `yaml:"steps,omitempty"`
}

// Step is a single-key mapping such as `to: mock:out`. The argument is kept
// as a node and decoded by the builder for the given kind.
type Step struct {
	Kind string
	Args yaml.Node
	Line int
}

func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode || len(value.Content) != 2 {
		return fmt.Errorf("line %d: a step must be a mapping with exactly one key", value.Line)
	}
	s.Kind = value.Content[0].Value
	s.Args = *value.Content[1]
	s.Line = value.Line
	return nil
}

func (s Step) MarshalYAML() (interface{}, error) {
	args := s.Args
	return map[string]*yaml.Node{s.Kind: &args}, nil
}

// Load reads and parses a routes file.
func Load(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes file: %w", err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return defs, nil
}

// Parse decodes a routes document and validates its structure. Step
// arguments are checked later by Build.
func Parse(data []byte) ([]Definition, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse routes: %w", err)
	}

	seen := make(map[string]bool, len(doc.Routes))
	for i := range doc.Routes {
		def := &doc.Routes[i]
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		if def.ID == "" {
			continue
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("%w: duplicate route id %q", ErrInvalidDefinition, def.ID)
		}
		seen[def.ID] = true
	}
	return doc.Routes, nil
}

func (d *Definition) Validate() error {
	if err := validator.ValidateStruct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, validator.TranslateError(err))
	}
	if d.ErrorHandler != nil {
		if err := validator.ValidateStruct(d.ErrorHandler); err != nil {
			return fmt.Errorf("%w: errorHandler: %v", ErrInvalidDefinition, validator.TranslateError(err))
		}
	}
	return nil
}
