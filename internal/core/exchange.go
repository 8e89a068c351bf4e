package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Pattern tells producers whether a reply is expected.
type Pattern string

const (
	InOnly Pattern = "InOnly"
	InOut  Pattern = "InOut"
)

// ParsePattern accepts InOnly or InOut, case-insensitively for the first letter.
func ParsePattern(s string) (Pattern, error) {
	switch s {
	case "", "InOnly", "inOnly":
		return InOnly, nil
	case "InOut", "inOut":
		return InOut, nil
	}
	return "", fmt.Errorf("unknown exchange pattern %q", s)
}

// Message is the payload of an exchange.
type Message struct {
	Headers map[string]any
	Body    any
}

func NewMessage() *Message {
	return &Message{Headers: make(map[string]any)}
}

func (m *Message) Header(name string) (any, bool) {
	v, ok := m.Headers[name]
	return v, ok
}

func (m *Message) SetHeader(name string, value any) {
	if m.Headers == nil {
		m.Headers = make(map[string]any)
	}
	m.Headers[name] = value
}

func (m *Message) RemoveHeader(name string) {
	delete(m.Headers, name)
}

// HeaderString returns the header converted to a string, or "" when absent.
func (m *Message) HeaderString(name string) string {
	v, ok := m.Headers[name]
	if !ok || v == nil {
		return ""
	}
	return ToString(v)
}

// HeaderInt returns the header as an int, or def when absent or not numeric.
func (m *Message) HeaderInt(name string, def int) int {
	v, ok := m.Headers[name]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	i, err := strconv.Atoi(ToString(v))
	if err != nil {
		return def
	}
	return i
}

// BodyBytes converts the body to bytes. A reader body is drained and
// replaced with the bytes read.
func (m *Message) BodyBytes() ([]byte, error) {
	switch b := m.Body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if c, ok := b.(io.Closer); ok {
			_ = c.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		m.Body = data
		return data, nil
	case fmt.Stringer:
		return []byte(b.String()), nil
	case error:
		return []byte(b.Error()), nil
	}
	data, err := json.Marshal(m.Body)
	if err != nil {
		return nil, fmt.Errorf("convert body of type %T: %w", m.Body, err)
	}
	return data, nil
}

func (m *Message) BodyString() (string, error) {
	b, err := m.BodyBytes()
	return string(b), err
}

// BodyReader returns the body as a reader together with its length, -1 if unknown.
func (m *Message) BodyReader() (io.Reader, int64, error) {
	if r, ok := m.Body.(io.Reader); ok {
		return r, -1, nil
	}
	b, err := m.BodyBytes()
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(b), int64(len(b)), nil
}

func (m *Message) Copy() *Message {
	return &Message{Headers: maps.Clone(m.Headers), Body: m.Body}
}

// Exchange is the envelope routed between processors.
type Exchange struct {
	ID           string
	Pattern      Pattern
	Message      *Message
	Properties   map[string]any
	Err          error
	FromEndpoint string
	FromRouteID  string
	Created      time.Time
}

func NewExchange(pattern Pattern) *Exchange {
	if pattern == "" {
		pattern = InOnly
	}
	return &Exchange{
		ID:         NewID(),
		Pattern:    pattern,
		Message:    NewMessage(),
		Properties: make(map[string]any),
		Created:    time.Now(),
	}
}

// NewID returns a time-ordered unique identifier.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (e *Exchange) SetProperty(name string, value any) {
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}
	e.Properties[name] = value
}

func (e *Exchange) Property(name string) (any, bool) {
	v, ok := e.Properties[name]
	return v, ok
}

func (e *Exchange) PropertyBool(name string) bool {
	v, ok := e.Properties[name]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func (e *Exchange) RemoveProperty(name string) {
	delete(e.Properties, name)
}

func (e *Exchange) IsFailed() bool {
	return e.Err != nil
}

// Copy returns an exchange with a new ID and cloned header and property maps.
// The body is shared.
func (e *Exchange) Copy() *Exchange {
	return &Exchange{
		ID:           NewID(),
		Pattern:      e.Pattern,
		Message:      e.Message.Copy(),
		Properties:   maps.Clone(e.Properties),
		Err:          e.Err,
		FromEndpoint: e.FromEndpoint,
		FromRouteID:  e.FromRouteID,
		Created:      time.Now(),
	}
}

// CopyResult replaces e's message, properties and error with those of src.
// It is used to hand back the outcome of a correlated copy processed elsewhere.
func (e *Exchange) CopyResult(src *Exchange) {
	e.Message = src.Message
	e.Properties = src.Properties
	e.Err = src.Err
}

// ToString renders scalar values without quoting and everything else as JSON.
func ToString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case time.Time:
		return s.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return s.String()
	case error:
		return s.Error()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(s)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
