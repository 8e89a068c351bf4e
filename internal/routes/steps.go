package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/internal/simple"
	"github.com/Alwanly/conduit/pkg/logger"
)

const (
	FormatJSON = "json"

	ConvertString = "string"
	ConvertBytes  = "bytes"
)

type logStep struct {
	message *simple.Expression
	level   zapcore.Level
	logger  *logger.CanonicalLogger
}

func (s *logStep) Process(_ context.Context, ex *core.Exchange) error {
	msg, err := s.message.Evaluate(ex)
	if err != nil {
		return core.Invalid(err)
	}
	s.logger.WithExchangeID(ex.ID).Log(s.level, msg)
	return nil
}

func (s *logStep) String() string {
	return "log[" + s.message.String() + "]"
}

type setBodyStep struct {
	expr *simple.Expression
}

func (s *setBodyStep) Process(_ context.Context, ex *core.Exchange) error {
	v, err := s.expr.Value(ex)
	if err != nil {
		return core.Invalid(err)
	}
	ex.Message.Body = v
	return nil
}

type setHeaderStep struct {
	name string
	expr *simple.Expression
}

func (s *setHeaderStep) Process(_ context.Context, ex *core.Exchange) error {
	v, err := s.expr.Value(ex)
	if err != nil {
		return core.Invalid(err)
	}
	ex.Message.SetHeader(s.name, v)
	return nil
}

type removeHeaderStep struct {
	name string
}

func (s *removeHeaderStep) Process(_ context.Context, ex *core.Exchange) error {
	ex.Message.RemoveHeader(s.name)
	return nil
}

type setPropertyStep struct {
	name string
	expr *simple.Expression
}

func (s *setPropertyStep) Process(_ context.Context, ex *core.Exchange) error {
	v, err := s.expr.Value(ex)
	if err != nil {
		return core.Invalid(err)
	}
	ex.SetProperty(s.name, v)
	return nil
}

// filterStep stops the route for exchanges that do not match.
type filterStep struct {
	predicate *simple.Predicate
}

func (s *filterStep) Process(_ context.Context, ex *core.Exchange) error {
	ok, err := s.predicate.Matches(ex)
	if err != nil {
		return core.Invalid(err)
	}
	ex.SetProperty(core.PropertyFilterMatched, ok)
	if !ok {
		ex.SetProperty(core.PropertyRouteStop, true)
	}
	return nil
}

func (s *filterStep) String() string {
	return "filter[" + s.predicate.String() + "]"
}

// throttleStep delays exchanges so the route never exceeds the configured rate.
type throttleStep struct {
	limiter *rate.Limiter
}

func (s *throttleStep) Process(ctx context.Context, ex *core.Exchange) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle: %w", err)
	}
	return nil
}

type marshalStep struct{}

func (marshalStep) Process(_ context.Context, ex *core.Exchange) error {
	switch ex.Message.Body.(type) {
	case []byte, string:
		// already serialized
	default:
		data, err := json.Marshal(ex.Message.Body)
		if err != nil {
			return core.Invalid(fmt.Errorf("%w: failed to marshal body: %w", core.ErrInvalidPayload, err))
		}
		ex.Message.Body = data
	}
	ex.Message.SetHeader(core.HeaderContentType, "application/json")
	return nil
}

type unmarshalStep struct{}

func (unmarshalStep) Process(_ context.Context, ex *core.Exchange) error {
	data, err := ex.Message.BodyBytes()
	if err != nil {
		return core.Invalid(err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return core.Invalid(fmt.Errorf("%w: failed to unmarshal body: %w", core.ErrInvalidPayload, err))
	}
	ex.Message.Body = v
	return nil
}

type convertStep struct {
	to string
}

func (s *convertStep) Process(_ context.Context, ex *core.Exchange) error {
	var err error
	switch s.to {
	case ConvertString:
		ex.Message.Body, err = ex.Message.BodyString()
	default:
		ex.Message.Body, err = ex.Message.BodyBytes()
	}
	if err != nil {
		return core.Invalid(err)
	}
	return nil
}

type delayStep struct {
	d time.Duration
}

func (s *delayStep) Process(ctx context.Context, ex *core.Exchange) error {
	timer := time.NewTimer(s.d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
