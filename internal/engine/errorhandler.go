package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Alwanly/conduit/internal/core"
	"github.com/Alwanly/conduit/pkg/logger"
	"github.com/Alwanly/conduit/pkg/retry"
)

// ErrorHandlerConfig controls redelivery and dead lettering of failed exchanges.
type ErrorHandlerConfig struct {
	MaximumRedeliveries    int           `yaml:"maximumRedeliveries" validate:"gte=-1"`
	RedeliveryDelay        time.Duration `yaml:"redeliveryDelay" validate:"gte=0"`
	MaximumRedeliveryDelay time.Duration `yaml:"maximumRedeliveryDelay" validate:"gte=0"`
	BackOffMultiplier      float64       `yaml:"backOffMultiplier" validate:"gte=0"`
	UseExponentialBackOff  bool          `yaml:"useExponentialBackOff"`
	UseCollisionAvoidance  bool          `yaml:"useCollisionAvoidance"`
	DeadLetterURI          string        `yaml:"deadLetterUri"`
	LogExhausted           bool          `yaml:"logExhausted"`
}

// DefaultErrorHandlerConfig never redelivers and logs exhausted exchanges.
func DefaultErrorHandlerConfig() ErrorHandlerConfig {
	p := retry.DefaultPolicy()
	return ErrorHandlerConfig{
		MaximumRedeliveries:    p.MaximumRedeliveries,
		RedeliveryDelay:        p.RedeliveryDelay,
		MaximumRedeliveryDelay: p.MaximumRedeliveryDelay,
		BackOffMultiplier:      p.BackOffMultiplier,
		LogExhausted:           true,
	}
}

func (c ErrorHandlerConfig) policy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaximumRedeliveries = c.MaximumRedeliveries
	p.RedeliveryDelay = c.RedeliveryDelay
	p.MaximumRedeliveryDelay = c.MaximumRedeliveryDelay
	if c.BackOffMultiplier > 0 {
		p.BackOffMultiplier = c.BackOffMultiplier
	}
	p.UseExponentialBackOff = c.UseExponentialBackOff
	p.UseCollisionAvoidance = c.UseCollisionAvoidance
	return p
}

type errorHandler struct {
	cfg     ErrorHandlerConfig
	routeID string
	ctx     *Context
	logger  *logger.CanonicalLogger
}

func newErrorHandler(c *Context, routeID string, cfg ErrorHandlerConfig) *errorHandler {
	return &errorHandler{
		cfg:     cfg,
		routeID: routeID,
		ctx:     c,
		logger:  c.logger.WithRouteID(routeID),
	}
}

// deliver runs step, redelivering transient failures per the policy.
func (h *errorHandler) deliver(ctx context.Context, ex *core.Exchange, step core.Processor) error {
	policy := h.cfg.policy()
	_, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			ex.Err = nil
			ex.Message.SetHeader(core.HeaderRedelivered, true)
			ex.Message.SetHeader(core.HeaderRedeliveryCounter, attempt)
			ex.Message.SetHeader(core.HeaderRedeliveryMaxCounter, policy.MaximumRedeliveries)
		}
		if err := step.Process(ctx, ex); err != nil {
			return err
		}
		return ex.Err
	},
		retry.ShouldRetry(core.IsRetryable),
		retry.OnRedeliver(func(attempt int, delay time.Duration, err error) {
			h.ctx.metrics.Redelivery(h.routeID)
			h.logger.WithExchangeID(ex.ID).Debug("redelivering exchange",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}),
	)
	return err
}

// handleExhausted dead-letters a failed exchange. It returns nil when the
// failure was handled.
func (h *errorHandler) handleExhausted(ctx context.Context, ex *core.Exchange, err error) error {
	ex.Err = err
	ex.SetProperty(core.PropertyExceptionCaught, err.Error())
	ex.SetProperty(core.PropertyFailureRouteID, h.routeID)
	if to, ok := ex.Property(core.PropertyToEndpoint); ok {
		ex.SetProperty(core.PropertyFailureEndpoint, to)
	}

	if h.cfg.DeadLetterURI == "" {
		if h.cfg.LogExhausted && !errors.Is(err, context.Canceled) {
			h.logger.WithExchangeID(ex.ID).WithError(err).Error("failed delivery, exhausted after redelivery attempts")
		}
		return err
	}

	dlq, dlqErr := h.ctx.producers.acquire(ctx, h.cfg.DeadLetterURI)
	if dlqErr == nil {
		ex.Err = nil
		dlqErr = dlq.Process(ctx, ex)
	}
	if dlqErr != nil {
		ex.Err = err
		h.logger.WithExchangeID(ex.ID).WithError(dlqErr).Error("failed to deliver exchange to dead letter endpoint",
			logger.String(logger.FieldEndpoint, core.SanitizeURI(h.cfg.DeadLetterURI)))
		return fmt.Errorf("dead letter delivery failed: %w", errors.Join(err, dlqErr))
	}

	ex.Err = nil
	ex.SetProperty(core.PropertyErrorHandlerHandled, true)
	if h.cfg.LogExhausted {
		h.logger.WithExchangeID(ex.ID).Warn("exchange moved to dead letter endpoint",
			logger.String(logger.FieldEndpoint, core.SanitizeURI(h.cfg.DeadLetterURI)),
			zap.Error(err))
	}
	return nil
}
