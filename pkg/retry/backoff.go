package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Policy describes how a failed delivery is attempted again.
type Policy struct {
	// MaximumRedeliveries is the number of redeliveries after the first attempt.
	// Set to -1 for unlimited redeliveries.
	MaximumRedeliveries int

	// RedeliveryDelay is the delay before the first redelivery.
	RedeliveryDelay time.Duration

	// MaximumRedeliveryDelay caps the delay between redeliveries. Zero means no cap.
	MaximumRedeliveryDelay time.Duration

	// BackOffMultiplier grows the delay when UseExponentialBackOff is set.
	BackOffMultiplier float64

	UseExponentialBackOff bool

	// UseCollisionAvoidance shifts every delay randomly by CollisionAvoidanceFactor.
	UseCollisionAvoidance    bool
	CollisionAvoidanceFactor float64
}

// DefaultPolicy returns a policy that never redelivers.
func DefaultPolicy() Policy {
	return Policy{
		MaximumRedeliveries:      0,
		RedeliveryDelay:          time.Second,
		MaximumRedeliveryDelay:   time.Minute,
		BackOffMultiplier:        2.0,
		CollisionAvoidanceFactor: 0.15,
	}
}

// Operation is a function that will be retried. attempt is 0 on the first delivery.
type Operation func(ctx context.Context, attempt int) error

type options struct {
	shouldRetry func(error) bool
	onRedeliver func(attempt int, delay time.Duration, err error)
}

type Option func(*options)

// ShouldRetry stops redelivery as soon as fn returns false for an error.
func ShouldRetry(fn func(error) bool) Option {
	return func(o *options) {
		o.shouldRetry = fn
	}
}

// OnRedeliver is called before every redelivery wait.
func OnRedeliver(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(o *options) {
		o.onRedeliver = fn
	}
}

// ExhaustedError is returned when all redeliveries failed.
type ExhaustedError struct {
	Redeliveries int
	Err          error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("delivery failed after %d redeliveries: %v", e.Redeliveries, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs op and redelivers it according to p. It returns the number of
// redeliveries performed together with the final error.
func Do(ctx context.Context, p Policy, op Operation, opts ...Option) (int, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	attempt := 0
	for {
		err := op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		if o.shouldRetry != nil && !o.shouldRetry(err) {
			return attempt, err
		}
		if p.MaximumRedeliveries >= 0 && attempt >= p.MaximumRedeliveries {
			if attempt == 0 {
				return 0, err
			}
			return attempt, &ExhaustedError{Redeliveries: attempt, Err: err}
		}

		attempt++
		delay := p.Delay(attempt)
		if o.onRedeliver != nil {
			o.onRedeliver(attempt, delay, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, fmt.Errorf("redelivery canceled after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}
}

// Delay calculates the wait before the given redelivery (1-based).
func (p Policy) Delay(redelivery int) time.Duration {
	if redelivery <= 0 {
		return 0
	}

	delay := float64(p.RedeliveryDelay)
	if p.UseExponentialBackOff && p.BackOffMultiplier > 1 {
		delay = delay * math.Pow(p.BackOffMultiplier, float64(redelivery-1))
	}

	if p.MaximumRedeliveryDelay > 0 && delay > float64(p.MaximumRedeliveryDelay) {
		delay = float64(p.MaximumRedeliveryDelay)
	}

	duration := toDuration(delay)

	if p.UseCollisionAvoidance {
		factor := p.CollisionAvoidanceFactor
		if factor <= 0 {
			factor = 0.15
		}
		jitterRange := float64(duration) * factor
		jitterAmount := (rand.Float64() * 2 * jitterRange) - jitterRange
		duration = toDuration(float64(duration) + jitterAmount)

		if p.MaximumRedeliveryDelay > 0 && duration > p.MaximumRedeliveryDelay {
			duration = p.MaximumRedeliveryDelay
		}
		if duration < 0 {
			duration = 0
		}
	}

	return duration
}

// toDuration converts ns to a Duration, saturating where the conversion would overflow.
func toDuration(ns float64) time.Duration {
	if math.IsNaN(ns) || ns <= 0 {
		return 0
	}
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}
