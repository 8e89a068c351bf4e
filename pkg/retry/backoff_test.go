package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestDo_SuccessFirstAttempt(t *testing.T) {
	p := Policy{MaximumRedeliveries: 3, RedeliveryDelay: 100 * time.Millisecond}

	attempts := 0
	redeliveries, err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		attempts++
		return nil
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 1 || redeliveries != 0 {
		t.Errorf("expected 1 attempt and 0 redeliveries, got %d and %d", attempts, redeliveries)
	}
}

func TestDo_SuccessAfterRedeliveries(t *testing.T) {
	p := Policy{
		MaximumRedeliveries:   5,
		RedeliveryDelay:       10 * time.Millisecond,
		BackOffMultiplier:     2.0,
		UseExponentialBackOff: true,
	}

	var seen []int
	start := time.Now()
	redeliveries, err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 2 {
			return errors.New("temporary failure")
		}
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if redeliveries != 2 {
		t.Errorf("expected 2 redeliveries, got %d", redeliveries)
	}
	if fmt.Sprint(seen) != "[0 1 2]" {
		t.Errorf("unexpected attempt sequence %v", seen)
	}
	// 10ms + 20ms
	if elapsed < 30*time.Millisecond {
		t.Errorf("expected at least 30ms elapsed, got %v", elapsed)
	}
}

func TestDo_Exhausted(t *testing.T) {
	p := Policy{MaximumRedeliveries: 3, RedeliveryDelay: time.Millisecond}

	attempts := 0
	expectedErr := errors.New("permanent failure")
	var notified []int
	redeliveries, err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		attempts++
		return expectedErr
	}, OnRedeliver(func(attempt int, delay time.Duration, err error) {
		notified = append(notified, attempt)
	}))

	if attempts != 4 {
		t.Errorf("expected 4 attempts (1 initial + 3 redeliveries), got %d", attempts)
	}
	if redeliveries != 3 {
		t.Errorf("expected 3 redeliveries, got %d", redeliveries)
	}
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected wrapped error to be %v, got %v", expectedErr, err)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Errorf("expected ExhaustedError, got %T", err)
	}
	if len(notified) != 3 {
		t.Errorf("expected 3 redelivery notifications, got %d", len(notified))
	}
}

func TestDo_NoRedeliveryReturnsPlainError(t *testing.T) {
	expectedErr := errors.New("boom")
	_, err := Do(context.Background(), DefaultPolicy(), func(ctx context.Context, attempt int) error {
		return expectedErr
	})
	if err != expectedErr {
		t.Errorf("expected the original error, got %v", err)
	}
}

func TestDo_ShouldRetryStops(t *testing.T) {
	p := Policy{MaximumRedeliveries: 5, RedeliveryDelay: time.Millisecond}
	attempts := 0
	_, err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		attempts++
		return errors.New("invalid input")
	}, ShouldRetry(func(error) bool { return false }))

	if err == nil {
		t.Error("expected error, got nil")
	}
	if attempts != 1 {
		t.Errorf("expected a single attempt, got %d", attempts)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	p := Policy{MaximumRedeliveries: 10, RedeliveryDelay: 50 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	attempts := 0
	_, err := Do(ctx, p, func(ctx context.Context, attempt int) error {
		attempts++
		return errors.New("always fails")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if attempts == 0 || attempts > 5 {
		t.Errorf("unexpected attempt count %d", attempts)
	}
}

func TestDo_UnlimitedRedeliveries(t *testing.T) {
	p := Policy{MaximumRedeliveries: -1, RedeliveryDelay: time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	attempts := 0
	_, err := Do(ctx, p, func(ctx context.Context, attempt int) error {
		attempts++
		if attempts == 10 {
			return nil
		}
		return errors.New("keep retrying")
	})
	if err != nil {
		t.Errorf("expected success after 10 attempts, got error: %v", err)
	}
}

func TestDelay_ExponentialGrowth(t *testing.T) {
	p := Policy{
		RedeliveryDelay:        1 * time.Second,
		MaximumRedeliveryDelay: 30 * time.Second,
		BackOffMultiplier:      2.0,
		UseExponentialBackOff:  true,
	}

	tests := []struct {
		redelivery int
		want       time.Duration
	}{
		{0, 0},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // 32s capped
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("redelivery_%d", tt.redelivery), func(t *testing.T) {
			got := p.Delay(tt.redelivery)
			if got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.redelivery, got, tt.want)
			}
		})
	}
}

func TestDelay_SaturatesWithoutCap(t *testing.T) {
	p := Policy{
		RedeliveryDelay:       time.Second,
		BackOffMultiplier:     2,
		UseExponentialBackOff: true,
	}

	for _, redelivery := range []int{64, 1100, 100000} {
		if got := p.Delay(redelivery); got != time.Duration(math.MaxInt64) {
			t.Errorf("redelivery %d: expected saturated delay, got %v", redelivery, got)
		}
	}

	p.UseCollisionAvoidance = true
	if got := p.Delay(5000); got <= 0 {
		t.Errorf("expected positive delay with jitter, got %v", got)
	}
}

func TestDelay_FixedWithoutExponential(t *testing.T) {
	p := Policy{RedeliveryDelay: 250 * time.Millisecond, BackOffMultiplier: 4}
	for i := 1; i <= 4; i++ {
		if got := p.Delay(i); got != 250*time.Millisecond {
			t.Errorf("Delay(%d) = %v, want 250ms", i, got)
		}
	}
}

func TestDelay_CollisionAvoidance(t *testing.T) {
	p := Policy{
		RedeliveryDelay:          4 * time.Second,
		MaximumRedeliveryDelay:   10 * time.Second,
		UseCollisionAvoidance:    true,
		CollisionAvoidanceFactor: 0.15,
	}

	results := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		d := p.Delay(1)
		minExpected := time.Duration(float64(4*time.Second) * 0.85)
		maxExpected := time.Duration(float64(4*time.Second) * 1.15)
		if d < minExpected || d > maxExpected {
			t.Errorf("delay %v outside expected range [%v, %v]", d, minExpected, maxExpected)
		}
		results[d] = true
	}
	if len(results) < 5 {
		t.Error("collision avoidance not producing enough variation")
	}
}
