package poll

import (
	"context"
	"errors"
)

var ErrAlreadyStarted = errors.New("poller already started")

// PollFunc performs one poll and reports how many messages it handled.
type PollFunc func(ctx context.Context) (int, error)

// IdleFunc is invoked after an empty poll when SendEmptyMessageWhenIdle is set.
type IdleFunc func(ctx context.Context) error

// Executor runs a poll task and blocks until it completes. Pools shared
// between several pollers implement it to bound concurrency.
type Executor interface {
	Execute(ctx context.Context, task func(ctx context.Context)) error
}

// Stats are the counters of a poller since it was created.
type Stats struct {
	Polls    int64
	Messages int64
	Idle     int64
	Errors   int64
	Skipped  int64
}

// Poller drives a PollFunc on a schedule.
type Poller interface {
	// Start begins polling in the background.
	Start(ctx context.Context) error
	// Stop halts polling and waits for an in-flight poll to finish.
	Stop() error
	Stats() Stats
}
