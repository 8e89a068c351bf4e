package poll

import "time"

// Config holds the scheduling options of a polling consumer.
type Config struct {
	// InitialDelay before the first poll.
	InitialDelay time.Duration
	// Delay between the end of one poll and the start of the next.
	Delay time.Duration
	// RepeatCount limits the number of polls. Zero or less polls forever.
	RepeatCount int64
	// Greedy polls again immediately when the previous poll returned messages.
	Greedy bool
	// BackoffMultiplier is the number of scheduled polls to skip once a
	// threshold is reached. Zero disables backoff.
	BackoffMultiplier     int
	BackoffIdleThreshold  int
	BackoffErrorThreshold int
	// SendEmptyMessageWhenIdle invokes the idle handler after an empty poll.
	SendEmptyMessageWhenIdle bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Second,
		Delay:        500 * time.Millisecond,
	}
}
