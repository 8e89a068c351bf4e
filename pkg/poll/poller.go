package poll

import (
	"context"
	"sync"
	"time"

	"github.com/Alwanly/conduit/pkg/logger"
	"go.uber.org/zap"
)

type inlineExecutor struct{}

func (inlineExecutor) Execute(ctx context.Context, task func(ctx context.Context)) error {
	task(ctx)
	return nil
}

type Option func(*poller)

func WithLogger(log *logger.CanonicalLogger) Option {
	return func(p *poller) {
		p.logger = log
	}
}

func WithExecutor(exec Executor) Option {
	return func(p *poller) {
		if exec != nil {
			p.exec = exec
		}
	}
}

func WithIdleFunc(fn IdleFunc) Option {
	return func(p *poller) {
		p.onIdle = fn
	}
}

// poller implements the Poller interface
type poller struct {
	name   string
	cfg    Config
	fn     PollFunc
	onIdle IdleFunc
	exec   Executor
	logger *logger.CanonicalLogger

	mu             sync.Mutex
	cancel         context.CancelFunc
	done           chan struct{}
	counter        int64
	idleCounter    int
	errorCounter   int
	backoffCounter int
	stats          Stats
}

// NewPoller creates a new Poller instance
func NewPoller(name string, cfg Config, fn PollFunc, opts ...Option) Poller {
	p := &poller{
		name:   name,
		cfg:    cfg,
		fn:     fn,
		exec:   inlineExecutor{},
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx, p.done)

	p.logger.Info("started polling",
		zap.String(logger.FieldPollName, p.name),
		zap.Duration("initial_delay", p.cfg.InitialDelay),
		zap.Duration("delay", p.cfg.Delay),
	)
	return nil
}

func (p *poller) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	p.logger.Info("stopped polling", zap.String(logger.FieldPollName, p.name))
	return nil
}

func (p *poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(p.cfg.InitialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if !p.tick(ctx) {
			p.logger.Debug("repeat count reached", zap.String(logger.FieldPollName, p.name))
			return
		}
		timer.Reset(p.cfg.Delay)
	}
}

// tick runs one scheduled slot. It returns false once no more polls are due.
func (p *poller) tick(ctx context.Context) bool {
	p.mu.Lock()
	if p.cfg.RepeatCount > 0 && p.counter >= p.cfg.RepeatCount {
		p.mu.Unlock()
		return false
	}
	if p.shouldBackoff() {
		p.stats.Skipped++
		p.mu.Unlock()
		return true
	}
	p.counter++
	p.mu.Unlock()

	if err := p.exec.Execute(ctx, p.run); err != nil {
		p.logger.Debug("poll not executed", zap.String(logger.FieldPollName, p.name), zap.Error(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.RepeatCount <= 0 || p.counter < p.cfg.RepeatCount
}

// shouldBackoff must be called with mu held.
func (p *poller) shouldBackoff() bool {
	if p.cfg.BackoffMultiplier <= 0 {
		return false
	}
	idle := p.cfg.BackoffIdleThreshold > 0 && p.idleCounter >= p.cfg.BackoffIdleThreshold
	failing := p.cfg.BackoffErrorThreshold > 0 && p.errorCounter >= p.cfg.BackoffErrorThreshold
	if !idle && !failing {
		return false
	}
	if p.backoffCounter < p.cfg.BackoffMultiplier {
		p.backoffCounter++
		p.logger.Debug("backing off",
			zap.String(logger.FieldPollName, p.name),
			zap.Int(logger.FieldBackoffCount, p.backoffCounter),
			zap.Int(logger.FieldIdleCount, p.idleCounter),
			zap.Int(logger.FieldErrorCount, p.errorCounter),
		)
		return true
	}
	p.backoffCounter = 0
	p.idleCounter = 0
	p.errorCounter = 0
	return false
}

func (p *poller) run(ctx context.Context) {
	for {
		n, err := p.fn(ctx)

		p.mu.Lock()
		p.stats.Polls++
		switch {
		case err != nil:
			p.errorCounter++
			p.idleCounter = 0
			p.stats.Errors++
		case n == 0:
			p.idleCounter++
			p.errorCounter = 0
			p.stats.Idle++
		default:
			p.idleCounter = 0
			p.errorCounter = 0
			p.stats.Messages += int64(n)
		}
		p.mu.Unlock()

		if err != nil {
			p.logger.Error("poll failed", zap.String(logger.FieldPollName, p.name), zap.Error(err))
			return
		}
		if n == 0 {
			if p.cfg.SendEmptyMessageWhenIdle && p.onIdle != nil {
				if err := p.onIdle(ctx); err != nil {
					p.logger.Error("idle handler failed", zap.String(logger.FieldPollName, p.name), zap.Error(err))
				}
			}
			return
		}
		if !p.cfg.Greedy || ctx.Err() != nil {
			return
		}
	}
}
