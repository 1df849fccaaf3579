package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/pushdeck/internal/api"
	"github.com/tOgg1/pushdeck/internal/clock"
	"github.com/tOgg1/pushdeck/internal/logging"
)

// Backoff defaults.
const (
	DefaultBackoffBase = 7500 * time.Millisecond
	DefaultBackoffMax  = 120 * time.Second
)

// State is the reconnect controller state.
type State int

const (
	Idle State = iota
	Waiting
	Retrying
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Retrying:
		return "retrying"
	default:
		return "idle"
	}
}

// ReconnectOptions configures a Reconnector.
type ReconnectOptions struct {
	Clock        clock.Clock
	Base         time.Duration
	Max          time.Duration
	CheckTimeout time.Duration

	// Check verifies the session before a retry opens the channel.
	Check func(ctx context.Context) error

	// Connect asks the Manager to open the channel.
	Connect func()

	// OnAuthFailed runs once per retry cycle when Check reports the
	// session is not authenticated.
	OnAuthFailed func(err error)

	// OnScheduled observes every scheduled retry.
	OnScheduled func(attempt int, delay time.Duration)
}

// Reconnector schedules channel retries with capped exponential backoff.
// There is at most one armed retry timer.
type Reconnector struct {
	opts   ReconnectOptions
	logger zerolog.Logger

	mu           sync.Mutex
	state        State
	failures     int
	delay        time.Duration
	timer        clock.Timer
	gen          uint64
	cancel       context.CancelFunc
	authNotified bool
	closed       bool
}

// NewReconnector creates an idle controller.
func NewReconnector(opts ReconnectOptions) *Reconnector {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Base <= 0 {
		opts.Base = DefaultBackoffBase
	}
	if opts.Max < opts.Base {
		opts.Max = DefaultBackoffMax
		if opts.Max < opts.Base {
			opts.Max = opts.Base
		}
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 15 * time.Second
	}
	return &Reconnector{opts: opts, logger: logging.Component("reconnect")}
}

// Failure records a connection failure and arms the retry timer. The first
// failure since the last success waits Base; each further one doubles the
// delay up to Max. It returns the scheduled delay, or 0 once closed.
func (r *Reconnector) Failure() time.Duration {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	if r.failures == 0 {
		r.delay = r.opts.Base
	} else {
		r.delay *= 2
		if r.delay > r.opts.Max {
			r.delay = r.opts.Max
		}
	}
	r.failures++
	r.stopLocked()
	r.gen++
	gen := r.gen
	delay := r.delay
	attempt := r.failures
	r.state = Waiting
	r.timer = r.opts.Clock.AfterFunc(delay, func() { r.fire(gen) })
	r.mu.Unlock()

	r.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
	if r.opts.OnScheduled != nil {
		r.opts.OnScheduled(attempt, delay)
	}
	return delay
}

// Success resets the backoff and cancels any pending retry.
func (r *Reconnector) Success() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.gen++
	r.failures = 0
	r.delay = r.opts.Base
	r.authNotified = false
	r.state = Idle
}

// RetryNow runs the retry action immediately, as for a manual retry.
func (r *Reconnector) RetryNow() {
	r.mu.Lock()
	if r.closed || r.state == Retrying {
		r.mu.Unlock()
		return
	}
	r.stopLocked()
	r.gen++
	gen := r.gen
	r.authNotified = false
	r.mu.Unlock()

	go r.fire(gen)
}

// Stop cancels the pending retry and any running check. The controller
// can be used again afterwards.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.gen++
	r.failures = 0
	r.delay = 0
	r.state = Idle
}

// Close stops the controller for good; no timer fires afterwards.
func (r *Reconnector) Close() {
	r.Stop()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// State returns the controller state.
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Delay returns the most recently scheduled delay.
func (r *Reconnector) Delay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delay
}

// Failures returns the consecutive failures since the last success.
func (r *Reconnector) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// stopLocked must be called with mu held.
func (r *Reconnector) stopLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

func (r *Reconnector) fire(gen uint64) {
	r.mu.Lock()
	if r.closed || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.state = Retrying
	r.timer = nil
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.CheckTimeout)
	r.cancel = cancel
	r.mu.Unlock()

	var err error
	if r.opts.Check != nil {
		err = r.opts.Check(ctx)
	}
	cancel()

	r.mu.Lock()
	if r.closed || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.cancel = nil
	r.state = Idle

	switch {
	case err == nil:
		r.mu.Unlock()
		r.logger.Debug().Msg("session valid, reconnecting")
		if r.opts.Connect != nil {
			r.opts.Connect()
		}
	case errors.Is(err, api.ErrAuthRejected):
		notify := !r.authNotified
		r.authNotified = true
		r.mu.Unlock()
		r.logger.Warn().Err(err).Msg("reconnect failed, session not authenticated")
		if notify && r.opts.OnAuthFailed != nil {
			r.opts.OnAuthFailed(err)
		}
	default:
		r.mu.Unlock()
		r.logger.Debug().Err(err).Msg("session check failed")
		r.Failure()
	}
}
