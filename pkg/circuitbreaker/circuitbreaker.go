package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker trips after more than maxFailures failures inside window and
// rejects calls with ErrOpen until cooldown has passed. The first call after
// that is a probe: success closes the breaker, failure opens it again.
type Breaker struct {
	name        string
	maxFailures int
	window      time.Duration
	cooldown    time.Duration
	now         func() time.Time
	onChange    func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures []time.Time
	openedAt time.Time
	probing  bool
}

type Option func(*Breaker)

func WithWindow(window time.Duration) Option {
	return func(b *Breaker) {
		b.window = window
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		b.now = now
	}
}

// WithStateChange registers a hook run on every transition, under the lock.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

func New(name string, maxFailures int, cooldown time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: maxFailures,
		window:      60 * time.Second,
		cooldown:    cooldown,
		now:         time.Now,
		state:       StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) Name() string { return b.name }

// Do runs fn unless the breaker is open. A failure after the caller's ctx is
// done is not counted; timeouts inside fn are.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		b.release()
		return err
	}
	b.record(err)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.probing = false

	if err == nil {
		b.trim(now)
		if b.state == StateHalfOpen {
			b.failures = b.failures[:0]
			b.setState(StateClosed)
		}
		return
	}

	b.failures = append(b.failures, now)
	b.trim(now)
	if b.state == StateHalfOpen || len(b.failures) > b.maxFailures {
		b.openedAt = now
		b.setState(StateOpen)
	}
}

// trim drops failures older than the window.
func (b *Breaker) trim(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.failures) && !b.failures[i].After(cutoff) {
		i++
	}
	b.failures = b.failures[i:]
}

func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
