// Package retrier provides exponential backoff with jitter, either driving a
// retried call (Retrier) or pacing a hand-written loop (Backoff).
package retrier

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultInitialInterval = 1 * time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 5
	defaultJitter          = 0.1
)

type policy struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	jitter          float64
	retryIf         func(error) bool
}

// Retrier implements exponential backoff with jitter.
type Retrier struct {
	policy
}

// Option defines a function to configure the Retrier or Backoff.
type Option func(*policy)

// WithInitialInterval sets the initial retry interval.
func WithInitialInterval(d time.Duration) Option {
	return func(p *policy) {
		p.initialInterval = d
	}
}

// WithMaxInterval sets the maximum retry interval.
func WithMaxInterval(d time.Duration) Option {
	return func(p *policy) {
		p.maxInterval = d
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(p *policy) {
		p.multiplier = m
	}
}

// WithMaxRetries sets the maximum number of retries.
func WithMaxRetries(n int) Option {
	return func(p *policy) {
		p.maxRetries = n
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(p *policy) {
		p.jitter = j
	}
}

// WithRetryIf limits retries to errors accepted by fn. Other errors are
// returned immediately.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *policy) {
		p.retryIf = fn
	}
}

func newPolicy(opts []Option) policy {
	p := policy{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if p.multiplier < 1 {
		p.multiplier = 1
	}
	return p
}

func (p policy) jittered(interval time.Duration) time.Duration {
	jitter := (rand.Float64()*2 - 1) * p.jitter * float64(interval)
	d := time.Duration(float64(interval) + jitter)
	if d < 0 {
		return 0
	}
	return d
}

func (p policy) grow(interval time.Duration) time.Duration {
	interval = time.Duration(float64(interval) * p.multiplier)
	if interval > p.maxInterval {
		interval = p.maxInterval
	}
	return interval
}

// New creates a new Retrier with default values and optional overrides.
func New(opts ...Option) *Retrier {
	return &Retrier{policy: newPolicy(opts)}
}

// Do executes the given function with retries.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	interval := r.initialInterval

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if werr := sleep(ctx, r.jittered(interval)); werr != nil {
				return werr
			}
			interval = r.grow(interval)
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if r.retryIf != nil && !r.retryIf(err) {
			return err
		}
	}

	return err
}

// DoWithData executes the given function with retries and returns a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}

// Backoff paces an unbounded loop: every Next call returns a longer delay
// (capped at the max interval) until Reset. Not safe for concurrent use.
type Backoff struct {
	policy
	next time.Duration
}

// NewBackoff creates a Backoff. Max retries and retry filters are ignored.
func NewBackoff(opts ...Option) *Backoff {
	p := newPolicy(opts)
	return &Backoff{policy: p, next: p.initialInterval}
}

// Next returns the delay to wait now and advances the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.jittered(b.next)
	b.next = b.grow(b.next)
	return d
}

// Reset restarts the sequence from the initial interval.
func (b *Backoff) Reset() {
	b.next = b.initialInterval
}

// Wait sleeps for Next() or until ctx is done.
func (b *Backoff) Wait(ctx context.Context) error {
	return sleep(ctx, b.Next())
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
