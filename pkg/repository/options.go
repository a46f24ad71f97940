package repository

import "time"

const (
	DefaultRetention    = 90 * 24 * time.Hour
	DefaultMessageLimit = 10
)

type options struct {
	guard        *Guard
	now          func() time.Time
	retention    time.Duration
	messageLimit int
}

func newOptions(opts []Option) *options {
	o := &options{
		now:          time.Now,
		retention:    DefaultRetention,
		messageLimit: DefaultMessageLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.guard == nil {
		o.guard = NewGuard()
	}
	return o
}

// Option configures History and Conversations
type Option func(*options)

// WithGuard shares a Guard between stores. Stores built without one get a
// private Guard.
func WithGuard(g *Guard) Option {
	return func(o *options) {
		o.guard = g
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithRetention sets how long send events are kept
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		o.retention = d
	}
}

// WithMessageLimit bounds the number of messages kept per conversation
func WithMessageLimit(n int) Option {
	return func(o *options) {
		o.messageLimit = n
	}
}
