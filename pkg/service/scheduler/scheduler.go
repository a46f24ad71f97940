// Package scheduler runs the daily broadcast and one-off retries
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/utils/logging"
)

// Job is work run by the scheduler
type Job func(ctx context.Context)

// Daily fires a job every day at a wall-clock time in a time zone. It also runs
// one-off jobs after a delay.
type Daily struct {
	hour   int
	minute int
	loc    *time.Location
	job    Job
	now    func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	timers  map[uint64]*time.Timer
	seq     uint64
	stopped bool
	running sync.WaitGroup
}

type Option func(*Daily)

func WithClock(now func() time.Time) Option {
	return func(d *Daily) {
		d.now = now
	}
}

// ParseClock parses "HH:MM" in 24-hour form
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, goerr.Wrap(err, "invalid time of day, expected HH:MM", goerr.V("value", s))
	}
	return t.Hour(), t.Minute(), nil
}

// NewDaily creates a scheduler firing job at "HH:MM" in loc
func NewDaily(at string, loc *time.Location, job Job, opts ...Option) (*Daily, error) {
	hour, minute, err := ParseClock(at)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}

	d := &Daily{
		hour:   hour,
		minute: minute,
		loc:    loc,
		job:    job,
		now:    time.Now,
		ctx:    context.Background(),
		timers: make(map[uint64]*time.Timer),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Daily) String() string {
	return fmt.Sprintf("%02d:%02d %s", d.hour, d.minute, d.loc)
}

// Next returns the first fire time strictly after from
func (d *Daily) Next(from time.Time) time.Time {
	local := from.In(d.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

// Start arms the daily timer. Jobs receive a context derived from ctx that is
// canceled by Stop.
func (d *Daily) Start(ctx context.Context) {
	d.mu.Lock()
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	d.armDaily()
}

func (d *Daily) armDaily() {
	now := d.now()
	next := d.Next(now)
	logging.From(d.context()).Info("next broadcast scheduled", "at", next)

	d.arm(next.Sub(now), func(ctx context.Context) {
		d.job(ctx)
		d.armDaily()
	})
}

// After runs job once after delay
func (d *Daily) After(delay time.Duration, job func(ctx context.Context)) {
	logging.From(d.context()).Info("one-off job scheduled", "in", delay)
	d.arm(delay, job)
}

func (d *Daily) context() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx
}

func (d *Daily) arm(delay time.Duration, job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	id := d.seq
	d.seq++
	d.timers[id] = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.stopped {
			d.mu.Unlock()
			return
		}
		delete(d.timers, id)
		ctx := d.ctx
		d.running.Add(1)
		d.mu.Unlock()

		defer d.running.Done()
		job(ctx)
	})
}

// Pending is the number of armed timers
func (d *Daily) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop cancels the daily timer and pending one-off jobs, then waits for running
// jobs to return
func (d *Daily) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for id, t := range d.timers {
		t.Stop()
		delete(d.timers, id)
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	d.running.Wait()
}
