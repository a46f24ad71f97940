package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/adapter"
	"github.com/m-mizutani/matins/pkg/contact"
	"github.com/m-mizutani/matins/pkg/locale"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/repository"
	"github.com/m-mizutani/matins/pkg/usecase/devotional"
	"github.com/m-mizutani/matins/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

const DefaultRetryDelay = 5 * time.Minute

// Rescheduler runs job once after d
type Rescheduler interface {
	After(d time.Duration, job func(ctx context.Context))
}

// Report summarizes one broadcast cycle
type Report struct {
	RunID        string
	Date         string
	Content      string
	Reference    *model.Reference
	Fallback     bool
	TotalTargets int
	SuccessCount int
	Failed       []string
}

// Broadcaster sends the daily devotional to every active contact
type Broadcaster struct {
	generator     *devotional.Generator
	history       *repository.History
	conversations *repository.Conversations
	contacts      contact.Source
	transport     adapter.Transport

	formatter   locale.Formatter
	scheduler   Rescheduler
	retryDelay  time.Duration
	location    *time.Location
	concurrency int
	now         func() time.Time
}

type Option func(*Broadcaster)

func WithFormatter(f locale.Formatter) Option {
	return func(b *Broadcaster) {
		b.formatter = f
	}
}

// WithRescheduler lets a not-ready cycle run again after the retry delay
func WithRescheduler(s Rescheduler) Option {
	return func(b *Broadcaster) {
		b.scheduler = s
	}
}

func WithRetryDelay(d time.Duration) Option {
	return func(b *Broadcaster) {
		b.retryDelay = d
	}
}

// WithLocation sets the time zone used for the date label
func WithLocation(loc *time.Location) Option {
	return func(b *Broadcaster) {
		b.location = loc
	}
}

// WithConcurrency bounds concurrent artifact bookkeeping
func WithConcurrency(n int) Option {
	return func(b *Broadcaster) {
		b.concurrency = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) {
		b.now = now
	}
}

func New(
	generator *devotional.Generator,
	history *repository.History,
	conversations *repository.Conversations,
	contacts contact.Source,
	transport adapter.Transport,
	opts ...Option,
) *Broadcaster {
	b := &Broadcaster{
		generator:     generator,
		history:       history,
		conversations: conversations,
		contacts:      contacts,
		transport:     transport,
		formatter:     locale.Default(),
		retryDelay:    DefaultRetryDelay,
		location:      time.Local,
		concurrency:   8,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DateLabel is today's human date in the configured locale and zone
func (b *Broadcaster) DateLabel() string {
	return b.formatter.Date(b.now().In(b.location))
}

// Run executes one broadcast cycle. When the transport is not ready it asks the
// rescheduler for another run after the retry delay and returns
// model.ErrTransportNotReady. Exactly one send event is appended per completed
// cycle.
func (b *Broadcaster) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	ctx = logging.WithAttrs(ctx, "run_id", runID)
	logger := logging.From(ctx)

	if !b.transport.Ready(ctx) {
		logger.Warn("transport not ready, broadcast postponed", "retry_in", b.retryDelay)
		if b.scheduler != nil {
			b.scheduler.After(b.retryDelay, b.retryJob)
		}
		return nil, goerr.Wrap(model.ErrTransportNotReady, "broadcast skipped", goerr.V("run_id", runID))
	}

	date := b.DateLabel()
	result, err := b.generator.Generate(ctx, date)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate devotional", goerr.V("run_id", runID))
	}

	contacts, err := b.contacts.List(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list contacts", goerr.V("run_id", runID))
	}
	targets := model.ActiveContacts(contacts)

	report := &Report{
		RunID:        runID,
		Date:         date,
		Content:      result.Content,
		Reference:    result.Reference,
		Fallback:     result.Fallback,
		TotalTargets: len(targets),
	}

	// Sends are sequential. Artifact bookkeeping only touches the recipient's
	// own file and runs concurrently.
	var eg errgroup.Group
	eg.SetLimit(b.concurrency)
	for _, c := range targets {
		if err := b.transport.SendText(ctx, c.ID, result.Content); err != nil {
			logger.Warn("failed to send devotional", "contact_id", c.ID, "error", err)
			report.Failed = append(report.Failed, c.ID)
			continue
		}
		report.SuccessCount++

		eg.Go(func() error {
			if err := b.conversations.RecordArtifact(ctx, c.ID, result.Content); err != nil {
				logger.Warn("failed to record artifact", "contact_id", c.ID, "error", err)
			}
			return nil
		})
	}
	_ = eg.Wait()

	if err := b.history.Append(ctx, &model.SendEvent{
		Date:         date,
		Content:      result.Content,
		Reference:    result.Reference,
		TotalTargets: report.TotalTargets,
		SuccessCount: report.SuccessCount,
	}); err != nil {
		return report, goerr.Wrap(err, "failed to record send event", goerr.V("run_id", runID))
	}

	logger.Info("broadcast completed",
		"date", date,
		"targets", report.TotalTargets,
		"success", report.SuccessCount,
		"fallback", report.Fallback,
	)
	return report, nil
}

func (b *Broadcaster) retryJob(ctx context.Context) {
	if _, err := b.Run(ctx); err != nil {
		logging.From(ctx).Warn("retried broadcast did not complete", "error", err)
	}
}
