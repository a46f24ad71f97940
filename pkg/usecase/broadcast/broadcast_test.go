package broadcast_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/matins/pkg/adapter"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/repository"
	"github.com/m-mizutani/matins/pkg/usecase/broadcast"
	"github.com/m-mizutani/matins/pkg/usecase/devotional"
	"golang.org/x/sync/errgroup"
)

type mockTransport struct {
	mu       sync.Mutex
	ready    bool
	sendFunc func(contactID, text string) error
	sent     map[string][]string
}

func (m *mockTransport) Ready(ctx context.Context) bool { return m.ready }

func (m *mockTransport) SendText(ctx context.Context, contactID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendFunc != nil {
		if err := m.sendFunc(contactID, text); err != nil {
			return err
		}
	}
	if m.sent == nil {
		m.sent = map[string][]string{}
	}
	m.sent[contactID] = append(m.sent[contactID], text)
	return nil
}

func (m *mockTransport) SetPresence(ctx context.Context, contactID string, presence adapter.Presence) error {
	return nil
}

type mockService struct {
	generateFunc func(ctx context.Context, req *devotional.Request) (string, error)
}

func (m *mockService) Generate(ctx context.Context, req *devotional.Request) (string, error) {
	return m.generateFunc(ctx, req)
}

type mockContacts struct {
	contacts []*model.Contact
}

func (m *mockContacts) List(ctx context.Context) ([]*model.Contact, error) {
	return m.contacts, nil
}

func (m *mockContacts) Add(ctx context.Context, c *model.Contact) error {
	m.contacts = append(m.contacts, c)
	return nil
}

type mockScheduler struct {
	delays []time.Duration
	jobs   []func(ctx context.Context)
}

func (m *mockScheduler) After(d time.Duration, job func(ctx context.Context)) {
	m.delays = append(m.delays, d)
	m.jobs = append(m.jobs, job)
}

const devotionalText = "17 de outubro de 2026\n\n✝️ *Versículo:* \"Alegrai-vos sempre no Senhor; outra vez digo, alegrai-vos.\" (Filipenses 4:4)\n\n💭 *Reflexão:* A alegria do Senhor é a nossa força."

type fixture struct {
	now           time.Time
	history       *repository.History
	conversations *repository.Conversations
	transport     *mockTransport
	contacts      *mockContacts
	scheduler     *mockScheduler
	service       *mockService
	broadcaster   *broadcast.Broadcaster
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	f := &fixture{
		now:       time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC),
		transport: &mockTransport{ready: true},
		contacts: &mockContacts{contacts: []*model.Contact{
			{ID: "5511999990000", Name: "Maria", Active: true},
			{ID: "5521988887777", Name: "João", Active: false},
			{ID: "5531977776666", Name: "Ana", Active: true},
		}},
		scheduler: &mockScheduler{},
		service: &mockService{
			generateFunc: func(ctx context.Context, req *devotional.Request) (string, error) {
				return devotionalText, nil
			},
		},
	}
	clock := func() time.Time { return f.now }
	guard := repository.NewGuard()
	f.history = repository.NewHistory(filepath.Join(dir, "history.json"), repository.WithGuard(guard), repository.WithClock(clock))
	f.conversations = repository.NewConversations(filepath.Join(dir, "conversations"), repository.WithGuard(guard), repository.WithClock(clock))

	gen := devotional.NewGenerator(f.history, f.service)
	loc, err := time.LoadLocation("America/Sao_Paulo")
	gt.NoError(t, err)
	f.broadcaster = broadcast.New(gen, f.history, f.conversations, f.contacts, f.transport,
		broadcast.WithRescheduler(f.scheduler),
		broadcast.WithLocation(loc),
		broadcast.WithClock(clock),
	)
	return f
}

func TestRunSendsToActiveContacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.broadcaster.Run(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.Date, "17 de outubro de 2026")
	gt.Equal(t, report.TotalTargets, 2)
	gt.Equal(t, report.SuccessCount, 2)
	gt.False(t, report.Fallback)
	gt.Equal(t, report.Reference.Citation, "Filipenses 4:4")

	gt.A(t, f.transport.sent["5511999990000"]).Length(1)
	gt.A(t, f.transport.sent["5531977776666"]).Length(1)
	gt.A(t, f.transport.sent["5521988887777"]).Length(0)

	events, err := f.history.Events(ctx)
	gt.NoError(t, err)
	gt.A(t, events).Length(1)
	gt.Equal(t, events[0].Date, "17 de outubro de 2026")
	gt.Equal(t, events[0].TotalTargets, 2)
	gt.Equal(t, events[0].SuccessCount, 2)
	gt.Equal(t, events[0].Reference.Citation, "Filipenses 4:4")

	for _, id := range []string{"5511999990000", "5531977776666"} {
		conv, err := f.conversations.LoadOrCreate(ctx, id)
		gt.NoError(t, err)
		gt.NotNil(t, conv.LastArtifact)
		gt.Equal(t, conv.LastArtifact.Content, devotionalText)
	}
}

func TestRunCountsFailedSends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.transport.sendFunc = func(contactID, text string) error {
		if contactID == "5531977776666" {
			return goerr.Wrap(model.ErrSendFailed, "blocked")
		}
		return nil
	}

	report, err := f.broadcaster.Run(ctx)
	gt.NoError(t, err)
	gt.Equal(t, report.SuccessCount, 1)
	gt.Equal(t, report.Failed, []string{"5531977776666"})

	first, err := f.conversations.IsFirstInteraction(ctx, "5531977776666")
	gt.NoError(t, err)
	gt.True(t, first)

	latest, err := f.history.Latest(ctx)
	gt.NoError(t, err)
	gt.Equal(t, latest.SuccessCount, 1)
	gt.Equal(t, latest.TotalTargets, 2)
}

func TestRunNotReadyReschedules(t *testing.T) {
	f := newFixture(t)
	f.transport.ready = false
	ctx := context.Background()

	_, err := f.broadcaster.Run(ctx)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrTransportNotReady))
	gt.Equal(t, f.scheduler.delays, []time.Duration{5 * time.Minute})

	events, err := f.history.Events(ctx)
	gt.NoError(t, err)
	gt.A(t, events).Length(0)

	// the rescheduled job completes once the transport is up
	f.transport.ready = true
	f.scheduler.jobs[0](ctx)

	events, err = f.history.Events(ctx)
	gt.NoError(t, err)
	gt.A(t, events).Length(1)
}

func TestRunSecondCycleAvoidsRecentCitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.broadcaster.Run(ctx)
	gt.NoError(t, err)

	f.now = f.now.Add(24 * time.Hour)
	report, err := f.broadcaster.Run(ctx)
	gt.NoError(t, err)
	gt.True(t, report.Fallback)
	gt.V(t, report.Reference.Citation).NotEqual("Filipenses 4:4")

	events, err := f.history.Events(ctx)
	gt.NoError(t, err)
	gt.A(t, events).Length(2)
	gt.Equal(t, events[1].Date, "18 de outubro de 2026")
}

func TestBroadcastAndInboundDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var eg errgroup.Group
	eg.Go(func() error {
		_, err := f.broadcaster.Run(ctx)
		return err
	})
	for i := 0; i < 5; i++ {
		eg.Go(func() error {
			return f.conversations.AppendMessage(ctx, "5511999990000", model.SenderUser, "amém")
		})
	}
	gt.NoError(t, eg.Wait())

	conv, err := f.conversations.LoadOrCreate(ctx, "5511999990000")
	gt.NoError(t, err)
	gt.NotNil(t, conv.LastArtifact)
	gt.A(t, conv.Messages).Length(5)
}
