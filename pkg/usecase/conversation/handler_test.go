package conversation_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/matins/pkg/adapter"
	"github.com/m-mizutani/matins/pkg/contact"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/repository"
	"github.com/m-mizutani/matins/pkg/usecase/conversation"
	"github.com/m-mizutani/matins/pkg/usecase/devotional"
	"github.com/m-mizutani/matins/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

type sent struct {
	to   string
	text string
}

type mockTransport struct {
	mu           sync.Mutex
	sendFunc     func(ctx context.Context, contactID, text string) error
	presenceFunc func(ctx context.Context, contactID string, presence adapter.Presence) error
	sent         []sent
	presence     []adapter.Presence
}

func (m *mockTransport) Ready(ctx context.Context) bool { return true }

func (m *mockTransport) SendText(ctx context.Context, contactID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendFunc != nil {
		if err := m.sendFunc(ctx, contactID, text); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, sent{to: contactID, text: text})
	return nil
}

func (m *mockTransport) SetPresence(ctx context.Context, contactID string, presence adapter.Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence = append(m.presence, presence)
	if m.presenceFunc != nil {
		return m.presenceFunc(ctx, contactID, presence)
	}
	return nil
}

type mockService struct {
	mu           sync.Mutex
	generateFunc func(ctx context.Context, req *devotional.Request) (string, error)
	requests     []*devotional.Request
}

func (m *mockService) Generate(ctx context.Context, req *devotional.Request) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return m.generateFunc(ctx, req)
}

type mockContacts struct {
	mu       sync.Mutex
	contacts []*model.Contact
	added    []*model.Contact
}

func (m *mockContacts) List(ctx context.Context) ([]*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Contact(nil), m.contacts...), nil
}

func (m *mockContacts) Add(ctx context.Context, c *model.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if contact.Find(m.contacts, c.ID) != nil {
		return nil
	}
	m.added = append(m.added, c)
	m.contacts = append(m.contacts, c)
	return nil
}

type mockPresence struct {
	mu      sync.Mutex
	touched []string
}

func (m *mockPresence) Touch(ctx context.Context, contactID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, contactID)
}

// recordHandler keeps every log record for assertions
type recordHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordHandler) find(level slog.Level, msg string) []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	var found []slog.Record
	for _, r := range h.records {
		if r.Level == level && r.Message == msg {
			found = append(found, r)
		}
	}
	return found
}

type staticKnowledge string

func (k staticKnowledge) Knowledge(ctx context.Context) (string, error) {
	return string(k), nil
}

type fixture struct {
	now           time.Time
	conversations *repository.Conversations
	history       *repository.History
	transport     *mockTransport
	service       *mockService
	contacts      *mockContacts
	presence      *mockPresence
	handler       *conversation.Handler
}

func newFixture(t *testing.T, opts ...conversation.Option) *fixture {
	dir := t.TempDir()
	f := &fixture{
		now:       time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC),
		transport: &mockTransport{},
		service: &mockService{
			generateFunc: func(ctx context.Context, req *devotional.Request) (string, error) {
				return "Graça é o favor imerecido de Deus.", nil
			},
		},
		contacts: &mockContacts{},
		presence: &mockPresence{},
	}
	clock := func() time.Time { return f.now }
	guard := repository.NewGuard()
	f.conversations = repository.NewConversations(filepath.Join(dir, "conversations"),
		repository.WithGuard(guard), repository.WithClock(clock))
	f.history = repository.NewHistory(filepath.Join(dir, "history.json"),
		repository.WithGuard(guard), repository.WithClock(clock))

	base := []conversation.Option{
		conversation.WithContacts(f.contacts),
		conversation.WithPresence(f.presence),
		conversation.WithKnowledge(staticKnowledge("Graça: favor imerecido.")),
		conversation.WithClock(clock),
	}
	f.handler = conversation.New(f.conversations, f.history, f.transport, f.service, append(base, opts...)...)
	return f
}

// knownContact makes id a returning contact who already received a devotional
func (f *fixture) knownContact(t *testing.T, id string) {
	ctx := context.Background()
	gt.NoError(t, f.conversations.RecordArtifact(ctx, id, "devocional de hoje (João 3:16)"))
	gt.NoError(t, f.conversations.AppendMessage(ctx, id, model.SenderBot, "devocional de hoje (João 3:16)"))
	f.contacts.contacts = append(f.contacts.contacts, &model.Contact{ID: id, Active: true})
}

func (f *fixture) inbound(id, text string) *model.InboundMessage {
	return &model.InboundMessage{
		ContactID:  id,
		Name:       "Maria",
		Kind:       model.MessageKindText,
		Text:       text,
		ReceivedAt: f.now.Add(-time.Minute),
	}
}

func TestHandleIgnoresGroupAndStaleMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	group := f.inbound("5511999990000", "bom dia a todos")
	group.Group = true
	gt.NoError(t, f.handler.Handle(ctx, group))

	stale := f.inbound("5511999990000", "bom dia")
	stale.ReceivedAt = f.now.Add(-11 * time.Minute)
	gt.NoError(t, f.handler.Handle(ctx, stale))

	gt.A(t, f.transport.sent).Length(0)
	gt.A(t, f.presence.touched).Length(0)
}

func TestHandleWelcomesNewContact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gt.NoError(t, f.history.Append(ctx, &model.SendEvent{Content: "17 de outubro de 2026\n\nDevocional do dia"}))

	gt.NoError(t, f.handler.Handle(ctx, f.inbound("5511999990000", "Oi, quero receber")))

	gt.A(t, f.transport.sent).Length(2)
	gt.Equal(t, f.transport.sent[0].text, conversation.DefaultReplies().Welcome)
	gt.Equal(t, f.transport.sent[1].text, "17 de outubro de 2026\n\nDevocional do dia")
	gt.A(t, f.service.requests).Length(0)

	gt.A(t, f.contacts.added).Length(1)
	gt.Equal(t, f.contacts.added[0].ID, "5511999990000")
	gt.Equal(t, f.contacts.added[0].Name, "Maria")
	gt.Equal(t, f.presence.touched, []string{"5511999990000"})

	conv, err := f.conversations.LoadOrCreate(ctx, "5511999990000")
	gt.NoError(t, err)
	gt.NotNil(t, conv.LastArtifact)
	gt.A(t, conv.Messages).Length(2)
	gt.Equal(t, conv.Messages[0].Sender, model.SenderUser)

	first, err := f.conversations.IsFirstInteraction(ctx, "5511999990000")
	gt.NoError(t, err)
	gt.False(t, first)
}

func TestHandleWelcomeUsesConversationArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gt.NoError(t, f.conversations.RecordArtifact(ctx, "5521988887777", "devocional enviado a outro contato"))

	gt.NoError(t, f.handler.Handle(ctx, f.inbound("5511999990000", "oi")))
	gt.A(t, f.transport.sent).Length(2)
	gt.Equal(t, f.transport.sent[1].text, "devocional enviado a outro contato")
}

func TestHandleNewContactWithoutDevotional(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gt.NoError(t, f.handler.Handle(ctx, f.inbound("5511999990000", "amém")))

	gt.A(t, f.transport.sent).Length(1)
	gt.True(t, slices.Contains(conversation.DefaultReplies().Blessings, f.transport.sent[0].text))
	gt.A(t, f.contacts.added).Length(1)
}

func TestHandleShortMessageGetsBlessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.knownContact(t, "5511999990000")

	gt.NoError(t, f.handler.Handle(ctx, f.inbound("5511999990000", "Amém 🙏")))

	gt.A(t, f.transport.sent).Length(1)
	gt.A(t, f.service.requests).Length(0)
	gt.A(t, f.contacts.added).Length(0)

	conv, err := f.conversations.LoadOrCreate(ctx, "5511999990000")
	gt.NoError(t, err)
	gt.A(t, conv.Messages).Length(3)
	gt.Equal(t, conv.Messages[1].Text, "Amém 🙏")
	gt.Equal(t, conv.Messages[2].Sender, model.SenderBot)
	gt.Equal(t, conv.Messages[2].Text, f.transport.sent[0].text)
}

func TestHandleQuestionGeneratesReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.knownContact(t, "5511999990000")

	gt.NoError(t, f.handler.Handle(ctx, f.inbound("5511999990000", "O que significa graça?")))

	gt.A(t, f.service.requests).Length(1)
	prompt := f.service.requests[0].Prompt
	gt.S(t, prompt).Contains("devocional de hoje (João 3:16)")
	gt.S(t, prompt).Contains(`"O que significa graça?"`)
	gt.S(t, prompt).Contains("Graça: favor imerecido.")
	gt.S(t, prompt).Contains("Pessoa: O que significa graça?")

	gt.A(t, f.transport.sent).Length(1)
	gt.Equal(t, f.transport.sent[0].text, "Graça é o favor imerecido de Deus.")
	gt.Equal(t, f.transport.presence, []adapter.Presence{adapter.PresenceComposing, adapter.PresencePaused})

	conv, err := f.conversations.LoadOrCreate(ctx, "5511999990000")
	gt.NoError(t, err)
	gt.Equal(t, conv.Messages[len(conv.Messages)-1].Text, "Graça é o favor imerecido de Deus.")
}

func TestHandleReplyFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.knownContact(t, "5511999990000")
	f.service.generateFunc = func(ctx context.Context, req *devotional.Request) (string, error) {
		return "", goerr.Wrap(model.ErrGenerationFailed, "quota")
	}

	gt.NoError(t, f.handler.Handle(ctx, f.inbound("5511999990000", "Como posso orar melhor pela minha família")))

	gt.A(t, f.transport.sent).Length(1)
	gt.Equal(t, f.transport.sent[0].text, conversation.DefaultReplies().Fallback)
}

func TestHandleAudio(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.knownContact(t, "5511999990000")

	msg := f.inbound("5511999990000", "")
	msg.Kind = model.MessageKindAudio
	gt.NoError(t, f.handler.Handle(ctx, msg))

	gt.A(t, f.transport.sent).Length(1)
	gt.True(t, slices.Contains(conversation.DefaultReplies().Audio, f.transport.sent[0].text))
	gt.A(t, f.service.requests).Length(0)
}

func TestHandleSendFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.knownContact(t, "5511999990000")
	attempts := 0
	f.transport.sendFunc = func(ctx context.Context, contactID, text string) error {
		attempts++
		return goerr.Wrap(model.ErrSendFailed, "gateway down")
	}

	err := f.handler.Handle(ctx, f.inbound("5511999990000", "obrigado"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrSendFailed))
	gt.Equal(t, attempts, 1)
}

func TestHandleInvalidContactSendsApology(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.handler.Handle(ctx, f.inbound("..", "oi"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrInvalidContactID))
	gt.A(t, f.transport.sent).Length(1)
	gt.Equal(t, f.transport.sent[0].text, conversation.DefaultReplies().Apology)
}

func TestHandleConcurrentFirstMessagesWelcomeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gt.NoError(t, f.history.Append(ctx, &model.SendEvent{Content: "Devocional do dia (Salmos 23:1)"}))

	var eg errgroup.Group
	for _, text := range []string{"oi", "bom dia"} {
		eg.Go(func() error {
			return f.handler.Handle(ctx, f.inbound("5511999990000", text))
		})
	}
	gt.NoError(t, eg.Wait())

	welcomes := 0
	devotionals := 0
	for _, s := range f.transport.sent {
		switch s.text {
		case conversation.DefaultReplies().Welcome:
			welcomes++
		case "Devocional do dia (Salmos 23:1)":
			devotionals++
		}
	}
	gt.Equal(t, welcomes, 1)
	gt.Equal(t, devotionals, 1)
	gt.A(t, f.transport.sent).Length(3)
	gt.A(t, f.contacts.added).Length(1)

	conv, err := f.conversations.LoadOrCreate(ctx, "5511999990000")
	gt.NoError(t, err)
	gt.NotNil(t, conv.LastArtifact)
	// welcome claim: user + welcome; the other message: user + blessing
	gt.A(t, conv.Messages).Length(4)
}

func TestHandlePresenceFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.knownContact(t, "5511999990000")
	f.transport.presenceFunc = func(ctx context.Context, contactID string, presence adapter.Presence) error {
		return goerr.New("gateway rejected presence")
	}

	rec := &recordHandler{}
	ctx := logging.With(context.Background(), slog.New(rec))

	gt.NoError(t, f.handler.Handle(ctx, f.inbound("5511999990000", "O que significa graça?")))

	gt.A(t, f.transport.sent).Length(1)
	gt.Equal(t, f.transport.sent[0].text, "Graça é o favor imerecido de Deus.")
	gt.A(t, rec.find(slog.LevelDebug, "failed to update presence")).Length(2)
}
