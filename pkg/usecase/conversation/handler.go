package conversation

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/adapter"
	"github.com/m-mizutani/matins/pkg/contact"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/repository"
	"github.com/m-mizutani/matins/pkg/usecase/devotional"
	"github.com/m-mizutani/matins/pkg/utils/logging"
)

//go:embed prompt/reply.md
var replyPromptRaw string

var replyPromptTmpl = template.Must(template.New("reply").Parse(replyPromptRaw))

const (
	DefaultMaxAge         = 10 * time.Minute
	DefaultKnowledgeLimit = 10000
	DefaultContextSize    = 5

	defaultContactName = "Novo Contato"
)

// Presence keeps the bot shown as online while a contact is talking to it
type Presence interface {
	Touch(ctx context.Context, contactID string)
}

// KnowledgeProvider returns the knowledge base text used in reply prompts
type KnowledgeProvider interface {
	Knowledge(ctx context.Context) (string, error)
}

// Handler answers inbound messages
type Handler struct {
	conversations *repository.Conversations
	history       *repository.History
	transport     adapter.Transport
	service       devotional.Service

	contacts       contact.Source
	presence       Presence
	knowledge      KnowledgeProvider
	replies        *Replies
	maxAge         time.Duration
	knowledgeLimit int
	contextSize    int
	typing         bool
	now            func() time.Time
}

type Option func(*Handler)

// WithContacts registers unknown senders in src
func WithContacts(src contact.Source) Option {
	return func(h *Handler) {
		h.contacts = src
	}
}

func WithPresence(p Presence) Option {
	return func(h *Handler) {
		h.presence = p
	}
}

func WithKnowledge(k KnowledgeProvider) Option {
	return func(h *Handler) {
		h.knowledge = k
	}
}

func WithReplies(r *Replies) Option {
	return func(h *Handler) {
		h.replies = r
	}
}

// WithMaxAge drops messages received longer ago than d
func WithMaxAge(d time.Duration) Option {
	return func(h *Handler) {
		h.maxAge = d
	}
}

func WithKnowledgeLimit(n int) Option {
	return func(h *Handler) {
		h.knowledgeLimit = n
	}
}

// WithTypingSimulation pauses before replies in proportion to their length
func WithTypingSimulation(enabled bool) Option {
	return func(h *Handler) {
		h.typing = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// New creates a Handler
func New(
	conversations *repository.Conversations,
	history *repository.History,
	transport adapter.Transport,
	service devotional.Service,
	opts ...Option,
) *Handler {
	h := &Handler{
		conversations:  conversations,
		history:        history,
		transport:      transport,
		service:        service,
		replies:        DefaultReplies(),
		maxAge:         DefaultMaxAge,
		knowledgeLimit: DefaultKnowledgeLimit,
		contextSize:    DefaultContextSize,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one inbound message. Group messages and stale messages are
// ignored. When processing fails before a reply was sent, an apology is sent.
func (h *Handler) Handle(ctx context.Context, msg *model.InboundMessage) error {
	ctx = logging.WithAttrs(ctx, "contact_id", msg.ContactID)
	logger := logging.From(ctx)

	if msg.Group {
		logger.Debug("ignore group message")
		return nil
	}
	if !msg.ReceivedAt.IsZero() && h.now().Sub(msg.ReceivedAt) > h.maxAge {
		logger.Info("ignore stale message", "received_at", msg.ReceivedAt)
		return nil
	}
	if strings.TrimSpace(msg.ContactID) == "" {
		return goerr.Wrap(model.ErrInvalidContactID, "inbound message has no contact id")
	}

	if h.presence != nil {
		h.presence.Touch(ctx, msg.ContactID)
	}

	err := h.handle(ctx, msg)
	if err != nil && !errors.Is(err, model.ErrSendFailed) {
		if sendErr := h.transport.SendText(ctx, msg.ContactID, h.replies.Apology); sendErr != nil {
			logger.Error("failed to send apology", "error", sendErr)
		}
	}
	return err
}

func (h *Handler) handle(ctx context.Context, msg *model.InboundMessage) error {
	first, err := h.conversations.IsFirstInteraction(ctx, msg.ContactID)
	if err != nil {
		return err
	}
	if first {
		welcomed, err := h.welcome(ctx, msg)
		if err != nil {
			return err
		}
		if welcomed {
			return nil
		}
	}

	switch msg.Kind {
	case model.MessageKindAudio:
		logging.From(ctx).Info("audio received, sending canned reply")
		return h.send(ctx, msg.ContactID, pick(h.replies.Audio), false)

	default:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			text = h.replies.Media
		}
		return h.reply(ctx, msg.ContactID, text)
	}
}

// errAlreadyWelcomed aborts the welcome claim when another message of the same
// contact got there first
var errAlreadyWelcomed = goerr.New("contact already welcomed")

// welcome greets a first-time contact with the latest devotional. It returns
// false when there is no devotional to share yet or when a concurrent message
// already claimed the welcome.
func (h *Handler) welcome(ctx context.Context, msg *model.InboundMessage) (bool, error) {
	logger := logging.From(ctx)
	logger.Info("first interaction detected")

	h.registerContact(ctx, msg)

	artifact, err := h.todaysArtifact(ctx)
	if err != nil {
		return false, err
	}
	if artifact == "" {
		logger.Warn("no devotional available for new contact")
		return false, nil
	}

	// the check and the record happen under the contact's lock, so only one of
	// several racing messages sends the welcome
	now := h.now()
	err = h.conversations.Update(ctx, msg.ContactID, func(conv *model.Conversation) error {
		if len(conv.Messages) > 0 && conv.LastArtifact != nil {
			return errAlreadyWelcomed
		}
		conv.LastArtifact = &model.Artifact{SentAt: now, Content: artifact}
		if text := strings.TrimSpace(msg.Text); text != "" {
			conv.Messages = append(conv.Messages, &model.Message{Timestamp: now, Sender: model.SenderUser, Text: text})
		}
		conv.Messages = append(conv.Messages, &model.Message{Timestamp: now, Sender: model.SenderBot, Text: h.replies.Welcome})
		return nil
	})
	if errors.Is(err, errAlreadyWelcomed) {
		logger.Info("contact was welcomed by a concurrent message")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := h.transport.SendText(ctx, msg.ContactID, h.replies.Welcome); err != nil {
		return false, err
	}
	if err := h.transport.SendText(ctx, msg.ContactID, artifact); err != nil {
		return false, err
	}

	logger.Info("devotional sent to new contact")
	return true, nil
}

func (h *Handler) registerContact(ctx context.Context, msg *model.InboundMessage) {
	if h.contacts == nil {
		return
	}
	logger := logging.From(ctx)

	contacts, err := h.contacts.List(ctx)
	if err != nil {
		logger.Warn("failed to list contacts", "error", err)
		return
	}
	if contact.Find(contacts, msg.ContactID) != nil {
		return
	}

	name := strings.TrimSpace(msg.Name)
	if name == "" {
		name = defaultContactName
	}
	if err := h.contacts.Add(ctx, &model.Contact{ID: msg.ContactID, Name: name, Active: true}); err != nil {
		logger.Warn("failed to add new contact", "error", err)
	}
}

// todaysArtifact returns the devotional of the latest broadcast, or the latest
// devotional any contact received when history has none
func (h *Handler) todaysArtifact(ctx context.Context) (string, error) {
	ev, err := h.history.Latest(ctx)
	if err != nil {
		return "", err
	}
	if ev != nil && ev.Content != "" {
		return ev.Content, nil
	}

	artifact, err := h.conversations.LatestArtifact(ctx)
	if err != nil {
		return "", err
	}
	if artifact == nil {
		return "", nil
	}
	return artifact.Content, nil
}

func (h *Handler) reply(ctx context.Context, contactID, text string) error {
	if err := h.conversations.AppendMessage(ctx, contactID, model.SenderUser, text); err != nil {
		return err
	}

	if !needsReply(text) {
		return h.send(ctx, contactID, pick(h.replies.Blessings), true)
	}

	answer, err := h.generateReply(ctx, contactID, text)
	if err != nil {
		logging.From(ctx).Warn("reply generation failed, using fallback", "error", err)
		answer = h.replies.Fallback
	}

	h.setPresence(ctx, contactID, adapter.PresenceComposing)
	h.pause(ctx, answer)
	h.setPresence(ctx, contactID, adapter.PresencePaused)

	return h.send(ctx, contactID, answer, true)
}

type promptLine struct {
	Speaker string
	Text    string
}

func (h *Handler) generateReply(ctx context.Context, contactID, text string) (string, error) {
	conv, err := h.conversations.LoadOrCreate(ctx, contactID)
	if err != nil {
		return "", err
	}

	var lines []promptLine
	for _, m := range conv.Recent(h.contextSize) {
		speaker := "Pessoa"
		if m.Sender == model.SenderBot {
			speaker = "Conselheiro"
		}
		lines = append(lines, promptLine{Speaker: speaker, Text: m.Text})
	}

	artifact := ""
	if conv.LastArtifact != nil {
		artifact = conv.LastArtifact.Content
	}

	knowledge := ""
	if h.knowledge != nil {
		k, err := h.knowledge.Knowledge(ctx)
		if err != nil {
			logging.From(ctx).Warn("knowledge base unavailable", "error", err)
		}
		knowledge = devotional.TruncateRunes(k, h.knowledgeLimit)
	}

	var buf bytes.Buffer
	if err := replyPromptTmpl.Execute(&buf, map[string]any{
		"Artifact":  artifact,
		"History":   lines,
		"Message":   text,
		"Knowledge": knowledge,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute reply prompt template")
	}

	return h.service.Generate(ctx, &devotional.Request{Prompt: buf.String()})
}

func (h *Handler) setPresence(ctx context.Context, contactID string, p adapter.Presence) {
	if err := h.transport.SetPresence(ctx, contactID, p); err != nil {
		logging.From(ctx).Debug("failed to update presence", "presence", p, "error", err)
	}
}

// send delivers text and optionally records it as a bot message
func (h *Handler) send(ctx context.Context, contactID, text string, record bool) error {
	if err := h.transport.SendText(ctx, contactID, text); err != nil {
		return err
	}
	if !record {
		return nil
	}
	if err := h.conversations.AppendMessage(ctx, contactID, model.SenderBot, text); err != nil {
		logging.From(ctx).Warn("reply sent but not recorded", "error", err)
	}
	return nil
}

// pause simulates typing: about five runes per second, between two and eight
// seconds
func (h *Handler) pause(ctx context.Context, text string) {
	if !h.typing {
		return
	}
	d := time.Duration(utf8.RuneCountInString(text)) * time.Second / 5
	d = min(max(d, 2*time.Second), 8*time.Second)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
