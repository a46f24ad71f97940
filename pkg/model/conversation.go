package model

import (
	"time"

	"github.com/m-mizutani/goerr/v2"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Validate checks if the sender is valid
func (s Sender) Validate() error {
	switch s {
	case SenderUser, SenderBot:
		return nil
	default:
		return goerr.New("invalid sender", goerr.V("sender", s))
	}
}

type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
}

// Artifact is the last devotional delivered to a contact
type Artifact struct {
	SentAt  time.Time `json:"sentAt"`
	Content string    `json:"content"`
}

// Conversation is the persisted conversational state for one contact
type Conversation struct {
	ContactID    string     `json:"contactId"`
	LastUpdated  time.Time  `json:"lastUpdated"`
	LastArtifact *Artifact  `json:"lastArtifact"`
	Messages     []*Message `json:"messages"`
}

// NewConversation returns an empty conversation for contactID
func NewConversation(contactID string, now time.Time) *Conversation {
	return &Conversation{
		ContactID:   contactID,
		LastUpdated: now,
		Messages:    []*Message{},
	}
}

// Append adds msg and drops the oldest messages so at most limit remain.
// A non-positive limit keeps every message.
func (c *Conversation) Append(msg *Message, limit int) {
	c.Messages = append(c.Messages, msg)
	c.Trim(limit)
}

// Trim drops the oldest messages beyond limit
func (c *Conversation) Trim(limit int) {
	if limit <= 0 || len(c.Messages) <= limit {
		return
	}
	c.Messages = append([]*Message(nil), c.Messages[len(c.Messages)-limit:]...)
}

// Recent returns up to n of the newest messages in chronological order
func (c *Conversation) Recent(n int) []*Message {
	if n <= 0 || n >= len(c.Messages) {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}
