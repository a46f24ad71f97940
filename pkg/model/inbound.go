package model

import "time"

type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindAudio MessageKind = "audio"
	MessageKindMedia MessageKind = "media"
)

// InboundMessage is a message received from a contact through the transport
type InboundMessage struct {
	ContactID  string      `json:"contact_id"`
	Name       string      `json:"name,omitempty"`
	Kind       MessageKind `json:"kind"`
	Text       string      `json:"text"`
	ReceivedAt time.Time   `json:"received_at"`
	Group      bool        `json:"group,omitempty"`
}
