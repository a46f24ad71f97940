package model

import (
	"time"

	"github.com/google/uuid"
)

type EventID string

// NewEventID generates a new unique EventID
func NewEventID() EventID {
	return EventID(uuid.New().String())
}

// SendEvent records one broadcast of an artifact to the contact list. Events are
// append-only and kept in chronological order.
type SendEvent struct {
	ID           EventID    `json:"id,omitempty"`
	Date         string     `json:"date"`
	Content      string     `json:"content"`
	Reference    *Reference `json:"reference"`
	TotalTargets int        `json:"totalTargets"`
	SuccessCount int        `json:"successCount"`
	OccurredAt   time.Time  `json:"occurredAt"`
}

// History is the persisted form of the send-event log
type History struct {
	LastUpdated time.Time    `json:"lastUpdated"`
	Events      []*SendEvent `json:"events"`
}

// NewHistory returns an empty, well-formed history stamped with now
func NewHistory(now time.Time) *History {
	return &History{
		LastUpdated: now,
		Events:      []*SendEvent{},
	}
}

// Prune drops events that occurred before cutoff and returns how many were removed.
// Relative order of the remaining events is preserved.
func (h *History) Prune(cutoff time.Time) int {
	kept := make([]*SendEvent, 0, len(h.Events))
	for _, ev := range h.Events {
		if ev == nil || ev.OccurredAt.Before(cutoff) {
			continue
		}
		kept = append(kept, ev)
	}
	removed := len(h.Events) - len(kept)
	h.Events = kept
	return removed
}

// Last returns the most recent event or nil when the history is empty
func (h *History) Last() *SendEvent {
	if len(h.Events) == 0 {
		return nil
	}
	return h.Events[len(h.Events)-1]
}
