// Package presence keeps the bot shown as online while contacts are talking to it
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/matins/pkg/adapter"
	"github.com/m-mizutani/matins/pkg/utils/logging"
)

const DefaultIdle = time.Minute

// Tracker marks the bot available to a contact on every inbound message and
// unavailable once the contact has been quiet for the idle duration.
type Tracker struct {
	transport adapter.Transport
	idle      time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// New creates a Tracker. A non-positive idle uses DefaultIdle.
func New(transport adapter.Transport, idle time.Duration) *Tracker {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Tracker{
		transport: transport,
		idle:      idle,
		timers:    make(map[string]*time.Timer),
	}
}

// Touch sets the contact's presence to available and restarts its idle timer
func (t *Tracker) Touch(ctx context.Context, contactID string) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	timer, online := t.timers[contactID]
	if online {
		timer.Stop()
	}

	// the idle callback outlives the request that touched it
	idleCtx := context.WithoutCancel(ctx)
	var self *time.Timer
	self = time.AfterFunc(t.idle, func() {
		t.mu.Lock()
		if t.timers[contactID] != self {
			t.mu.Unlock()
			return
		}
		delete(t.timers, contactID)
		t.mu.Unlock()

		t.set(idleCtx, contactID, adapter.PresenceUnavailable)
	})
	t.timers[contactID] = self
	t.mu.Unlock()

	if !online {
		t.set(ctx, contactID, adapter.PresenceAvailable)
	}
}

// Online is the number of contacts currently shown as available
func (t *Tracker) Online() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Stop cancels every idle timer and marks all online contacts unavailable
func (t *Tracker) Stop(ctx context.Context) {
	t.mu.Lock()
	t.stopped = true
	ids := make([]string, 0, len(t.timers))
	for id, timer := range t.timers {
		timer.Stop()
		ids = append(ids, id)
	}
	clear(t.timers)
	t.mu.Unlock()

	for _, id := range ids {
		t.set(ctx, id, adapter.PresenceUnavailable)
	}
}

func (t *Tracker) set(ctx context.Context, contactID string, p adapter.Presence) {
	if err := t.transport.SetPresence(ctx, contactID, p); err != nil {
		logging.From(ctx).Warn("failed to update presence",
			"contact_id", contactID,
			"presence", p,
			"error", err,
		)
	}
}
