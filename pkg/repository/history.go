package repository

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/citation"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/utils/logging"
)

const historyKey = "history"

// History is the file-backed, append-only log of send events
type History struct {
	path string
	opts *options
}

// NewHistory creates a History persisted at path
func NewHistory(path string, opts ...Option) *History {
	return &History{
		path: path,
		opts: newOptions(opts),
	}
}

// Path returns the history file path
func (h *History) Path() string {
	return h.path
}

// loadStatus describes what load had to do to produce a well-formed history
type loadStatus struct {
	created    bool
	migrated   bool
	healed     bool
	backupPath string
}

// Load reads the history file. A missing file is initialized and persisted; a
// malformed file is backed up and replaced with an empty history.
func (h *History) Load(ctx context.Context) (*model.History, error) {
	unlock, err := h.opts.guard.Lock(ctx, historyKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	hist, _, err := h.load(ctx)
	return hist, err
}

func (h *History) load(ctx context.Context) (*model.History, *loadStatus, error) {
	now := h.opts.now()
	status := &loadStatus{}

	data, exists, err := readFile(h.path)
	if err != nil {
		return nil, nil, err
	}

	if !exists || isBlank(data) {
		hist := model.NewHistory(now)
		if err := writeJSONAtomic(h.path, hist); err != nil {
			return nil, nil, goerr.Wrap(err, "failed to initialize history file")
		}
		status.created = true
		logging.From(ctx).Info("history file initialized", "path", h.path)
		return hist, status, nil
	}

	hist, migrated, err := decodeHistory(data, now)
	if err != nil {
		backup, bErr := backupFile(h.path, data, now)
		if bErr != nil {
			return nil, nil, goerr.Wrap(bErr, "failed to back up corrupted history")
		}

		hist = model.NewHistory(now)
		if err := writeJSONAtomic(h.path, hist); err != nil {
			return nil, nil, goerr.Wrap(err, "failed to reinitialize history file")
		}

		status.healed = true
		status.backupPath = backup
		logging.From(ctx).Warn("history file was corrupted, backed up and reinitialized",
			"path", h.path,
			"backup", backup,
			"error", err,
		)
		return hist, status, nil
	}

	if migrated || healHistory(hist, now) {
		if err := writeJSONAtomic(h.path, hist); err != nil {
			return nil, nil, goerr.Wrap(err, "failed to rewrite history file")
		}
		status.migrated = migrated
		status.healed = !migrated
		logging.From(ctx).Info("history file normalized", "path", h.path, "migrated", migrated)
	}

	return hist, status, nil
}

// decodeHistory parses the current format and the legacy top-level array format
func decodeHistory(data []byte, now time.Time) (*model.History, bool, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, goerr.Wrap(model.ErrStorageCorruption, "history is not valid json", goerr.V("error", err.Error()))
	}

	if len(raw) > 0 && raw[0] == '[' {
		hist, err := migrateLegacy(raw, now)
		if err != nil {
			return nil, false, err
		}
		return hist, true, nil
	}

	if len(raw) == 0 || raw[0] != '{' {
		return nil, false, goerr.Wrap(model.ErrStorageCorruption, "history is not a json object")
	}

	var hist model.History
	if err := json.Unmarshal(raw, &hist); err != nil {
		return nil, false, goerr.Wrap(model.ErrStorageCorruption, "history has unexpected shape", goerr.V("error", err.Error()))
	}
	return &hist, false, nil
}

type legacyEntry struct {
	Date  string `json:"date"`
	Verse string `json:"verse"`
}

func migrateLegacy(raw json.RawMessage, now time.Time) (*model.History, error) {
	var entries []legacyEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, goerr.Wrap(model.ErrStorageCorruption, "legacy history has unexpected shape", goerr.V("error", err.Error()))
	}

	extractor := citation.NewExtractor()
	hist := model.NewHistory(now)
	for _, entry := range entries {
		hist.Events = append(hist.Events, &model.SendEvent{
			ID:         model.NewEventID(),
			Date:       entry.Date,
			Content:    entry.Verse,
			Reference:  extractor.Extract(entry.Verse),
			OccurredAt: parseLegacyDate(entry.Date, now),
		})
	}
	healHistory(hist, now)
	return hist, nil
}

func parseLegacyDate(s string, fallback time.Time) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

// healHistory repairs structural defects in place and reports whether it changed
// anything: nil slices and entries, missing timestamps, out-of-order events.
func healHistory(hist *model.History, now time.Time) bool {
	changed := false
	if hist.LastUpdated.IsZero() {
		hist.LastUpdated = now
		changed = true
	}
	if hist.Events == nil {
		hist.Events = []*model.SendEvent{}
		changed = true
	}

	events := make([]*model.SendEvent, 0, len(hist.Events))
	var last time.Time
	for _, ev := range hist.Events {
		if ev == nil {
			changed = true
			continue
		}
		switch {
		case ev.OccurredAt.IsZero() && last.IsZero():
			ev.OccurredAt = hist.LastUpdated
			changed = true
		case ev.OccurredAt.IsZero(), ev.OccurredAt.Before(last):
			ev.OccurredAt = last
			changed = true
		}
		last = ev.OccurredAt
		events = append(events, ev)
	}
	hist.Events = events
	return changed
}

// Append records ev, prunes events beyond the retention window and persists the
// result atomically. On failure the previously persisted file is left intact.
func (h *History) Append(ctx context.Context, ev *model.SendEvent) error {
	if ev == nil {
		return goerr.New("send event is nil")
	}

	unlock, err := h.opts.guard.Lock(ctx, historyKey)
	if err != nil {
		return err
	}
	defer unlock()

	hist, _, err := h.load(ctx)
	if err != nil {
		return err
	}

	now := h.opts.now()
	if ev.ID == "" {
		ev.ID = model.NewEventID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}
	if last := hist.Last(); last != nil && ev.OccurredAt.Before(last.OccurredAt) {
		ev.OccurredAt = last.OccurredAt
	}

	hist.Events = append(hist.Events, ev)
	removed := hist.Prune(now.Add(-h.opts.retention))
	hist.LastUpdated = now

	if err := writeJSONAtomic(h.path, hist); err != nil {
		return goerr.Wrap(err, "failed to save history", goerr.V("event_id", ev.ID))
	}

	logging.From(ctx).Info("send event recorded",
		"event_id", ev.ID,
		"total", len(hist.Events),
		"pruned", removed,
	)
	return nil
}

// QueryRecent returns the references of events that occurred within the trailing
// windowDays, in chronological order. Events without a reference are skipped.
func (h *History) QueryRecent(ctx context.Context, windowDays int) ([]model.Reference, error) {
	unlock, err := h.opts.guard.Lock(ctx, historyKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	hist, _, err := h.load(ctx)
	if err != nil {
		return nil, err
	}

	now := h.opts.now()
	cutoff := now.AddDate(0, 0, -windowDays)

	refs := []model.Reference{}
	for _, ev := range hist.Events {
		if ev.Reference == nil || ev.Reference.IsZero() {
			continue
		}
		if ev.OccurredAt.Before(cutoff) || ev.OccurredAt.After(now) {
			continue
		}
		refs = append(refs, *ev.Reference)
	}
	return refs, nil
}

// Prune removes events older than the retention window and returns how many were
// dropped. Pruning twice in a row is the same as pruning once.
func (h *History) Prune(ctx context.Context) (int, error) {
	unlock, err := h.opts.guard.Lock(ctx, historyKey)
	if err != nil {
		return 0, err
	}
	defer unlock()

	hist, _, err := h.load(ctx)
	if err != nil {
		return 0, err
	}

	now := h.opts.now()
	removed := hist.Prune(now.Add(-h.opts.retention))
	if removed == 0 {
		return 0, nil
	}

	hist.LastUpdated = now
	if err := writeJSONAtomic(h.path, hist); err != nil {
		return 0, goerr.Wrap(err, "failed to save pruned history")
	}
	logging.From(ctx).Info("history pruned", "removed", removed)
	return removed, nil
}

// Events returns all events in chronological order
func (h *History) Events(ctx context.Context) ([]*model.SendEvent, error) {
	hist, err := h.Load(ctx)
	if err != nil {
		return nil, err
	}
	return hist.Events, nil
}

// Latest returns the most recent event, or nil when there is none
func (h *History) Latest(ctx context.Context) (*model.SendEvent, error) {
	hist, err := h.Load(ctx)
	if err != nil {
		return nil, err
	}
	return hist.Last(), nil
}

// RepairReport describes the outcome of Repair
type RepairReport struct {
	Path       string
	Created    bool
	Migrated   bool
	Healed     bool
	BackupPath string
	Events     int
}

// Repair validates the history file, backing up and rewriting it when it is
// malformed, and checks that its directory is writable.
func (h *History) Repair(ctx context.Context) (*RepairReport, error) {
	unlock, err := h.opts.guard.Lock(ctx, historyKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := EnsureWritable(filepath.Dir(h.path)); err != nil {
		return nil, err
	}

	hist, status, err := h.load(ctx)
	if err != nil {
		return nil, err
	}

	return &RepairReport{
		Path:       h.path,
		Created:    status.created,
		Migrated:   status.migrated,
		Healed:     status.healed,
		BackupPath: status.backupPath,
		Events:     len(hist.Events),
	}, nil
}
