package repository

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/utils/logging"
)

const conversationExt = ".json"

// Conversations stores one JSON file per contact under a directory
type Conversations struct {
	dir  string
	opts *options
}

// NewConversations creates a conversation store rooted at dir
func NewConversations(dir string, opts ...Option) *Conversations {
	return &Conversations{
		dir:  dir,
		opts: newOptions(opts),
	}
}

// Dir returns the directory holding conversation files
func (c *Conversations) Dir() string {
	return c.dir
}

func conversationKey(contactID string) string {
	return "conversation:" + contactID
}

func (c *Conversations) pathOf(contactID string) (string, error) {
	if strings.TrimSpace(contactID) == "" || contactID == "." || contactID == ".." {
		return "", goerr.Wrap(model.ErrInvalidContactID, "contact id cannot be used as a file name", goerr.V("contact_id", contactID))
	}
	return filepath.Join(c.dir, url.PathEscape(contactID)+conversationExt), nil
}

// read returns the stored conversation, nil when no record exists. A malformed
// record is backed up and replaced with an empty one.
func (c *Conversations) read(ctx context.Context, contactID string) (*model.Conversation, error) {
	path, err := c.pathOf(contactID)
	if err != nil {
		return nil, err
	}

	data, exists, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if !exists || isBlank(data) {
		return nil, nil
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		backup, bErr := backupFile(path, data, c.opts.now())
		if bErr != nil {
			return nil, goerr.Wrap(bErr, "failed to back up corrupted conversation", goerr.V("contact_id", contactID))
		}

		fresh := model.NewConversation(contactID, c.opts.now())
		if err := writeJSONAtomic(path, fresh); err != nil {
			return nil, goerr.Wrap(err, "failed to reinitialize conversation", goerr.V("contact_id", contactID))
		}
		logging.From(ctx).Warn("conversation file was corrupted, backed up and reinitialized",
			"contact_id", contactID,
			"backup", backup,
			"error", err,
		)
		return fresh, nil
	}

	if conv.ContactID == "" {
		conv.ContactID = contactID
	}
	if conv.Messages == nil {
		conv.Messages = []*model.Message{}
	}
	return &conv, nil
}

func (c *Conversations) write(contactID string, conv *model.Conversation) error {
	path, err := c.pathOf(contactID)
	if err != nil {
		return err
	}
	if err := writeJSONAtomic(path, conv); err != nil {
		return goerr.Wrap(err, "failed to save conversation", goerr.V("contact_id", contactID))
	}
	return nil
}

// LoadOrCreate returns the conversation for contactID, creating and persisting
// an empty one on first contact
func (c *Conversations) LoadOrCreate(ctx context.Context, contactID string) (*model.Conversation, error) {
	var conv *model.Conversation
	err := c.opts.guard.Do(ctx, conversationKey(contactID), func() error {
		found, err := c.read(ctx, contactID)
		if err != nil {
			return err
		}
		if found != nil {
			conv = found
			return nil
		}

		conv = model.NewConversation(contactID, c.opts.now())
		return c.write(contactID, conv)
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Update runs fn on the current conversation for contactID and persists the
// result. Concurrent updates of the same contact are serialized; fn must not call
// back into the store for the same contact.
func (c *Conversations) Update(ctx context.Context, contactID string, fn func(conv *model.Conversation) error) error {
	return c.opts.guard.Do(ctx, conversationKey(contactID), func() error {
		now := c.opts.now()
		conv, err := c.read(ctx, contactID)
		if err != nil {
			return err
		}
		if conv == nil {
			conv = model.NewConversation(contactID, now)
		}

		if err := fn(conv); err != nil {
			return err
		}

		conv.Trim(c.opts.messageLimit)
		conv.LastUpdated = now
		return c.write(contactID, conv)
	})
}

// AppendMessage adds a message to the conversation and drops the oldest ones
// beyond the configured bound
func (c *Conversations) AppendMessage(ctx context.Context, contactID string, sender model.Sender, text string) error {
	if err := sender.Validate(); err != nil {
		return err
	}

	return c.Update(ctx, contactID, func(conv *model.Conversation) error {
		conv.Append(&model.Message{
			Timestamp: c.opts.now(),
			Sender:    sender,
			Text:      text,
		}, c.opts.messageLimit)
		return nil
	})
}

// RecordArtifact overwrites the last artifact delivered to contactID
func (c *Conversations) RecordArtifact(ctx context.Context, contactID string, content string) error {
	return c.Update(ctx, contactID, func(conv *model.Conversation) error {
		conv.LastArtifact = &model.Artifact{
			SentAt:  c.opts.now(),
			Content: content,
		}
		return nil
	})
}

// IsFirstInteraction reports whether contactID should be greeted as a new
// contact: no record yet, no messages, or no artifact delivered.
func (c *Conversations) IsFirstInteraction(ctx context.Context, contactID string) (bool, error) {
	var first bool
	err := c.opts.guard.Do(ctx, conversationKey(contactID), func() error {
		conv, err := c.read(ctx, contactID)
		if err != nil {
			return err
		}
		first = conv == nil || len(conv.Messages) == 0 || conv.LastArtifact == nil
		return nil
	})
	if err != nil {
		return false, err
	}
	return first, nil
}

// LatestArtifact returns the most recently sent artifact across every stored
// conversation, or nil when none was ever sent
func (c *Conversations) LatestArtifact(ctx context.Context) (*model.Artifact, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ioError(err, "failed to list conversations", goerr.V("dir", c.dir))
	}

	var latest *model.Artifact
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, conversationExt) {
			continue
		}

		contactID, err := url.PathUnescape(strings.TrimSuffix(name, conversationExt))
		if err != nil {
			continue
		}

		var conv *model.Conversation
		if err := c.opts.guard.Do(ctx, conversationKey(contactID), func() error {
			var rErr error
			conv, rErr = c.read(ctx, contactID)
			return rErr
		}); err != nil {
			logging.From(ctx).Warn("skip unreadable conversation", "contact_id", contactID, "error", err)
			continue
		}

		if conv == nil || conv.LastArtifact == nil {
			continue
		}
		if latest == nil || conv.LastArtifact.SentAt.After(latest.SentAt) {
			latest = conv.LastArtifact
		}
	}
	return latest, nil
}
