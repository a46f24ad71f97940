package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/utils/logging"
)

// Presence is the availability state shown to a contact
type Presence string

const (
	PresenceAvailable   Presence = "available"
	PresenceUnavailable Presence = "unavailable"
	PresenceComposing   Presence = "composing"
	PresencePaused      Presence = "paused"
)

// Transport delivers text to contacts over a messaging network
type Transport interface {
	Ready(ctx context.Context) bool
	SendText(ctx context.Context, contactID, text string) error
	SetPresence(ctx context.Context, contactID string, presence Presence) error
}

// WebhookTransport talks JSON over HTTP to a gateway that owns the messaging
// session. The gateway exposes GET /status, POST /messages and POST /presence.
type WebhookTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

type WebhookOption func(*WebhookTransport)

// WithWebhookToken sends token as a bearer credential on every request
func WithWebhookToken(token string) WebhookOption {
	return func(w *WebhookTransport) {
		w.token = token
	}
}

func WithHTTPClient(client *http.Client) WebhookOption {
	return func(w *WebhookTransport) {
		w.client = client
	}
}

// NewWebhookTransport creates a transport for the gateway at baseURL
func NewWebhookTransport(baseURL string, opts ...WebhookOption) *WebhookTransport {
	w := &WebhookTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type gatewayStatus struct {
	Ready bool `json:"ready"`
}

type gatewayMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type gatewayPresence struct {
	To       string   `json:"to,omitempty"`
	Presence Presence `json:"presence"`
}

// Ready reports whether the gateway has an authenticated session. Any error is
// treated as not ready.
func (w *WebhookTransport) Ready(ctx context.Context) bool {
	var status gatewayStatus
	if err := w.do(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		logging.From(ctx).Debug("gateway status check failed", "error", err)
		return false
	}
	return status.Ready
}

func (w *WebhookTransport) SendText(ctx context.Context, contactID, text string) error {
	if err := w.do(ctx, http.MethodPost, "/messages", &gatewayMessage{To: contactID, Text: text}, nil); err != nil {
		return goerr.Wrap(errors.Join(model.ErrSendFailed, err), "failed to send text", goerr.V("contact_id", contactID))
	}
	return nil
}

func (w *WebhookTransport) SetPresence(ctx context.Context, contactID string, presence Presence) error {
	if err := w.do(ctx, http.MethodPost, "/presence", &gatewayPresence{To: contactID, Presence: presence}, nil); err != nil {
		return goerr.Wrap(err, "failed to set presence", goerr.V("contact_id", contactID), goerr.V("presence", presence))
	}
	return nil
}

func (w *WebhookTransport) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return goerr.Wrap(err, "failed to encode request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, body)
	if err != nil {
		return goerr.Wrap(err, "failed to create request", goerr.V("path", path))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "gateway request failed", goerr.V("path", path))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return goerr.New("gateway returned error status",
			goerr.V("path", path),
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(msg)),
		)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return goerr.Wrap(err, "failed to decode gateway response", goerr.V("path", path))
		}
	}
	return nil
}

// ConsoleTransport prints outgoing messages to a writer. It is always ready.
type ConsoleTransport struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleTransport(w io.Writer) *ConsoleTransport {
	return &ConsoleTransport{w: w}
}

func (c *ConsoleTransport) Ready(ctx context.Context) bool {
	return true
}

func (c *ConsoleTransport) SendText(ctx context.Context, contactID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := fmt.Fprintf(c.w, "[%s]\n%s\n\n", contactID, text); err != nil {
		return goerr.Wrap(errors.Join(model.ErrSendFailed, err), "failed to write message", goerr.V("contact_id", contactID))
	}
	return nil
}

func (c *ConsoleTransport) SetPresence(ctx context.Context, contactID string, presence Presence) error {
	logging.From(ctx).Debug("presence", "contact_id", contactID, "presence", presence)
	return nil
}
