// Package webhook receives inbound messages from the messaging gateway
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/matins/pkg/model"
	"github.com/m-mizutani/matins/pkg/utils/logging"
)

const (
	maxBodySize     = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// Handler processes one inbound message
type Handler interface {
	Handle(ctx context.Context, msg *model.InboundMessage) error
}

// Server accepts POST /messages from the gateway and dispatches each message to
// the handler in the background, so the gateway is never blocked on generation.
type Server struct {
	handler Handler
	token   string
	now     func() time.Time
	baseCtx context.Context

	inflight sync.WaitGroup
}

type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on POST /messages
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// WithBaseContext sets the context background handling derives from, carrying
// the logger
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

func New(handler Handler, opts ...Option) *Server {
	s := &Server{
		handler: handler,
		now:     time.Now,
		baseCtx: context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler for the webhook endpoints
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("POST /messages", s.withAuth(http.HandlerFunc(s.handleMessage)))

	return chainMiddlewares(mux, s.withLogging)
}

type inboundResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, inboundResponse{Status: "ok"})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg model.InboundMessage
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	msg.ContactID = strings.TrimSpace(msg.ContactID)
	if msg.ContactID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "contact_id is required"})
		return
	}
	if msg.Kind == "" {
		msg.Kind = model.MessageKindText
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = s.now()
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.dispatch(&msg)
	}()

	writeJSON(w, http.StatusAccepted, inboundResponse{Status: "accepted"})
}

func (s *Server) dispatch(msg *model.InboundMessage) {
	ctx := s.baseCtx
	if err := s.handler.Handle(ctx, msg); err != nil {
		logging.From(ctx).Error("failed to handle inbound message",
			"contact_id", msg.ContactID,
			"error", err,
		)
	}
}

// Wait blocks until every dispatched message has been handled
func (s *Server) Wait() {
	s.inflight.Wait()
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully and waits for in-flight messages.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return goerr.Wrap(err, "failed to listen", goerr.V("addr", addr))
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.From(ctx).Info("webhook server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return goerr.Wrap(err, "webhook server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shut down webhook server")
	}
	s.Wait()

	logging.From(ctx).Info("webhook server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
