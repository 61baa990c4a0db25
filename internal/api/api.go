// Package api provides the HTTP server for ChatDesk.
//
// It exposes endpoints to send messages, start a registration for a number, manage the
// blacklist, report health and serve metrics. The Twilio webhook is mounted here too when
// the Twilio transport is in use.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ChatDesk/internal/messaging"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":3008"
	// DefaultRequestTimeout bounds the work done on behalf of one request.
	DefaultRequestTimeout = 30 * time.Second
	// MaxRequestBodyBytes limits JSON payloads.
	MaxRequestBodyBytes = 1 << 20

	shutdownTimeout = 10 * time.Second
)

// Registrar starts a conversation with a stateful handler. *flow.Router implements it.
type Registrar interface {
	Start(ctx context.Context, sender, handler string) error
}

// BlacklistStore manages blocked senders.
type BlacklistStore interface {
	AddToBlacklist(ctx context.Context, phone string) error
	RemoveFromBlacklist(ctx context.Context, phone string) error
	ListBlacklist(ctx context.Context) ([]string, error)
}

// Pinger is implemented by stores that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the collaborators of the HTTP API.
type Server struct {
	msgService messaging.Service
	blacklist  BlacklistStore
	registrar  Registrar
	register   string
	pinger     Pinger
	metrics    http.Handler
	webhook    http.Handler
	addr       string
	timeout    time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithRequestTimeout bounds each request's work.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRegistrar enables POST /v1/register, starting the named handler for the number.
func WithRegistrar(r Registrar, handler string) Option {
	return func(s *Server) {
		s.registrar = r
		s.register = handler
	}
}

// WithHealthCheck makes /health report the result of p.Ping.
func WithHealthCheck(p Pinger) Option {
	return func(s *Server) { s.pinger = p }
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithTwilioWebhook serves h on /twilio/webhook.
func WithTwilioWebhook(h http.Handler) Option {
	return func(s *Server) { s.webhook = h }
}

// NewServer creates a Server. blacklist may be nil, which disables the blacklist endpoints.
func NewServer(msgService messaging.Service, blacklist BlacklistStore, opts ...Option) *Server {
	s := &Server{
		msgService: msgService,
		blacklist:  blacklist,
		addr:       DefaultAddr,
		timeout:    DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", s.sendMessageHandler)
	mux.HandleFunc("/v1/register", s.registerHandler)
	mux.HandleFunc("/v1/blacklist", s.blacklistHandler)
	mux.HandleFunc("/health", s.healthHandler)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	if s.webhook != nil {
		mux.Handle("/twilio/webhook", s.webhook)
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
		return err
	}
	return nil
}
