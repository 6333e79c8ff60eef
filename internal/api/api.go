// Package api provides the HTTP surface and the main server wiring.
//
// It exposes RESTful endpoints for managing conversation flows, triggers,
// sessions, and products, and runs the inbound message loop that feeds the
// flow engine.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/flow"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/messaging"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/models"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/products"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/scheduler"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/store"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/trigger"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/twiliowhatsapp"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/whatsapp"
)

// Default configuration constants.
const (
	// DefaultAddr is the default API server listen address.
	DefaultAddr = ":8080"
	// shutdownTimeout bounds graceful HTTP shutdown.
	shutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	InstanceName  string
	UseTwilio     bool
	TwilioOptions []twiliowhatsapp.Option
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithInstanceName sets the WhatsApp instance name tagged on sessions.
func WithInstanceName(name string) Option {
	return func(o *Opts) { o.InstanceName = name }
}

// WithTwilio switches the messaging gateway from Whatsmeow to Twilio.
func WithTwilio(opts ...twiliowhatsapp.Option) Option {
	return func(o *Opts) {
		o.UseTwilio = true
		o.TwilioOptions = opts
	}
}

// Server binds the HTTP handlers to the flow engine and its collaborators.
type Server struct {
	store      store.Store
	msgService messaging.Service
	engine     *flow.Engine
	triggers   *trigger.Registry
	products   *products.Service
	scheduler  *scheduler.Scheduler
	twilio     *messaging.TwilioService
	httpServer *http.Server
}

// NewServer creates an API server around already-wired components.
func NewServer(st store.Store, msg messaging.Service, eng *flow.Engine, reg *trigger.Registry, prods *products.Service, sched *scheduler.Scheduler) *Server {
	s := &Server{
		store:      st,
		msgService: msg,
		engine:     eng,
		triggers:   reg,
		products:   prods,
		scheduler:  sched,
	}
	if tw, ok := msg.(*messaging.TwilioService); ok {
		s.twilio = tw
	}
	return s
}

// routes registers all HTTP handlers on a fresh mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /send", s.sendHandler)

	mux.HandleFunc("POST /flows", s.createFlowHandler)
	mux.HandleFunc("GET /flows", s.listFlowsHandler)
	mux.HandleFunc("GET /flows/{id}", s.getFlowHandler)
	mux.HandleFunc("PUT /flows/{id}", s.updateFlowHandler)
	mux.HandleFunc("DELETE /flows/{id}", s.deleteFlowHandler)
	mux.HandleFunc("POST /flows/{id}/execute", s.executeFlowHandler)

	mux.HandleFunc("GET /triggers", s.listTriggersHandler)
	mux.HandleFunc("POST /triggers", s.createTriggerHandler)
	mux.HandleFunc("DELETE /triggers/{flowId}", s.deleteTriggersHandler)

	mux.HandleFunc("POST /messages", s.inboundMessageHandler)
	mux.HandleFunc("GET /sessions", s.sessionsHandler)

	mux.HandleFunc("GET /products", s.searchProductsHandler)
	mux.HandleFunc("GET /products/{id}", s.getProductHandler)

	if s.twilio != nil {
		mux.HandleFunc("POST /webhooks/twilio", s.twilio.WebhookHandler())
	}
	return mux
}

// consumeResponses feeds inbound replies from the messaging service into
// the flow engine until the channel closes or the context ends.
func (s *Server) consumeResponses(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-s.msgService.Responses():
			if !ok {
				return
			}
			s.engine.HandleInboundMessage(ctx, resp.From, resp.Body)
		}
	}
}

// receiptSource is implemented by messaging services that report delivery
// status updates.
type receiptSource interface {
	Receipts() <-chan models.Receipt
}

// consumeReceipts drains delivery receipts so slow gateways never back up,
// logging each status change.
func (s *Server) consumeReceipts(ctx context.Context, receipts <-chan models.Receipt) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-receipts:
			if !ok {
				return
			}
			slog.Debug("Server delivery receipt", "to", r.To, "status", r.Status)
		}
	}
}

// Start runs the response loop and the HTTP server. It blocks until the
// context is canceled or the listener fails.
func (s *Server) Start(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	s.httpServer = &http.Server{Addr: addr, Handler: s.routes()}

	go s.consumeResponses(ctx)
	if rs, ok := s.msgService.(receiptSource); ok {
		go s.consumeReceipts(ctx, rs.Receipts())
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("API server shutdown error", "error", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	}
}

// Run bootstraps the whole service: storage, messaging gateway, trigger
// registry, flow engine, session sweep job, and the HTTP server. It blocks
// until SIGINT or SIGTERM.
func Run(waOpts []whatsapp.Option, storeOpts []store.Option, productOpts []products.UpMidiAssOption, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	st, err := buildStore(storeOpts)
	if err != nil {
		return err
	}
	defer st.Close()

	msgService, err := buildMessagingService(cfg, waOpts)
	if err != nil {
		return err
	}
	defer msgService.Stop()

	registry := trigger.NewRegistry()
	if err := registry.LoadFromStore(st); err != nil {
		return fmt.Errorf("failed to load trigger registry: %w", err)
	}

	catalog := products.NewService(products.NewMemory(), products.NewUpMidiAss(productOpts...))
	engine := flow.NewEngine(st, msgService, catalog, registry, flow.NewSessionStore())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(flow.SweepCronSpec, func() {
		engine.SweepExpiredSessions(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule session sweep: %w", err)
	}

	server := NewServer(st, msgService, engine, registry, catalog, sched)
	return server.Start(ctx, cfg.Addr)
}

// buildStore picks the storage backend from the configured DSNs, falling
// back to the in-memory store when none is set.
func buildStore(storeOpts []store.Option) (store.Store, error) {
	var cfg store.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Warn("No store DSN configured, using in-memory flow store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(cfg.DSN) == "postgres" {
		slog.Info("Using Postgres flow store")
		return store.NewPostgresStore(storeOpts...)
	}
	slog.Info("Using SQLite flow store", "path", cfg.DSN)
	return store.NewSQLiteStore(storeOpts...)
}

// buildMessagingService connects the configured WhatsApp gateway.
func buildMessagingService(cfg Opts, waOpts []whatsapp.Option) (messaging.Service, error) {
	if cfg.UseTwilio {
		client, err := twiliowhatsapp.NewClient(cfg.TwilioOptions...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if cfg.InstanceName != "" {
			opts = append(opts, messaging.WithTwilioInstanceName(cfg.InstanceName))
		}
		return messaging.NewTwilioService(client, opts...), nil
	}

	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
	}
	var opts []messaging.WhatsAppOption
	if cfg.InstanceName != "" {
		opts = append(opts, messaging.WithInstanceName(cfg.InstanceName))
	}
	return messaging.NewWhatsAppService(client, opts...), nil
}
