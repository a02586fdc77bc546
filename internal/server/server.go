// Package server exposes the HTTP surface of the voice agent: the inbound
// call webhook, the media-stream WebSocket endpoint that spawns one bridge
// per call, health probes, and the Prometheus metrics endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Vivek-Chaudhari30/voice-agent/internal/booking"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/bridge"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/cache"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/config"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/health"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/observe"
	"github.com/Vivek-Chaudhari30/voice-agent/internal/tools"
	"github.com/Vivek-Chaudhari30/voice-agent/pkg/realtime"
	"github.com/Vivek-Chaudhari30/voice-agent/pkg/telephony"
	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// mediaStreamPath is where the telephony provider connects its media stream.
const mediaStreamPath = "/media-stream"

// shutdownGrace bounds how long in-flight calls may linger after Shutdown.
const shutdownGrace = 15 * time.Second

// Server wires the per-call collaborators behind the HTTP listener.
type Server struct {
	cfg     *config.Config
	store   *booking.Store
	cache   *cache.Client
	writer  *cache.Writer
	tools   *tools.Dispatcher
	dialer  realtime.Dialer
	metrics *observe.Metrics

	httpServer *http.Server

	mu    sync.Mutex
	calls sync.WaitGroup
	ctx   context.Context
	stop  context.CancelFunc
}

// Deps carries the collaborators constructed in main.
type Deps struct {
	Config  *config.Config
	Store   *booking.Store
	Cache   *cache.Client
	Writer  *cache.Writer
	Tools   *tools.Dispatcher
	Dialer  realtime.Dialer
	Metrics *observe.Metrics
}

// New builds the Server and its routing table.
func New(deps Deps) *Server {
	s := &Server{
		cfg:     deps.Config,
		store:   deps.Store,
		cache:   deps.Cache,
		writer:  deps.Writer,
		tools:   deps.Tools,
		dialer:  deps.Dialer,
		metrics: deps.Metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /voice/inbound", s.handleInboundCall)
	mux.HandleFunc(mediaStreamPath, s.handleMediaStream)
	mux.Handle("GET /metrics", promhttp.Handler())

	probes := health.New(
		health.Checker{Name: "booking-store", Check: s.store.Ping},
		health.Checker{Name: "session-cache", Check: s.cache.Ping},
	)
	probes.Register(mux)

	s.httpServer = &http.Server{
		Addr:              deps.Config.Server.ListenAddr,
		Handler:           observe.Middleware(deps.Metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routing table; used by tests to serve through
// httptest without binding a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe runs the HTTP listener until Shutdown or a listener error.
// A failure to bind is fatal and propagates to the caller.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.stop = context.WithCancel(ctx)
	s.mu.Unlock()

	slog.Info("listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen on %s: %w", s.httpServer.Addr, err)
	}
	return nil
}

// Shutdown stops accepting connections, cancels live calls, and waits for
// their bridges to finish (bounded by shutdownGrace).
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil {
		s.stop()
	}
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.calls.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		slog.Warn("shutdown grace elapsed with calls still live")
	case <-ctx.Done():
	}
	return err
}

// handleInboundCall answers the telephony webhook with a stream-connect
// document pointing the call's media at this host. Signature verification of
// the webhook body is handled by the deployment's edge, keyed with
// TELEPHONY_AUTH_TOKEN; this handler only shapes the reply.
func (s *Server) handleInboundCall(w http.ResponseWriter, r *http.Request) {
	host := s.cfg.Server.PublicHost()
	if host == "" {
		host = r.Host
	}

	caller := r.FormValue("From")
	slog.Info("inbound call", "caller", caller)

	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<Response>
    <Connect>
        <Stream url="wss://%s%s">
            <Parameter name="from" value="%s" />
        </Stream>
    </Connect>
</Response>
`, host, mediaStreamPath, caller)
}

// handleMediaStream accepts the provider's media-stream WebSocket and runs
// one bridge for the lifetime of the call.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The provider does not negotiate an origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("media-stream accept failed", "err", err)
		return
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = r.Context()
	}

	b := bridge.New(bridge.Config{
		Telephony:   telephony.NewConn(conn),
		Dialer:      s.dialer,
		Tools:       s.tools,
		Writer:      s.writer,
		Metrics:     s.metrics,
		MaxDuration: s.cfg.Call.MaxDuration(),
	})

	s.calls.Add(1)
	defer s.calls.Done()

	if err := b.Run(ctx); err != nil {
		slog.Warn("bridge finished with error", "err", err)
	}
}
