package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LiveConnectionHeader carries the opaque connection id on GET requests
// that establish or reattach a live connection.
const LiveConnectionHeader = "Live-Connection"

// Server is the HTTP push server: it parses requests into structured
// contexts, dispatches them through the two-phase route pipeline and keeps
// live connections alive across physical requests.
type Server struct {
	config  *ServerConfig
	router  *Router
	live    *LiveRegistry
	trusted *proxyMatcher
	cookies *cookiePolicy
	proxy   *contentProxy
	tracer  *tracer
	mux     chi.Router
	logger  *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once
}

// New creates a new Server with the given configuration. Nil or partially
// filled configs are completed with defaults.
func New(config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		defaults := DefaultServerConfig()
		if config.Address == "" {
			config.Address = defaults.Address
		}
		if config.CSRFHeader == "" {
			config.CSRFHeader = defaults.CSRFHeader
		}
		if config.SameSiteMode == 0 {
			config.SameSiteMode = defaults.SameSiteMode
		}
		if config.Limits == nil {
			config.Limits = defaults.Limits
		}
		if config.Live == nil {
			config.Live = defaults.Live
		}
		if config.ProxyConnectTimeout == 0 {
			config.ProxyConnectTimeout = defaults.ProxyConnectTimeout
		}
		if config.ProxyStreamTimeout == 0 {
			config.ProxyStreamTimeout = defaults.ProxyStreamTimeout
		}
		if config.ReadHeaderTimeout == 0 {
			config.ReadHeaderTimeout = defaults.ReadHeaderTimeout
		}
		if config.IdleTimeout == 0 {
			config.IdleTimeout = defaults.IdleTimeout
		}
		if config.ShutdownTimeout == 0 {
			config.ShutdownTimeout = defaults.ShutdownTimeout
		}
	}

	logger := slog.Default().With("component", "server")

	s := &Server{
		config:  config,
		router:  NewRouter(logger),
		live:    NewLiveRegistry(config.Live, logger),
		trusted: newProxyMatcher(config.TrustedProxies, logger),
		cookies: newCookiePolicy(config),
		proxy:   newContentProxy(config),
		tracer:  newTracer(),
		logger:  logger,
	}

	mux := chi.NewRouter()
	mux.Get("/_health", s.handleHealth)
	mux.Get("/_proxy", s.proxy.serve)
	mux.Post("/__live-connections", s.handleBroadcast)
	mux.Handle("/metrics", promhttp.Handler())
	mux.NotFound(s.handleApp)
	mux.MethodNotAllowed(s.handleApp)
	s.mux = mux

	return s
}

// Handle appends a normal-phase route.
func (s *Server) Handle(method, path Matcher, h HandlerFunc) {
	s.router.Handle(method, path, h)
}

// HandleError appends an error-phase route.
func (s *Server) HandleError(method, path Matcher, h HandlerFunc) {
	s.router.HandleError(method, path, h)
}

// Router returns the route list for direct manipulation.
func (s *Server) Router() *Router {
	return s.router
}

// Live returns the live-connection registry.
func (s *Server) Live() *LiveRegistry {
	return s.live
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth is the liveness probe: success with an empty body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleBroadcast is the loopback-only administrative trigger: it fires an
// update on every live connection whose URL path matches the submitted
// pattern.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if ip == nil || !ip.IsLoopback() {
		http.Error(w, "loopback only", http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "unparseable form", http.StatusBadRequest)
		return
	}
	pathname := r.PostFormValue("pathname")
	if pathname == "" {
		http.Error(w, "missing pathname field", http.StatusBadRequest)
		return
	}
	re, err := regexp.Compile(pathname)
	if err != nil {
		http.Error(w, "invalid pathname pattern", http.StatusBadRequest)
		return
	}

	matched := s.live.Broadcast(re)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(w, "{\"matched\":%d}\n", matched)
}

// handleApp runs the full pipeline for application routes: context
// building, CSRF, body ingestion, live-connection negotiation and the
// dispatch loop.
func (s *Server) handleApp(w http.ResponseWriter, r *http.Request) {
	ctx, err := newContext(r, w, s.config, s.trusted, s.cookies)
	if err != nil {
		s.logger.Warn("request parse failed", "error", err, "remote", r.RemoteAddr)
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	defer ctx.cleanupTempDir()
	defer func() {
		recordRequest(r.Method, ctx.Response.Status(), ctx.Elapsed())
	}()

	if err := checkCSRF(r, s.config); err != nil {
		s.logger.Warn("csrf rejected",
			"request_id", ctx.ID,
			"method", r.Method,
			"path", ctx.URL.Path,
			"client_ip", ctx.ClientIP)
		ctx.Response.SetStatus(http.StatusForbidden)
		ctx.Response.SetHeader("Content-Type", "text/plain; charset=utf-8")
		ctx.Response.End([]byte("cross-site request rejected: missing " + s.config.CSRFHeader + " header\n"))
		return
	}

	if r.Header.Get("Content-Type") != "" {
		if err := ingestBody(ctx, s.config); err != nil {
			s.failIngest(ctx, err)
			return
		}
	}

	if id := r.Header.Get(LiveConnectionHeader); id != "" {
		s.handleLive(ctx, id)
		return
	}

	s.dispatchOnce(ctx)

	// A successful HTML response makes this request a candidate for future
	// pushes: the connection is booked under the request id, guarded by
	// the abandonment timer.
	if r.Method == http.MethodGet &&
		ctx.Response.Status() >= 200 && ctx.Response.Status() < 300 &&
		strings.HasPrefix(ctx.Response.ContentType(), "text/html") {
		s.live.Candidate(ctx.ID, ctx.URL.String())
	}
}

func (s *Server) failIngest(ctx *Context, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, ErrBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	s.logger.Warn("body ingestion failed",
		"request_id", ctx.ID,
		"path", ctx.URL.Path,
		"status", status,
		"error", err)
	ctx.Response.SetStatus(status)
	ctx.Response.SetHeader("Content-Type", "text/plain; charset=utf-8")
	ctx.Response.End([]byte(err.Error() + "\n"))
}

// handleLive negotiates the push protocol for a request carrying the
// Live-Connection header, then runs the update loop until the socket
// closes, a newer response takes over, or the server shuts down.
func (s *Server) handleLive(ctx *Context, id string) {
	r := ctx.Request
	if r.Method != http.MethodGet {
		ctx.Response.SetStatus(http.StatusBadRequest)
		ctx.Response.End([]byte("live connections are GET only\n"))
		return
	}
	if !liveIDPattern.MatchString(id) {
		ctx.Response.SetStatus(http.StatusBadRequest)
		ctx.Response.End([]byte("invalid live-connection id\n"))
		return
	}

	// The request joins the connection's identity: the id is reused across
	// every request belonging to the same logical subscription.
	ctx.ID = id

	conn, detach, err := s.live.Attach(id, ctx.URL.String(), ctx.Response)
	if err != nil {
		ctx.Response.SetStatus(http.StatusBadRequest)
		ctx.Response.End([]byte("live-connection url mismatch\n"))
		return
	}
	ctx.Live = conn

	immediate := conn.takeImmediate()
	ctx.Response.beginStream()
	s.serveLive(ctx, conn, detach, immediate)
}

// serveLive is the dispatch loop for an attached live connection. One pass
// of the route pipeline runs per update; between passes the loop waits on
// the update signal, the periodic timer, and the heartbeat ticker.
func (s *Server) serveLive(ctx *Context, conn *LiveConnection, detach <-chan struct{}, immediate bool) {
	heartbeat := time.NewTicker(s.config.Live.HeartbeatInterval)
	defer heartbeat.Stop()
	periodic := time.NewTicker(s.config.Live.UpdateInterval)
	defer periodic.Stop()

	if immediate {
		s.dispatchPass(ctx)
	}

	for {
		select {
		case <-conn.Updates():
			if !conn.isCurrent(ctx.Response) {
				// The select can pick this case over detach after a
				// takeover. The signal belongs to the response that took
				// over; hand it back and leave.
				conn.Signal()
				return
			}
			s.dispatchPass(ctx)

		case <-periodic.C:
			if !conn.isCurrent(ctx.Response) {
				return
			}
			s.dispatchPass(ctx)

		case <-heartbeat.C:
			if err := ctx.Response.heartbeat(); err != nil {
				// Write path gone; wait for the definitive signal below.
				continue
			}

		case <-detach:
			// A newer response took over the connection, or the registry
			// destroyed it. This response's stream is already closed.
			return

		case <-ctx.Request.Context().Done():
			// Physical socket closed. If this response is still the
			// current one, give the client the grace window to come back.
			if conn.isCurrent(ctx.Response) {
				s.live.Release(conn, ctx.Response)
			}
			return
		}
	}
}

// dispatchOnce runs a single traced dispatch pass for a plain request.
func (s *Server) dispatchOnce(ctx *Context) {
	_, span := s.tracer.startPass(ctx.Request.Context(), ctx, false)
	s.router.Dispatch(ctx)
	if ctx.Err != nil {
		recordDispatchError()
	}
	s.tracer.endPass(span, ctx)
}

// dispatchPass runs one update pass for an attached live connection.
func (s *Server) dispatchPass(ctx *Context) {
	ctx.resetPass()
	ctx.Response.resetPass()

	_, span := s.tracer.startPass(ctx.Request.Context(), ctx, true)
	s.router.Dispatch(ctx)
	if ctx.Err != nil {
		recordDispatchError()
	}
	s.tracer.endPass(span, ctx)
}

// Run starts the server and blocks until shutdown. The first termination
// signal stops the listener, ends all live streams and drains in-flight
// requests; redundant signals are ignored; a watchdog forces exit if the
// shutdown window elapses.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- s.httpServer.ListenAndServe()
	}()

	for {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil

		case <-shutdown:
			s.shutdownOnce.Do(func() {
				s.logger.Info("shutting down...")
				go s.Shutdown(context.Background())
			})
		}
	}
}

// Shutdown gracefully shuts down the server: live streams are explicitly
// ended so clients promptly reconnect instead of hanging, then the HTTP
// server drains within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	watchdog := time.AfterFunc(s.config.ShutdownTimeout+2*time.Second, func() {
		s.logger.Error("shutdown watchdog fired, forcing exit")
		os.Exit(1)
	})
	defer watchdog.Stop()

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.live.Shutdown()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
