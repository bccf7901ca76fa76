package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/epiphany-db/monitor/internal/config"
	"github.com/epiphany-db/monitor/internal/inspect"
	"github.com/epiphany-db/monitor/internal/logging"
	"github.com/epiphany-db/monitor/internal/metrics"
)

var errServerClosing = errors.New("server shutting down")

type Server struct {
	cfg         *config.Config
	registry    *Registry
	broadcaster *Broadcaster
	source      inspect.Source
	logger      *slog.Logger
	metrics     *metrics.Metrics
	metricsHTTP http.Handler
	static      http.Handler
	health      func() SourceHealthPayload

	upgrader       websocket.Upgrader
	limiter        *rate.Limiter
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool

	// ctx is cancelled on Shutdown and ends every connection handler.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	handlers sync.WaitGroup
	http     *http.Server
}

type ServerOption func(*Server)

func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithServerMetrics records rejections on m and serves handler at the
// configured metrics path.
func WithServerMetrics(m *metrics.Metrics, handler http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = m
		s.metricsHTTP = handler
	}
}

// WithStaticHandler serves h for every GET path no other route claims.
func WithStaticHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.static = h }
}

// WithSourceHealth adds the stats source state reported by fn to /healthz.
func WithSourceHealth(fn func() SourceHealthPayload) ServerOption {
	return func(s *Server) { s.health = fn }
}

func NewServer(cfg *config.Config, registry *Registry, broadcaster *Broadcaster, source inspect.Source, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		registry:       registry,
		broadcaster:    broadcaster,
		source:         source,
		logger:         slog.Default(),
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	if cfg.Server.AcceptRate > 0 {
		burst := max(cfg.Server.AcceptBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Server.AcceptRate), burst)
	}

	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /monitor", s.handleMonitor)
	mux.HandleFunc("GET /ws", s.handleMonitor)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/cache", s.handleCache)
	api.HandleFunc("GET /api/pages/{id}", s.handlePage)
	api.HandleFunc("GET /api/btree", s.handleBTree)
	api.HandleFunc("GET /api/observers", s.handleObservers)
	mux.Handle("GET /api/", securityHeaders(api))

	mux.HandleFunc("GET /healthz", s.handleHealth)

	if s.cfg.Metrics.Enabled && s.metricsHTTP != nil {
		mux.Handle("GET "+s.cfg.Metrics.Path, s.metricsHTTP)
	}

	if s.static != nil {
		mux.Handle("GET /", s.static)
	}
}

// Handler returns a mux with every route installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// handleMonitor upgrades the request and runs the observer session until the
// peer goes away, a send to it fails, or the server shuts down. The observer
// is unregistered and its socket closed on every exit path.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.RecordRejection("rate")
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	if err := s.trackHandler(); err != nil {
		s.metrics.RecordRejection("closed")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.handlers.Done()

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.RecordRejection("handshake")
		s.logger.Debug("ws upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	bc := s.cfg.Broadcast
	c := newWSConn(raw, r.RemoteAddr, bc.WriteTimeout)
	log := logging.WithObserver(s.logger, c.ID().String(), c.RemoteAddr())

	hello, err := json.Marshal(Envelope{
		Type: MsgHello,
		Data: HelloPayload{
			ObserverID:   c.ID().String(),
			TickInterval: bc.TickInterval.String(),
			MessageType:  MessageType(bc.MessageType),
		},
	})
	if err != nil {
		log.Error("encoding hello failed", "error", err)
		_ = c.closeWith(websocket.CloseInternalServerErr, "")
		return
	}

	registered, err := c.greet(func() error { return s.registry.Register(c) }, hello)
	if !registered {
		s.metrics.RecordRejection(rejectionReason(err))
		log.Warn("observer rejected", "error", err)
		_ = c.closeWith(websocket.CloseTryAgainLater, err.Error())
		return
	}
	if err != nil {
		s.broadcaster.drop(c, err)
		return
	}
	log.Info("observer connected", "observers", s.registry.Len())

	ctx, cancel := context.WithCancel(s.ctx)
	defer func() {
		cancel()
		s.registry.Unregister(c)
		_ = c.Close()
		log.Info("observer disconnected", "observers", s.registry.Len())
	}()

	// Shutdown or the end of the read loop closes the socket, which also
	// unblocks a pending read.
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	go s.pingLoop(ctx, c, log)

	s.readLoop(c, log)
}

// readLoop reads and discards inbound frames. Any message or pong extends
// the read deadline; a missing pong for PongTimeout ends the session.
func (s *Server) readLoop(c *wsConn, log *slog.Logger) {
	bc := s.cfg.Broadcast
	conn := c.conn

	conn.SetReadLimit(bc.MaxMessageSize)
	extend := func() error {
		return conn.SetReadDeadline(time.Now().Add(bc.PongTimeout))
	}
	_ = extend()
	conn.SetPongHandler(func(string) error { return extend() })

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug("observer read error", "error", err)
			}
			return
		}
		_ = extend()
	}
}

func (s *Server) pingLoop(ctx context.Context, c *wsConn, log *slog.Logger) {
	ticker := time.NewTicker(s.cfg.Broadcast.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				log.Debug("observer ping failed", "error", err)
				_ = c.Close()
				return
			}
		}
	}
}

func (s *Server) trackHandler() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return errServerClosing
	}
	s.handlers.Add(1)
	return nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrTooManyConnections):
		return "capacity"
	case errors.Is(err, ErrRegistryClosed):
		return "closed"
	case errors.Is(err, ErrAlreadyRegistered):
		return "duplicate"
	default:
		return "other"
	}
}

func (s *Server) handleCache(w http.ResponseWriter, r *http.Request) {
	entries, err := s.source.CacheEntries(r.Context())
	if err != nil {
		s.inspectError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid page id", http.StatusBadRequest)
		return
	}

	page, err := s.source.Page(r.Context(), id)
	if errors.Is(err, inspect.ErrPageNotFound) {
		http.Error(w, "page not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.inspectError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleBTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.source.BTree(r.Context())
	if err != nil {
		s.inspectError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) handleObservers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": s.registry.Len()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"observers": s.registry.Len(),
	}
	if s.health != nil {
		body["source"] = s.health()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) inspectError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("inspect query failed", "path", r.URL.Path, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}

	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Serve accepts connections on l until Shutdown is called. It returns nil
// after a clean shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		l.Close()
		return nil
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.http
	s.mu.Unlock()

	s.logger.Info("server listening", "addr", l.Addr().String())
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes every registered observer and
// waits for connection handlers to return or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	srv := s.http
	s.mu.Unlock()

	s.cancel()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	for _, c := range s.registry.Close() {
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
}
