// Package server exposes the record coordinator over a websocket protocol
// and a small REST API.
//
// Every websocket connection receives hello, then a snapshot, then the live
// event stream. The subscription is taken before the snapshot, so an event
// may arrive twice; clients discard duplicates by record version.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/reqsync/am"
	"github.com/teranos/reqsync/coord"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
)

// Server is the websocket hub and HTTP front end for one Coordinator
type Server struct {
	coord         *coord.Coordinator
	configWatcher *am.ConfigWatcher
	clients       map[*Client]bool
	register      chan *Client
	unregister    chan *Client
	mu            sync.RWMutex
	logger        *zap.SugaredLogger
	verbosity     atomic.Int32

	// Settings that follow config reloads
	allowedOrigins atomic.Pointer[[]string]
	maxClients     atomic.Int32
	queueSize      atomic.Int32
	limits         atomic.Pointer[rateLimits]
	remoteLimiter  *remoteLimiter

	mux        *http.ServeMux
	httpServer *http.Server

	// Lifecycle management
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	hubOnce  sync.Once
	stopOnce sync.Once
	state    atomic.Int32
}

// rateLimits is the per-caller token bucket configuration
type rateLimits struct {
	limit rate.Limit
	burst int
}

// New creates a Server for c. The hub starts with Start (or Handler for
// tests); nothing listens until Start.
func New(c *coord.Coordinator, cfg am.ServerConfig) (*Server, error) {
	if c == nil {
		return nil, errors.New("coordinator cannot be nil")
	}
	ctx, cancel := context.WithCancel(logger.WithComponent(context.Background(), "server"))
	s := &Server{
		coord:      c,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.ComponentLogger("server"),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.remoteLimiter = newRemoteLimiter(s.currentLimits)
	s.applyServerConfig(cfg)
	s.state.Store(int32(ServerStateRunning))
	s.setupHTTPRoutes()
	return s, nil
}

// SetConfigWatcher wires hot reload of allowed origins, client limits and
// rate limits. The watcher is stopped by Stop.
func (s *Server) SetConfigWatcher(w *am.ConfigWatcher) {
	s.configWatcher = w
	w.OnReload(func(cfg *am.Config) error {
		s.applyServerConfig(cfg.Server)
		s.logger.Infow("Applied reloaded server configuration",
			"allowed_origins", cfg.Server.AllowedOrigins,
			"max_clients", cfg.Server.MaxClients,
			"messages_per_second", cfg.Server.MessagesPerSecond,
		)
		return nil
	})
}

// SetVerbosity sets the CLI -v count that gates chatty log categories
func (s *Server) SetVerbosity(v int) {
	s.verbosity.Store(int32(v))
}

func (s *Server) shouldOutput(category logger.OutputCategory) bool {
	return logger.ShouldOutput(int(s.verbosity.Load()), category)
}

// applyServerConfig copies the reloadable settings. Port and bind address
// only take effect on restart.
func (s *Server) applyServerConfig(cfg am.ServerConfig) {
	origins := append([]string(nil), cfg.AllowedOrigins...)
	s.allowedOrigins.Store(&origins)

	maxClients := cfg.MaxClients
	if maxClients <= 0 {
		maxClients = am.DefaultMaxClients
	}
	s.maxClients.Store(int32(maxClients))

	queue := cfg.ClientQueueSize
	if queue <= 0 {
		queue = am.DefaultClientQueueSize
	}
	s.queueSize.Store(int32(queue))

	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	prev := s.limits.Swap(&rateLimits{limit: limit, burst: burst})
	if prev != nil && (prev.limit != limit || prev.burst != burst) {
		s.remoteLimiter.reset()
	}
}

func (s *Server) currentLimits() rateLimits {
	return *s.limits.Load()
}

// newLimiter returns a token bucket with the current limits
func (s *Server) newLimiter() *rate.Limiter {
	l := s.currentLimits()
	return rate.NewLimiter(l.limit, l.burst)
}

// ClientCount returns the number of registered websocket clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// handleClientRegister admits a new client unless the server is draining
// or full. The verdict goes back on client.admitted.
func (s *Server) handleClientRegister(client *Client) {
	if s.getState() != ServerStateRunning {
		client.admitted <- errors.Wrap(errors.ErrUnavailable, "server is shutting down")
		return
	}

	s.mu.Lock()
	maxClients := int(s.maxClients.Load())
	if len(s.clients) >= maxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			logger.FieldConnectionID, client.id,
			"max_clients", maxClients,
		)
		client.admitted <- errors.WithHintf(
			errors.Wrapf(errors.ErrUnavailable, "server is at its limit of %d clients", maxClients),
			"retry later or raise server.max_clients",
		)
		return
	}
	s.clients[client] = true
	totalClients := len(s.clients)
	s.mu.Unlock()

	getMetrics().clients.Set(float64(totalClients))
	s.logger.Infow("Client connected",
		logger.FieldConnectionID, client.id,
		logger.FieldRemoteAddr, client.remoteAddr,
		"total_clients", totalClients,
	)
	client.admitted <- nil
}

// handleClientUnregister removes a client and clears its presence markers
func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	totalClients := len(s.clients)
	s.mu.Unlock()

	s.release(client)
	getMetrics().clients.Set(float64(totalClients))
	s.logger.Infow("Client disconnected",
		logger.FieldConnectionID, client.id,
		"total_clients", totalClients,
	)
}

// release ends the client's subscription and clears its presence
func (s *Server) release(client *Client) {
	client.sub.Close()
	s.coord.Disconnect(client.id)
	client.shutdown()
}

// Run is the hub event loop. It returns when the server context ends.
func (s *Server) Run() {
	sweep := time.NewTicker(RESTEditingTTL / 4)
	defer sweep.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Server hub stopping due to context cancellation")
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		case now := <-sweep.C:
			s.coord.ExpireEditing(restConnectionPrefix, now.Add(-RESTEditingTTL))
		}
	}
}

// startHub launches Run once
func (s *Server) startHub() {
	s.hubOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Run()
		}()
	})
}
