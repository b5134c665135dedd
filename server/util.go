package server

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// upgrader creates a WebSocket upgrader with origin checking from config
func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin validates the Origin header against server.allowed_origins
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Allow requests with no origin header (e.g., direct WebSocket clients, testing)
	if origin == "" {
		return true
	}

	allowed := *s.allowedOrigins.Load()
	if len(allowed) == 0 {
		// Secure default: localhost only
		return strings.HasPrefix(origin, "http://localhost") ||
			strings.HasPrefix(origin, "https://localhost")
	}

	// Prefix matching allows any port number
	for _, allowedOrigin := range allowed {
		if strings.HasPrefix(origin, allowedOrigin) {
			return true
		}
	}
	return false
}

// remoteHost strips the port from r.RemoteAddr
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// remoteLimiter keeps one token bucket per remote host for REST calls
type remoteLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limits   func() rateLimits
}

// maxTrackedHosts bounds the limiter map; it is cleared when full
const maxTrackedHosts = 10000

func newRemoteLimiter(limits func() rateLimits) *remoteLimiter {
	return &remoteLimiter{limiters: make(map[string]*rate.Limiter), limits: limits}
}

func (rl *remoteLimiter) allow(host string) bool {
	rl.mu.Lock()
	lim, ok := rl.limiters[host]
	if !ok {
		if len(rl.limiters) >= maxTrackedHosts {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		l := rl.limits()
		lim = rate.NewLimiter(l.limit, l.burst)
		rl.limiters[host] = lim
	}
	rl.mu.Unlock()
	return lim.Allow()
}

// reset drops every bucket so new limits apply to all hosts
func (rl *remoteLimiter) reset() {
	rl.mu.Lock()
	rl.limiters = make(map[string]*rate.Limiter)
	rl.mu.Unlock()
}
