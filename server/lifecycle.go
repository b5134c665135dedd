package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
	"github.com/teranos/reqsync/sym"
)

// getState returns the current server state
func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

// setState atomically updates the server state
func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", logger.FieldState, stateString(newState))
}

// State returns the current lifecycle state name
func (s *Server) State() string {
	return stateString(s.getState())
}

// stateString returns human-readable state name
func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Start listens on bindAddress:port and serves until Stop. It returns nil
// after a graceful stop.
func (s *Server) Start(bindAddress string, port int) error {
	addr := net.JoinHostPort(bindAddress, fmt.Sprint(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WithHintf(
			errors.Wrapf(err, "failed to listen on %s", addr),
			"another process may hold port %d; set server.port or REQSYNC_SERVER_PORT", port,
		)
	}
	return s.Serve(listener)
}

// Serve accepts connections on l until Stop
func (s *Server) Serve(l net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	s.logger.Infow(fmt.Sprintf("%s HTTP server listening", sym.Server),
		logger.FieldAddress, l.Addr().String(),
	)

	if err := httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Stop gracefully shuts down the server: refuse new work, close every
// client (clearing its presence), stop the hub and the config watcher.
func (s *Server) Stop() error {
	var stopErr error
	s.stopOnce.Do(func() {
		stopErr = s.stop()
	})
	return stopErr
}

func (s *Server) stop() error {
	s.logger.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	// Close all client connections BEFORE cancelling context
	s.mu.Lock()
	clientsToClose := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clientsToClose = append(clientsToClose, client)
		delete(s.clients, client)
	}
	httpServer := s.httpServer
	s.mu.Unlock()
	getMetrics().clients.Set(0)

	if len(clientsToClose) > 0 {
		s.logger.Infow("Closing client connections", logger.FieldCount, len(clientsToClose))
		for _, client := range clientsToClose {
			client.closeWith(websocket.CloseGoingAway, "server shutting down")
			s.release(client)
		}
	}

	var shutdownErr error
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		shutdownErr = httpServer.Shutdown(ctx)
		cancel()
	}

	// Cancel context to signal all server goroutines to stop
	s.cancel()
	s.coord.Close()

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("All goroutines stopped cleanly")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out, forcing exit",
			"timeout", ShutdownTimeout,
		)
	}

	// Stop config watcher
	if s.configWatcher != nil {
		if err := s.configWatcher.Stop(); err != nil {
			s.logger.Warnw("Failed to stop config watcher", logger.FieldError, err)
		} else {
			s.logger.Infow("Config watcher stopped")
		}
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete")

	if shutdownErr != nil {
		return errors.Wrap(shutdownErr, "http server shutdown")
	}
	return nil
}
