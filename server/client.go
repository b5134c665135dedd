package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/teranos/reqsync/broadcast"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// Client represents a WebSocket client connection
type Client struct {
	server     *Server
	conn       *websocket.Conn
	send       chan interface{}
	done       chan struct{}
	admitted   chan error
	sub        *broadcast.Subscription
	limiter    *rate.Limiter
	id         string
	remoteAddr string
	closeOnce  sync.Once // guards done
	frameOnce  sync.Once // one close frame per connection
}

func newClient(s *Server, conn *websocket.Conn, id, remoteAddr string) *Client {
	return &Client{
		server:     s,
		conn:       conn,
		send:       make(chan interface{}, int(s.queueSize.Load())),
		done:       make(chan struct{}),
		admitted:   make(chan error, 1),
		limiter:    s.newLimiter(),
		id:         id,
		remoteAddr: remoteAddr,
	}
}

// shutdown stops the pumps; safe to call more than once
func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

// closeWith sends a close frame and stops the pumps. WriteControl may run
// concurrently with writePump.
func (c *Client) closeWith(code int, text string) {
	c.frameOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, text)
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
			c.server.logger.Debugw("Close frame write error",
				logger.FieldError, err.Error(),
				logger.FieldConnectionID, c.id,
			)
		}
	})
	c.shutdown()
}

// enqueue hands msg to writePump. It blocks while the queue is full and
// gives up once the client is shut down.
func (c *Client) enqueue(msg interface{}) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.server.unregisterClient(c)
		c.conn.Close()
	}()

	// Configure connection limits and timeouts per Gorilla best practices
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.server.logger.Debugw("Read pump started", logger.FieldConnectionID, c.id)

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if c.server.shouldOutput(logger.OutputMessageBody) {
			c.server.logger.Debugw("Received message",
				logger.FieldConnectionID, c.id,
				"body", string(messageBytes),
			)
		}

		var req Request
		if err := json.Unmarshal(messageBytes, &req); err != nil {
			c.server.logger.Warnw("JSON unmarshal error",
				logger.FieldError, err.Error(),
				logger.FieldConnectionID, c.id,
			)
			c.replyError("", errors.Mark(errors.Wrap(err, "malformed message"), errors.ErrInvalidRequest))
			continue
		}

		if !c.limiter.Allow() {
			getMetrics().rateLimited.WithLabelValues("websocket").Inc()
			if !fireAndForget(req.Type) {
				c.replyError(req.RequestID, errors.WithHint(
					errors.Wrapf(errors.ErrRateLimited, "%s rejected", req.Type),
					"slow down; the connection's request budget refills every second",
				))
			}
			continue
		}

		c.routeMessage(&req)
	}
}

// handleReadError logs unexpected WebSocket read errors.
// Expected closure codes (going away, abnormal, no status) are silently ignored.
func (c *Client) handleReadError(err error) {
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseNormalClosure,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived,
	) {
		c.server.logger.Warnw("WebSocket read error",
			logger.FieldError, err.Error(),
			logger.FieldConnectionID, c.id,
		)
	}
}

// writePump is the only writer on the connection once it has started
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	c.server.logger.Debugw("Write pump started", logger.FieldConnectionID, c.id)

	for {
		select {
		case <-c.server.ctx.Done():
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.server.logger.Debugw("Message write error",
					logger.FieldError, err.Error(),
					logger.FieldConnectionID, c.id,
				)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// forwardEvents copies the client's subscription into its send queue.
// When the bus drops the subscription for lagging, the client is
// disconnected with CloseLagged so it resynchronises.
func (c *Client) forwardEvents() {
	for ev := range c.sub.Events() {
		if !c.enqueue(EventMessage{Type: MessageEvent, Event: ev}) {
			return
		}
	}

	err := c.sub.Err()
	switch {
	case errors.Is(err, errors.ErrLagged):
		c.server.logger.Warnw("Disconnecting lagging client",
			logger.FieldConnectionID, c.id,
			logger.FieldError, err.Error(),
		)
		c.closeWith(CloseLagged, "event queue overflow; resync required")
	case errors.Is(err, errors.ErrUnavailable):
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

// unregisterClient hands c to the hub, or cleans up directly once the hub
// has stopped.
func (s *Server) unregisterClient(c *Client) {
	select {
	case s.unregister <- c:
	case <-s.ctx.Done():
		s.handleClientUnregister(c)
	}
}
