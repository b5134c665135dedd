package client

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/teranos/reqsync/broadcast"
	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/reconcile"
	"github.com/teranos/reqsync/server"
)

// UpdateKind says what a Follow callback is reporting
type UpdateKind int

const (
	// UpdateSnapshot: the view was replaced by a fresh server snapshot
	UpdateSnapshot UpdateKind = iota
	// UpdateEvent: one event changed the view
	UpdateEvent
	// UpdateDisconnected: the stream dropped; Follow retries after Retry
	UpdateDisconnected
)

// Update is passed to the Follow callback
type Update struct {
	Kind         UpdateKind
	ConnectionID string
	Event        *broadcast.Event
	Err          error
	Retry        time.Duration
}

// Follow keeps view in step with the server until ctx ends. Every
// (re)connect starts with a snapshot that replaces the view, so events
// missed while disconnected or after a lagged close are never needed.
// onUpdate may be nil.
func (c *Client) Follow(ctx context.Context, view *reconcile.View, onUpdate func(Update)) error {
	if onUpdate == nil {
		onUpdate = func(Update) {}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 0

	for {
		synced, err := c.followOnce(ctx, view, onUpdate)
		if ctx.Err() != nil {
			return nil
		}
		if synced {
			b.Reset()
		}

		wait := b.NextBackOff()
		onUpdate(Update{Kind: UpdateDisconnected, Err: err, Retry: wait})

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// followOnce runs one websocket session. synced reports whether a snapshot
// arrived before the session ended.
func (c *Client) followOnce(ctx context.Context, view *reconcile.View, onUpdate func(Update)) (synced bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.http.Timeout}
	conn, resp, err := dialer.DialContext(ctx, c.WebSocketURL(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusServiceUnavailable {
			return false, errors.Mark(errors.Wrap(err, "server is draining"), errors.ErrUnavailable)
		}
		return false, errors.Mark(errors.Wrapf(err, "dial %s", c.WebSocketURL()), errors.ErrUnavailable)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var connectionID string
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return synced, classifyClose(err)
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return synced, errors.Wrap(err, "decode server message")
		}

		switch envelope.Type {
		case server.MessageHello:
			var hello server.HelloMessage
			if err := json.Unmarshal(raw, &hello); err != nil {
				return synced, errors.Wrap(err, "decode hello")
			}
			connectionID = hello.ConnectionID

		case server.MessageSnapshot:
			var snap server.SnapshotMessage
			if err := json.Unmarshal(raw, &snap); err != nil {
				return synced, errors.Wrap(err, "decode snapshot")
			}
			view.Resync(snap.Seq, snap.Records, snap.Presence)
			synced = true
			onUpdate(Update{Kind: UpdateSnapshot, ConnectionID: connectionID})

		case server.MessageEvent:
			var msg server.EventMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				return synced, errors.Wrap(err, "decode event")
			}
			if view.Apply(msg.Event) {
				ev := msg.Event
				onUpdate(Update{Kind: UpdateEvent, ConnectionID: connectionID, Event: &ev})
			}
		}
	}
}

// classifyClose maps close frames to the bus sentinels
func classifyClose(err error) error {
	switch {
	case websocket.IsCloseError(err, server.CloseLagged):
		return errors.Mark(errors.Wrap(err, "dropped for falling behind"), errors.ErrLagged)
	case websocket.IsCloseError(err, websocket.CloseGoingAway):
		return errors.Mark(errors.Wrap(err, "server shutting down"), errors.ErrUnavailable)
	case websocket.IsCloseError(err, websocket.ClosePolicyViolation):
		return errors.WithHint(errors.Wrap(err, "connection refused"), "the server may be at its client limit")
	default:
		return errors.Wrap(err, "connection lost")
	}
}
