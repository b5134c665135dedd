// Package broadcast fans events out to every subscriber.
//
// Publish never blocks. Each subscriber has a bounded queue; a subscriber
// whose queue is full is dropped and its channel closed with ErrLagged, so
// one slow client cannot stall writers or grow memory. A dropped subscriber
// recovers by resubscribing and taking a fresh snapshot.
package broadcast

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reqsync/errors"
	"github.com/teranos/reqsync/logger"
)

// DefaultBuffer is the per-subscriber queue length when none is given
const DefaultBuffer = 256

// Bus is an in-process publish/subscribe channel
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	nextID uint64
	subs   map[uint64]*Subscription
	buffer int
	closed bool
	now    func() time.Time
	log    *zap.SugaredLogger
}

// Subscription is one listener's view of the bus
type Subscription struct {
	id     uint64
	origin string
	ch     chan Event
	err    error
	bus    *Bus
}

// NewBus creates a bus whose subscribers queue up to buffer events
func NewBus(buffer int, log *zap.SugaredLogger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if log == nil {
		log = logger.ComponentLogger("broadcast")
	}
	return &Bus{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
		now:    time.Now,
		log:    log,
	}
}

// Subscribe registers a listener. origin identifies the subscriber's
// connection; presence events that connection caused are not echoed back
// to it. Subscribing to a closed bus returns an already-closed
// subscription whose Err is ErrUnavailable.
func (b *Bus) Subscribe(origin string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{origin: origin, ch: make(chan Event, b.buffer), bus: b}
	if b.closed {
		sub.err = errors.ErrUnavailable
		close(sub.ch)
		return sub
	}
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	getMetrics().subscribers.Set(float64(len(b.subs)))
	return sub
}

// Publish stamps ev with the next sequence number and delivers it to every
// subscriber. Events published by one goroutine reach each subscriber in
// publish order.
func (b *Bus) Publish(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ev
	}

	b.seq++
	ev.Seq = b.seq
	if ev.At.IsZero() {
		ev.At = b.now().UTC()
	}
	getMetrics().events.WithLabelValues(string(ev.Type)).Inc()

	for id, sub := range b.subs {
		if ev.Type == EventPresenceChanged && ev.Origin != "" && ev.Origin == sub.origin {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.log.Warnw("Dropping lagging subscriber",
				logger.FieldConnectionID, sub.origin,
				logger.FieldSeq, ev.Seq,
				"buffer", b.buffer,
			)
			getMetrics().lagged.Inc()
			b.drop(id, errors.Wrapf(errors.ErrLagged, "queue of %d events full at seq %d", b.buffer, ev.Seq))
		}
	}
	getMetrics().subscribers.Set(float64(len(b.subs)))
	return ev
}

// Seq returns the last assigned sequence number
func (b *Bus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Subscribers returns the number of live subscriptions
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription with ErrUnavailable. Later publishes are
// discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id := range b.subs {
		b.drop(id, errors.ErrUnavailable)
	}
	getMetrics().subscribers.Set(0)
}

// drop removes and closes a subscription. Caller holds mu.
func (b *Bus) drop(id uint64, err error) {
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	sub.err = err
	close(sub.ch)
}

// Events is closed when the subscription ends; check Err afterwards.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Err explains why the subscription ended: ErrLagged, ErrUnavailable, or
// nil after Close.
func (s *Subscription) Err() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.err
}

// Close unsubscribes. Safe to call more than once and after the bus
// dropped the subscription.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	s.bus.drop(s.id, nil)
	getMetrics().subscribers.Set(float64(len(s.bus.subs)))
}
