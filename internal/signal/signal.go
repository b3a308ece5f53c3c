// Package signal implements the ordered multi-subscriber notification
// channel used throughout the engine. Signals are owned by instances and
// services and are only ever fired from the owning game instance's
// scheduler goroutine; Connect/Disconnect may race with Fire from script
// callbacks, so the subscriber list is guarded.
package signal

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var connectionSeq atomic.Uint64

// Handler receives a fired signal's arguments.
type Handler func(args ...any)

// ErrorSink receives errors raised by handlers during dispatch. The
// engine routes these into the per-game script error count.
type ErrorSink func(signalName string, err error)

type subscription struct {
	id      uint64
	handler Handler
	once    bool
}

// Signal is a named event source with ordered delivery.
type Signal struct {
	mu      sync.Mutex
	name    string
	subs    []subscription
	onError ErrorSink
}

// New creates a signal with the given debug name.
func New(name string) *Signal {
	return &Signal{name: name}
}

// Name returns the signal's debug name.
func (s *Signal) Name() string { return s.name }

// SetErrorSink installs the handler-error sink. A nil sink drops errors.
func (s *Signal) SetErrorSink(sink ErrorSink) {
	s.mu.Lock()
	s.onError = sink
	s.mu.Unlock()
}

// Connect subscribes a handler. Handlers are invoked in subscription
// order on every Fire until disconnected.
func (s *Signal) Connect(h Handler) *Connection {
	return s.connect(h, false)
}

// Once subscribes a handler that auto-disconnects after one invocation.
func (s *Signal) Once(h Handler) *Connection {
	return s.connect(h, true)
}

func (s *Signal) connect(h Handler, once bool) *Connection {
	conn := &Connection{
		id:     connectionSeq.Add(1),
		signal: s,
	}
	conn.connected.Store(true)
	s.mu.Lock()
	s.subs = append(s.subs, subscription{id: conn.id, handler: h, once: once})
	s.mu.Unlock()
	return conn
}

func (s *Signal) disconnect(id uint64) {
	s.mu.Lock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

// Fire invokes every active subscriber with args. The subscriber list is
// snapshotted first: handlers that connect or disconnect subscribers take
// effect from the next Fire. A handler error or panic is reported to the
// error sink and never stops the remaining handlers.
func (s *Signal) Fire(args ...any) {
	s.mu.Lock()
	snapshot := make([]subscription, len(s.subs))
	copy(snapshot, s.subs)
	sink := s.onError
	s.mu.Unlock()

	for _, sub := range snapshot {
		if sub.once {
			// Remove before invoking so a re-entrant Fire from inside the
			// handler cannot deliver it twice.
			s.disconnect(sub.id)
		}
		s.safeInvoke(sub.handler, sink, args)
	}
}

func (s *Signal) safeInvoke(h Handler, sink ErrorSink, args []any) {
	defer func() {
		if r := recover(); r != nil && sink != nil {
			sink(s.name, fmt.Errorf("handler panic: %v", r))
		}
	}()
	h(args...)
}

// SubscriberCount reports the number of active subscriptions.
func (s *Signal) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Connection represents one active subscription.
type Connection struct {
	id        uint64
	signal    *Signal
	connected atomic.Bool
}

// Disconnect removes the subscription. Safe to call more than once and
// from inside the handler itself.
func (c *Connection) Disconnect() {
	if c.connected.CompareAndSwap(true, false) {
		c.signal.disconnect(c.id)
	}
}

// Connected reports whether the subscription is still live.
func (c *Connection) Connected() bool {
	return c.connected.Load()
}
