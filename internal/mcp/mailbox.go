package mcp

import (
	"context"
	"errors"
	"sync"
)

// ErrChannelClosed is returned to a caller waiting on a reply when the
// actor on the other end of a RequestChannel shuts down before replying.
var ErrChannelClosed = errors.New("mcp: request channel closed")

// reply is the one-shot slot a caller blocks on for a request's response.
// It mirrors the per-call response channel StdioTransport.Call keeps in its
// pending map, generalized so any actor mailbox can use the same shape.
type reply[Resp any] struct {
	ch chan Resp
}

func newReply[Resp any]() *reply[Resp] {
	return &reply[Resp]{ch: make(chan Resp, 1)}
}

// envelope pairs a request with the one-shot slot its reply is delivered to.
type envelope[Req, Resp any] struct {
	Req   Req
	reply *reply[Resp]
}

// RequestChannel is a bounded, multi-producer single-consumer mailbox for
// request/reply style actor messaging. Many callers may send concurrently;
// exactly one consumer (the actor's run loop) receives and replies. Each
// send gets its own one-shot reply slot, the same pattern StdioTransport
// uses internally for matching JSON-RPC responses to outstanding calls, but
// generalized so any actor can expose a typed request surface without
// rolling its own pending map.
type RequestChannel[Req, Resp any] struct {
	mu     sync.RWMutex
	ch     chan envelope[Req, Resp]
	closed bool
}

// NewRequestChannel creates a RequestChannel with the given mailbox capacity.
// A capacity of 0 makes sends block until the actor is ready to receive.
func NewRequestChannel[Req, Resp any](capacity int) *RequestChannel[Req, Resp] {
	return &RequestChannel[Req, Resp]{
		ch: make(chan envelope[Req, Resp], capacity),
	}
}

// Send enqueues a request and blocks until the actor replies, the channel
// is closed, or ctx is done. It is safe to call concurrently from multiple
// goroutines.
func (r *RequestChannel[Req, Resp]) Send(ctx context.Context, req Req) (Resp, error) {
	var zero Resp

	r.mu.RLock()
	closed := r.closed
	ch := r.ch
	r.mu.RUnlock()
	if closed {
		return zero, ErrChannelClosed
	}

	rep := newReply[Resp]()
	env := envelope[Req, Resp]{Req: req, reply: rep}

	select {
	case ch <- env:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case resp, ok := <-rep.ch:
		if !ok {
			return zero, ErrChannelClosed
		}
		return resp, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Recv returns the channel the actor's run loop selects on to receive the
// next envelope. The actor must call Reply on every envelope it receives,
// even on error paths, or the sender leaks a goroutine blocked in Send.
func (r *RequestChannel[Req, Resp]) Recv() <-chan envelope[Req, Resp] {
	return r.ch
}

// Reply delivers a response to the sender waiting on env. It must be called
// exactly once per envelope received from Recv.
func (r *RequestChannel[Req, Resp]) Reply(env envelope[Req, Resp], resp Resp) {
	env.reply.ch <- resp
}

// Close marks the channel closed. Sends already in flight that have not yet
// received a reply will surface ErrChannelClosed once drained; new Sends
// fail immediately. Close does not close the underlying Go channel, since
// producers may still be blocked sending into it; it only flips the closed
// flag new Sends check.
func (r *RequestChannel[Req, Resp]) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// EventChannel is a bounded, simplex, fan-out-free channel an actor uses to
// publish lifecycle and progress events to a single consumer. It never
// blocks the publisher: a full channel drops the oldest-pending send's
// slot, matching the non-blocking "send or drop with a warning" behavior
// StdioTransport uses for its notification channel.
type EventChannel[Event any] struct {
	ch chan Event
}

// DefaultEventChannelCapacity is the buffer size new EventChannels use when
// the caller does not need a specific bound.
const DefaultEventChannelCapacity = 100

// NewEventChannel creates an EventChannel with the given capacity. A
// capacity of 0 uses DefaultEventChannelCapacity.
func NewEventChannel[Event any](capacity int) *EventChannel[Event] {
	if capacity <= 0 {
		capacity = DefaultEventChannelCapacity
	}
	return &EventChannel[Event]{ch: make(chan Event, capacity)}
}

// Publish attempts to enqueue an event without blocking. It returns false if
// the channel is full, in which case the caller (normally the actor's own
// run loop) should log and drop rather than stall on a slow consumer.
func (e *EventChannel[Event]) Publish(ev Event) bool {
	select {
	case e.ch <- ev:
		return true
	default:
		return false
	}
}

// Events returns the receive side of the channel for the consumer to range
// over or select on.
func (e *EventChannel[Event]) Events() <-chan Event {
	return e.ch
}

// Close closes the underlying channel. Only the publisher side should call
// this, and only after it is done publishing.
func (e *EventChannel[Event]) Close() {
	close(e.ch)
}
