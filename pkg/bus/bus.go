package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Directions reported to DropFunc.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

const (
	defaultCapacity       = 100
	defaultPublishTimeout = 100 * time.Millisecond
)

// DropFunc is told about every message the bus gives up on.
type DropFunc func(direction string)

type Options struct {
	// Capacity is the buffer size of each direction.
	Capacity int
	// PublishTimeout is how long a publish waits on a full buffer before
	// the message is dropped.
	PublishTimeout time.Duration
	OnDrop         DropFunc
}

// MessageBus carries user messages from channels to the agent loop and
// replies back. Publishing never blocks longer than PublishTimeout.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	timeout  time.Duration
	onDrop   DropFunc

	droppedIn  atomic.Uint64
	droppedOut atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func NewMessageBus() *MessageBus {
	return NewMessageBusWithOptions(Options{})
}

func NewMessageBusWithOptions(opts Options) *MessageBus {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	return &MessageBus{
		inbound:  make(chan InboundMessage, opts.Capacity),
		outbound: make(chan OutboundMessage, opts.Capacity),
		timeout:  opts.PublishTimeout,
		onDrop:   opts.OnDrop,
	}
}

func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	if !send(mb.inbound, msg, mb.timeout) {
		mb.droppedIn.Add(1)
		mb.dropped(DirectionInbound)
	}
}

func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	if !send(mb.outbound, msg, mb.timeout) {
		mb.droppedOut.Add(1)
		mb.dropped(DirectionOutbound)
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return receive(ctx, mb.inbound)
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return receive(ctx, mb.outbound)
}

// Close stops the bus. Later publishes are ignored and receivers see ok=false
// once the buffers drain.
func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.inbound)
	close(mb.outbound)
}

func (mb *MessageBus) DroppedInbound() uint64 {
	return mb.droppedIn.Load()
}

func (mb *MessageBus) DroppedOutbound() uint64 {
	return mb.droppedOut.Load()
}

func (mb *MessageBus) dropped(direction string) {
	if mb.onDrop != nil {
		mb.onDrop(direction)
	}
}

// send tries a non-blocking write first and then waits up to timeout.
func send[T any](ch chan<- T, msg T, timeout time.Duration) bool {
	select {
	case ch <- msg:
		return true
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ch <- msg:
		return true
	case <-timer.C:
		return false
	}
}

func receive[T any](ctx context.Context, ch <-chan T) (T, bool) {
	var zero T
	select {
	case msg, ok := <-ch:
		if !ok {
			return zero, false
		}
		return msg, true
	case <-ctx.Done():
		return zero, false
	}
}
