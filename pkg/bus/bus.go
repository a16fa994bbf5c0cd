package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

// MessageBus queues outbound replies for asynchronous delivery and fans out
// dispatch events to subscribers.
type MessageBus struct {
	outbound chan Reply

	mu                    sync.RWMutex
	senders               map[string]SendFunc
	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64
	droppedEvents         atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		outbound:         make(chan Reply, defaultBufferSize),
		senders:          make(map[string]SendFunc),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// Send implements Sender by queueing the reply for the delivery loop.
func (mb *MessageBus) Send(ctx context.Context, reply Reply) error {
	if mb.PublishOutbound(ctx, reply) {
		return nil
	}
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("bus closed, dropping reply to %s/%s", reply.Channel, reply.Chat)
}

// PublishOutbound queues reply, waiting for room until ctx ends or the bus
// closes. A closed bus never accepts a reply, even with room in the queue.
func (mb *MessageBus) PublishOutbound(ctx context.Context, reply Reply) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil || mb.closed() {
		return false
	}

	select {
	case mb.outbound <- reply:
		return true
	case <-ctx.Done():
	case <-mb.done:
	}
	return false
}

// SubscribeOutbound takes the next queued reply.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (Reply, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case reply := <-mb.outbound:
		return reply, true
	case <-ctx.Done():
	case <-mb.done:
	}
	return Reply{}, false
}

// RegisterSender binds the transport that delivers replies for channel.
func (mb *MessageBus) RegisterSender(channel string, send SendFunc) {
	mb.mu.Lock()
	mb.senders[channel] = send
	mb.mu.Unlock()
}

func (mb *MessageBus) GetSender(channel string) (SendFunc, bool) {
	mb.mu.RLock()
	send, ok := mb.senders[channel]
	mb.mu.RUnlock()
	return send, ok
}

// Close stops the bus and closes every event subscription. Queued replies
// that were not yet taken are abandoned.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		defer mb.mu.Unlock()

		close(mb.done)
		for id, ch := range mb.eventSubscribers {
			delete(mb.eventSubscribers, id)
			close(ch)
		}
	})
}
