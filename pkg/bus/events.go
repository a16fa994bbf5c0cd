package bus

import (
	"context"
	"sync"
	"time"
)

type EventType string

const (
	EventMessageDispatched EventType = "message_dispatched"
	EventHandlerFailed     EventType = "handler_failed"
	EventPluginLoadFailed  EventType = "plugin_load_failed"
	EventReplyFailed       EventType = "reply_failed"
)

// Event reports something that happened around a dispatch. Events are
// observational: nothing in the dispatch path waits on a subscriber.
type Event struct {
	Type       EventType         `json:"type"`
	At         time.Time         `json:"at"`
	Channel    string            `json:"channel,omitempty"`
	Chat       string            `json:"chat,omitempty"`
	DispatchID string            `json:"dispatch_id,omitempty"`
	Handler    string            `json:"handler,omitempty"`
	Payload    map[string]string `json:"payload,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Publisher is the narrow event-publishing surface used by the dispatcher and
// plugin loader.
type Publisher interface {
	PublishEvent(ctx context.Context, event Event) bool
}

// PublishEvent offers event to every subscriber without blocking. A full
// subscriber misses the event and the drop is counted.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx != nil && ctx.Err() != nil {
		return false
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	// Held for the whole fan-out so unsubscribe cannot close a channel mid-send.
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	if mb.closed() {
		return false
	}

	for _, ch := range mb.eventSubscribers {
		select {
		case ch <- event:
		default:
			mb.droppedEvents.Add(1)
		}
	}

	return true
}

// DroppedEvents is the number of deliveries skipped because a subscriber was
// full.
func (mb *MessageBus) DroppedEvents() uint64 {
	return mb.droppedEvents.Load()
}

// SubscribeEvents registers a buffered subscriber. The channel is closed when
// ctx ends, the bus closes, or the returned func is called.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	if mb.closed() {
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			defer mb.mu.Unlock()
			if _, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(ch)
			}
		})
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-mb.done:
		}
		unsubscribe()
	}()

	return ch, unsubscribe
}

func (mb *MessageBus) closed() bool {
	select {
	case <-mb.done:
		return true
	default:
		return false
	}
}
