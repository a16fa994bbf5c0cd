package plugin

import "sync"

// Registry holds handlers in registration order, one list per kind.
//
// Registration happens while plugins load; afterwards the registry is only
// read. Lists are never deduplicated.
type Registry struct {
	mu            sync.RWMutex
	responders    []*Handler
	watchers      []*Handler
	emailCheckers []*Handler
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends h to the list selected by its kind.
func (r *Registry) Register(h *Handler) {
	if h == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch h.kind {
	case KindResponder:
		r.responders = append(r.responders, h)
	case KindWatcher:
		r.watchers = append(r.watchers, h)
	case KindEmailChecker:
		r.emailCheckers = append(r.emailCheckers, h)
	}
}

// RespondTo registers a handler for messages addressed to the bot.
func (r *Registry) RespondTo(trigger Trigger, action Action) *Handler {
	h := NewHandler(KindResponder, trigger, action)
	r.Register(h)
	return h
}

// WatchFor registers a handler for every chat message.
func (r *Registry) WatchFor(trigger Trigger, action Action) *Handler {
	h := NewHandler(KindWatcher, trigger, action)
	r.Register(h)
	return h
}

// CheckEmail registers a handler for inbound email.
func (r *Registry) CheckEmail(strategy EmailStrategy, action Action) *Handler {
	h := &Handler{kind: KindEmailChecker, strategy: strategy, action: action}
	r.Register(h)
	return h
}

// List returns a copy of the handlers of one kind in registration order.
func (r *Registry) List(kind Kind) []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var src []*Handler
	switch kind {
	case KindResponder:
		src = r.responders
	case KindWatcher:
		src = r.watchers
	case KindEmailChecker:
		src = r.emailCheckers
	}
	if len(src) == 0 {
		return nil
	}

	out := make([]*Handler, len(src))
	copy(out, src)
	return out
}

// Len returns the number of handlers per kind.
func (r *Registry) Len() map[Kind]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[Kind]int{
		KindResponder:    len(r.responders),
		KindWatcher:      len(r.watchers),
		KindEmailChecker: len(r.emailCheckers),
	}
}

// Clear drops every handler. Used by administrative commands and tests.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.responders = nil
	r.watchers = nil
	r.emailCheckers = nil
}
