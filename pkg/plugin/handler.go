package plugin

import (
	"context"
	"fmt"

	"basil/pkg/bus"
)

// Kind selects which registry collection a handler belongs to.
type Kind string

const (
	KindResponder    Kind = "responder"
	KindWatcher      Kind = "watcher"
	KindEmailChecker Kind = "email_checker"
)

// Action is the behavior of a handler. A non-nil reply is offered to the
// transport as a direct answer; side-effect sends go through ExecContext.Say.
type Action func(ctx context.Context, ec ExecContext) (*bus.Reply, error)

// Handler binds a trigger (or an email strategy) to an action.
type Handler struct {
	kind        Kind
	trigger     Trigger
	strategy    EmailStrategy
	action      Action
	description string
	described   bool
}

// NewHandler builds an unregistered chat handler.
func NewHandler(kind Kind, trigger Trigger, action Action) *Handler {
	return &Handler{kind: kind, trigger: trigger, action: action}
}

func (h *Handler) Kind() Kind {
	return h.kind
}

func (h *Handler) Trigger() Trigger {
	return h.trigger
}

// Strategy is set only on email checkers.
func (h *Handler) Strategy() EmailStrategy {
	return h.strategy
}

func (h *Handler) Description() string {
	return h.description
}

// Describe sets the description once. The first call wins, even with an
// empty description; later calls keep what it set.
func (h *Handler) Describe(description string) *Handler {
	if !h.described {
		h.description = description
		h.described = true
	}
	return h
}

// Execute runs the action with the given context.
func (h *Handler) Execute(ctx context.Context, ec ExecContext) (*bus.Reply, error) {
	if h.action == nil {
		return nil, fmt.Errorf("%s has no action", h)
	}
	return h.action(ctx, ec)
}

func (h *Handler) String() string {
	if h.kind == KindEmailChecker && h.strategy != nil {
		return fmt.Sprintf("%s: %s", h.kind, h.strategy)
	}
	return fmt.Sprintf("%s: %s", h.kind, h.trigger)
}
