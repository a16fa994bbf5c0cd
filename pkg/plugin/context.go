package plugin

import (
	"context"

	"basil/pkg/bus"
)

// ExecContext is the per-invocation state handed to an action. It is a
// value: every invocation gets its own copy.
type ExecContext struct {
	Message bus.Message
	Match   Match
	Handler *Handler
}

// Say sends text into the triggering message's chat.
func (ec ExecContext) Say(ctx context.Context, text string) error {
	return ec.Message.Say(ctx, text)
}

// Reply builds a direct reply to the sender of the triggering message.
func (ec ExecContext) Reply(text string) *bus.Reply {
	return ec.Message.Reply(text)
}

// Group is shorthand for ec.Match.Group.
func (ec ExecContext) Group(i int) string {
	return ec.Match.Group(i)
}

// Named is shorthand for ec.Match.Named.
func (ec ExecContext) Named(name string) string {
	return ec.Match.Named(name)
}
