// Package dispatch routes inbound chat messages and emails to registered
// handlers.
//
// Every matching handler runs, in registration order, one at a time. A
// handler that fails or panics is logged and skipped; the next handler still
// runs. Chat messages are written to the chat history before any handler
// runs, whether or not anything matches.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"basil/pkg/bus"
	"basil/pkg/channel"
	"basil/pkg/logger"
	"basil/pkg/plugin"

	"github.com/google/uuid"
)

const (
	sourceChat  = "chat"
	sourceEmail = "email"

	previewLimit = 120
)

// HistoryWriter records dispatched chat messages.
type HistoryWriter interface {
	Store(ctx context.Context, msg bus.Message) error
}

// Options configures a Dispatcher.
type Options struct {
	// Me is the bot's name; responders only see messages addressed to it.
	Me string
	// EmailChannel is the transport that messages synthesized from email
	// reply through.
	EmailChannel string
	// Outbox is the Sender given to messages synthesized from email.
	Outbox  bus.Sender
	Events  bus.Publisher
	Metrics *Metrics
	Log     *slog.Logger
}

// Dispatcher runs registered handlers against inbound events.
type Dispatcher struct {
	registry     *plugin.Registry
	history      HistoryWriter
	me           string
	emailChannel string
	outbox       bus.Sender
	events       bus.Publisher
	metrics      *Metrics
	log          *slog.Logger
}

func New(registry *plugin.Registry, history HistoryWriter, opts Options) *Dispatcher {
	if registry == nil {
		registry = plugin.NewRegistry()
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{
		registry:     registry,
		history:      history,
		me:           strings.TrimSpace(opts.Me),
		emailChannel: strings.TrimSpace(opts.EmailChannel),
		outbox:       opts.Outbox,
		events:       opts.Events,
		metrics:      opts.Metrics,
		log:          logger.Component(log, "dispatch"),
	}
}

// Dispatch runs responders (when msg is addressed to the bot) and then
// watchers against msg.
//
// The returned reply is the last non-nil reply produced by a successful
// action: last match wins. Actions that need every answer delivered should
// call ExecContext.Say instead of returning a reply.
func (d *Dispatcher) Dispatch(ctx context.Context, msg bus.Message) *bus.Reply {
	id := uuid.NewString()
	log := d.log.With("dispatch_id", id, "channel", msg.Channel, "chat", msg.Chat)
	log.Debug("Dispatching message", "from", msg.From, "to", msg.To, "text", preview(msg.Text))

	if msg.HasChat() && d.history != nil {
		if err := d.history.Store(ctx, msg); err != nil {
			log.Warn("Failed to store chat history", "error", err)
		}
	}

	var handlers []*plugin.Handler
	if d.addressedToMe(msg) {
		handlers = append(handlers, d.registry.List(plugin.KindResponder)...)
	}
	handlers = append(handlers, d.registry.List(plugin.KindWatcher)...)

	reply, matched := d.run(ctx, log, id, msg, handlers, func(h *plugin.Handler) (plugin.Match, bool) {
		return h.Trigger().Match(msg.Text)
	})

	d.metrics.dispatched(msg.Channel, sourceChat)
	d.publish(ctx, bus.Event{
		Type:       bus.EventMessageDispatched,
		Channel:    msg.Channel,
		Chat:       msg.Chat,
		DispatchID: id,
		Payload: map[string]string{
			"source":  sourceChat,
			"matched": strconv.Itoa(matched),
		},
	})

	return reply
}

// DispatchEmail runs email checkers against email. The message handed to
// actions has no chat, so it is never stored in history; checkers that want
// to speak pick a chat with Message.WithChat.
func (d *Dispatcher) DispatchEmail(ctx context.Context, email bus.Email) *bus.Reply {
	id := uuid.NewString()
	log := d.log.With("dispatch_id", id, "email_id", email.ID)
	log.Debug("Dispatching email", "from", email.From, "subject", preview(email.Subject))

	msg := bus.Message{
		Channel:  d.emailChannel,
		From:     email.From,
		FromName: email.FromName,
		To:       d.me,
		Text:     email.Subject,
		Server:   d.outbox,
	}

	reply, matched := d.run(ctx, log, id, msg, d.registry.List(plugin.KindEmailChecker), func(h *plugin.Handler) (plugin.Match, bool) {
		if h.Strategy() == nil {
			return plugin.Match{}, false
		}
		return h.Strategy().CheckEmail(email)
	})

	d.metrics.dispatched(msg.Channel, sourceEmail)
	d.publish(ctx, bus.Event{
		Type:       bus.EventMessageDispatched,
		Channel:    msg.Channel,
		DispatchID: id,
		Payload: map[string]string{
			"source":  sourceEmail,
			"matched": strconv.Itoa(matched),
		},
	})

	return reply
}

func (d *Dispatcher) run(
	ctx context.Context,
	log *slog.Logger,
	id string,
	msg bus.Message,
	handlers []*plugin.Handler,
	match func(*plugin.Handler) (plugin.Match, bool),
) (*bus.Reply, int) {
	var (
		last    *bus.Reply
		matched int
	)

	for _, h := range handlers {
		reply, ok, err := d.execute(ctx, log, h, msg, match)
		if err != nil {
			log.Warn("Handler failed", "handler", h.String(), "error", err)
			d.publish(ctx, bus.Event{
				Type:       bus.EventHandlerFailed,
				Channel:    msg.Channel,
				Chat:       msg.Chat,
				DispatchID: id,
				Handler:    h.String(),
				Error:      err.Error(),
			})
		}
		if ok {
			matched++
		}
		if err != nil || reply == nil {
			continue
		}

		if reply.Channel == "" {
			reply.Channel = msg.Channel
		}
		last = reply
	}

	return last, matched
}

// execute matches one handler and runs its action when it matches. Both
// steps run inside the same boundary: a returned error or a panic from the
// trigger, the email strategy or the action becomes a *HandlerError.
func (d *Dispatcher) execute(
	ctx context.Context,
	log *slog.Logger,
	h *plugin.Handler,
	msg bus.Message,
	match func(*plugin.Handler) (plugin.Match, bool),
) (reply *bus.Reply, matched bool, err error) {
	startedAt := time.Now()

	defer func() {
		if r := recover(); r != nil {
			reply = nil
			err = &HandlerError{Handler: h.String(), Err: fmt.Errorf("%v", r), Panic: true}
		}
		if matched || err != nil {
			d.metrics.executed(h.Kind(), err, time.Since(startedAt))
		}
	}()

	m, matched := match(h)
	if !matched {
		return nil, false, nil
	}

	log.Debug("Executing handler", "handler", h.String())
	reply, err = h.Execute(ctx, plugin.ExecContext{Message: msg, Match: m, Handler: h})
	if err != nil {
		return nil, true, &HandlerError{Handler: h.String(), Err: err}
	}
	return reply, true, nil
}

func (d *Dispatcher) addressedToMe(msg bus.Message) bool {
	to := strings.TrimSpace(msg.To)
	if to == "" || d.me == "" {
		return false
	}
	return strings.EqualFold(to, d.me)
}

func (d *Dispatcher) publish(ctx context.Context, event bus.Event) {
	if d.events == nil {
		return
	}
	d.events.PublishEvent(ctx, event)
}

func preview(text string) string {
	return channel.Preview(text, previewLimit)
}
