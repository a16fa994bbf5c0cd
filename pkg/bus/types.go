package bus

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNoServer is returned when a message has no transport to reply through.
var ErrNoServer = errors.New("message has no server to reply through")

// Sender delivers replies to a transport.
type Sender interface {
	Send(ctx context.Context, reply Reply) error
}

// Message is one inbound chat event after transport translation.
//
// An empty Chat marks a message that did not come from a chat (for example
// one synthesized from an email); such messages are never stored in history.
type Message struct {
	Channel  string `json:"channel"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
	To       string `json:"to,omitempty"`
	Chat     string `json:"chat,omitempty"`
	Text     string `json:"text"`

	Server Sender `json:"-"`
}

// Say sends text into the message's chat through its server.
func (m Message) Say(ctx context.Context, text string) error {
	if m.Server == nil {
		return ErrNoServer
	}

	return m.Server.Send(ctx, Reply{Channel: m.Channel, Chat: m.Chat, Text: text})
}

// Reply builds a direct reply addressed to the sender.
func (m Message) Reply(text string) *Reply {
	return &Reply{Channel: m.Channel, Chat: m.Chat, To: m.FromName, Text: text}
}

// WithChat returns a copy of the message targeted at another chat.
func (m Message) WithChat(chat string) Message {
	m.Chat = chat
	return m
}

// HasChat reports whether the message belongs to a chat.
func (m Message) HasChat() bool {
	return m.Chat != ""
}

// Email is one inbound mail handed to email checkers.
type Email struct {
	ID       string    `json:"id"`
	From     string    `json:"from"`
	FromName string    `json:"from_name,omitempty"`
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	Date     time.Time `json:"date"`
}

// Reply is one outbound chat message.
type Reply struct {
	Channel string `json:"channel"`
	Chat    string `json:"chat"`
	To      string `json:"to,omitempty"`
	Text    string `json:"text"`
}

// Format renders the reply text with an addressing prefix built from the
// first word of To.
func (r Reply) Format() string {
	fields := strings.Fields(r.To)
	if len(fields) == 0 {
		return r.Text
	}

	return fields[0] + ", " + r.Text
}

// SendFunc delivers one reply on a specific transport.
type SendFunc func(context.Context, Reply) error
