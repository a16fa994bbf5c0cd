package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"basil/pkg/bus"
	"basil/pkg/logger"
	"basil/pkg/plugin"
	"basil/pkg/provider"
)

// sessionManager owns one provider conversation per chat.
type sessionManager struct {
	client provider.Client
	log    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*chatSession
}

// chatSession serializes questions within one chat so answers keep the
// conversation order.
type chatSession struct {
	id    string
	askMu sync.Mutex
}

func newSessionManager(client provider.Client, log *slog.Logger) *sessionManager {
	if log == nil {
		log = slog.Default()
	}

	return &sessionManager{
		client:   client,
		log:      logger.Component(log, "plugins.ask"),
		sessions: make(map[string]*chatSession),
	}
}

// Ask routes question into the conversation for key.
func (m *sessionManager) Ask(ctx context.Context, key string, question string) (string, error) {
	session, err := m.sessionFor(ctx, key)
	if err != nil {
		return "", err
	}

	session.askMu.Lock()
	defer session.askMu.Unlock()

	return m.client.Ask(ctx, session.id, question)
}

// sessionFor returns the existing conversation for key or opens a new one.
func (m *sessionManager) sessionFor(ctx context.Context, key string) (*chatSession, error) {
	m.mu.RLock()
	session, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		return session, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[key]; ok {
		return session, nil
	}

	id, err := m.client.CreateSession(ctx, "basil:"+key)
	if err != nil {
		return nil, fmt.Errorf("start conversation for %s: %w", key, err)
	}
	m.log.Debug("Started conversation", "key", key, "session_id", id)

	session = &chatSession{id: id}
	m.sessions[key] = session
	return session, nil
}

// Len reports how many conversations are open.
func (m *sessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// sessionKey scopes a conversation to the chat, or to the sender for
// chat-less messages.
func sessionKey(msg bus.Message) string {
	if msg.HasChat() {
		return msg.Channel + ":" + msg.Chat
	}
	return msg.Channel + ":@" + msg.From
}

func askPlugin(sessions *sessionManager) func(*plugin.Registry) error {
	return func(reg *plugin.Registry) error {
		reg.RespondTo(plugin.Text(`ask (.+)`), func(ctx context.Context, ec plugin.ExecContext) (*bus.Reply, error) {
			answer, err := sessions.Ask(ctx, sessionKey(ec.Message), strings.TrimSpace(ec.Group(1)))
			if err != nil {
				return nil, err
			}
			return ec.Reply(answer), nil
		}).Describe("ask the language model a question")

		return nil
	}
}
