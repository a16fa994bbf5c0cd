package history

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"basil/pkg/bus"

	"github.com/google/uuid"
)

const defaultRecentLimit = 20

// Entry is one stored chat message.
type Entry struct {
	ID       string    `json:"id"`
	Chat     string    `json:"chat"`
	Channel  string    `json:"channel"`
	From     string    `json:"from"`
	FromName string    `json:"from_name"`
	To       string    `json:"to,omitempty"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// Store persists entries. Append must be safe for concurrent use across chats.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Recent(ctx context.Context, chat string, limit int) ([]Entry, error)
	Close() error
}

// ChatHistory is the append-only log of dispatched chat messages.
type ChatHistory struct {
	store Store

	mu    sync.Mutex
	chats map[string]*sync.Mutex
}

func New(store Store) *ChatHistory {
	if store == nil {
		store = NewMemoryStore()
	}

	return &ChatHistory{
		store: store,
		chats: make(map[string]*sync.Mutex),
	}
}

// Store appends msg to its chat. Messages without a chat are ignored.
func (h *ChatHistory) Store(ctx context.Context, msg bus.Message) error {
	chat := strings.TrimSpace(msg.Chat)
	if chat == "" {
		return nil
	}

	lock := h.chatLock(chat)
	lock.Lock()
	defer lock.Unlock()

	return h.store.Append(ctx, Entry{
		ID:       uuid.NewString(),
		Chat:     chat,
		Channel:  msg.Channel,
		From:     msg.From,
		FromName: msg.FromName,
		To:       msg.To,
		Text:     msg.Text,
		At:       time.Now().UTC(),
	})
}

// Recent returns up to limit entries of chat, oldest first.
func (h *ChatHistory) Recent(ctx context.Context, chat string, limit int) ([]Entry, error) {
	chat = strings.TrimSpace(chat)
	if chat == "" {
		return nil, errors.New("chat is required")
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	return h.store.Recent(ctx, chat, limit)
}

func (h *ChatHistory) Close() error {
	return h.store.Close()
}

func (h *ChatHistory) chatLock(chat string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()

	lock, ok := h.chats[chat]
	if !ok {
		lock = &sync.Mutex{}
		h.chats[chat] = lock
	}
	return lock
}
