package history

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"basil/pkg/bus"
)

func TestStoreIgnoresChatlessMessages(t *testing.T) {
	store := NewMemoryStore()
	h := New(store)

	if err := h.Store(context.Background(), bus.Message{Text: "from email"}); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if got := store.Len(""); got != 0 {
		t.Fatalf("entries = %d, want 0", got)
	}
}

func TestStoreAppendsInOrder(t *testing.T) {
	h := New(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := bus.Message{Channel: "cli", Chat: "room", From: "ada", Text: fmt.Sprintf("m%d", i)}
		if err := h.Store(ctx, msg); err != nil {
			t.Fatalf("Store error: %v", err)
		}
	}

	entries, err := h.Recent(ctx, "room", 2)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Text != "m1" || entries[1].Text != "m2" {
		t.Fatalf("entries = %q, %q, want m1, m2", entries[0].Text, entries[1].Text)
	}
	if entries[0].ID == "" || entries[0].At.IsZero() {
		t.Fatal("expected entry id and timestamp")
	}
}

func TestRecentRequiresChat(t *testing.T) {
	if _, err := New(nil).Recent(context.Background(), " ", 5); err == nil {
		t.Fatal("expected error for empty chat")
	}
}

func TestConcurrentStoresAcrossChats(t *testing.T) {
	store := NewMemoryStore()
	h := New(store)
	ctx := context.Background()

	const perChat = 50
	chats := []string{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	for _, chat := range chats {
		for i := 0; i < perChat; i++ {
			wg.Add(1)
			go func(chat string, i int) {
				defer wg.Done()
				_ = h.Store(ctx, bus.Message{Chat: chat, Text: fmt.Sprintf("%s-%d", chat, i)})
			}(chat, i)
		}
	}
	wg.Wait()

	for _, chat := range chats {
		if got := store.Len(chat); got != perChat {
			t.Fatalf("chat %s entries = %d, want %d", chat, got, perChat)
		}
		entries, _ := store.Recent(ctx, chat, perChat)
		for _, e := range entries {
			if !strings.HasPrefix(e.Text, chat+"-") {
				t.Fatalf("chat %s holds foreign entry %q", chat, e.Text)
			}
		}
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	h := New(store)
	t.Cleanup(func() { _ = h.Close() })

	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		msg := bus.Message{Channel: "telegram", Chat: "42", From: "7", FromName: "Ada", To: "basil", Text: text}
		if err := h.Store(ctx, msg); err != nil {
			t.Fatalf("Store error: %v", err)
		}
	}
	if err := h.Store(ctx, bus.Message{Chat: "other", Text: "elsewhere"}); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	entries, err := h.Recent(ctx, "42", 2)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Text != "two" || entries[1].Text != "three" {
		t.Fatalf("entries = %q, %q, want two, three", entries[0].Text, entries[1].Text)
	}
	if entries[1].FromName != "Ada" || entries[1].To != "basil" || entries[1].Channel != "telegram" {
		t.Fatalf("entry = %+v", entries[1])
	}
}
