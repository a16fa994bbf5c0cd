package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"basil/pkg/bus"
	channelpkg "basil/pkg/channel"
	"basil/pkg/config"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Run(context.Context, channelpkg.Router) error { return nil }

func (a testAdapter) Send(context.Context, bus.Reply) error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()

	a, err := newApp(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("newApp error: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestEnabledAdaptersDefaultsToCLI(t *testing.T) {
	cfg := &config.Config{}
	a := newTestApp(t, cfg)

	adapters, err := enabledAdapters(cfg, a, discardLogger())
	if err != nil {
		t.Fatalf("enabledAdapters error: %v", err)
	}
	if got := enabledChannelNames(adapters); got != "cli" {
		t.Fatalf("channels = %q, want %q", got, "cli")
	}
}

func TestEnabledAdaptersAddsMailbox(t *testing.T) {
	cfg := &config.Config{}
	cfg.Channels.Mailbox.Enabled = true
	cfg.Channels.Mailbox.Dir = t.TempDir()
	a := newTestApp(t, cfg)

	adapters, err := enabledAdapters(cfg, a, discardLogger())
	if err != nil {
		t.Fatalf("enabledAdapters error: %v", err)
	}
	if got := enabledChannelNames(adapters); got != "cli,mailbox" {
		t.Fatalf("channels = %q, want %q", got, "cli,mailbox")
	}
}

func TestEnabledAdaptersTelegramNeedsToken(t *testing.T) {
	cfg := &config.Config{ServerType: "telegram"}
	a := newTestApp(t, cfg)

	if _, err := enabledAdapters(cfg, a, discardLogger()); err == nil {
		t.Fatal("expected error for telegram without token")
	}
}

func TestEnabledChannelNames(t *testing.T) {
	adapters := []channelpkg.Adapter{testAdapter{name: "telegram"}, testAdapter{name: "mailbox"}}
	if got := enabledChannelNames(adapters); got != "telegram,mailbox" {
		t.Fatalf("enabledChannelNames = %q, want %q", got, "telegram,mailbox")
	}
}

func TestNewAppLoadsBuiltinsAndFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "greet.yml"), []byte("responders:\n  - trigger: hi\n    reply: hello\n"), 0o644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("responders:\n  - trigger: \"(\"\n    reply: x\n"), 0o644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}

	cfg := &config.Config{PluginsDirectory: dir}
	a := newTestApp(t, cfg)

	if got := strings.Join(a.report.Loaded, ","); got != "greet.yml,help,recap" {
		t.Fatalf("loaded = %q, want %q", got, "greet.yml,help,recap")
	}
	if len(a.report.Failed) != 1 || a.report.Failed[0].Source != "broken.yml" {
		t.Fatalf("failed = %v, want broken.yml", a.report.Failed)
	}

	reply := a.dispatcher.Dispatch(context.Background(), bus.Message{Channel: "cli", Chat: "cli", From: "pat", FromName: "pat", To: "basil", Text: "hi"})
	if reply == nil || reply.Text != "hello" {
		t.Fatalf("reply = %+v, want hello", reply)
	}
}

func TestNewAppHonorsDisabledPlugins(t *testing.T) {
	cfg := &config.Config{PluginsDirectory: t.TempDir(), DisabledPlugins: []string{"recap"}}
	a := newTestApp(t, cfg)

	if got := strings.Join(a.report.Loaded, ","); got != "help" {
		t.Fatalf("loaded = %q, want %q", got, "help")
	}
}

func TestOpenHistoryStoreSQLite(t *testing.T) {
	cfg := &config.Config{}
	cfg.History.Backend = "sqlite"
	cfg.History.Path = filepath.Join(t.TempDir(), "nested", "history.db")

	store, err := openHistoryStore(cfg)
	if err != nil {
		t.Fatalf("openHistoryStore error: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(cfg.History.Path); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestPrintPlugins(t *testing.T) {
	cfg := &config.Config{PluginsDirectory: t.TempDir()}
	a := newTestApp(t, cfg)

	var out bytes.Buffer
	printPlugins(&out, a.registry, a.report)

	for _, want := range []string{"responder", "help", "list the commands I respond to", "2 plugin(s) loaded"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}
