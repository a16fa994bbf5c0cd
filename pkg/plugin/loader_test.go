package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"basil/pkg/bus"
)

func writePluginFile(t *testing.T, dir string, name string, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadAlphabetically(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"d.yml", "x.yml", "a.yml"} {
		writePluginFile(t, dir, name, "watchers:\n  - reply: "+name+"\n")
	}

	reg := NewRegistry()
	report := NewLoader(dir, nil).Load(context.Background(), reg)

	if want := []string{"a.yml", "d.yml", "x.yml"}; !slices.Equal(report.Loaded, want) {
		t.Fatalf("loaded = %v, want %v", report.Loaded, want)
	}

	watchers := reg.List(KindWatcher)
	if len(watchers) != 3 {
		t.Fatalf("watchers len = %d, want 3", len(watchers))
	}
	for i, want := range []string{"a.yml", "d.yml", "x.yml"} {
		reply, err := watchers[i].Execute(context.Background(), ExecContext{})
		if err != nil {
			t.Fatalf("execute watcher %d: %v", i, err)
		}
		if reply.Text != want {
			t.Fatalf("watcher %d reply = %q, want %q", i, reply.Text, want)
		}
	}
}

func TestLoadInterleavesBuiltinsAndFiles(t *testing.T) {
	dir := t.TempDir()
	writePluginFile(t, dir, "b.yml", "responders:\n  - trigger: b\n    reply: b\n")

	var order []string
	record := func(id string) Source {
		return Source{ID: id, Register: func(*Registry) error {
			order = append(order, id)
			return nil
		}}
	}

	report := NewLoader(dir, nil).
		Add(record("c"), record("a")).
		Load(context.Background(), NewRegistry())

	if want := []string{"a", "b.yml", "c"}; !slices.Equal(report.Loaded, want) {
		t.Fatalf("loaded = %v, want %v", report.Loaded, want)
	}
	if want := []string{"a", "c"}; !slices.Equal(order, want) {
		t.Fatalf("builtin order = %v, want %v", order, want)
	}
}

func TestLoadContinuesAfterFailures(t *testing.T) {
	dir := t.TempDir()
	writePluginFile(t, dir, "a.yml", "responders:\n  - trigger: a\n    reply: a\n")
	writePluginFile(t, dir, "b.yml", "responders: [this is not valid")
	writePluginFile(t, dir, "c.txt", "whatever")
	writePluginFile(t, dir, "d.yml", "responders:\n  - trigger: d\n    reply: d\n")

	boom := errors.New("boom")
	reg := NewRegistry()
	report := NewLoader(dir, nil).
		Add(
			Source{ID: "bb", Register: func(*Registry) error { return boom }},
			Source{ID: "cc", Register: func(*Registry) error { panic("kaboom") }},
		).
		Load(context.Background(), reg)

	if want := []string{"a.yml", "d.yml"}; !slices.Equal(report.Loaded, want) {
		t.Fatalf("loaded = %v, want %v", report.Loaded, want)
	}

	var failed []string
	for _, f := range report.Failed {
		failed = append(failed, f.Source)
	}
	if want := []string{"b.yml", "bb", "c.txt", "cc"}; !slices.Equal(failed, want) {
		t.Fatalf("failed = %v, want %v", failed, want)
	}

	if !errors.Is(report.Failed[1], boom) {
		t.Fatalf("failure = %v, want wrapped %v", report.Failed[1], boom)
	}
	if !errors.Is(report.Failed[2], ErrUnsupportedFile) {
		t.Fatalf("failure = %v, want %v", report.Failed[2], ErrUnsupportedFile)
	}

	if got := len(reg.List(KindResponder)); got != 2 {
		t.Fatalf("responders = %d, want 2", got)
	}
}

func TestLoadKeepsPartialRegistrations(t *testing.T) {
	reg := NewRegistry()
	report := NewLoader("", nil).
		Add(Source{ID: "partial", Register: func(r *Registry) error {
			r.RespondTo(Text("first"), noop)
			r.RespondTo(Text("("), noop)
			r.RespondTo(Text("never"), noop)
			return nil
		}}).
		Load(context.Background(), reg)

	if len(report.Failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(report.Failed))
	}
	responders := reg.List(KindResponder)
	if len(responders) != 1 {
		t.Fatalf("responders = %d, want 1", len(responders))
	}
	if _, ok := responders[0].Trigger().Match("first"); !ok {
		t.Fatal("expected the handler registered before the panic to remain")
	}
}

func TestLoadSkipsDisabledBuiltins(t *testing.T) {
	called := false
	report := NewLoader("", nil).
		Add(Source{ID: "jenkins", Register: func(*Registry) error {
			called = true
			return nil
		}}).
		Disable(" jenkins ").
		Load(context.Background(), NewRegistry())

	if called {
		t.Fatal("disabled plugin was loaded")
	}
	if len(report.Loaded) != 0 {
		t.Fatalf("loaded = %v, want none", report.Loaded)
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	report := NewLoader(filepath.Join(t.TempDir(), "missing"), nil).Load(context.Background(), NewRegistry())
	if len(report.Loaded) != 0 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v, want empty", report)
	}
}

func TestLoadPublishesFailureEvents(t *testing.T) {
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	events, unsubscribe := mb.SubscribeEvents(context.Background(), 4)
	defer unsubscribe()

	NewLoader("", nil).
		Add(Source{ID: "broken", Register: func(*Registry) error { return errors.New("nope") }}).
		PublishTo(mb).
		Load(context.Background(), NewRegistry())

	select {
	case event := <-events:
		if event.Type != bus.EventPluginLoadFailed || event.Handler != "broken" {
			t.Fatalf("event = %+v", event)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected plugin_load_failed event")
	}
}
