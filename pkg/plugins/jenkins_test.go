package plugins

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"basil/pkg/bus"
	"basil/pkg/config"
	"basil/pkg/plugin"
)

type fakeJenkins struct {
	mu       sync.Mutex
	requests []string
}

func (f *fakeJenkins) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	if user, pass, ok := r.BasicAuth(); !ok || user != "bot" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.Method + " " + r.URL.Path {
	case "GET /api/json":
		_, _ = io.WriteString(w, `{"jobs":[{"name":"web","color":"blue"},{"name":"api","color":"red_anime"},{"name":"old","color":"disabled"}]}`)
	case "GET /job/web/api/json":
		_, _ = io.WriteString(w, `{"name":"web","color":"blue","healthReport":[{"description":"Build stability: all good"}]}`)
	case "GET /job/api/api/json":
		_, _ = io.WriteString(w, `{"name":"api","color":"red","builds":[{"number":8},{"number":7}],"lastCompletedBuild":{"number":7}}`)
	case "GET /job/api/7/api/json", "GET /job/api/42/api/json":
		_, _ = io.WriteString(w, `{
			"number":7,"result":"FAILURE",
			"actions":[{},{"failCount":3}],
			"culprits":[{"fullName":"Alice"},{"fullName":"Bob"}],
			"changeSet":{"items":[{"user":"alice"},{"author":{"fullName":"Bob"}},{"user":"alice"}]}
		}`)
	case "POST /job/web/build":
		w.Header().Set("Location", "/queue/item/1/")
		w.WriteHeader(http.StatusCreated)
	case "POST /job/nope/build":
		w.WriteHeader(http.StatusNotFound)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newJenkinsFixture(t *testing.T) (*plugin.Registry, config.JenkinsConfig) {
	t.Helper()

	server := httptest.NewServer(&fakeJenkins{})
	t.Cleanup(server.Close)

	t.Setenv("TEST_JENKINS_TOKEN", "secret")
	cfg := config.JenkinsConfig{
		Host:           strings.TrimPrefix(server.URL, "http://"),
		Username:       "bot",
		TokenEnv:       "TEST_JENKINS_TOKEN",
		BroadcastChat:  "builds",
		BroadcastChats: map[string]string{"api": "api-team"},
	}

	reg := plugin.NewRegistry()
	if err := jenkinsPlugin(newJenkinsClient(cfg, server.Client()), cfg)(reg); err != nil {
		t.Fatalf("register jenkins: %v", err)
	}
	return reg, cfg
}

func TestJenkinsStatusList(t *testing.T) {
	reg, _ := newJenkinsFixture(t)

	reply := respond(t, reg, chatMessage("jenkins"))
	want := "* web: build is green\n* api: build is FAILING\n* old: build disabled"
	if reply.Text != want {
		t.Fatalf("reply = %q, want %q", reply.Text, want)
	}
}

func TestJenkinsJobInfo(t *testing.T) {
	reg, _ := newJenkinsFixture(t)

	reply := respond(t, reg, chatMessage("jenkins web"))
	want := "web: build is green!\nBuild stability: all good"
	if reply.Text != want {
		t.Fatalf("reply = %q, want %q", reply.Text, want)
	}
}

func TestJenkinsWhoBroke(t *testing.T) {
	reg, _ := newJenkinsFixture(t)

	tests := map[string]string{
		"who broke web?": "web is currently green!",
		"who broke api?": "The last completed build was 7.\nCulprits are Alice, Bob.",
	}
	for text, want := range tests {
		if got := respond(t, reg, chatMessage(text)).Text; got != want {
			t.Fatalf("%q reply = %q, want %q", text, got, want)
		}
	}
}

func TestJenkinsTriggerBuild(t *testing.T) {
	reg, _ := newJenkinsFixture(t)

	if got := respond(t, reg, chatMessage("build web")).Text; got != "Build started" {
		t.Fatalf("build web reply = %q, want %q", got, "Build started")
	}
	if got := respond(t, reg, chatMessage("build nope")).Text; got != "Could not start build (404)" {
		t.Fatalf("build nope reply = %q, want %q", got, "Could not start build (404)")
	}
}

func TestJenkinsEmailCheckersBroadcast(t *testing.T) {
	reg, cfg := newJenkinsFixture(t)

	outbox := bus.NewMessageBus()
	defer outbox.Close()

	tests := []struct {
		subject  string
		wantChat string
		wantText string
	}{
		{
			subject:  "Jenkins build is back to normal : api #42",
			wantChat: "api-team",
			wantText: "(sun) api is back to normal!\nThanks go to alice, Bob (ninja)",
		},
		{
			subject:  "Build failed in Jenkins: api #7",
			wantChat: "api-team",
			wantText: "(rain) api #7 failed!\n3 failure(s). Culprits identified as Alice, Bob\n" +
				"Please see http://" + cfg.Host + "/job/api/7/ for more details.",
		},
	}

	for _, tt := range tests {
		email := bus.Email{Subject: tt.subject}
		msg := bus.Message{Channel: "cli", From: "jenkins@ci", To: "basil", Text: tt.subject, Server: outbox}

		ran := 0
		for _, h := range reg.List(plugin.KindEmailChecker) {
			match, ok := h.Strategy().CheckEmail(email)
			if !ok {
				continue
			}
			ran++
			if _, err := h.Execute(context.Background(), plugin.ExecContext{Message: msg, Match: match, Handler: h}); err != nil {
				t.Fatalf("%q: %s failed: %v", tt.subject, h, err)
			}
		}
		if ran != 1 {
			t.Fatalf("%q: %d checkers ran, want 1", tt.subject, ran)
		}

		reply, ok := outbox.SubscribeOutbound(context.Background())
		if !ok {
			t.Fatalf("%q: no broadcast queued", tt.subject)
		}
		if reply.Chat != tt.wantChat || reply.Text != tt.wantText {
			t.Fatalf("%q: broadcast = %s %q, want %s %q", tt.subject, reply.Chat, reply.Text, tt.wantChat, tt.wantText)
		}
	}
}

func TestBroadcastChatFallsBack(t *testing.T) {
	cfg := config.JenkinsConfig{BroadcastChat: " builds ", BroadcastChats: map[string]string{"api": "api-team", "web": " "}}

	for job, want := range map[string]string{"api": "api-team", "web": "builds", "other": "builds"} {
		if got := broadcastChat(cfg, job); got != want {
			t.Fatalf("broadcastChat(%q) = %q, want %q", job, got, want)
		}
	}
}

func TestBroadcastUsesConfiguredChannel(t *testing.T) {
	outbox := bus.NewMessageBus()
	defer outbox.Close()

	cfg := config.JenkinsConfig{BroadcastChat: "builds", BroadcastChannel: "telegram"}
	msg := bus.Message{Channel: "mailbox", Server: outbox}
	if err := broadcast(context.Background(), msg, cfg, "web", "hello"); err != nil {
		t.Fatalf("broadcast error: %v", err)
	}

	reply, ok := outbox.SubscribeOutbound(context.Background())
	want := bus.Reply{Channel: "telegram", Chat: "builds", Text: "hello"}
	if !ok || reply != want {
		t.Fatalf("reply = %+v (%v), want %+v", reply, ok, want)
	}

	if err := broadcast(context.Background(), msg, config.JenkinsConfig{}, "web", "hello"); err == nil {
		t.Fatal("expected error without a broadcast chat")
	}
}
