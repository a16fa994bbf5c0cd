package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"basil/pkg/config"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := New(config.OpenAIProviderConfig{Model: "gpt-5.2"})
	if err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestNewRequiresModel(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	_, err := New(config.OpenAIProviderConfig{})
	if err == nil {
		t.Fatal("expected error when model is missing")
	}
}

func TestNewUsesConfiguredAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("TEST_OPENAI_API_KEY", "sk-test")

	client, err := New(config.OpenAIProviderConfig{APIKeyEnv: "TEST_OPENAI_API_KEY", Model: "openai/gpt-5.2"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client.model != "gpt-5.2" {
		t.Fatalf("model = %q, want %q", client.model, "gpt-5.2")
	}
	if client.instructions != defaultInstructions {
		t.Fatalf("instructions = %q, want default", client.instructions)
	}
}

func TestNewFallsBackToDefaultAPIKeyEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-default")
	t.Setenv("TEST_OPENAI_API_KEY", "")

	client, err := New(config.OpenAIProviderConfig{APIKeyEnv: "TEST_OPENAI_API_KEY", Model: "gpt-5.2"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if client == nil {
		t.Fatal("expected client")
	}
}

func TestNormalizeModel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "plain model", input: "gpt-5.2", want: "gpt-5.2"},
		{name: "openai prefix", input: "openai/gpt-5.2", want: "gpt-5.2"},
		{name: "other provider", input: "anthropic/claude", wantErr: true},
		{name: "missing model id", input: "openai/", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeModel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeModel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("normalizeModel(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSessionAndAskAgainstFakeAPI(t *testing.T) {
	var mu sync.Mutex
	var askBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/conversations"):
			_, _ = io.WriteString(w, `{"id":"conv_1","object":"conversation","created_at":1,"metadata":{}}`)
		case strings.HasSuffix(r.URL.Path, "/responses"):
			mu.Lock()
			_ = json.NewDecoder(r.Body).Decode(&askBody)
			mu.Unlock()
			_, _ = io.WriteString(w, `{
				"id":"resp_1","object":"response","created_at":1,"model":"gpt-5.2","status":"completed",
				"output":[{"type":"message","id":"msg_1","role":"assistant","status":"completed",
					"content":[{"type":"output_text","text":"  forty-two  ","annotations":[]}]}],
				"usage":{"input_tokens":5,"output_tokens":2,"total_tokens":7}
			}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	t.Setenv("OPENAI_API_KEY", "sk-test")
	client, err := New(config.OpenAIProviderConfig{BaseURL: server.URL + "/v1", Model: "gpt-5.2", Instructions: "be brief"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	sessionID, err := client.CreateSession(context.Background(), "telegram:100")
	if err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if sessionID != "conv_1" {
		t.Fatalf("session id = %q, want %q", sessionID, "conv_1")
	}

	answer, err := client.Ask(context.Background(), sessionID, "what is the answer?")
	if err != nil {
		t.Fatalf("Ask error: %v", err)
	}
	if answer != "forty-two" {
		t.Fatalf("answer = %q, want %q", answer, "forty-two")
	}

	mu.Lock()
	defer mu.Unlock()
	if askBody["instructions"] != "be brief" {
		t.Fatalf("instructions = %v, want %q", askBody["instructions"], "be brief")
	}
	if askBody["input"] != "what is the answer?" {
		t.Fatalf("input = %v", askBody["input"])
	}
}

func TestAskValidatesArguments(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	client, err := New(config.OpenAIProviderConfig{Model: "gpt-5.2"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if _, err := client.Ask(context.Background(), " ", "hi"); err == nil {
		t.Fatal("expected error for empty session id")
	}
	if _, err := client.Ask(context.Background(), "conv_1", " "); err == nil {
		t.Fatal("expected error for empty question")
	}
}
