package plugin

import (
	"context"
	"testing"

	"basil/pkg/bus"
)

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinition(".yml", []byte(`
responders:
  - trigger: ping
    reply: pong
    addressed: true
    description: replies pong
watchers:
  - pattern: '(?i)\bcoffee\b'
    reply: "{{.Message.FromName}} wants coffee"
`))
	if err != nil {
		t.Fatalf("ParseDefinition error: %v", err)
	}

	if len(def.Responders) != 1 || len(def.Watchers) != 1 {
		t.Fatalf("definition = %+v", def)
	}
	if !def.Responders[0].Addressed {
		t.Fatal("expected addressed responder")
	}
}

func TestParseDefinitionTOML(t *testing.T) {
	def, err := ParseDefinition(".toml", []byte(`
[[responders]]
trigger = 'greet (?P<name>\w+)'
reply = "hello {{.Named \"name\"}}"
`))
	if err != nil {
		t.Fatalf("ParseDefinition error: %v", err)
	}

	reg := NewRegistry()
	if err := def.Register(reg); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	h := reg.List(KindResponder)[0]
	m, ok := h.Trigger().Match("greet ada")
	if !ok {
		t.Fatal("expected match")
	}
	reply, err := h.Execute(context.Background(), ExecContext{Match: m})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if reply.Text != "hello ada" {
		t.Fatalf("reply = %q, want %q", reply.Text, "hello ada")
	}
}

func TestParseDefinitionRejectsUnknownFields(t *testing.T) {
	if _, err := ParseDefinition(".yaml", []byte("responders:\n  - trigger: a\n    replay: typo\n")); err == nil {
		t.Fatal("expected unknown yaml field to fail")
	}
	if _, err := ParseDefinition(".toml", []byte("[[responders]]\ntrigger = 'a'\nreplay = 'typo'\n")); err == nil {
		t.Fatal("expected unknown toml field to fail")
	}
}

func TestParseDefinitionEmptyYAML(t *testing.T) {
	def, err := ParseDefinition(".yml", nil)
	if err != nil {
		t.Fatalf("ParseDefinition error: %v", err)
	}
	if len(def.Responders)+len(def.Watchers) != 0 {
		t.Fatalf("definition = %+v, want empty", def)
	}
}

func TestDefinitionRuleValidation(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{name: "both trigger kinds", rule: Rule{Trigger: "a", Pattern: "b", Reply: "x"}},
		{name: "missing reply", rule: Rule{Trigger: "a"}},
		{name: "bad template", rule: Rule{Trigger: "a", Reply: "{{"}},
		{name: "bad pattern", rule: Rule{Pattern: "(", Reply: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			def := Definition{Responders: []Rule{{Trigger: "ok", Reply: "ok"}, tt.rule}}
			if err := def.Register(reg); err == nil {
				t.Fatal("expected error")
			}
			if got := len(reg.List(KindResponder)); got != 1 {
				t.Fatalf("responders = %d, want the 1 registered before the error", got)
			}
		})
	}
}

func TestDefinitionReplyAddressing(t *testing.T) {
	def := Definition{Responders: []Rule{
		{Trigger: "a", Reply: "plain"},
		{Trigger: "b", Reply: "addressed", Addressed: true},
	}}
	reg := NewRegistry()
	if err := def.Register(reg); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	msg := bus.Message{FromName: "Ada", Chat: "room"}
	handlers := reg.List(KindResponder)

	plain, _ := handlers[0].Execute(context.Background(), ExecContext{Message: msg})
	if plain.To != "" || plain.Chat != "room" {
		t.Fatalf("plain reply = %+v", plain)
	}
	addressed, _ := handlers[1].Execute(context.Background(), ExecContext{Message: msg})
	if addressed.To != "Ada" {
		t.Fatalf("addressed reply = %+v", addressed)
	}
}
