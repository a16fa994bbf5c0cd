// Package plugins holds the compiled-in plugin catalog.
package plugins

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"basil/pkg/bus"
	"basil/pkg/config"
	"basil/pkg/history"
	"basil/pkg/logger"
	"basil/pkg/plugin"
	"basil/pkg/provider"
)

// HistoryReader is the read side of chat history used by recap.
type HistoryReader interface {
	Recent(ctx context.Context, chat string, limit int) ([]history.Entry, error)
}

// Deps are the services builtin plugins may use. Plugins whose dependency is
// missing are left out of the catalog.
type Deps struct {
	Config     *config.Config
	History    HistoryReader
	Provider   provider.Client
	HTTPClient *http.Client
	Log        *slog.Logger
}

// Builtins returns the compiled-in sources. The loader orders them together
// with file plugins by ID.
func Builtins(deps Deps) []plugin.Source {
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	log := logger.Component(deps.Log, "plugins")

	sources := []plugin.Source{
		{ID: "help", Register: registerHelp},
	}

	if deps.History != nil {
		sources = append(sources, plugin.Source{ID: "recap", Register: recapPlugin(deps.History)})
	}

	if strings.TrimSpace(deps.Config.Jenkins.Host) != "" {
		client := newJenkinsClient(deps.Config.Jenkins, deps.HTTPClient)
		sources = append(sources, plugin.Source{ID: "jenkins", Register: jenkinsPlugin(client, deps.Config.Jenkins)})
	} else {
		log.Debug("Jenkins plugin not configured")
	}

	if deps.Provider != nil {
		sessions := newSessionManager(deps.Provider, log)
		sources = append(sources, plugin.Source{ID: "ask", Register: askPlugin(sessions)})
	}

	return sources
}

// say builds an unaddressed reply into the message's chat.
func say(msg bus.Message, text string) *bus.Reply {
	return &bus.Reply{Channel: msg.Channel, Chat: msg.Chat, Text: text}
}

// trim strips surrounding whitespace from every line of a multi-line reply.
func trim(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
