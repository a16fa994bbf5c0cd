package provider

import (
	"context"
	"errors"
	"log/slog"

	"basil/pkg/config"
	"basil/pkg/logger"
	provideropenai "basil/pkg/provider/openai"
)

// ErrDisabled is returned by New when no provider is enabled in config.
var ErrDisabled = errors.New("no LLM provider enabled")

// Client is the LLM surface used by the ask plugin.
type Client interface {
	Health(ctx context.Context) error
	CreateSession(ctx context.Context, title string) (string, error)
	Ask(ctx context.Context, sessionID string, question string) (string, error)
}

func New(cfg config.ProvidersConfig) (Client, error) {
	if !cfg.OpenAI.Enabled {
		return nil, ErrDisabled
	}

	logger.Component(slog.Default(), "provider.factory").Debug("Resolving provider client", "provider", "openai", "model", cfg.OpenAI.Model)
	client, err := provideropenai.New(cfg.OpenAI)
	if err != nil {
		return nil, err
	}

	return client, nil
}
