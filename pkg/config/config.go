package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	envConfigPath        = "BASIL_CONFIG"
	envMe                = "BASIL_ME"
	envPluginsDirectory  = "BASIL_PLUGINS_DIRECTORY"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
)

// Defaults are consulted by Resolve when the matching explicit field is unset.
var Defaults = map[string]any{
	"me":                "basil",
	"server_type":       "cli",
	"plugins_directory": "plugins",
	"history.backend":   "memory",
	"history.path":      "data/history.db",
	"gateway.host":      "127.0.0.1",
	"gateway.port":      18790,
	"mailbox.dir":       "mail",
}

var validate = validator.New()

// Config is the root runtime configuration loaded from basil.yml.
//
// Keys without a field land in Extras so plugins can read their own settings
// through Resolve.
type Config struct {
	Me               string          `yaml:"me"`
	ServerType       string          `yaml:"server_type" validate:"omitempty,oneof=cli telegram"`
	PluginsDirectory string          `yaml:"plugins_directory"`
	DisabledPlugins  []string        `yaml:"disabled_plugins"`
	Channels         ChannelsConfig  `yaml:"channels"`
	History          HistoryConfig   `yaml:"history"`
	Gateway          GatewayConfig   `yaml:"gateway"`
	Logging          LoggingConfig   `yaml:"logging"`
	Providers        ProvidersConfig `yaml:"providers"`
	Jenkins          JenkinsConfig   `yaml:"jenkins"`

	Extras map[string]any `yaml:",inline"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `yaml:"format" validate:"omitempty,oneof=text json"`
	Level     string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	AddSource bool   `yaml:"add_source"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Mailbox  MailboxConfig  `yaml:"mailbox"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Token     string   `yaml:"token" validate:"required_if=Enabled true"`
	AllowFrom []string `yaml:"allow_from"`
}

// MailboxConfig configures the email spool watched for email checkers.
type MailboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// HistoryConfig selects the chat history backend.
type HistoryConfig struct {
	Backend string `yaml:"backend" validate:"omitempty,oneof=memory sqlite"`
	Path    string `yaml:"path"`
}

// GatewayConfig configures the status server bind settings.
type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI OpenAIProviderConfig `yaml:"openai"`
}

// OpenAIProviderConfig configures the OpenAI client used by the ask plugin.
type OpenAIProviderConfig struct {
	Enabled               bool   `yaml:"enabled"`
	BaseURL               string `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv             string `yaml:"api_key_env"`
	Model                 string `yaml:"model" validate:"required_if=Enabled true"`
	Instructions          string `yaml:"instructions"`
	Organization          string `yaml:"organization"`
	Project               string `yaml:"project"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds" validate:"min=0"`
}

// JenkinsConfig configures the jenkins plugin.
type JenkinsConfig struct {
	Host                  string            `yaml:"host"`
	Scheme                string            `yaml:"scheme" validate:"omitempty,oneof=http https"`
	Username              string            `yaml:"username"`
	TokenEnv              string            `yaml:"token_env"`
	BroadcastChannel      string            `yaml:"broadcast_channel"`
	BroadcastChat         string            `yaml:"broadcast_chat"`
	BroadcastChats        map[string]string `yaml:"broadcast_chats"`
	RequestTimeoutSeconds int               `yaml:"request_timeout_seconds" validate:"min=0"`
}

// LoadConfig resolves basil.yml, parses it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	return Load(configPath)
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML config content without env overrides or validation.
func Parse(content []byte) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewReader(content)).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Resolve looks key up as: explicit field if set, else Defaults, else Extras.
// Dotted keys walk nested sections ("history.backend") and nested extra maps.
func (c *Config) Resolve(key string) (any, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}

	if c != nil {
		if value, ok := c.field(key); ok {
			return value, true
		}
	}

	if value, ok := Defaults[key]; ok {
		return value, true
	}

	if c != nil {
		return lookupExtra(c.Extras, key)
	}

	return nil, false
}

// String resolves key and formats it as a string.
func (c *Config) String(key string) string {
	value, ok := c.Resolve(key)
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprint(value)
}

// Int resolves key as an integer, returning 0 when unset or not numeric.
func (c *Config) Int(key string) int {
	value, ok := c.Resolve(key)
	if !ok {
		return 0
	}

	switch v := value.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// field returns an explicitly set field for key.
func (c *Config) field(key string) (any, bool) {
	var value any
	switch key {
	case "me":
		value = c.Me
	case "server_type":
		value = c.ServerType
	case "plugins_directory":
		value = c.PluginsDirectory
	case "history.backend":
		value = c.History.Backend
	case "history.path":
		value = c.History.Path
	case "gateway.host":
		value = c.Gateway.Host
	case "gateway.port":
		value = c.Gateway.Port
	case "mailbox.dir":
		value = c.Channels.Mailbox.Dir
	case "jenkins.host":
		value = c.Jenkins.Host
	case "jenkins.broadcast_chat":
		value = c.Jenkins.BroadcastChat
	default:
		return nil, false
	}

	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, false
		}
		return strings.TrimSpace(v), true
	case int:
		if v == 0 {
			return nil, false
		}
		return v, true
	}

	return value, true
}

func lookupExtra(extras map[string]any, key string) (any, bool) {
	if value, ok := extras[key]; ok {
		return value, true
	}

	parts := strings.Split(key, ".")
	var current any = extras
	for _, part := range parts {
		section, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = section[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if me := strings.TrimSpace(os.Getenv(envMe)); me != "" {
		cfg.Me = me
	}

	if dir := strings.TrimSpace(os.Getenv(envPluginsDirectory)); dir != "" {
		cfg.PluginsDirectory = dir
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is BASIL_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config", "basil.yml"),
		filepath.Join(cwd, "basil.yml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("basil.yml not found (checked %s and %s)", candidates[0], candidates[1])
}
