// Package config loads and upgrades the bot's YAML configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"

	"github.com/beeper/helper-bot/pkg/roles/amqpsink"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	BackendAccountData = "account_data"
	BackendDatabase    = "database"
	BackendMemory      = "memory"
)

type Config struct {
	Homeserver  HomeserverConfig  `yaml:"homeserver"`
	AutoJoin    bool              `yaml:"auto_join"`
	OpenAI      OpenAIConfig      `yaml:"openai"`
	Assistant   AssistantConfig   `yaml:"assistant"`
	Commands    CommandsConfig    `yaml:"commands"`
	Moderation  ModerationConfig  `yaml:"moderation"`
	Broadcast   BroadcastConfig   `yaml:"broadcast"`
	PseudoState PseudoStateConfig `yaml:"pseudo_state"`
	Database    DatabaseConfig    `yaml:"database"`
	Events      EventsConfig      `yaml:"events"`
	Logging     zeroconfig.Config `yaml:"logging"`
}

type HomeserverConfig struct {
	URL         string    `yaml:"url"`
	UserID      id.UserID `yaml:"user_id"`
	AccessToken string    `yaml:"access_token"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type AssistantConfig struct {
	AssistantID       string        `yaml:"assistant_id"`
	Name              string        `yaml:"name"`
	Model             string        `yaml:"model"`
	Instructions      string        `yaml:"instructions"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
	HistoryLimit      int           `yaml:"history_limit"`
	DigestTokenBudget int           `yaml:"digest_token_budget"`
}

type CommandsConfig struct {
	HistoryLimit int `yaml:"history_limit"`
}

type ModerationConfig struct {
	Terms []string `yaml:"terms"`
}

type BroadcastConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

type PseudoStateConfig struct {
	Backend   string `yaml:"backend"`
	RolesType string `yaml:"roles_type"`
}

type DatabaseConfig struct {
	Type         string `yaml:"type"`
	URI          string `yaml:"uri"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type EventsConfig struct {
	Enabled         bool `yaml:"enabled"`
	amqpsink.Config `yaml:",inline"`
}

func upgradeConfig(helper configupgrade.Helper) {
	helper.Copy(configupgrade.Str, "homeserver", "url")
	helper.Copy(configupgrade.Str, "homeserver", "user_id")
	helper.Copy(configupgrade.Str|configupgrade.Null, "homeserver", "access_token")

	helper.Copy(configupgrade.Bool, "auto_join")

	helper.Copy(configupgrade.Str|configupgrade.Null, "openai", "api_key")
	helper.Copy(configupgrade.Str|configupgrade.Null, "openai", "base_url")

	helper.Copy(configupgrade.Str|configupgrade.Null, "assistant", "assistant_id")
	helper.Copy(configupgrade.Str, "assistant", "name")
	helper.Copy(configupgrade.Str, "assistant", "model")
	helper.Copy(configupgrade.Str|configupgrade.Null, "assistant", "instructions")
	helper.Copy(configupgrade.Str, "assistant", "poll_interval")
	helper.Copy(configupgrade.Str, "assistant", "run_timeout")
	helper.Copy(configupgrade.Int, "assistant", "history_limit")
	helper.Copy(configupgrade.Int, "assistant", "digest_token_budget")

	helper.Copy(configupgrade.Int, "commands", "history_limit")

	helper.Copy(configupgrade.List, "moderation", "terms")

	helper.Copy(configupgrade.Float|configupgrade.Int, "broadcast", "rate_per_second")
	helper.Copy(configupgrade.Int, "broadcast", "burst")

	helper.Copy(configupgrade.Str, "pseudo_state", "backend")
	helper.Copy(configupgrade.Str, "pseudo_state", "roles_type")

	helper.Copy(configupgrade.Str, "database", "type")
	helper.Copy(configupgrade.Str, "database", "uri")
	helper.Copy(configupgrade.Int, "database", "max_open_conns")
	helper.Copy(configupgrade.Int, "database", "max_idle_conns")

	helper.Copy(configupgrade.Bool, "events", "enabled")
	helper.Copy(configupgrade.Str, "events", "url")
	helper.Copy(configupgrade.Str, "events", "exchange")
	helper.Copy(configupgrade.Str, "events", "routing_key")
	helper.Copy(configupgrade.Str, "events", "producer")

	helper.Copy(configupgrade.Map, "logging")
}

var Upgrader = &configupgrade.StructUpgrader{
	SimpleUpgrader: configupgrade.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"auto_join"},
		{"openai"},
		{"assistant"},
		{"commands"},
		{"moderation"},
		{"broadcast"},
		{"pseudo_state"},
		{"database"},
		{"events"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// Load reads the config at path, upgrading it against the example config
// first. If save is true the upgraded file is written back.
func Load(path string, save bool) (*Config, error) {
	data, _, err := configupgrade.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data, os.LookupEnv)
}

// Parse decodes raw YAML, applies environment overrides and validates the result.
func Parse(data []byte, lookupEnv func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if lookupEnv != nil {
		cfg.applyEnv(lookupEnv)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) {
	if token, ok := lookupEnv("MATRIX_ACCESS_TOKEN"); ok && token != "" {
		c.Homeserver.AccessToken = token
	}
	if key, ok := lookupEnv("OPENAI_API_KEY"); ok && key != "" {
		c.OpenAI.APIKey = key
	}
}

func (c *Config) setDefaults() {
	if c.PseudoState.Backend == "" {
		c.PseudoState.Backend = BackendAccountData
	}
	if c.Assistant.Name == "" {
		c.Assistant.Name = "Matrix Tool Assistant"
	}
	if c.Assistant.Model == "" {
		c.Assistant.Model = "gpt-4o-mini"
	}
}

var (
	ErrMissingHomeserver  = errors.New("homeserver.url is required")
	ErrMissingUserID      = errors.New("homeserver.user_id is required")
	ErrMissingAccessToken = errors.New("homeserver.access_token (or MATRIX_ACCESS_TOKEN) is required")
	ErrMissingAPIKey      = errors.New("openai.api_key (or OPENAI_API_KEY) is required")
)

// Validate checks that the config can start a bot.
func (c *Config) Validate() error {
	var errs []error
	if c.Homeserver.URL == "" {
		errs = append(errs, ErrMissingHomeserver)
	} else if u, err := url.Parse(c.Homeserver.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("homeserver.url %q is not an absolute URL", c.Homeserver.URL))
	}
	if c.Homeserver.UserID == "" {
		errs = append(errs, ErrMissingUserID)
	} else if _, _, err := c.Homeserver.UserID.Parse(); err != nil {
		errs = append(errs, fmt.Errorf("homeserver.user_id: %w", err))
	}
	if c.Homeserver.AccessToken == "" {
		errs = append(errs, ErrMissingAccessToken)
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, ErrMissingAPIKey)
	}
	if c.Assistant.PollInterval < 0 || c.Assistant.RunTimeout < 0 {
		errs = append(errs, errors.New("assistant durations must not be negative"))
	}
	if c.Assistant.DigestTokenBudget < 0 {
		errs = append(errs, errors.New("assistant.digest_token_budget must not be negative"))
	}
	switch c.PseudoState.Backend {
	case BackendAccountData, BackendMemory:
	case BackendDatabase:
		if c.Database.URI == "" {
			errs = append(errs, errors.New("database.uri is required for the database pseudo-state backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown pseudo_state.backend %q", c.PseudoState.Backend))
	}
	if c.Events.Enabled && strings.TrimSpace(c.Events.URL) == "" {
		errs = append(errs, errors.New("events.url is required when events are enabled"))
	}
	return errors.Join(errs...)
}
