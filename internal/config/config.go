package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stupiduntilnot/longrelay/internal/prompt"
	"github.com/stupiduntilnot/longrelay/internal/secrets"
)

// Config holds everything the relay reads at startup. Values come from
// defaults, then the optional YAML file, then the environment.
type Config struct {
	TelegramToken string `yaml:"-"`
	APIKey        string `yaml:"-"`
	SSMPrefix     string `yaml:"ssm_prefix"`

	TelegramAPIHost      string `yaml:"telegram_api_base"`
	PollTimeout          int    `yaml:"poll_timeout"`
	SleepSeconds         int    `yaml:"sleep_seconds"`
	DropPending          bool   `yaml:"drop_pending"`
	PendingWindowSeconds int64  `yaml:"pending_window_seconds"`
	PendingMaxMessages   int    `yaml:"pending_max_messages"`

	CompletionsBaseURL string  `yaml:"completions_base_url"`
	Model              string  `yaml:"model"`
	MaxTokens          int     `yaml:"max_tokens"`
	Temperature        float32 `yaml:"temperature"`
	TopP               float32 `yaml:"top_p"`
	MaxAttempts        int     `yaml:"max_attempts"`
	ContinueThreshold  int     `yaml:"continue_threshold"`
	DoneStrategy       string  `yaml:"done_strategy"`
	CarryContext       bool    `yaml:"carry_context"`
	HTTPTimeoutSeconds int     `yaml:"http_timeout_seconds"`

	MaxMessageLen int    `yaml:"max_message_len"`
	ChunkUnit     string `yaml:"chunk_unit"`

	DBPath string `yaml:"db_path"`
	Port   string `yaml:"port"`

	Provider        string `yaml:"provider"`
	Commander       string `yaml:"commander"`
	DummyScript     string `yaml:"dummy_script"`
	DummyPollScript string `yaml:"dummy_poll_script"`
	DummySendScript string `yaml:"dummy_send_script"`

	LogLevel     string `yaml:"log_level"`
	LogJSON      bool   `yaml:"log_json"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	Prompts prompt.Prompts `yaml:"prompts"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		TelegramAPIHost:      "https://api.telegram.org",
		PollTimeout:          30,
		SleepSeconds:         1,
		DropPending:          true,
		PendingWindowSeconds: 600,
		PendingMaxMessages:   50,
		CompletionsBaseURL:   "https://api.groq.com/openai/v1",
		Model:                "llama-3.1-8b-instant",
		MaxTokens:            2000,
		Temperature:          0.9,
		MaxAttempts:          3,
		ContinueThreshold:    1500,
		DoneStrategy:         "length",
		HTTPTimeoutSeconds:   120,
		MaxMessageLen:        4000,
		ChunkUnit:            "runes",
		Port:                 "3000",
		Provider:             "openai",
		Commander:            "telegram",
		LogLevel:             "info",
		Prompts:              prompt.Default(),
	}
}

// Load builds the configuration. path overrides RELAY_CONFIG_FILE; both may
// be empty. Secrets are not checked here; call ResolveSecrets and Validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("RELAY_CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.Prompts = cfg.Prompts.Merge(prompt.Default())
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	intVar := func(key string, dst *int) {
		v, err := envIntOrDefault(key, *dst)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = v
	}
	floatVar := func(key string, dst *float32) {
		v, err := envFloatOrDefault(key, *dst)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = v
	}

	c.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	c.APIKey = os.Getenv("GROQ_API_KEY")
	c.SSMPrefix = envOrDefault("RELAY_SSM_PREFIX", c.SSMPrefix)

	c.TelegramAPIHost = strings.TrimRight(envOrDefault("TELEGRAM_API_BASE", c.TelegramAPIHost), "/")
	intVar("TG_TIMEOUT", &c.PollTimeout)
	intVar("TG_SLEEP_SECONDS", &c.SleepSeconds)
	c.DropPending = envBoolOrDefault("TG_DROP_PENDING", c.DropPending)
	window := int(c.PendingWindowSeconds)
	intVar("TG_PENDING_WINDOW_SECONDS", &window)
	c.PendingWindowSeconds = int64(window)
	intVar("TG_PENDING_MAX_MESSAGES", &c.PendingMaxMessages)

	c.CompletionsBaseURL = envOrDefault("RELAY_COMPLETIONS_BASE_URL", c.CompletionsBaseURL)
	c.Model = envOrDefault("RELAY_MODEL", c.Model)
	intVar("RELAY_MAX_TOKENS", &c.MaxTokens)
	floatVar("RELAY_TEMPERATURE", &c.Temperature)
	floatVar("RELAY_TOP_P", &c.TopP)
	intVar("RELAY_MAX_ATTEMPTS", &c.MaxAttempts)
	intVar("RELAY_CONTINUE_THRESHOLD", &c.ContinueThreshold)
	c.DoneStrategy = envOrDefault("RELAY_DONE_STRATEGY", c.DoneStrategy)
	c.CarryContext = envBoolOrDefault("RELAY_CARRY_CONTEXT", c.CarryContext)
	intVar("RELAY_HTTP_TIMEOUT_SECONDS", &c.HTTPTimeoutSeconds)

	intVar("RELAY_MAX_MESSAGE_LEN", &c.MaxMessageLen)
	c.ChunkUnit = envOrDefault("RELAY_CHUNK_UNIT", c.ChunkUnit)

	c.DBPath = envOrDefault("RELAY_DB_PATH", c.DBPath)
	c.Port = envOrDefault("PORT", c.Port)

	c.Provider = envOrDefault("RELAY_PROVIDER", c.Provider)
	c.Commander = envOrDefault("RELAY_COMMANDER", c.Commander)
	c.DummyScript = envOrDefault("RELAY_DUMMY_SCRIPT", c.DummyScript)
	c.DummyPollScript = envOrDefault("RELAY_DUMMY_POLL_SCRIPT", c.DummyPollScript)
	c.DummySendScript = envOrDefault("RELAY_DUMMY_SEND_SCRIPT", c.DummySendScript)

	c.LogLevel = envOrDefault("RELAY_LOG_LEVEL", c.LogLevel)
	c.LogJSON = envBoolOrDefault("RELAY_LOG_JSON", c.LogJSON)
	c.OTLPEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)

	return errors.Join(errs...)
}

// ResolveSecrets fills empty secrets from getter. It is a no-op when getter
// is nil or both secrets are already set.
func ResolveSecrets(ctx context.Context, c *Config, getter secrets.Getter) error {
	if getter == nil {
		return nil
	}
	if c.TelegramToken == "" && c.Commander == "telegram" {
		v, err := getter.Get(ctx, secrets.TelegramTokenParam)
		if err != nil {
			return fmt.Errorf("resolve TELEGRAM_TOKEN: %w", err)
		}
		c.TelegramToken = v
	}
	if c.APIKey == "" && c.Provider == "openai" {
		v, err := getter.Get(ctx, secrets.APIKeyParam)
		if err != nil {
			return fmt.Errorf("resolve GROQ_API_KEY: %w", err)
		}
		c.APIKey = v
	}
	return nil
}

// Validate reports the first invalid or missing setting by variable name.
func (c Config) Validate() error {
	switch c.Commander {
	case "telegram":
		if c.TelegramToken == "" {
			return errors.New("TELEGRAM_TOKEN is required in environment when RELAY_COMMANDER=telegram")
		}
	case "dummy":
	default:
		return fmt.Errorf("RELAY_COMMANDER must be telegram or dummy, got %q", c.Commander)
	}
	switch c.Provider {
	case "openai":
		if c.APIKey == "" {
			return errors.New("GROQ_API_KEY is required in environment when RELAY_PROVIDER=openai")
		}
	case "dummy":
	default:
		return fmt.Errorf("RELAY_PROVIDER must be openai or dummy, got %q", c.Provider)
	}
	return c.ValidateTunables()
}

// ValidateTunables checks the settings that do not involve credentials.
func (c Config) ValidateTunables() error {
	switch {
	case c.PollTimeout < 0:
		return fmt.Errorf("TG_TIMEOUT must be >= 0, got %d", c.PollTimeout)
	case c.SleepSeconds <= 0:
		return fmt.Errorf("TG_SLEEP_SECONDS must be > 0, got %d", c.SleepSeconds)
	case c.MaxTokens <= 0:
		return fmt.Errorf("RELAY_MAX_TOKENS must be > 0, got %d", c.MaxTokens)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("RELAY_MAX_ATTEMPTS must be > 0, got %d", c.MaxAttempts)
	case c.ContinueThreshold <= 0:
		return fmt.Errorf("RELAY_CONTINUE_THRESHOLD must be > 0, got %d", c.ContinueThreshold)
	case c.MaxMessageLen <= 0:
		return fmt.Errorf("RELAY_MAX_MESSAGE_LEN must be > 0, got %d", c.MaxMessageLen)
	case c.HTTPTimeoutSeconds <= 0:
		return fmt.Errorf("RELAY_HTTP_TIMEOUT_SECONDS must be > 0, got %d", c.HTTPTimeoutSeconds)
	case c.Temperature < 0 || c.Temperature > 2:
		return fmt.Errorf("RELAY_TEMPERATURE must be within [0, 2], got %v", c.Temperature)
	case c.TopP < 0 || c.TopP > 1:
		return fmt.Errorf("RELAY_TOP_P must be within [0, 1], got %v", c.TopP)
	}
	return nil
}

// TelegramAPIBase is the bot-scoped Bot API URL.
func (c Config) TelegramAPIBase() string {
	return fmt.Sprintf("%s/bot%s", c.TelegramAPIHost, c.TelegramToken)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envFloatOrDefault(key string, fallback float32) (float32, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return fallback, fmt.Errorf("%s must be a number, got %q", key, v)
	}
	return float32(f), nil
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
