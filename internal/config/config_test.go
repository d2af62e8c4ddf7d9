package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stupiduntilnot/longrelay/internal/prompt"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_TOKEN", "test-token")
	t.Setenv("GROQ_API_KEY", "test-key")
	t.Setenv("RELAY_CONFIG_FILE", "")
}

func TestLoad_Defaults(t *testing.T) {
	setupEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation err: %v", err)
	}
	if cfg.MaxAttempts != 3 || cfg.MaxTokens != 2000 || cfg.ContinueThreshold != 1500 {
		t.Fatalf("unexpected generation defaults: %+v", cfg)
	}
	if cfg.Temperature != 0.9 || cfg.TopP != 0 {
		t.Fatalf("unexpected sampling defaults: temperature=%v top_p=%v", cfg.Temperature, cfg.TopP)
	}
	if cfg.MaxMessageLen != 4000 || cfg.ChunkUnit != "runes" || cfg.Port != "3000" {
		t.Fatalf("unexpected transport defaults: %+v", cfg)
	}
	if cfg.TelegramAPIBase() != "https://api.telegram.org/bottest-token" {
		t.Fatalf("unexpected api base: %s", cfg.TelegramAPIBase())
	}
}

func TestValidate_MissingSecretsAreFatal(t *testing.T) {
	setupEnv(t)
	t.Setenv("TELEGRAM_TOKEN", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "TELEGRAM_TOKEN") {
		t.Fatalf("expected TELEGRAM_TOKEN error, got %v", err)
	}

	setupEnv(t)
	t.Setenv("GROQ_API_KEY", "")
	cfg, _ = Load("")
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "GROQ_API_KEY") {
		t.Fatalf("expected GROQ_API_KEY error, got %v", err)
	}
}

func TestValidate_DummyNeedsNoSecrets(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("RELAY_PROVIDER", "dummy")
	t.Setenv("RELAY_COMMANDER", "dummy")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation err: %v", err)
	}
}

func TestLoad_MalformedNumberNamesVariable(t *testing.T) {
	setupEnv(t)
	t.Setenv("RELAY_MAX_TOKENS", "lots")
	t.Setenv("RELAY_TEMPERATURE", "warm")
	_, err := Load("")
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "RELAY_MAX_TOKENS") || !strings.Contains(err.Error(), "RELAY_TEMPERATURE") {
		t.Fatalf("unexpected err: %v", err)
	}
}

func TestValidateTunables(t *testing.T) {
	cases := map[string]string{
		"RELAY_MAX_ATTEMPTS":       "0",
		"RELAY_MAX_MESSAGE_LEN":    "-1",
		"RELAY_TOP_P":              "1.5",
		"TG_SLEEP_SECONDS":         "0",
		"RELAY_CONTINUE_THRESHOLD": "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setupEnv(t)
			t.Setenv(key, value)
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("unexpected load err: %v", err)
			}
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), key) {
				t.Fatalf("expected error naming %s, got %v", key, err)
			}
		})
	}
}

func TestLoad_FileOverlayThenEnv(t *testing.T) {
	setupEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	body := `
model: file-model
max_tokens: 1024
carry_context: true
chunk_unit: bytes
prompts:
  continue: "keep going"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RELAY_CONFIG_FILE", path)
	t.Setenv("RELAY_MAX_TOKENS", "512")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.Model != "file-model" {
		t.Fatalf("file value not applied: %s", cfg.Model)
	}
	if cfg.MaxTokens != 512 {
		t.Fatalf("env should override file, got %d", cfg.MaxTokens)
	}
	if !cfg.CarryContext || cfg.ChunkUnit != "bytes" {
		t.Fatalf("unexpected overlay: %+v", cfg)
	}
	if cfg.Prompts.Continue != "keep going" {
		t.Fatalf("unexpected continue prompt: %q", cfg.Prompts.Continue)
	}
	if cfg.Prompts.System != prompt.Default().System {
		t.Fatal("missing prompts should fall back to defaults")
	}
}

func TestLoad_ExplicitPathWins(t *testing.T) {
	setupEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, "env.yaml")
	flagPath := filepath.Join(dir, "flag.yaml")
	_ = os.WriteFile(envPath, []byte("model: from-env-file\n"), 0o644)
	_ = os.WriteFile(flagPath, []byte("model: from-flag-file\n"), 0o644)
	t.Setenv("RELAY_CONFIG_FILE", envPath)

	cfg, err := Load(flagPath)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.Model != "from-flag-file" {
		t.Fatalf("unexpected model: %s", cfg.Model)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	setupEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}
}

type mapGetter map[string]string

func (m mapGetter) Get(_ context.Context, name string) (string, error) {
	v, ok := m[name]
	if !ok {
		return "", errors.New("parameter not found")
	}
	return v, nil
}

func TestResolveSecrets_FillsOnlyMissing(t *testing.T) {
	cfg := Default()
	cfg.APIKey = "from-env"
	getter := mapGetter{"telegram-token": "from-ssm", "api-key": "ssm-key"}

	if err := ResolveSecrets(context.Background(), &cfg, getter); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.TelegramToken != "from-ssm" {
		t.Fatalf("token not resolved: %q", cfg.TelegramToken)
	}
	if cfg.APIKey != "from-env" {
		t.Fatalf("env secret must win, got %q", cfg.APIKey)
	}
}

func TestResolveSecrets_ErrorNamesSecret(t *testing.T) {
	cfg := Default()
	cfg.TelegramToken = "set"
	err := ResolveSecrets(context.Background(), &cfg, mapGetter{})
	if err == nil || !strings.Contains(err.Error(), "GROQ_API_KEY") {
		t.Fatalf("expected GROQ_API_KEY error, got %v", err)
	}
	if err := ResolveSecrets(context.Background(), &cfg, nil); err != nil {
		t.Fatalf("nil getter should be a no-op, got %v", err)
	}
}
