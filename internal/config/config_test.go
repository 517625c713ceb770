package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"healthmate/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("HM_TEST_WEBHOOK_SECRET", "whsec_from_env")

	yamlContent := `
database:
  path: "test.db"
jwt:
  secret: "jwt-secret"
payments:
  secret_key: "sk_test_123"
  webhook_secret: "${HM_TEST_WEBHOOK_SECRET}"
  refund_timeout: 3s
telegram:
  operator_chat_ids: [1001, 1002]
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Payments.WebhookSecret != "whsec_from_env" {
		t.Errorf("expected env-expanded webhook secret, got %s", cfg.Payments.WebhookSecret)
	}
	if cfg.Payments.RefundTimeout != 3*time.Second {
		t.Errorf("expected refund timeout 3s, got %s", cfg.Payments.RefundTimeout)
	}
	if cfg.Payments.Provider != "stripe" {
		t.Errorf("expected default provider stripe, got %s", cfg.Payments.Provider)
	}
	if len(cfg.Telegram.OperatorChatIDs) != 2 {
		t.Errorf("expected 2 operator chats, got %d", len(cfg.Telegram.OperatorChatIDs))
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		return Config{
			Database: DatabaseConfig{Path: "path"},
			JWT:      JWTConfig{Secret: "secret"},
			Payments: PaymentsConfig{Provider: "stripe", SecretKey: "sk", WebhookSecret: "whsec"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(_ *Config) {}},
		{name: "missing db path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "missing jwt secret", mutate: func(c *Config) { c.JWT.Secret = " " }, wantErr: true},
		{name: "unknown provider", mutate: func(c *Config) { c.Payments.Provider = "paypal" }, wantErr: true},
		{name: "missing webhook secret", mutate: func(c *Config) { c.Payments.WebhookSecret = "" }, wantErr: true},
		{
			name: "duplicate api key",
			mutate: func(c *Config) {
				c.API.Auth.APIKeys = []APIClientKey{{Key: "k", Name: "a"}, {Key: "k", Name: "b"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
	if cfg.Payments.Currency != models.DefaultCurrency {
		t.Errorf("expected default currency %s, got %s", models.DefaultCurrency, cfg.Payments.Currency)
	}
	if cfg.Payments.RefundTimeout != 10*time.Second {
		t.Errorf("expected default refund timeout 10s, got %s", cfg.Payments.RefundTimeout)
	}
	if cfg.Chat.RateLimitMessages != models.DefaultChatRateLimitMessages {
		t.Errorf("expected default chat rate limit %d, got %d", models.DefaultChatRateLimitMessages, cfg.Chat.RateLimitMessages)
	}
	if cfg.Worker.MaxRetries != 5 {
		t.Errorf("expected default max retries 5, got %d", cfg.Worker.MaxRetries)
	}
	if cfg.Tracing.ServiceName != "healthmate" {
		t.Errorf("expected tracing service name healthmate, got %s", cfg.Tracing.ServiceName)
	}
}

func TestValidateAPIKeys(t *testing.T) {
	tests := []struct {
		name    string
		keys    []APIClientKey
		wantErr bool
	}{
		{name: "none", keys: nil},
		{name: "unique", keys: []APIClientKey{{Key: "a"}, {Key: "b"}}},
		{name: "empty key", keys: []APIClientKey{{Key: "", Name: "ops"}}, wantErr: true},
		{name: "duplicate", keys: []APIClientKey{{Key: "a"}, {Key: "a"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKeys(tt.keys)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKeys() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
