package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "creditd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: memory
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Gateway.Mode != "none" {
		t.Errorf("gateway mode = %q, want none", cfg.Gateway.Mode)
	}
	if cfg.Credit.PurchaseExpiryDays != 40 || cfg.Credit.ReferralBonusExpiryDays != 60 {
		t.Errorf("expiry days = %d/%d, want 40/60",
			cfg.Credit.PurchaseExpiryDays, cfg.Credit.ReferralBonusExpiryDays)
	}
	if len(cfg.Packs) != 1 || cfg.Packs[0].ItemCode != "credits_3" {
		t.Errorf("default packs = %+v", cfg.Packs)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9090
  read_timeout: 15s
database:
  driver: sqlite
  dsn: /var/lib/creditd/creditd.db
gateway:
  mode: http
  base_url: https://gateway.example.com
  access_token: tok123
  webhook_secret: hush
settlement:
  operator_emails:
    - admin@example.com
  signup_bonus_credits: 2
credit:
  purchase_expiry_days: 30
  referral_bonus_expiry_days: 90
packs:
  - item_code: credits_3
    credits: 3
    price_cents: 500
  - item_code: credits_10
    credits: 10
    price_cents: 1500
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9090 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("read timeout = %v", cfg.Server.ReadTimeout)
	}
	if cfg.Gateway.WebhookSecret != "hush" {
		t.Errorf("webhook secret = %q", cfg.Gateway.WebhookSecret)
	}
	if len(cfg.Settlement.OperatorEmails) != 1 || cfg.Settlement.SignupBonusCredits != 2 {
		t.Errorf("settlement = %+v", cfg.Settlement)
	}
	if cfg.Credit.PurchaseExpiryDays != 30 {
		t.Errorf("purchase expiry = %d", cfg.Credit.PurchaseExpiryDays)
	}
	if len(cfg.Packs) != 2 {
		t.Errorf("packs = %+v", cfg.Packs)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: memory
`)

	t.Setenv("CREDITD_SERVER_PORT", "7070")
	t.Setenv("CREDITD_OPERATOR_EMAILS", "ops@example.com, admin@example.com")
	t.Setenv("CREDITD_GATEWAY_WEBHOOK_SECRET", "from-env")
	t.Setenv("CREDITD_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, env must win over file", cfg.Server.Port)
	}
	if len(cfg.Settlement.OperatorEmails) != 2 {
		t.Errorf("operators = %v", cfg.Settlement.OperatorEmails)
	}
	if cfg.Gateway.WebhookSecret != "from-env" {
		t.Errorf("webhook secret = %q", cfg.Gateway.WebhookSecret)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad driver", "database:\n  driver: postgres\n"},
		{"bad gateway mode", "gateway:\n  mode: grpc\n"},
		{"http without base url", "gateway:\n  mode: http\n"},
		{"pack without item code", "packs:\n  - credits: 3\n"},
		{"pack with zero credits", "packs:\n  - item_code: broken\n    credits: 0\n"},
		{"duplicate pack", "packs:\n  - item_code: credits_3\n    credits: 3\n  - item_code: credits_3\n    credits: 5\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadWithFallback(t *testing.T) {
	// Missing file falls back to env-only configuration.
	t.Setenv("CREDITD_DATABASE_DRIVER", "memory")
	cfg, err := LoadWithFallback(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("fallback load: %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
}

func TestHolderReload(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: memory
packs:
  - item_code: credits_3
    credits: 3
`)

	holder, err := NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	defer holder.Stop()

	var observed *Config
	holder.OnChange(func(cfg *Config) { observed = cfg })

	if err := os.WriteFile(path, []byte(`
database:
  driver: memory
packs:
  - item_code: credits_3
    credits: 3
  - item_code: credits_10
    credits: 10
`), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	if err := holder.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(holder.Get().Packs) != 2 {
		t.Errorf("packs after reload = %d, want 2", len(holder.Get().Packs))
	}
	if observed == nil || len(observed.Packs) != 2 {
		t.Error("OnChange callback did not observe the new config")
	}
}

func TestHolderReloadKeepsOldConfigOnError(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: memory\n")

	holder, err := NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("new holder: %v", err)
	}
	defer holder.Stop()

	if err := os.WriteFile(path, []byte("database:\n  driver: bogus\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := holder.Reload(); err == nil {
		t.Fatal("expected reload error for invalid config")
	}
	if holder.Get().Database.Driver != "memory" {
		t.Errorf("driver = %q, old config must survive a failed reload", holder.Get().Database.Driver)
	}
}
