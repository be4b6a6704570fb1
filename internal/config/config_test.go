package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Server.Port != 3002 {
		t.Errorf("expected default port 3002, got %d", cfg.Server.Port)
	}
	if cfg.Session.DefaultCountryCode != "90" {
		t.Errorf("expected default country code 90, got %s", cfg.Session.DefaultCountryCode)
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.Providers.Meta.Enabled = true
	cfg.Providers.Meta.VerifyToken = "verify-me"
	cfg.Server.Port = 4000
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 4000 {
		t.Errorf("expected port 4000, got %d", loaded.Server.Port)
	}
	if loaded.Providers.Meta.VerifyToken != "verify-me" {
		t.Errorf("verify token lost: %q", loaded.Providers.Meta.VerifyToken)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	os.Setenv("DIGITEXT_TEST_TOKEN", "from-env")
	defer os.Unsetenv("DIGITEXT_TEST_TOKEN")

	raw := `{"providers":{"meta":{"enabled":true,"verifyToken":"${DIGITEXT_TEST_TOKEN}"}}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Providers.Meta.VerifyToken != "from-env" {
		t.Errorf("expected env expansion, got %q", cfg.Providers.Meta.VerifyToken)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	os.Unsetenv("DIGITEXT_MISSING_VAR")
	out := ExpandEnvVars("${DIGITEXT_MISSING_VAR:-fallback}")
	if out != "fallback" {
		t.Errorf("expected fallback, got %q", out)
	}
}

func TestValidate_BadPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 99999
	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for bad port")
	}
}

func TestValidate_MetaNeedsVerifyToken(t *testing.T) {
	cfg := Defaults()
	cfg.Providers.Meta.Enabled = true
	cfg.Providers.Meta.VerifyToken = ""
	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for enabled meta without verify token")
	}
}

func TestValidate_CountryCodeDigitsOnly(t *testing.T) {
	cfg := Defaults()
	cfg.Session.DefaultCountryCode = "+90"
	if err := Validate(cfg); err == nil {
		t.Error("expected validation error for non-digit country code")
	}
}

func TestGetSetByPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "server.port", "8088"); err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8088 {
		t.Errorf("expected port 8088, got %d", cfg.Server.Port)
	}

	val, err := GetByPath(cfg, "session.headless")
	if err != nil {
		t.Fatal(err)
	}
	if val != true {
		t.Errorf("expected true, got %v", val)
	}
}

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Providers.Meta.AppSecret = "super-secret-value"
	cfg.Notify.Telegram.Token = "123456:telegram-bot-token"

	s := Sanitize(cfg)
	if s.Providers.Meta.AppSecret == cfg.Providers.Meta.AppSecret {
		t.Error("app secret should be masked")
	}
	if s.Notify.Telegram.Token == cfg.Notify.Telegram.Token {
		t.Error("telegram token should be masked")
	}
}
