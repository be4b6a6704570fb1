package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for Digitext.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Server    ServerConfig    `json:"server"`
	Providers ProvidersConfig `json:"providers"`
	Session   SessionConfig   `json:"session"`
	Store     StoreConfig     `json:"store"`
	Notify    NotifyConfig    `json:"notify"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// ServerConfig configures the single HTTP server that carries the provider
// webhooks, the dashboard WebSocket endpoint, and the metrics endpoint.
type ServerConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	WSPath string `json:"wsPath"` // WebSocket endpoint path (default: /ws)
}

type ProvidersConfig struct {
	Meta     MetaConfig     `json:"meta"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Relay    RelayConfig    `json:"relay"`
}

// MetaConfig covers the unified social webhook (Instagram + Messenger).
type MetaConfig struct {
	Enabled     bool   `json:"enabled"`
	VerifyToken string `json:"verifyToken,omitempty"`
	AppSecret   string `json:"appSecret,omitempty"`
	WebhookPath string `json:"webhookPath,omitempty"`
}

// WhatsAppConfig covers the official Business API webhook.
type WhatsAppConfig struct {
	Enabled     bool   `json:"enabled"`
	VerifyToken string `json:"verifyToken,omitempty"`
	AppSecret   string `json:"appSecret,omitempty"`
	WebhookPath string `json:"webhookPath,omitempty"`
}

// RelayConfig covers unofficial WhatsApp relay bridges.
type RelayConfig struct {
	Enabled     bool   `json:"enabled"`
	Secret      string `json:"secret,omitempty"` // HMAC secret for X-Signature-256
	WebhookPath string `json:"webhookPath,omitempty"`
}

// SessionConfig configures the browser-automation-backed linked sessions.
type SessionConfig struct {
	ProfileDir         string `json:"profileDir"` // Chrome user data root (one subdir per operator)
	Headless           bool   `json:"headless"`
	DefaultCountryCode string `json:"defaultCountryCode"` // prepended to bare local numbers
	StateTimeoutSec    int    `json:"stateTimeoutSeconds"`
	QRTimeoutSec       int    `json:"qrTimeoutSeconds"`
}

type StoreConfig struct {
	DBPath   string `json:"dbPath"`
	SeedPath string `json:"seedPath,omitempty"` // accounts.yaml loaded at startup
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures operator alerts for new inbound messages.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.digitext).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".digitext"
	}
	return filepath.Join(home, ".digitext")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Store.SeedPath = ExpandPath(cfg.Store.SeedPath)
	cfg.Session.ProfileDir = ExpandPath(cfg.Session.ProfileDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.WSPath != "" && !strings.HasPrefix(cfg.Server.WSPath, "/") {
		errs = append(errs, "server.wsPath must start with /")
	}

	if cfg.Providers.Meta.Enabled && cfg.Providers.Meta.VerifyToken == "" {
		errs = append(errs, "providers.meta: verifyToken is required when enabled")
	}
	if cfg.Providers.WhatsApp.Enabled && cfg.Providers.WhatsApp.VerifyToken == "" {
		errs = append(errs, "providers.whatsapp: verifyToken is required when enabled")
	}

	if cfg.Session.StateTimeoutSec < 1 {
		errs = append(errs, "session.stateTimeoutSeconds must be >= 1")
	}
	if cfg.Session.QRTimeoutSec < 1 {
		errs = append(errs, "session.qrTimeoutSeconds must be >= 1")
	}
	for _, r := range cfg.Session.DefaultCountryCode {
		if r < '0' || r > '9' {
			errs = append(errs, "session.defaultCountryCode must contain only digits")
			break
		}
	}

	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.Token == "" {
		errs = append(errs, "notify.telegram: token is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
