package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:   "0.0.0.0",
			Port:   3002,
			WSPath: "/ws",
		},
		Providers: ProvidersConfig{
			Meta: MetaConfig{
				Enabled:     false,
				WebhookPath: "/webhooks/meta",
			},
			WhatsApp: WhatsAppConfig{
				Enabled:     false,
				WebhookPath: "/webhooks/whatsapp",
			},
			Relay: RelayConfig{
				Enabled:     true,
				WebhookPath: "/webhooks/unofficial-whatsapp",
			},
		},
		Session: SessionConfig{
			ProfileDir:         "~/.digitext/chrome-profiles",
			Headless:           true,
			DefaultCountryCode: "90",
			StateTimeoutSec:    10,
			QRTimeoutSec:       60,
		},
		Store: StoreConfig{
			DBPath: "~/.digitext/digitext.db",
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
