package config

// Default returns a fully populated configuration with default values.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    "~/.local/share/dialqueue",
			LogDir:     "~/.local/share/dialqueue/logs",
			ReportPath: "~/.local/share/dialqueue/call_report.xlsx",
			APIBind:    "127.0.0.1:8000",
		},
		Provider: Provider{
			BaseURL:        "https://api.elevenlabs.io",
			StatusBaseURL:  "https://api.twilio.com",
			RequestTimeout: 30,
			PollInterval:   5,
			PollMaxWait:    150,
			DefaultCountry: "1",
		},
		LLM: LLM{
			BaseURL:        "https://api.openai.com/v1",
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 60,
		},
		Invites: Invites{
			Timezone:        "America/New_York",
			DurationMinutes: 30,
			RequestTimeout:  15,
		},
		Correlation: Correlation{
			Backend:    "memory",
			RedisAddr:  "127.0.0.1:6379",
			TTLMinutes: 120,
		},
		Workflow: Workflow{
			ReaperInterval:       60,
			ReaperTimeoutMinutes: 15,
			WebhookStuckMinutes:  11,
			MaxAdvancePerRun:     25,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
