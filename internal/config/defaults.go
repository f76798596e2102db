package config

import "path/filepath"

// Defaults returns a configuration with sensible defaults. Load starts
// from this and overlays the config file on top.
func Defaults() *Config {
	dir := DefaultConfigDir()

	return &Config{
		General: GeneralConfig{
			LogLevel:    "info",
			StaticDir:   filepath.Join(dir, "static", "voice"),
			Concurrency: 5,
		},
		Session: SessionConfig{
			DBPath: filepath.Join(dir, "sessions.db"),
		},
		Survey: SurveyConfig{
			ResetKeyword:   "reset",
			RestartKeyword: "survey",
		},
		Language: LanguageConfig{
			Pivot: "en",
			Keywords: map[string]string{
				"english": "en",
				"hindi":   "hi",
				"हिंदी":   "hi",
				"marathi": "mr",
				"मराठी":   "mr",
			},
		},
		Providers: ProvidersConfig{
			Transcription: TranscriptionConfig{
				APIBase: "https://api.groq.com/openai/v1",
				APIKey:  "${GROQ_API_KEY}",
				Model:   "whisper-large-v3",
			},
			Translator: TranslatorConfig{
				APIBase: "https://api.groq.com/openai/v1",
				APIKey:  "${GROQ_API_KEY}",
				Model:   "llama-3.3-70b-versatile",
			},
			TTS: TTSProviderConfig{
				Enabled: true,
				APIBase: "https://api.openai.com/v1",
				APIKey:  "${OPENAI_API_KEY}",
				Model:   "tts-1",
				Voices: map[string]string{
					"default": "alloy",
					"hi":      "shimmer",
					"mr":      "shimmer",
				},
			},
			Retrieval: ServiceConfig{
				Enabled: true,
				BaseURL: "http://localhost:8100",
			},
			Reports: ServiceConfig{
				Enabled: true,
				BaseURL: "http://localhost:8200",
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				Token:     "${TELEGRAM_BOT_TOKEN}",
				ParseMode: "Markdown",
			},
			Web: WebConfig{
				Enabled: true,
				Host:    "0.0.0.0",
				Port:    8080,
			},
			CLI: CLIConfig{
				Enabled: false,
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
