// Package config loads and validates the BimaBot configuration from a
// JSON file with environment-variable expansion.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Session   SessionConfig   `json:"session"`
	Survey    SurveyConfig    `json:"survey"`
	Language  LanguageConfig  `json:"language"`
	Providers ProvidersConfig `json:"providers"`
	Channels  ChannelsConfig  `json:"channels"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel      string `json:"logLevel"`
	LogFile       string `json:"logFile,omitempty"`
	StaticDir     string `json:"staticDir"`     // generated audio artifacts live here
	PublicBaseURL string `json:"publicBaseUrl"` // when set, artifact handles are URLs under /static/
	Disclaimer    string `json:"disclaimer,omitempty"`
	Concurrency   int    `json:"concurrency"` // max users processed in parallel
}

type SessionConfig struct {
	DBPath string `json:"dbPath"`
}

type SurveyConfig struct {
	ResetKeyword   string `json:"resetKeyword"`
	RestartKeyword string `json:"restartKeyword"`
	ScriptPath     string `json:"scriptPath,omitempty"` // optional YAML prompt overrides
}

type LanguageConfig struct {
	Pivot    string            `json:"pivot"`
	Keywords map[string]string `json:"keywords,omitempty"` // explicit-switch keyword -> code
}

type ProvidersConfig struct {
	Transcription TranscriptionConfig `json:"transcription"`
	Translator    TranslatorConfig    `json:"translator"`
	TTS           TTSProviderConfig   `json:"tts"`
	Retrieval     ServiceConfig       `json:"retrieval"`
	Reports       ServiceConfig       `json:"reports"`
}

type TranscriptionConfig struct {
	APIBase      string `json:"apiBase"`
	APIKey       string `json:"apiKey"`
	Model        string `json:"model"`
	DownloadUser string `json:"downloadUser,omitempty"` // basic auth for gated media URLs
	DownloadPass string `json:"downloadPass,omitempty"`
}

type TranslatorConfig struct {
	APIBase string `json:"apiBase"`
	APIKey  string `json:"apiKey"`
	Model   string `json:"model"`
}

type TTSProviderConfig struct {
	Enabled bool              `json:"enabled"`
	APIBase string            `json:"apiBase"`
	APIKey  string            `json:"apiKey"`
	Model   string            `json:"model"`
	Voices  map[string]string `json:"voices,omitempty"` // language code -> voice
}

// ServiceConfig points at an internal HTTP collaborator.
type ServiceConfig struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Web      WebConfig      `json:"web"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

type WebConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
	Voice   bool `json:"voice"` // request spoken replies from the terminal
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that also accepts JSON numbers, so
// Telegram user IDs can be written unquoted in the config.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.bimabot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bimabot"
	}
	return filepath.Join(home, ".bimabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = expandPath(path)

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

	cfg.Session.DBPath = expandPath(cfg.Session.DBPath)
	cfg.General.StaticDir = expandPath(cfg.General.StaticDir)
	cfg.General.LogFile = expandPath(cfg.General.LogFile)
	cfg.Survey.ScriptPath = expandPath(cfg.Survey.ScriptPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
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
			return match
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

// Validate checks that the config has workable values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.Concurrency < 1 || cfg.General.Concurrency > 100 {
		errs = append(errs, "general.concurrency must be between 1 and 100")
	}
	if cfg.Session.DBPath == "" {
		errs = append(errs, "session.dbPath is required")
	}
	if cfg.Language.Pivot != "" && len(cfg.Language.Pivot) != 2 {
		errs = append(errs, "language.pivot must be a 2-letter code")
	}
	for keyword, code := range cfg.Language.Keywords {
		if keyword == "" || len(code) != 2 {
			errs = append(errs, fmt.Sprintf("language.keywords[%q] must map to a 2-letter code", keyword))
		}
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}
	if cfg.Channels.Web.Enabled && (cfg.Channels.Web.Port < 1 || cfg.Channels.Web.Port > 65535) {
		errs = append(errs, "channels.web.port must be a valid port")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
