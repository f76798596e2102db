package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("BIMABOT_TEST_VAR", "secret123")
	defer os.Unsetenv("BIMABOT_TEST_VAR")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set variable", "key=${BIMABOT_TEST_VAR}", "key=secret123"},
		{"unset variable kept literal", "key=${BIMABOT_UNSET_VAR}", "key=${BIMABOT_UNSET_VAR}"},
		{"unset with default", "key=${BIMABOT_UNSET_VAR:-fallback}", "key=fallback"},
		{"set ignores default", "key=${BIMABOT_TEST_VAR:-fallback}", "key=secret123"},
		{"no variables", "plain text", "plain text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExpandEnvVars(tt.input)
			if got != tt.want {
				t.Fatalf("ExpandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	raw := `{
		"session": {"dbPath": "` + filepath.ToSlash(filepath.Join(dir, "s.db")) + `"},
		"language": {"pivot": "en"},
		"channels": {"web": {"enabled": true, "host": "127.0.0.1", "port": 9090}}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Channels.Web.Port != 9090 {
		t.Errorf("web port = %d, want 9090", cfg.Channels.Web.Port)
	}
	// untouched sections keep defaults
	if cfg.General.Concurrency != 5 {
		t.Errorf("concurrency = %d, want default 5", cfg.General.Concurrency)
	}
	if cfg.Survey.ResetKeyword != "reset" {
		t.Errorf("resetKeyword = %q, want default", cfg.Survey.ResetKeyword)
	}
	if cfg.Language.Keywords["marathi"] != "mr" {
		t.Errorf("keywords missing default marathi mapping")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	raw := `{"general": {"concurrency": 0}, "session": {"dbPath": ""}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for concurrency 0 and empty dbPath")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := Defaults()
	cfg.Channels.Telegram.AllowFrom = FlexStringList{"12345", "alice"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("unmarshal saved config: %v", err)
	}
	if len(loaded.Channels.Telegram.AllowFrom) != 2 {
		t.Errorf("allowFrom = %v, want 2 entries", loaded.Channels.Telegram.AllowFrom)
	}
}

func TestFlexStringListAcceptsNumbers(t *testing.T) {
	var f FlexStringList
	if err := json.Unmarshal([]byte(`[12345, "67890", "bob"]`), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"12345", "67890", "bob"}
	if len(f) != len(want) {
		t.Fatalf("got %v, want %v", f, want)
	}
	for i := range want {
		if f[i] != want[i] {
			t.Errorf("f[%d] = %q, want %q", i, f[i], want[i])
		}
	}
}

func TestValidateTelegramToken(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for enabled telegram without token")
	}
}
