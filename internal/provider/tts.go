package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TTSConfig configures the text-to-speech client.
type TTSConfig struct {
	APIBase  string            // OpenAI-compatible endpoint
	APIKey   string
	Model    string            // e.g. "tts-1"
	Voices   map[string]string // language code -> voice; "default" is the fallback
	CacheDir string            // where generated audio files are written
	BaseURL  string            // public base URL; when set, handles are URLs under /static/voice/
	Logger   *slog.Logger
}

// TTS implements domain.Synthesizer: it generates an MP3 for the reply,
// caches it on disk, and returns a handle the channel can deliver.
type TTS struct {
	apiBase  string
	apiKey   string
	model    string
	voices   map[string]string
	cacheDir string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if len(cfg.Voices) == 0 {
		cfg.Voices = map[string]string{"default": "alloy"}
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = os.TempDir()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TTS{
		apiBase:  cfg.APIBase,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		voices:   cfg.Voices,
		cacheDir: cfg.CacheDir,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   SharedHTTPClient(60 * time.Second),
		logger:   cfg.Logger,
	}
}

// Synthesize renders text as speech in the given language and returns
// the audio handle. Formatting stars are stripped first: they are for
// text renderers, not for reading aloud.
func (t *TTS) Synthesize(ctx context.Context, text, language string) (string, error) {
	voice, ok := t.voices[language]
	if !ok {
		voice = t.voices["default"]
	}
	clean := strings.ReplaceAll(text, "*", "")

	payload, err := json.Marshal(map[string]string{
		"model": t.model,
		"input": clean,
		"voice": voice,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.apiBase+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("synthesis API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("synthesis API error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := os.MkdirAll(t.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create voice cache dir: %w", err)
	}
	filename := fmt.Sprintf("reply_%s.mp3", uuid.NewString()[:8])
	path := filepath.Join(t.cacheDir, filename)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audio file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write audio file: %w", err)
	}

	t.logger.Info("speech synthesized", "language", language, "voice", voice, "file", filename)

	if t.baseURL != "" {
		return t.baseURL + "/static/voice/" + filename, nil
	}
	return path, nil
}
