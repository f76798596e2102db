package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"
)

// WhisperConfig configures the Whisper speech-to-text client.
type WhisperConfig struct {
	APIBase      string // e.g. "https://api.groq.com/openai/v1" or "https://api.openai.com/v1"
	APIKey       string
	Model        string // e.g. "whisper-large-v3" (Groq) or "whisper-1" (OpenAI)
	DownloadUser string // optional basic auth for auth-gated media URLs
	DownloadPass string
	Logger       *slog.Logger
}

// Whisper implements domain.Transcriber against an OpenAI-compatible
// transcription API. The audio reference may be a local file path
// (web uploads) or a URL (channel media servers).
type Whisper struct {
	apiBase      string
	apiKey       string
	model        string
	downloadUser string
	downloadPass string
	client       *http.Client
	logger       *slog.Logger
}

func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Whisper{
		apiBase:      cfg.APIBase,
		apiKey:       cfg.APIKey,
		model:        cfg.Model,
		downloadUser: cfg.DownloadUser,
		downloadPass: cfg.DownloadPass,
		client:       SharedHTTPClient(120 * time.Second),
		logger:       cfg.Logger,
	}
}

// Transcribe fetches the voice note and converts it to text.
func (w *Whisper) Transcribe(ctx context.Context, audioRef, audioKind string) (string, error) {
	audio, err := w.fetchAudio(ctx, audioRef)
	if err != nil {
		return "", fmt.Errorf("fetch audio: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "voice"+extensionFor(audioKind))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	writer.WriteField("model", w.model)
	writer.WriteField("response_format", "json")
	writer.Close()

	url := w.apiBase + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("transcription API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}

	w.logger.Info("transcription complete", "text_len", len(result.Text))
	return result.Text, nil
}

// fetchAudio reads the voice note from disk when the reference is a
// local path, otherwise downloads it (with basic auth if configured).
func (w *Whisper) fetchAudio(ctx context.Context, audioRef string) ([]byte, error) {
	if !strings.HasPrefix(audioRef, "http://") && !strings.HasPrefix(audioRef, "https://") {
		return os.ReadFile(audioRef)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioRef, nil)
	if err != nil {
		return nil, err
	}
	if w.downloadUser != "" {
		req.SetBasicAuth(w.downloadUser, w.downloadPass)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func extensionFor(audioKind string) string {
	switch {
	case strings.Contains(audioKind, "ogg"):
		return ".ogg"
	case strings.Contains(audioKind, "wav"):
		return ".wav"
	case strings.Contains(audioKind, "mp4"), strings.Contains(audioKind, "m4a"):
		return ".m4a"
	default:
		return ".mp3"
	}
}
