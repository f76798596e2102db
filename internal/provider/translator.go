package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// LLMTranslatorConfig configures the chat-completion backed translator.
type LLMTranslatorConfig struct {
	APIBase string // OpenAI-compatible endpoint, e.g. "https://api.groq.com/openai/v1"
	APIKey  string
	Model   string
	Logger  *slog.Logger
}

// LLMTranslator implements domain.Translator on top of an
// OpenAI-compatible chat API. Detection returns a bare 2-letter ISO
// code; translation is instructed to keep formatting markers (*bold*,
// emoji) intact so survey prompts survive the round trip.
type LLMTranslator struct {
	apiBase string
	apiKey  string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

func NewLLMTranslator(cfg LLMTranslatorConfig) *LLMTranslator {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "llama-3.3-70b-versatile"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LLMTranslator{
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  SharedHTTPClient(60 * time.Second),
		logger:  cfg.Logger,
	}
}

func (t *LLMTranslator) DetectLanguage(ctx context.Context, text string) (string, error) {
	prompt := "Detect the language of this text. Return ONLY the 2-letter ISO code (e.g. en, hi, mr, ta). " +
		"If it is mixed (e.g. Hinglish), return the dominant Indian language code.\n\nText: " + text
	out, err := t.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("detect language: %w", err)
	}
	code := strings.ToLower(strings.TrimSpace(out))
	if len(code) > 2 {
		// Models occasionally answer in a sentence; keep the leading code.
		code = code[:2]
	}
	return code, nil
}

func (t *LLMTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	if from == to {
		return text, nil
	}
	prompt := fmt.Sprintf(
		"Translate the following %s text to %s.\n"+
			"Rules:\n"+
			"1. PRESERVE all formatting markers like *bold* stars and emojis exactly.\n"+
			"2. Keep the tone polite and professional; use local honorifics where natural.\n"+
			"3. Commonly used technical terms (e.g. Premium) may be transliterated, not dropped.\n"+
			"Return only the translation.\n\nText: %s",
		from, to, text,
	)
	out, err := t.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("translate %s->%s: %w", from, to, err)
	}
	return strings.TrimSpace(out), nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (t *LLMTranslator) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       t.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.1,
	})
	if err != nil {
		return "", err
	}

	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			t.apiBase+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	resp, err := doWithRetry(ctx, t.client, buildReq, t.logger)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translator API returned %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode translator response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("translator returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
