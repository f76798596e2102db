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

	"bimabot/internal/domain"
)

// RetrievalConfig configures the knowledge retrieval client.
type RetrievalConfig struct {
	BaseURL string // retrieval service root, e.g. "http://localhost:8100"
	APIKey  string // optional bearer token
	Logger  *slog.Logger
}

// Retrieval implements domain.Retriever against the external
// knowledge-answering service. Answer quality and ranking live entirely
// on the other side of this contract.
type Retrieval struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewRetrieval(cfg RetrievalConfig) *Retrieval {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retrieval{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  SharedHTTPClient(60 * time.Second),
		logger:  cfg.Logger,
	}
}

// Answer asks the retrieval service a pivot-language question.
func (r *Retrieval) Answer(ctx context.Context, question string) (domain.Answer, error) {
	var result struct {
		Answer  string   `json:"answer"`
		Sources []string `json:"sources"`
	}
	if err := r.post(ctx, "/query", map[string]string{"question": question}, &result); err != nil {
		return domain.Answer{}, err
	}
	if strings.TrimSpace(result.Answer) == "" {
		return domain.Answer{}, fmt.Errorf("retrieval returned an empty answer")
	}
	return domain.Answer{Text: result.Answer, Citations: result.Sources}, nil
}

// Recommend turns a completed profile summary into a recommendation.
func (r *Retrieval) Recommend(ctx context.Context, profile string) (string, error) {
	var result struct {
		Recommendation string `json:"recommendation"`
	}
	if err := r.post(ctx, "/recommend", map[string]string{"profile": profile}, &result); err != nil {
		return "", err
	}
	return result.Recommendation, nil
}

func (r *Retrieval) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			r.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if r.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+r.apiKey)
		}
		return req, nil
	}

	resp, err := doWithRetry(ctx, r.client, buildReq, r.logger)
	if err != nil {
		return fmt.Errorf("retrieval %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("retrieval %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode retrieval response: %w", err)
	}
	return nil
}
