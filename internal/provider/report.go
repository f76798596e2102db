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

	"github.com/google/uuid"
)

// ReportConfig configures the report rendering client.
type ReportConfig struct {
	BaseURL string // report service root
	APIKey  string
	Logger  *slog.Logger
}

// Report implements domain.ReportRenderer against the external document
// rendering service. The service returns a URL to the rendered PDF.
type Report struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewReport(cfg ReportConfig) *Report {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Report{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  SharedHTTPClient(60 * time.Second),
		logger:  cfg.Logger,
	}
}

// RenderReport renders the completion report for a finished profile and
// returns the document handle.
func (r *Report) RenderReport(ctx context.Context, userID string, answers map[string]string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"reportId": fmt.Sprintf("roadmap_%s_%s", userID, uuid.NewString()[:6]),
		"answers":  answers,
	})
	if err != nil {
		return "", err
	}

	buildReq := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			r.baseURL+"/reports", bytes.NewReader(payload))
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
		return "", fmt.Errorf("render report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("report service returned %d", resp.StatusCode)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode report response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("report service returned no document URL")
	}

	r.logger.Info("report rendered", "user", userID, "url", result.URL)
	return result.URL, nil
}
