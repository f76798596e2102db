package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bimabot/internal/domain"
)

const (
	maxBodySize    = 1 << 20 // 1MB
	requestTimeout = 120 * time.Second
)

// Web implements domain.Channel as a JSON HTTP API. Unlike Telegram it
// bypasses the bus: each request is processed synchronously so the
// reply travels back on the same HTTP response.
type Web struct {
	host        string
	port        int
	staticDir   string           // synthesized audio served under /static/voice/
	processor   domain.Processor
	metrics     http.Handler     // optional metrics handler
	metricsPath string
	logger      *slog.Logger
	server      *http.Server
}

type WebConfig struct {
	Host        string
	Port        int
	StaticDir   string
	Processor   domain.Processor
	Metrics     http.Handler
	MetricsPath string           // default "/metrics"
	Logger      *slog.Logger
}

func NewWeb(cfg WebConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	return &Web{
		host:        cfg.Host,
		port:        cfg.Port,
		staticDir:   cfg.StaticDir,
		processor:   cfg.Processor,
		metrics:     cfg.Metrics,
		metricsPath: cfg.MetricsPath,
		logger:      cfg.Logger,
	}
}

func (w *Web) Name() string { return "web" }

// Start starts the web server.
func (w *Web) Start(ctx context.Context, _ domain.MessageBus) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", w.handleChat)
	mux.HandleFunc("GET /healthz", w.handleHealth)
	if w.staticDir != "" {
		mux.Handle("GET /static/voice/", http.StripPrefix("/static/voice/", http.FileServer(http.Dir(w.staticDir))))
	}
	if w.metrics != nil {
		mux.Handle("GET "+w.metricsPath, w.metrics)
	}

	addr := fmt.Sprintf("%s:%d", w.host, w.port)
	w.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.logger.Info("web API started", "addr", "http://"+addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.server.Shutdown(shutdownCtx)
	}()

	if err := w.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (w *Web) Stop() error {
	if w.server != nil {
		return w.server.Close()
	}
	return nil
}

type chatRequest struct {
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	AudioURL  string `json:"audio_url,omitempty"`
	AudioKind string `json:"audio_kind,omitempty"`
	WantVoice bool   `json:"want_voice,omitempty"`
}

type chatResponse struct {
	ResponseText string   `json:"response_text"`
	AudioURL     string   `json:"audio_url,omitempty"`
	ReportURL    string   `json:"report_url,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	Language     string   `json:"language,omitempty"`
}

func (w *Web) handleChat(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json; charset=utf-8")

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodySize)).Decode(&req); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "invalid JSON body"})
		return
	}

	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "user_id is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	resp, err := w.processor.Process(ctx, domain.Turn{
		Channel:   "web",
		UserID:    req.UserID,
		Text:      req.Message,
		AudioRef:  req.AudioURL,
		AudioKind: req.AudioKind,
		WantVoice: req.WantVoice,
		Timestamp: time.Now(),
	})
	if err != nil {
		// The processor still produced user-facing text; log the cause
		// and deliver the reply as-is.
		w.logger.Warn("turn processed with error", "user", req.UserID, "err", err)
	}

	json.NewEncoder(rw).Encode(chatResponse{
		ResponseText: resp.Text,
		AudioURL:     resp.AudioHandle,
		ReportURL:    resp.DocumentHandle,
		Sources:      resp.Citations,
		Language:     resp.Language,
	})
}

func (w *Web) handleHealth(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}
