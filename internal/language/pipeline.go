// Package language decides the active conversation language per turn
// and translates between the user's language and the pivot language the
// survey and retrieval engines operate on.
package language

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"bimabot/internal/domain"
)

// DefaultPivot is the language internal engines operate on.
const DefaultPivot = "en"

// DefaultKeywords maps explicit language-name requests to codes.
// Matching is case-insensitive substring, same as the reset keyword.
func DefaultKeywords() map[string]string {
	return map[string]string{
		"english": "en",
		"hindi":   "hi",
		"हिंदी":   "hi",
		"marathi": "mr",
		"मराठी":   "mr",
	}
}

// Decision is the resolved language for one turn.
type Decision struct {
	Language string // language this turn's reply is rendered in
	Sticky   string // value to persist on the session; empty = leave as-is
	Explicit bool   // user asked for a language by name; short-circuit the turn
}

// Pipeline implements the sticky-with-override selection policy.
// Priority order: explicit keyword > first detection > sticky default.
// Once a sticky preference exists, per-turn auto-detection is disabled
// so loan-words and short replies cannot flip the conversation language.
type Pipeline struct {
	translator domain.Translator
	pivot      string
	keywords   map[string]string
	order      []string // keyword scan order, sorted for determinism
	logger     *slog.Logger
}

type Config struct {
	Translator domain.Translator
	Pivot      string            // default "en"
	Keywords   map[string]string // default DefaultKeywords()
	Logger     *slog.Logger
}

func NewPipeline(cfg Config) *Pipeline {
	if cfg.Pivot == "" {
		cfg.Pivot = DefaultPivot
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultKeywords()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	order := make([]string, 0, len(cfg.Keywords))
	for keyword := range cfg.Keywords {
		order = append(order, keyword)
	}
	sort.Strings(order)
	return &Pipeline{
		translator: cfg.Translator,
		pivot:      cfg.Pivot,
		keywords:   cfg.Keywords,
		order:      order,
		logger:     cfg.Logger,
	}
}

// Pivot returns the pivot language code.
func (p *Pipeline) Pivot() string { return p.pivot }

// Resolve picks the turn's language. An explicit language-name request
// switches immediately and short-circuits: the utterance is not survey
// or retrieval input. Otherwise the first turn without a sticky
// preference runs detection, adopting the result as sticky when it is
// non-pivot, or pivot with more than two words; after that the sticky
// value wins unconditionally.
func (p *Pipeline) Resolve(ctx context.Context, sess domain.Session, text string) (Decision, error) {
	lower := strings.ToLower(text)
	for _, keyword := range p.order {
		if strings.Contains(lower, keyword) {
			code := p.keywords[keyword]
			p.logger.Info("explicit language switch", "user", sess.UserID, "language", code)
			return Decision{Language: code, Sticky: code, Explicit: true}, nil
		}
	}

	if sess.Language != "" {
		return Decision{Language: sess.Language}, nil
	}

	detected, err := p.translator.DetectLanguage(ctx, text)
	if err != nil {
		return Decision{}, fmt.Errorf("detect language: %w", err)
	}
	detected = strings.ToLower(strings.TrimSpace(detected))
	if detected == "" {
		detected = p.pivot
	}

	if detected != p.pivot || wordCount(text) > 2 {
		p.logger.Info("sticky language established", "user", sess.UserID, "language", detected)
		return Decision{Language: detected, Sticky: detected}, nil
	}
	// Short pivot-language utterance ("Ok"): use pivot for this turn but
	// do not establish it as sticky yet.
	return Decision{Language: p.pivot}, nil
}

// ToPivot normalizes inbound text to the pivot language. No-op when the
// turn language already is the pivot.
func (p *Pipeline) ToPivot(ctx context.Context, text, from string) (string, error) {
	if from == p.pivot || from == "" {
		return text, nil
	}
	out, err := p.translator.Translate(ctx, text, from, p.pivot)
	if err != nil {
		return "", fmt.Errorf("translate to pivot: %w", err)
	}
	return out, nil
}

// Render translates an outbound pivot-language reply to the user's
// language. No-op when they match. Formatting markers surviving
// translation is a contract on the translator collaborator.
func (p *Pipeline) Render(ctx context.Context, text, to string) (string, error) {
	if to == p.pivot || to == "" {
		return text, nil
	}
	out, err := p.translator.Translate(ctx, text, p.pivot, to)
	if err != nil {
		return "", fmt.Errorf("render reply: %w", err)
	}
	return out, nil
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
