package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bimabot/internal/domain"
	"bimabot/internal/metrics"
)

const defaultEffectTimeout = 20 * time.Second

// Effects evaluates the optional per-turn side effects: speech
// synthesis and completion-report rendering. Both are best-effort; a
// failure or timeout only omits the attachment and never touches the
// already-decided reply or the survey transition.
type Effects struct {
	synthesizer domain.Synthesizer
	reports     domain.ReportRenderer
	timeout     time.Duration
	logger      *slog.Logger
}

type EffectsConfig struct {
	Synthesizer domain.Synthesizer
	Reports     domain.ReportRenderer
	Timeout     time.Duration // per-effect budget, default 20s
	Logger      *slog.Logger
}

func NewEffects(cfg EffectsConfig) *Effects {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultEffectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Effects{
		synthesizer: cfg.Synthesizer,
		reports:     cfg.Reports,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
	}
}

// Apply runs the triggered effects concurrently, each under its own
// timeout, and attaches whatever finished in time to the response.
//
// Synthesis fires when the inbound turn was audio or the caller asked
// for spoken replies. The report fires exactly once, on the transition
// into the terminal step (old vs. new, not the static state), and only
// when a recommendation was actually stored.
func (e *Effects) Apply(ctx context.Context, turn domain.Turn, oldStep domain.StepID, sess domain.Session, resp *domain.Response) {
	wantSpeech := e.synthesizer != nil && (turn.HasAudio() || turn.WantVoice)
	wantReport := e.reports != nil &&
		!oldStep.Terminal() && sess.Step.Terminal() &&
		sess.Answers[domain.FieldRecommendation] != ""

	if !wantSpeech && !wantReport {
		return
	}

	var (
		wg             sync.WaitGroup
		mu             sync.Mutex
		audioHandle    string
		documentHandle string
	)

	if wantSpeech {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ectx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			handle, err := e.synthesizer.Synthesize(ectx, resp.Text, resp.Language)
			if err != nil {
				metrics.SideEffectFailures.Inc()
				e.logger.Warn("speech synthesis dropped", "user", turn.UserID, "err", err)
				return
			}
			mu.Lock()
			audioHandle = handle
			mu.Unlock()
		}()
	}

	if wantReport {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ectx, cancel := context.WithTimeout(ctx, e.timeout)
			defer cancel()
			handle, err := e.reports.RenderReport(ectx, sess.UserID, sess.Answers)
			if err != nil {
				metrics.SideEffectFailures.Inc()
				e.logger.Warn("report rendering dropped", "user", turn.UserID, "err", err)
				return
			}
			mu.Lock()
			documentHandle = handle
			mu.Unlock()
		}()
	}

	wg.Wait()

	resp.AudioHandle = audioHandle
	resp.DocumentHandle = documentHandle
}
