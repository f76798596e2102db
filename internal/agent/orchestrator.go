// Package agent contains the turn orchestrator: the coordinator that
// drives transcription, language resolution, survey-or-retrieval
// dispatch, side-effect generation, and the single session commit for
// every inbound turn.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"bimabot/internal/domain"
	"bimabot/internal/language"
	"bimabot/internal/metrics"
	"bimabot/internal/survey"
)

const (
	defaultConcurrency    = 5
	defaultRestartKeyword = "survey"
	defaultDisclaimer     = "\n\n_(IRDAI: Insurance is the subject matter of solicitation. Please read all policy documents carefully.)_"

	apologyEmptyInput    = "I didn't receive any text or audio. Please try again."
	apologyTranscription = "Sorry, I had trouble understanding your voice message. Could you type it instead?"
	apologyLanguage      = "Sorry, I ran into a problem understanding that. Please try again in a moment."
	apologyRetrieval     = "I ran into a problem looking that up. Please try again in a little while."
)

// Orchestrator processes turns: one at a time per user, in receipt
// order, with exactly one session write at the end of each turn.
type Orchestrator struct {
	store       domain.SessionStore
	survey      *survey.Engine
	lang        *language.Pipeline
	transcriber domain.Transcriber
	retriever   domain.Retriever
	effects     *Effects
	bus         domain.MessageBus
	logger      *slog.Logger

	disclaimer     string
	restartKeyword string
	concurrency    int

	// Per-user serialization. Bus-driven turns are additionally ordered
	// through per-user queues; the lock covers direct Process callers.
	userLocks sync.Map // userID -> *sync.Mutex

	queueMu sync.Mutex
	queues  map[string]chan domain.Turn
	wg      sync.WaitGroup
}

// Config holds the orchestrator's dependencies and tuning.
type Config struct {
	Store          domain.SessionStore
	Survey         *survey.Engine
	Language       *language.Pipeline
	Transcriber    domain.Transcriber
	Retriever      domain.Retriever
	Effects        *Effects
	Bus            domain.MessageBus
	Logger         *slog.Logger
	Disclaimer     string // appended to every outbound reply
	RestartKeyword string // fallback-path keyword that re-enters the survey
	Concurrency    int    // max users processed in parallel
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Disclaimer == "" {
		cfg.Disclaimer = defaultDisclaimer
	}
	if cfg.RestartKeyword == "" {
		cfg.RestartKeyword = defaultRestartKeyword
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Orchestrator{
		store:          cfg.Store,
		survey:         cfg.Survey,
		lang:           cfg.Language,
		transcriber:    cfg.Transcriber,
		retriever:      cfg.Retriever,
		effects:        cfg.Effects,
		bus:            cfg.Bus,
		logger:         cfg.Logger,
		disclaimer:     cfg.Disclaimer,
		restartKeyword: strings.ToLower(cfg.RestartKeyword),
		concurrency:    cfg.Concurrency,
		queues:         make(map[string]chan domain.Turn),
	}
}

// Run consumes turns from the bus until the context is cancelled.
// Turns for the same user are queued and processed strictly in receipt
// order; turns for different users run in parallel.
func (o *Orchestrator) Run(ctx context.Context) {
	o.logger.Info("orchestrator started", "concurrency", o.concurrency)

	inbound := o.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping")
			o.drainQueues()
			return
		case turn, ok := <-inbound:
			if !ok {
				o.logger.Info("inbound channel closed, orchestrator stopping")
				o.drainQueues()
				return
			}
			o.enqueue(ctx, turn)
		}
	}
}

// enqueue hands the turn to its user's serial queue, creating the
// queue worker on first use.
func (o *Orchestrator) enqueue(ctx context.Context, turn domain.Turn) {
	o.queueMu.Lock()
	q, ok := o.queues[turn.UserID]
	if !ok {
		q = make(chan domain.Turn, 16)
		o.queues[turn.UserID] = q
		o.wg.Add(1)
		go o.drainUser(ctx, turn.UserID, q)
	}
	o.queueMu.Unlock()

	select {
	case q <- turn:
	default:
		o.logger.Warn("user queue full, dropping turn", "user", turn.UserID)
	}
}

func (o *Orchestrator) drainUser(ctx context.Context, userID string, q chan domain.Turn) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case turn := <-q:
			resp, err := o.Process(ctx, turn)
			if err != nil {
				o.logger.Error("turn failed", "user", userID, "channel", turn.Channel, "err", err)
			}
			o.bus.SendOutbound(resp)
		}
	}
}

func (o *Orchestrator) drainQueues() {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		o.logger.Warn("timed out waiting for user queues to drain")
	}
}

func (o *Orchestrator) lockUser(userID string) func() {
	v, _ := o.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Process runs one full turn. The returned Response always carries
// user-visible text, including on failure; the error reports what went
// wrong for logging and metrics. No session state is written unless the
// turn reached the commit stage.
func (o *Orchestrator) Process(ctx context.Context, turn domain.Turn) (domain.Response, error) {
	unlock := o.lockUser(turn.UserID)
	defer unlock()

	start := time.Now()
	metrics.TurnsTotal.Inc()
	defer func() { metrics.TurnLatency.Observe(time.Since(start).Seconds()) }()

	resp := domain.Response{Channel: turn.Channel, UserID: turn.UserID}

	// Stage 1: derive text, transcribing voice notes first.
	text := turn.Text
	if turn.HasAudio() {
		transcribed, err := o.transcriber.Transcribe(ctx, turn.AudioRef, turn.AudioKind)
		if err != nil {
			metrics.TurnFailuresTotal.Inc()
			resp.Text = apologyTranscription
			return resp, fmt.Errorf("%w: %v", domain.ErrTranscriptionFailed, err)
		}
		text = transcribed
	}
	if strings.TrimSpace(text) == "" {
		metrics.TurnFailuresTotal.Inc()
		resp.Text = apologyEmptyInput
		return resp, domain.ErrEmptyInput
	}

	// Stage 2: load the session and resolve the turn language.
	sess, err := o.store.Load(ctx, turn.UserID)
	if err != nil {
		metrics.TurnFailuresTotal.Inc()
		resp.Text = apologyLanguage
		return resp, fmt.Errorf("load session: %w", err)
	}
	sess = sess.Clone()
	oldStep := sess.Step

	decision, err := o.lang.Resolve(ctx, sess, text)
	if err != nil {
		metrics.TurnFailuresTotal.Inc()
		resp.Text = apologyLanguage
		return resp, fmt.Errorf("%w: %v", domain.ErrTranslationFailed, err)
	}
	if decision.Sticky != "" {
		sess.Language = decision.Sticky
	}
	resp.Language = decision.Language

	// Stage 3: dispatch. An explicit language switch short-circuits the
	// survey/retrieval input and re-issues the current step's prompt.
	var replyPivot string
	if decision.Explicit {
		replyPivot = o.survey.Prompt(sess.Step)
	} else {
		pivotText, err := o.lang.ToPivot(ctx, text, decision.Language)
		if err != nil {
			metrics.TurnFailuresTotal.Inc()
			resp.Text = apologyLanguage
			return resp, fmt.Errorf("%w: %v", domain.ErrTranslationFailed, err)
		}

		// The engine is invoked from every state, terminal included: its
		// reset check outranks all per-state logic, and the terminal
		// handler declines non-reset input so it falls through below.
		result := o.survey.Process(ctx, sess, pivotText)
		if result.Handled {
			sess.Step = result.NextStep
			sess.Answers = result.Answers
			replyPivot = result.Response
		}

		if replyPivot == "" {
			replyPivot = o.fallback(ctx, &sess, pivotText, &resp)
		}
	}

	// Stage 4: render the reply and append the disclaimer.
	reply, err := o.lang.Render(ctx, replyPivot, decision.Language)
	if err != nil {
		metrics.TurnFailuresTotal.Inc()
		resp.Text = apologyLanguage
		return resp, fmt.Errorf("%w: %v", domain.ErrTranslationFailed, err)
	}
	if len(resp.Citations) > 0 {
		reply += formatCitations(resp.Citations)
	}
	reply += o.disclaimer
	resp.Text = reply

	// Stage 5: side effects, then the single commit.
	if sess.Step.Terminal() && oldStep != sess.Step {
		metrics.SurveyCompletions.Inc()
	}
	if o.effects != nil {
		o.effects.Apply(ctx, turn, oldStep, sess, &resp)
	}

	if err := o.store.Commit(ctx, sess); err != nil {
		// The reply is already decided; surface the error but still
		// deliver the text.
		return resp, fmt.Errorf("commit session: %w", err)
	}

	o.logger.Info("turn processed",
		"user", turn.UserID,
		"channel", turn.Channel,
		"step", sess.Step,
		"language", decision.Language,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// fallback handles input the survey did not claim: an explicit restart
// keyword re-enters the survey; everything else goes to retrieval. A
// retrieval failure degrades to a canned apology and the turn still
// commits whatever state was reached.
func (o *Orchestrator) fallback(ctx context.Context, sess *domain.Session, pivotText string, resp *domain.Response) string {
	if strings.Contains(strings.ToLower(pivotText), o.restartKeyword) {
		result := o.survey.Reset(*sess)
		sess.Step = result.NextStep
		sess.Answers = result.Answers
		return result.Response
	}

	metrics.RetrievalFallbacks.Inc()
	answer, err := o.retriever.Answer(ctx, pivotText)
	if err != nil {
		o.logger.Warn("retrieval failed, degrading", "user", sess.UserID, "err", err)
		return apologyRetrieval
	}
	resp.Citations = answer.Citations
	return answer.Text
}

func formatCitations(citations []string) string {
	var b strings.Builder
	b.WriteString("\n\nSources:")
	for _, c := range citations {
		b.WriteString("\n• ")
		b.WriteString(c)
	}
	return b.String()
}
