// Package survey implements the deterministic onboarding survey as a
// finite-state machine. The engine consumes one utterance plus the
// current session and returns the reply and the next state; it performs
// no persistence itself.
package survey

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"bimabot/internal/domain"
)

// Recommender produces a product recommendation from a profile summary.
// This is the only collaborator the engine talks to, invoked once on the
// transition into the terminal state.
type Recommender interface {
	Recommend(ctx context.Context, profile string) (string, error)
}

// Result is the outcome of one engine invocation. Handled=false means
// "not mine, fall through to retrieval" and is only produced from the
// terminal state.
type Result struct {
	Handled  bool
	Response string
	NextStep domain.StepID
	Answers  map[string]string
}

type handler func(ctx context.Context, sess domain.Session, input string) Result

// Engine is the survey state machine. Safe for concurrent use: all
// mutable state lives in the session passed per call.
type Engine struct {
	recommender  Recommender
	resetKeyword string
	prompts      map[domain.StepID]string
	ageRetry     string
	fallbackRec  string
	handlers     map[domain.StepID]handler
	logger       *slog.Logger
}

type Config struct {
	Recommender  Recommender
	ResetKeyword string  // default "reset"
	Script       *Script // optional prompt overrides
	Logger       *slog.Logger
}

func defaultPrompts() map[domain.StepID]string {
	return map[domain.StepID]string{
		domain.StepWelcome: "👋 Welcome! I am your insurance assistant. I can answer policy questions, " +
			"or take a quick survey to build your profile and recommend a plan.\n\nLet's start. What is your full name?",
		domain.StepAskName:       "What is your full name?",
		domain.StepAskGender:     "How do you describe your gender?",
		domain.StepAskAge:        "How old are you?",
		domain.StepAskOccupation: "What do you do for a living?",
		domain.StepAskFamily:     "How many people are in your family, including you?",
		domain.StepAskConcern: "Last question: what matters most to you right now? " +
			"(e.g. health cover, savings, children's education, retirement)",
		domain.StepCompleted: "Your profile is complete. Ask me anything about our policies!",
	}
}

const (
	defaultResetKeyword = "reset"
	defaultAgeRetry     = "Please tell me your age as a number (e.g. 45)."
	defaultFallbackRec  = "Thank you! Our advisory team will review your profile and follow up with a personalised recommendation."
)

func NewEngine(cfg Config) *Engine {
	if cfg.ResetKeyword == "" {
		cfg.ResetKeyword = defaultResetKeyword
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Engine{
		recommender:  cfg.Recommender,
		resetKeyword: strings.ToLower(cfg.ResetKeyword),
		prompts:      defaultPrompts(),
		ageRetry:     defaultAgeRetry,
		fallbackRec:  defaultFallbackRec,
		logger:       cfg.Logger,
	}
	if cfg.Script != nil {
		e.applyScript(cfg.Script)
	}
	e.handlers = map[domain.StepID]handler{
		domain.StepWelcome:       e.handleWelcome,
		domain.StepAskName:       e.handleAskName,
		domain.StepAskGender:     e.handleAskGender,
		domain.StepAskAge:        e.handleAskAge,
		domain.StepAskOccupation: e.handleAskOccupation,
		domain.StepAskFamily:     e.handleAskFamily,
		domain.StepAskConcern:    e.handleAskConcern,
		domain.StepCompleted:     e.handleCompleted,
	}
	return e
}

// Prompt returns the question the user is being asked at the given step.
// Used to re-issue the current prompt after an explicit language switch.
func (e *Engine) Prompt(step domain.StepID) string {
	if p, ok := e.prompts[step]; ok {
		return p
	}
	return e.prompts[domain.StepWelcome]
}

// Process runs one survey transition. The reset keyword overrides all
// per-state logic, including from the terminal state.
func (e *Engine) Process(ctx context.Context, sess domain.Session, input string) Result {
	sess = sess.Clone()

	if strings.Contains(strings.ToLower(input), e.resetKeyword) {
		return e.Reset(sess)
	}

	h, ok := e.handlers[sess.Step]
	if !ok {
		// Undeclared step should be impossible past the store's
		// validation; recover by starting over rather than wedging the user.
		e.logger.Error("session at undeclared step, resetting", "user", sess.UserID, "step", sess.Step)
		return e.Reset(sess)
	}
	return h(ctx, sess, input)
}

// Reset clears the collected answers and re-enters the survey from the
// welcome step. Also used by the orchestrator's explicit restart path.
func (e *Engine) Reset(sess domain.Session) Result {
	return Result{
		Handled:  true,
		Response: e.Prompt(domain.StepWelcome),
		NextStep: domain.StepWelcome,
		Answers:  map[string]string{},
	}
}

func (e *Engine) handleWelcome(ctx context.Context, sess domain.Session, input string) Result {
	// The first utterance is a greeting, not an answer; it is not consumed.
	return Result{
		Handled:  true,
		Response: e.Prompt(domain.StepWelcome),
		NextStep: domain.StepAskName,
		Answers:  sess.Answers,
	}
}

func (e *Engine) handleAskName(ctx context.Context, sess domain.Session, input string) Result {
	name := strings.TrimSpace(input)
	sess.Answers[domain.FieldName] = name
	return Result{
		Handled:  true,
		Response: fmt.Sprintf("Nice to meet you, %s! %s", name, e.Prompt(domain.StepAskGender)),
		NextStep: domain.StepAskGender,
		Answers:  sess.Answers,
	}
}

func (e *Engine) handleAskGender(ctx context.Context, sess domain.Session, input string) Result {
	sess.Answers[domain.FieldGender] = strings.TrimSpace(input)
	return Result{
		Handled:  true,
		Response: e.Prompt(domain.StepAskAge),
		NextStep: domain.StepAskAge,
		Answers:  sess.Answers,
	}
}

var digitRun = regexp.MustCompile(`[0-9]+`)

// handleAskAge extracts the first contiguous digit run so phrasing like
// "I am 45 years old" works. No digits is the machine's single
// retry-in-place transition: re-prompt, same step, turn not consumed.
func (e *Engine) handleAskAge(ctx context.Context, sess domain.Session, input string) Result {
	age := digitRun.FindString(input)
	if age == "" {
		return Result{
			Handled:  true,
			Response: e.ageRetry,
			NextStep: domain.StepAskAge,
			Answers:  sess.Answers,
		}
	}
	sess.Answers[domain.FieldAge] = age
	return Result{
		Handled:  true,
		Response: "Got it. " + e.Prompt(domain.StepAskOccupation),
		NextStep: domain.StepAskOccupation,
		Answers:  sess.Answers,
	}
}

func (e *Engine) handleAskOccupation(ctx context.Context, sess domain.Session, input string) Result {
	sess.Answers[domain.FieldOccupation] = strings.TrimSpace(input)
	return Result{
		Handled:  true,
		Response: e.Prompt(domain.StepAskFamily),
		NextStep: domain.StepAskFamily,
		Answers:  sess.Answers,
	}
}

func (e *Engine) handleAskFamily(ctx context.Context, sess domain.Session, input string) Result {
	size := digitRun.FindString(input)
	if size == "" {
		size = strings.TrimSpace(input)
	}
	sess.Answers[domain.FieldFamilySize] = size
	return Result{
		Handled:  true,
		Response: e.Prompt(domain.StepAskConcern),
		NextStep: domain.StepAskConcern,
		Answers:  sess.Answers,
	}
}

// handleAskConcern finishes the survey: it stores the final answer,
// asks the retrieval collaborator for a recommendation, and moves to
// the terminal state. A recommendation failure is absorbed with a
// generic follow-up line; it never fails the turn, and the session
// still completes with a non-empty recommendation.
func (e *Engine) handleAskConcern(ctx context.Context, sess domain.Session, input string) Result {
	sess.Answers[domain.FieldPrimaryConcern] = strings.TrimSpace(input)

	rec := e.fallbackRec
	if e.recommender != nil {
		got, err := e.recommender.Recommend(ctx, e.profileSummary(sess.Answers))
		if err != nil || strings.TrimSpace(got) == "" {
			e.logger.Warn("recommendation unavailable, using fallback", "user", sess.UserID, "err", err)
		} else {
			rec = strings.TrimSpace(got)
		}
	}
	sess.Answers[domain.FieldRecommendation] = rec

	name := sess.Answers[domain.FieldName]
	if name == "" {
		name = "friend"
	}
	response := fmt.Sprintf(
		"Thank you, %s! Your profile is complete. 📋\n\n*Our recommendation:* %s\n\n%s",
		name, rec, e.Prompt(domain.StepCompleted),
	)
	return Result{
		Handled:  true,
		Response: response,
		NextStep: domain.StepCompleted,
		Answers:  sess.Answers,
	}
}

// handleCompleted signals "not handled": the orchestrator falls through
// to retrieval. The session stays terminal.
func (e *Engine) handleCompleted(ctx context.Context, sess domain.Session, input string) Result {
	return Result{
		Handled:  false,
		NextStep: sess.Step,
		Answers:  sess.Answers,
	}
}

func (e *Engine) profileSummary(answers map[string]string) string {
	var b strings.Builder
	b.WriteString("Customer profile.")
	fields := []struct{ label, key string }{
		{"Name", domain.FieldName},
		{"Gender", domain.FieldGender},
		{"Age", domain.FieldAge},
		{"Occupation", domain.FieldOccupation},
		{"Family size", domain.FieldFamilySize},
		{"Primary concern", domain.FieldPrimaryConcern},
	}
	for _, f := range fields {
		if v := answers[f.key]; v != "" {
			fmt.Fprintf(&b, " %s: %s.", f.label, v)
		}
	}
	return b.String()
}
