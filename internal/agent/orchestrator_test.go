package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"bimabot/internal/domain"
	"bimabot/internal/language"
	"bimabot/internal/survey"
)

// --- fakes ---

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	commits  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: map[string]domain.Session{}}
}

func (f *fakeStore) Load(ctx context.Context, userID string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess, ok := f.sessions[userID]; ok {
		return sess.Clone(), nil
	}
	return domain.NewSession(userID), nil
}

func (f *fakeStore) Commit(ctx context.Context, sess domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	f.sessions[sess.UserID] = sess.Clone()
	return nil
}

func (f *fakeStore) ListAll(ctx context.Context) ([]domain.Session, error) { return nil, nil }
func (f *fakeStore) Close() error                                          { return nil }

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioRef, audioKind string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeTranslator struct {
	detected string
}

func (f *fakeTranslator) DetectLanguage(ctx context.Context, text string) (string, error) {
	if f.detected == "" {
		return "en", nil
	}
	return f.detected, nil
}

func (f *fakeTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	return text, nil
}

type fakeRetriever struct {
	answer         domain.Answer
	answerErr      error
	recommendation string
	recommendErr   error
	answerCalls    int
}

func (f *fakeRetriever) Answer(ctx context.Context, question string) (domain.Answer, error) {
	f.answerCalls++
	return f.answer, f.answerErr
}

func (f *fakeRetriever) Recommend(ctx context.Context, profile string) (string, error) {
	return f.recommendation, f.recommendErr
}

type fakeSynthesizer struct {
	handle string
	err    error
	calls  int
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, lang string) (string, error) {
	f.calls++
	return f.handle, f.err
}

type fakeReporter struct {
	handle string
	err    error
	calls  int
}

func (f *fakeReporter) RenderReport(ctx context.Context, userID string, answers map[string]string) (string, error) {
	f.calls++
	return f.handle, f.err
}

// --- harness ---

type harness struct {
	orch        *Orchestrator
	store       *fakeStore
	transcriber *fakeTranscriber
	retriever   *fakeRetriever
	synthesizer *fakeSynthesizer
	reporter    *fakeReporter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:       newFakeStore(),
		transcriber: &fakeTranscriber{text: "transcribed words here"},
		retriever: &fakeRetriever{
			answer:         domain.Answer{Text: "Policy X covers that.", Citations: []string{"policy-x.pdf"}},
			recommendation: "Term plan with rider.",
		},
		synthesizer: &fakeSynthesizer{handle: "https://cdn/voice.mp3"},
		reporter:    &fakeReporter{handle: "https://cdn/report.pdf"},
	}
	h.orch = NewOrchestrator(Config{
		Store:       h.store,
		Survey:      survey.NewEngine(survey.Config{Recommender: h.retriever}),
		Language:    language.NewPipeline(language.Config{Translator: &fakeTranslator{}}),
		Transcriber: h.transcriber,
		Retriever:   h.retriever,
		Effects: NewEffects(EffectsConfig{
			Synthesizer: h.synthesizer,
			Reports:     h.reporter,
		}),
	})
	return h
}

func (h *harness) send(t *testing.T, userID, text string) domain.Response {
	t.Helper()
	resp, err := h.orch.Process(context.Background(), domain.Turn{
		Channel: "test", UserID: userID, Text: text,
	})
	if err != nil {
		t.Fatalf("process %q: %v", text, err)
	}
	return resp
}

// --- tests ---

func TestProcess_EndToEndSurvey(t *testing.T) {
	h := newHarness(t)

	resp := h.send(t, "u1", "hi there friend")
	if !strings.Contains(resp.Text, "What is your full name?") {
		t.Fatalf("expected welcome prompt, got %q", resp.Text)
	}
	if got := h.store.sessions["u1"].Step; got != domain.StepAskName {
		t.Fatalf("step = %q, want ask_name", got)
	}

	resp = h.send(t, "u1", "Ramesh")
	if h.store.sessions["u1"].Answers[domain.FieldName] != "Ramesh" {
		t.Fatal("name not stored")
	}
	if h.store.sessions["u1"].Step != domain.StepAskGender {
		t.Fatalf("step = %q, want ask_gender", h.store.sessions["u1"].Step)
	}

	h.send(t, "u1", "male")
	h.send(t, "u1", "I am 45 years old")
	if h.store.sessions["u1"].Answers[domain.FieldAge] != "45" {
		t.Fatal("age digit run not extracted")
	}
	h.send(t, "u1", "farmer")
	h.send(t, "u1", "5 of us")

	resp = h.send(t, "u1", "health cover")
	sess := h.store.sessions["u1"]
	if sess.Step != domain.StepCompleted {
		t.Fatalf("step = %q, want completed", sess.Step)
	}
	if sess.Answers[domain.FieldRecommendation] == "" {
		t.Fatal("recommendation missing after completion")
	}
	if !strings.Contains(resp.Text, "Term plan with rider.") {
		t.Errorf("reply does not embed the recommendation: %q", resp.Text)
	}
	if resp.DocumentHandle != "https://cdn/report.pdf" {
		t.Errorf("report not attached on the completing turn: %q", resp.DocumentHandle)
	}
	if h.reporter.calls != 1 {
		t.Fatalf("report rendered %d times, want 1", h.reporter.calls)
	}

	// Next, unrelated turn while already completed: retrieval fallback,
	// and the report must not fire again.
	resp = h.send(t, "u1", "what does policy X cover?")
	if !strings.Contains(resp.Text, "Policy X covers that.") {
		t.Errorf("expected retrieval answer, got %q", resp.Text)
	}
	if h.reporter.calls != 1 {
		t.Errorf("report fired again while already completed")
	}
	if resp.DocumentHandle != "" {
		t.Errorf("stale document handle attached: %q", resp.DocumentHandle)
	}
}

func TestProcess_DisclaimerAlwaysAppended(t *testing.T) {
	h := newHarness(t)
	for _, text := range []string{"hi there friend", "Ramesh"} {
		resp := h.send(t, "u1", text)
		if !strings.Contains(resp.Text, "IRDAI") {
			t.Errorf("reply %q missing disclaimer", resp.Text)
		}
	}
}

func TestProcess_EmptyInputAbortsWithoutCommit(t *testing.T) {
	h := newHarness(t)
	resp, err := h.orch.Process(context.Background(), domain.Turn{Channel: "test", UserID: "u1", Text: "   "})
	if !errors.Is(err, domain.ErrEmptyInput) {
		t.Fatalf("err = %v, want ErrEmptyInput", err)
	}
	if resp.Text == "" {
		t.Error("failure must still produce user-visible text")
	}
	if h.store.commits != 0 {
		t.Errorf("empty input committed %d sessions", h.store.commits)
	}
}

func TestProcess_TranscriptionFailureAbortsWithoutCommit(t *testing.T) {
	h := newHarness(t)
	h.transcriber.err = errors.New("garbled")
	resp, err := h.orch.Process(context.Background(), domain.Turn{
		Channel: "test", UserID: "u1", AudioRef: "https://media/x.ogg", AudioKind: "audio/ogg",
	})
	if !errors.Is(err, domain.ErrTranscriptionFailed) {
		t.Fatalf("err = %v, want ErrTranscriptionFailed", err)
	}
	if resp.Text == "" {
		t.Error("failure must still produce user-visible text")
	}
	if h.store.commits != 0 {
		t.Error("transcription failure must not mutate the session")
	}
}

func TestProcess_AudioTurnGetsSpokenReply(t *testing.T) {
	h := newHarness(t)
	resp, err := h.orch.Process(context.Background(), domain.Turn{
		Channel: "test", UserID: "u1", AudioRef: "https://media/x.ogg", AudioKind: "audio/ogg",
	})
	if err != nil {
		t.Fatal(err)
	}
	if h.transcriber.calls != 1 {
		t.Fatal("transcriber not invoked for audio turn")
	}
	if resp.AudioHandle != "https://cdn/voice.mp3" {
		t.Errorf("audio reply not attached: %q", resp.AudioHandle)
	}
}

func TestProcess_ExplicitVoiceRequestGetsSpokenReply(t *testing.T) {
	h := newHarness(t)
	resp, err := h.orch.Process(context.Background(), domain.Turn{
		Channel: "test", UserID: "u1", Text: "hi there friend", WantVoice: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.AudioHandle == "" {
		t.Error("expected spoken reply when explicitly requested")
	}
}

func TestProcess_SynthesisFailureOnlyOmitsAttachment(t *testing.T) {
	h := newHarness(t)
	h.synthesizer.err = errors.New("tts down")
	resp, err := h.orch.Process(context.Background(), domain.Turn{
		Channel: "test", UserID: "u1", Text: "hi there friend", WantVoice: true,
	})
	if err != nil {
		t.Fatalf("side-effect failure must not fail the turn: %v", err)
	}
	if resp.AudioHandle != "" {
		t.Error("failed synthesis still attached a handle")
	}
	if resp.Text == "" || h.store.commits != 1 {
		t.Error("primary reply and commit must be unaffected")
	}
}

func TestProcess_RetrievalFailureDegradesButCommits(t *testing.T) {
	h := newHarness(t)
	h.store.sessions["u1"] = domain.Session{
		UserID: "u1", Step: domain.StepCompleted,
		Answers: map[string]string{domain.FieldRecommendation: "x"},
	}
	h.retriever.answerErr = errors.New("retrieval down")

	resp := h.send(t, "u1", "what about premiums?")
	if !strings.Contains(resp.Text, "problem looking that up") {
		t.Errorf("expected degraded reply, got %q", resp.Text)
	}
	if h.store.commits != 1 {
		t.Error("degraded retrieval must still commit")
	}
}

func TestProcess_CompletedIsIdempotentFallthrough(t *testing.T) {
	h := newHarness(t)
	h.store.sessions["u1"] = domain.Session{
		UserID: "u1", Step: domain.StepCompleted,
		Answers: map[string]string{domain.FieldRecommendation: "x"},
	}

	for i := 0; i < 2; i++ {
		h.send(t, "u1", "tell me about claim settlement")
	}
	if h.retriever.answerCalls != 2 {
		t.Errorf("retrieval calls = %d, want 2 (both turns fall through)", h.retriever.answerCalls)
	}
	if h.store.sessions["u1"].Step != domain.StepCompleted {
		t.Error("terminal step must not move on retrieval turns")
	}
}

func TestProcess_RestartKeywordReentersSurvey(t *testing.T) {
	h := newHarness(t)
	h.store.sessions["u1"] = domain.Session{
		UserID: "u1", Step: domain.StepCompleted,
		Answers: map[string]string{domain.FieldName: "Ramesh", domain.FieldRecommendation: "x"},
	}

	resp := h.send(t, "u1", "I want to redo the survey please")
	if !strings.Contains(resp.Text, "What is your full name?") {
		t.Errorf("expected welcome prompt after restart, got %q", resp.Text)
	}
	sess := h.store.sessions["u1"]
	if sess.Step != domain.StepWelcome || len(sess.Answers) != 0 {
		t.Errorf("restart did not reset: step=%q answers=%v", sess.Step, sess.Answers)
	}
}

func TestProcess_ResetKeywordWorksFromCompleted(t *testing.T) {
	h := newHarness(t)
	h.store.sessions["u1"] = domain.Session{
		UserID: "u1", Step: domain.StepCompleted,
		Answers: map[string]string{domain.FieldName: "Ramesh", domain.FieldRecommendation: "x"},
	}

	resp := h.send(t, "u1", "reset")
	sess := h.store.sessions["u1"]
	if sess.Step != domain.StepWelcome {
		t.Errorf("step = %q, want welcome", sess.Step)
	}
	if len(sess.Answers) != 0 {
		t.Errorf("answers not cleared: %v", sess.Answers)
	}
	if !strings.Contains(resp.Text, "What is your full name?") {
		t.Errorf("expected welcome prompt, got %q", resp.Text)
	}
	if h.retriever.answerCalls != 0 {
		t.Error("reset from the terminal state leaked into retrieval")
	}
}

func TestProcess_ExplicitLanguageSwitchShortCircuits(t *testing.T) {
	h := newHarness(t)
	h.store.sessions["u1"] = domain.Session{
		UserID: "u1", Step: domain.StepAskAge,
		Answers: map[string]string{domain.FieldName: "Ramesh"},
	}

	resp := h.send(t, "u1", "hindi please")
	sess := h.store.sessions["u1"]
	if sess.Language != "hi" {
		t.Errorf("language = %q, want hi persisted", sess.Language)
	}
	if sess.Step != domain.StepAskAge {
		t.Errorf("language switch consumed the turn: step=%q", sess.Step)
	}
	if _, ok := sess.Answers[domain.FieldAge]; ok {
		t.Error("language request stored as an answer")
	}
	// Reply is the current step's prompt, re-rendered.
	if !strings.Contains(resp.Text, "How old are you?") {
		t.Errorf("expected current prompt re-issued, got %q", resp.Text)
	}
}

func TestProcess_ShortReplyDoesNotFlipStickyLanguage(t *testing.T) {
	h := newHarness(t)
	h.store.sessions["u1"] = domain.Session{
		UserID: "u1", Step: domain.StepAskGender,
		Answers:  map[string]string{domain.FieldName: "Ramesh"},
		Language: "mr",
	}

	h.send(t, "u1", "Ok")
	if got := h.store.sessions["u1"].Language; got != "mr" {
		t.Errorf("sticky language flipped to %q by a short reply", got)
	}
}

func TestProcess_AgeRetryKeepsStep(t *testing.T) {
	h := newHarness(t)
	h.store.sessions["u1"] = domain.Session{
		UserID: "u1", Step: domain.StepAskAge,
		Answers: map[string]string{domain.FieldName: "Ramesh"},
	}

	h.send(t, "u1", "thirty or so")
	sess := h.store.sessions["u1"]
	if sess.Step != domain.StepAskAge {
		t.Errorf("retry-in-place moved step to %q", sess.Step)
	}
	if _, ok := sess.Answers[domain.FieldAge]; ok {
		t.Error("retry consumed the turn as an answer")
	}
}

func TestProcess_CitationsSurfacedInReply(t *testing.T) {
	h := newHarness(t)
	h.store.sessions["u1"] = domain.Session{
		UserID: "u1", Step: domain.StepCompleted,
		Answers: map[string]string{domain.FieldRecommendation: "x"},
	}

	resp := h.send(t, "u1", "what does policy X cover?")
	if len(resp.Citations) != 1 || resp.Citations[0] != "policy-x.pdf" {
		t.Fatalf("citations = %v", resp.Citations)
	}
	if !strings.Contains(resp.Text, "policy-x.pdf") {
		t.Errorf("citation list not formatted into reply: %q", resp.Text)
	}
}
