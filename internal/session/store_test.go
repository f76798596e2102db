package session

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"bimabot/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), slog.Default())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoad_UnseenUserGetsDefault(t *testing.T) {
	store := newTestStore(t)

	sess, err := store.Load(context.Background(), "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.Step != domain.StepWelcome {
		t.Errorf("expected welcome step for fresh session, got %q", sess.Step)
	}
	if len(sess.Answers) != 0 {
		t.Errorf("expected empty answers, got %v", sess.Answers)
	}
	if sess.Language != "" {
		t.Errorf("expected unset language, got %q", sess.Language)
	}
}

func TestCommitLoad_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := domain.Session{
		UserID: "u1",
		Step:   domain.StepAskAge,
		Answers: map[string]string{
			domain.FieldName:   "Ramesh",
			domain.FieldGender: "male",
		},
		Language: "hi",
	}
	if err := store.Commit(ctx, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := store.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Step != domain.StepAskAge {
		t.Errorf("step = %q, want %q", got.Step, domain.StepAskAge)
	}
	if got.Answers[domain.FieldName] != "Ramesh" {
		t.Errorf("name = %q, want Ramesh", got.Answers[domain.FieldName])
	}
	if got.Language != "hi" {
		t.Errorf("language = %q, want hi", got.Language)
	}
}

func TestCommit_Upserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := domain.NewSession("u1")
	first.Step = domain.StepAskName
	if err := store.Commit(ctx, first); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	second := first.Clone()
	second.Step = domain.StepAskGender
	second.Answers[domain.FieldName] = "Sita"
	if err := store.Commit(ctx, second); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	got, err := store.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Step != domain.StepAskGender || got.Answers[domain.FieldName] != "Sita" {
		t.Errorf("upsert not applied: step=%q answers=%v", got.Step, got.Answers)
	}
}

func TestCommit_UnsetLanguageStaysUnset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := domain.NewSession("u1")
	if err := store.Commit(ctx, sess); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := store.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// "not yet decided" must survive a round trip distinct from "en".
	if got.Language != "" {
		t.Errorf("language = %q, want empty", got.Language)
	}
}

func TestCommit_RejectsInvalidStep(t *testing.T) {
	store := newTestStore(t)

	sess := domain.NewSession("u1")
	sess.Step = "ask_shoe_size"
	if err := store.Commit(context.Background(), sess); err == nil {
		t.Fatal("expected error for undeclared step")
	}
}

func TestCommit_RejectsUnknownAnswerField(t *testing.T) {
	store := newTestStore(t)

	sess := domain.NewSession("u1")
	sess.Answers["favouriteColor"] = "blue"
	if err := store.Commit(context.Background(), sess); err == nil {
		t.Fatal("expected error for unknown answer field")
	}
}

func TestListAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		sess := domain.NewSession(id)
		sess.Step = domain.StepCompleted
		if err := store.Commit(ctx, sess); err != nil {
			t.Fatalf("commit %s: %v", id, err)
		}
	}

	sessions, err := store.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for _, sess := range sessions {
		if !sess.Step.Valid() {
			t.Errorf("session %s has invalid step %q", sess.UserID, sess.Step)
		}
	}
}
