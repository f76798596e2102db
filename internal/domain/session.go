package domain

import "context"

// StepID identifies one state of the onboarding survey machine.
type StepID string

const (
	StepWelcome       StepID = "welcome"
	StepAskName       StepID = "ask_name"
	StepAskGender     StepID = "ask_gender"
	StepAskAge        StepID = "ask_age"
	StepAskOccupation StepID = "ask_occupation"
	StepAskFamily     StepID = "ask_family"
	StepAskConcern    StepID = "ask_concern"
	StepCompleted     StepID = "completed"
)

// Steps lists every declared survey state, in advance order.
var Steps = []StepID{
	StepWelcome,
	StepAskName,
	StepAskGender,
	StepAskAge,
	StepAskOccupation,
	StepAskFamily,
	StepAskConcern,
	StepCompleted,
}

// Valid reports whether s is one of the declared survey states.
func (s StepID) Valid() bool {
	for _, step := range Steps {
		if s == step {
			return true
		}
	}
	return false
}

// Terminal reports whether the survey no longer advances from s
// except via reset or restart.
func (s StepID) Terminal() bool { return s == StepCompleted }

// Answer field names collected by the survey. Sessions never carry
// answer keys outside this set.
const (
	FieldName           = "name"
	FieldGender         = "gender"
	FieldAge            = "age"
	FieldOccupation     = "occupation"
	FieldFamilySize     = "familySize"
	FieldPrimaryConcern = "primaryConcern"
	FieldRecommendation = "recommendation"
)

var answerFields = map[string]bool{
	FieldName:           true,
	FieldGender:         true,
	FieldAge:            true,
	FieldOccupation:     true,
	FieldFamilySize:     true,
	FieldPrimaryConcern: true,
	FieldRecommendation: true,
}

// ValidAnswerField reports whether key is part of the fixed answer field set.
func ValidAnswerField(key string) bool { return answerFields[key] }

// Session is the durable per-user conversation state. It is passed by
// value through a turn and written back exactly once at commit time.
type Session struct {
	UserID   string
	Step     StepID
	Answers  map[string]string
	Language string // 2-letter code; empty means not yet decided
}

// NewSession returns the default session for a user that has never been seen.
func NewSession(userID string) Session {
	return Session{
		UserID:  userID,
		Step:    StepWelcome,
		Answers: map[string]string{},
	}
}

// Clone returns a deep copy, so a turn can mutate its working session
// without aliasing the caller's answer map.
func (s Session) Clone() Session {
	answers := make(map[string]string, len(s.Answers))
	for k, v := range s.Answers {
		answers[k] = v
	}
	s.Answers = answers
	return s
}

// SessionStore persists sessions. Load never fails for an unseen user;
// it returns a fresh default session instead. Commit upserts the whole
// session (step, answers, language) as one unit.
type SessionStore interface {
	Load(ctx context.Context, userID string) (Session, error)
	Commit(ctx context.Context, session Session) error
	ListAll(ctx context.Context) ([]Session, error)
	Close() error
}
