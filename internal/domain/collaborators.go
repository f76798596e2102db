package domain

import "context"

// Transcriber converts a voice note into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef, audioKind string) (string, error)
}

// Synthesizer produces spoken audio for a reply and returns a handle
// (URL or file path) to the generated artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (string, error)
}

// Translator detects languages and translates between them.
// Translate is the identity when from == to.
type Translator interface {
	DetectLanguage(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, from, to string) (string, error)
}

// Answer is the retrieval engine's reply to a knowledge question.
type Answer struct {
	Text      string
	Citations []string
}

// Retriever is the knowledge-answering collaborator. Answer handles
// free-form questions; Recommend turns a completed profile summary into
// a product recommendation.
type Retriever interface {
	Answer(ctx context.Context, question string) (Answer, error)
	Recommend(ctx context.Context, profile string) (string, error)
}

// ReportRenderer renders the completion report for a finished survey
// and returns a document handle.
type ReportRenderer interface {
	RenderReport(ctx context.Context, userID string, answers map[string]string) (string, error)
}
