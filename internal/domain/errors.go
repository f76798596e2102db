package domain

import "errors"

// Turn failure taxonomy. Required-path failures (empty input,
// transcription, translation) abort the turn before any session commit;
// retrieval failures degrade to a canned reply and still commit.
var (
	ErrEmptyInput          = errors.New("no usable text or audio in turn")
	ErrTranscriptionFailed = errors.New("audio transcription failed")
	ErrTranslationFailed   = errors.New("language pipeline failed")
	ErrRetrievalFailed     = errors.New("retrieval failed")
)
