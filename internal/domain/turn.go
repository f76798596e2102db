package domain

import (
	"strings"
	"time"
)

// Turn is one inbound message. Ephemeral: it is never persisted.
// Exactly one of Text/AudioRef is expected to yield usable text.
type Turn struct {
	ID        string
	Channel   string
	UserID    string
	Text      string
	AudioRef  string // handle/URL of a voice note, empty for text turns
	AudioKind string // mime-like tag, e.g. "audio/ogg"
	WantVoice bool   // caller explicitly requests a spoken reply
	Timestamp time.Time
}

// HasAudio reports whether the turn carries a usable voice note reference.
func (t Turn) HasAudio() bool {
	if t.AudioRef == "" {
		return false
	}
	// A missing kind is trusted; channels that know the mime type set it.
	return t.AudioKind == "" || strings.Contains(t.AudioKind, "audio")
}

// Response is the assembled outbound payload for one turn.
type Response struct {
	Channel        string
	UserID         string
	Text           string
	AudioHandle    string   // synthesized speech, empty when not generated
	DocumentHandle string   // completion report, empty when not generated
	Citations      []string // retrieval sources, when the answer came from retrieval
	Language       string   // language the reply was rendered in
}
