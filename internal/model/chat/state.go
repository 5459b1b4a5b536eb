package chat

import "strings"

// Emotion is the avatar's current expression.
type Emotion string

const (
	Neutral   Emotion = "neutral"
	Happy     Emotion = "happy"
	Thinking  Emotion = "thinking"
	Surprised Emotion = "surprised"
	Angry     Emotion = "angry"
)

// FailureEmotion is shown after a turn aborts on a transport error.
const FailureEmotion = Angry

// Emotions lists every valid emotion in display order.
func Emotions() []Emotion {
	return []Emotion{Neutral, Happy, Thinking, Surprised, Angry}
}

// ParseEmotion maps a reported label onto the enum. Unknown or empty labels
// become Neutral and ok is false.
func ParseEmotion(raw string) (Emotion, bool) {
	switch Emotion(strings.ToLower(strings.TrimSpace(raw))) {
	case Neutral:
		return Neutral, true
	case Happy:
		return Happy, true
	case Thinking:
		return Thinking, true
	case Surprised:
		return Surprised, true
	case Angry:
		return Angry, true
	default:
		return Neutral, false
	}
}

// Status is the turn phase. Exactly one value holds at any instant.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusThinking Status = "thinking"
	StatusSpeaking Status = "speaking"
)

func (s Status) IsThinking() bool { return s == StatusThinking }

func (s Status) IsSpeaking() bool { return s == StatusSpeaking }

func (s Status) IsIdle() bool { return s == StatusIdle || s == "" }
