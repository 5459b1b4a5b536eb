package ai

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/zhouzirui/astra/backend/internal/model/chat"
)

// Fixed replies used when the model answer cannot be used as-is.
const (
	HiccupText = "My neural processors just hiccuped. Can you say that again?"
	EmptyText  = "I lost my train of thought."
)

// Reply is the structured answer of one generation step.
type Reply struct {
	Text      string       `json:"text"`
	Emotion   chat.Emotion `json:"emotion"`
	Learnings []string     `json:"learnings"`
	// Fallback marks a substituted reply.
	Fallback bool `json:"-"`
}

var errMalformedReply = errors.New("malformed reply")

type rawReply struct {
	Text      *string  `json:"text"`
	Emotion   string   `json:"emotion"`
	Learnings []string `json:"learnings"`
}

// ParseReply turns raw model output into a Reply. An empty answer yields the
// neutral "train of thought" reply; anything that is not a JSON object with a
// non-empty text yields the hiccup reply with fallbackEmotion. It never fails.
func ParseReply(raw string, fallbackEmotion chat.Emotion) Reply {
	if strings.TrimSpace(raw) == "" {
		return Reply{Text: EmptyText, Emotion: chat.Neutral, Learnings: []string{}, Fallback: true}
	}

	reply, err := decodeReply(raw)
	if err != nil {
		return Reply{Text: HiccupText, Emotion: fallbackEmotion, Learnings: []string{}, Fallback: true}
	}
	return reply
}

func decodeReply(raw string) (Reply, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return Reply{}, errMalformedReply
	}

	var payload rawReply
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return Reply{}, err
	}
	if payload.Text == nil || strings.TrimSpace(*payload.Text) == "" {
		return Reply{}, errMalformedReply
	}

	emotion, _ := chat.ParseEmotion(payload.Emotion)
	learnings := payload.Learnings
	if learnings == nil {
		learnings = []string{}
	}
	return Reply{Text: *payload.Text, Emotion: emotion, Learnings: learnings}, nil
}
