package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is one immutable entry of the conversation log.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Emotion   Emotion   `json:"emotion,omitempty"`
}

// NewUserMessage stamps a user submission.
func NewUserMessage(text string, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Text:      text,
		Timestamp: now,
	}
}

// NewAgentMessage stamps an agent reply carrying the reported emotion.
func NewAgentMessage(text string, emotion Emotion, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAgent,
		Text:      text,
		Timestamp: now,
		Emotion:   emotion,
	}
}

// GreetingID is the fixed identifier of the canonical greeting.
const GreetingID = "init"

// GreetingText opens every fresh conversation.
const GreetingText = "Hello! I am Astra. Ready to hang out? I am always learning, so tell me something interesting!"

// Greeting returns the canonical first message of a conversation.
func Greeting(now time.Time) Message {
	return Message{
		ID:        GreetingID,
		Role:      RoleAgent,
		Text:      GreetingText,
		Timestamp: now,
		Emotion:   Happy,
	}
}

// IsBlank reports whether a submission carries no visible text.
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// Turn is the role+text projection of a message sent as prompt history.
type Turn struct {
	Role Role
	Text string
}

// RecentTurns returns the last limit messages as prompt turns.
func RecentTurns(messages []Message, limit int) []Turn {
	if limit <= 0 || len(messages) == 0 {
		return nil
	}

	start := 0
	if len(messages) > limit {
		start = len(messages) - limit
	}

	turns := make([]Turn, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		turns = append(turns, Turn{Role: msg.Role, Text: msg.Text})
	}
	return turns
}
