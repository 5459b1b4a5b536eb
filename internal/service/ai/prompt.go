package ai

import (
	"strings"

	"github.com/zhouzirui/astra/backend/internal/model/persona"
	"github.com/zhouzirui/astra/backend/internal/model/settings"
)

const baseInstruction = `You are "Astra", an AI VTuber.
You are interacting with a user in a live chat format.
Maintain a consistent personality based on your selected Persona.

SELF-IMPROVEMENT LOOP:
- You have a long-term memory. Use the provided "Memories" to adapt your personality and recall facts about the user.
- If the user teaches you something or mentions a preference, extract it as a concise learning.

IMPORTANT: Your response MUST be a JSON object with three fields:
1. "text": Your spoken response (keep it conversational).
2. "emotion": One of "neutral", "happy", "thinking", "surprised", "angry".
3. "learnings": An array of strings representing NEW facts or preferences you've learned in this turn. Only include new info.`

// Defaults used inside the roleplay block when the user left a field blank.
const (
	defaultAgentRole = "Astra"
	defaultUserAlias = "User"
)

// PromptBuilder assembles the system instruction for one turn.
type PromptBuilder struct{}

// NewPromptBuilder returns a PromptBuilder.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// BuildSystemPrompt layers the persona hint, the memory list and the active
// roleplay frame on top of the base instruction.
func (pb *PromptBuilder) BuildSystemPrompt(p persona.Persona, memories []string, rp settings.Roleplay) string {
	var b strings.Builder
	b.WriteString(baseInstruction)

	b.WriteString("\n\nCURRENT PERSONA: ")
	b.WriteString(p.PromptHint)

	if len(memories) > 0 {
		b.WriteString("\n\nYOUR LONG-TERM MEMORIES (Facts you know): \n- ")
		b.WriteString(strings.Join(memories, "\n- "))
	}

	if rp.Active {
		role := orDefault(rp.AgentRole, defaultAgentRole)
		alias := orDefault(rp.UserAlias, defaultUserAlias)

		b.WriteString("\n\nACTIVE ROLEPLAY SESSION:")
		b.WriteString("\n- Current Scenario: " + rp.Scenario)
		b.WriteString("\n- Your Character/Role: " + role)
		b.WriteString("\n- User's Identity: " + alias)
		b.WriteString("\n\nINSTRUCTIONS FOR ROLEPLAY:")
		b.WriteString("\n1. Adopt the character traits required for the scenario while keeping your core persona traits.")
		b.WriteString("\n2. Use descriptive actions in asterisks (e.g., *tilts head and smiles*).")
		b.WriteString("\n3. Refer to the user as \"" + alias + "\".")
	}

	return b.String()
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
