// Package settings holds the user-tunable voice and roleplay records.
package settings

import "github.com/zhouzirui/astra/backend/internal/model/persona"

// Voice selects the persona/voice and its playback tuning.
type Voice struct {
	VoiceID string  `json:"voiceId"`
	Speed   float64 `json:"speed"`
	Pitch   float64 `json:"pitch"`
}

// Speed bounds are a control-layer constraint; the record itself accepts any
// positive value.
const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// DefaultVoice returns the voice used when nothing valid is persisted.
func DefaultVoice() Voice {
	return Voice{VoiceID: persona.DefaultID, Speed: 1.1, Pitch: 1.5}
}

// Valid reports whether the record can drive playback.
func (v Voice) Valid() bool {
	return v.VoiceID != "" && v.Speed > 0 && v.Pitch > 0
}

// PlaybackRate is the source rate applied to synthesized audio.
func (v Voice) PlaybackRate() float64 {
	return v.Speed * v.Pitch
}

// WithVoiceID switches the voice and auto-tunes speed/pitch when the new id
// differs and the persona carries defaults.
func (v Voice) WithVoiceID(id string, p persona.Persona) Voice {
	if id == v.VoiceID {
		return v
	}
	v.VoiceID = id
	if p.Tuned() {
		v.Speed = p.DefaultSpeed
		v.Pitch = p.DefaultPitch
	}
	return v
}

// VoiceOptions lists the selectable voices: the persona table first, then raw
// synthesis voices that pass through unmodified.
func VoiceOptions() []string {
	return []string{"Neuro", "Yumi", "Misaki", "Hana", "Shiro", "Kore", "Puck", "Charon", "Fenrir", "Zephyr"}
}

// Roleplay describes the active narrative frame.
type Roleplay struct {
	Active    bool   `json:"active"`
	Scenario  string `json:"scenario"`
	AgentRole string `json:"agentRole"`
	UserAlias string `json:"userAlias"`
}

// DefaultRoleplay returns the roleplay frame used when nothing is persisted.
func DefaultRoleplay() Roleplay {
	return Roleplay{
		Active:    false,
		Scenario:  "We are stuck in a cozy virtual room during a digital thunderstorm.",
		AgentRole: "Virtual Roommate",
		UserAlias: "Anon",
	}
}

// RoleplayPatch carries optional edits; nil fields are left unchanged.
type RoleplayPatch struct {
	Scenario  *string `json:"scenario,omitempty"`
	AgentRole *string `json:"agentRole,omitempty"`
	UserAlias *string `json:"userAlias,omitempty"`
}

// Apply returns a copy of r with the patch applied.
func (p RoleplayPatch) Apply(r Roleplay) Roleplay {
	if p.Scenario != nil {
		r.Scenario = *p.Scenario
	}
	if p.AgentRole != nil {
		r.AgentRole = *p.AgentRole
	}
	if p.UserAlias != nil {
		r.UserAlias = *p.UserAlias
	}
	return r
}
