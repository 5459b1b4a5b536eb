package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/astra/backend/internal/model/persona"
)

func TestWithVoiceIDAutoTunes(t *testing.T) {
	store := persona.NewMemoryStore(persona.Seed())
	v := DefaultVoice()

	hana := v.WithVoiceID("Hana", store.Resolve("Hana"))
	assert.Equal(t, "Hana", hana.VoiceID)
	assert.Equal(t, 0.95, hana.Speed)
	assert.Equal(t, 0.9, hana.Pitch)

	raw := hana.WithVoiceID("Fenrir", store.Resolve("Fenrir"))
	assert.Equal(t, "Fenrir", raw.VoiceID)
	assert.Equal(t, 0.95, raw.Speed, "raw voices keep the current tuning")
}

func TestWithVoiceIDSameIDKeepsTuning(t *testing.T) {
	store := persona.NewMemoryStore(persona.Seed())
	v := Voice{VoiceID: "Neuro", Speed: 1.7, Pitch: 1.5}

	assert.Equal(t, v, v.WithVoiceID("Neuro", store.Resolve("Neuro")))
}

func TestPlaybackRate(t *testing.T) {
	assert.InDelta(t, 1.65, DefaultVoice().PlaybackRate(), 1e-9)
}

func TestApplyFantasyQuestPreset(t *testing.T) {
	p, ok := FindPreset("Fantasy Quest")
	require.True(t, ok)

	for _, prior := range []Roleplay{DefaultRoleplay(), {Active: true, Scenario: "x"}} {
		got := p.Apply(prior)
		assert.True(t, got.Active)
		assert.Equal(t, "We are travelers resting at an enchanted tavern in the Elven Woods.", got.Scenario)
		assert.Equal(t, "Rogue Guide", got.AgentRole)
		assert.Equal(t, "Chosen One", got.UserAlias)
	}
}

func TestFindPresetUnknown(t *testing.T) {
	_, ok := FindPreset("Space Opera")
	assert.False(t, ok)
	assert.Len(t, Presets(), 4)
}

func TestRoleplayPatch(t *testing.T) {
	alias := "Captain"
	got := RoleplayPatch{UserAlias: &alias}.Apply(DefaultRoleplay())
	assert.Equal(t, "Captain", got.UserAlias)
	assert.Equal(t, DefaultRoleplay().Scenario, got.Scenario)
}
