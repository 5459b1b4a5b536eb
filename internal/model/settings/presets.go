package settings

// Preset is a named scenario triple.
type Preset struct {
	Name      string `json:"name"`
	Scenario  string `json:"scenario"`
	AgentRole string `json:"agentRole"`
	UserAlias string `json:"userAlias"`
}

// Apply sets the preset triple on r and activates roleplay.
func (p Preset) Apply(r Roleplay) Roleplay {
	r.Scenario = p.Scenario
	r.AgentRole = p.AgentRole
	r.UserAlias = p.UserAlias
	r.Active = true
	return r
}

var presets = []Preset{
	{
		Name:      "Original Neuro",
		Scenario:  "You are the legendary AI VTuber Neuro-sama. You are witty, slightly rude but charming, and very smart. You love to roast your 'chat' (the user).",
		AgentRole: "Neuro-sama",
		UserAlias: "Chat",
	},
	{
		Name:      "Virtual Roommate",
		Scenario:  "We are stuck in a cozy virtual room during a digital thunderstorm.",
		AgentRole: "Witty Roommate",
		UserAlias: "Friend",
	},
	{
		Name:      "Fantasy Quest",
		Scenario:  "We are travelers resting at an enchanted tavern in the Elven Woods.",
		AgentRole: "Rogue Guide",
		UserAlias: "Chosen One",
	},
	{
		Name:      "Cyberpunk Hackers",
		Scenario:  "We are hiding from security droids after a successful datavault heist.",
		AgentRole: "Neural Operator",
		UserAlias: "Netrunner",
	},
}

// Presets returns the built-in scenario presets.
func Presets() []Preset {
	return append([]Preset(nil), presets...)
}

// FindPreset looks up a preset by exact name.
func FindPreset(name string) (Preset, bool) {
	for _, p := range presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}
