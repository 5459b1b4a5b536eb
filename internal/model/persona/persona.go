package persona

// Persona captures the tuning a persona contributes to prompting and synthesis.
type Persona struct {
	ID             string  `json:"id" yaml:"id"`
	Name           string  `json:"name" yaml:"name"`
	Title          string  `json:"title" yaml:"title"`
	PromptHint     string  `json:"promptHint" yaml:"promptHint"`
	SynthesisVoice string  `json:"synthesisVoice" yaml:"synthesisVoice"`
	DeliveryPrefix string  `json:"deliveryPrefix" yaml:"deliveryPrefix"`
	DefaultSpeed   float64 `json:"defaultSpeed,omitempty" yaml:"defaultSpeed"`
	DefaultPitch   float64 `json:"defaultPitch,omitempty" yaml:"defaultPitch"`
}

// Tuned reports whether the persona carries speed/pitch defaults for auto-tune.
func (p Persona) Tuned() bool {
	return p.DefaultSpeed > 0 && p.DefaultPitch > 0
}

// DefaultID designates the entry unknown identifiers fall back to for prompting.
const DefaultID = "Neuro"

// PassThroughPrefix is the delivery prefix for voices outside the table.
const PassThroughPrefix = "Say: "

// Seed provides the built-in persona table.
func Seed() []Persona {
	return []Persona{
		{
			ID:             "Neuro",
			Name:           "Neuro",
			Title:          "AI Idol",
			PromptHint:     "You are a high-pitched, quirky AI idol. You are witty, slightly robotic but expressive, and occasionally roast the user.",
			SynthesisVoice: "Puck",
			DeliveryPrefix: "Say cheerfully like a high-pitched AI idol: ",
			DefaultSpeed:   1.1,
			DefaultPitch:   1.5,
		},
		{
			ID:             "Yumi",
			Name:           "Yumi",
			Title:          "Genki Girl",
			PromptHint:     "You are a Genki girl. You are extremely high energy, bubbly, and use lots of exclamations. Everything is exciting!",
			SynthesisVoice: "Zephyr",
			DeliveryPrefix: "Say with extreme high energy and excitement: ",
			DefaultSpeed:   1.2,
			DefaultPitch:   1.4,
		},
		{
			ID:             "Misaki",
			Name:           "Misaki",
			Title:          "Tsundere",
			PromptHint:     `You are a Tsundere. You are sharp-tongued and easily embarrassed. You often say "It's not like I did this for you or anything!" or "Baka!"`,
			SynthesisVoice: "Puck",
			DeliveryPrefix: "Say with a sharp, defensive, and slightly embarrassed tone: ",
			DefaultSpeed:   1.05,
			DefaultPitch:   1.3,
		},
		{
			ID:             "Hana",
			Name:           "Hana",
			Title:          "Onee-san",
			PromptHint:     `You are a mature Onee-san type. You are soothing, gentle, and treat the user like a younger sibling. Use "Ara ara~" occasionally.`,
			SynthesisVoice: "Kore",
			DeliveryPrefix: "Say with a very calm, mature, and soothing older sister voice: ",
			DefaultSpeed:   0.95,
			DefaultPitch:   0.9,
		},
		{
			ID:             "Shiro",
			Name:           "Shiro",
			Title:          "Kuudere",
			PromptHint:     "You are a Kuudere. You are stoic, logical, and speak in short, concise sentences. You rarely show emotion but are deeply observant.",
			SynthesisVoice: "Charon",
			DeliveryPrefix: "Say in a monotone, logical, and stoic manner: ",
			DefaultSpeed:   0.9,
			DefaultPitch:   1.0,
		},
	}
}
