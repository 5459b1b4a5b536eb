package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store exposes persona lookup to prompting, synthesis and the settings API.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
	Resolve(id string) Persona
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items     []Persona
	defaultID string
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...), defaultID: DefaultID}
}

// List returns the persona table in declaration order.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// Resolve always yields a usable entry. Identifiers outside the table borrow
// the default persona's prompt hint and pass their own name through as the
// synthesis voice with the plain delivery prefix.
func (s *MemoryStore) Resolve(id string) Persona {
	id = strings.TrimSpace(id)
	if p, ok := s.FindByID(id); ok {
		return p
	}

	fallback, _ := s.FindByID(s.defaultID)
	if id == "" {
		return fallback
	}

	return Persona{
		ID:             id,
		Name:           id,
		PromptHint:     fallback.PromptHint,
		SynthesisVoice: id,
		DeliveryPrefix: PassThroughPrefix,
	}
}

type overrideFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadOverrides merges personas from a YAML file into the table. Entries with
// an existing id replace it; new ids are appended.
func (s *MemoryStore) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read persona file: %w", err)
	}

	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse persona file %s: %w", path, err)
	}

	for _, p := range file.Personas {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("persona file %s: entry without id", path)
		}
		if p.DeliveryPrefix == "" {
			p.DeliveryPrefix = PassThroughPrefix
		}
		if p.SynthesisVoice == "" {
			p.SynthesisVoice = p.ID
		}
		s.upsert(p)
	}
	return nil
}

func (s *MemoryStore) upsert(p Persona) {
	for i := range s.items {
		if s.items[i].ID == p.ID {
			s.items[i] = p
			return
		}
	}
	s.items = append(s.items, p)
}
