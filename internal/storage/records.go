package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/astra/backend/internal/model/chat"
	"github.com/zhouzirui/astra/backend/internal/model/settings"
)

// Record keys. They are shared with earlier clients and must not change.
const (
	KeyHistory  = "astra_chat_history"
	KeyVoice    = "astra_voice_settings"
	KeyRoleplay = "astra_roleplay_settings"
	KeyMemory   = "astra_longterm_memory"
)

// legacyAgentRole is how earlier clients tagged the agent's messages.
const legacyAgentRole chat.Role = "astra"

// HistoryLimit is the number of most recent messages kept on disk.
const HistoryLimit = 50

// Repository maps the session records onto a Store. Reads never fail: a
// missing or malformed record yields its default and the problem is logged.
type Repository struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewRepository wraps store.
func NewRepository(store Store, logger zerolog.Logger) *Repository {
	return &Repository{store: store, logger: logger, now: time.Now}
}

// LoadHistory returns the persisted conversation, or the greeting when the
// record is missing, malformed or empty.
func (r *Repository) LoadHistory(ctx context.Context) []chat.Message {
	var messages []chat.Message
	if !r.loadJSON(ctx, KeyHistory, &messages) || len(messages) == 0 {
		return []chat.Message{chat.Greeting(r.now())}
	}
	for i, msg := range messages {
		if msg.Role == legacyAgentRole {
			messages[i].Role = chat.RoleAgent
			continue
		}
		if msg.Role != chat.RoleUser && msg.Role != chat.RoleAgent {
			r.logger.Warn().Str("key", KeyHistory).Str("role", string(msg.Role)).Msg("discarding history with unknown role")
			return []chat.Message{chat.Greeting(r.now())}
		}
	}
	return messages
}

// SaveHistory persists the last HistoryLimit messages.
func (r *Repository) SaveHistory(ctx context.Context, messages []chat.Message) error {
	if len(messages) > HistoryLimit {
		messages = messages[len(messages)-HistoryLimit:]
	}
	return r.saveJSON(ctx, KeyHistory, messages)
}

// LoadVoice returns the persisted voice, or the default when missing or invalid.
func (r *Repository) LoadVoice(ctx context.Context) settings.Voice {
	var v settings.Voice
	if !r.loadJSON(ctx, KeyVoice, &v) || !v.Valid() {
		return settings.DefaultVoice()
	}
	return v
}

func (r *Repository) SaveVoice(ctx context.Context, v settings.Voice) error {
	return r.saveJSON(ctx, KeyVoice, v)
}

// LoadRoleplay decodes the persisted record over the defaults, so fields
// absent from an older record keep their default value.
func (r *Repository) LoadRoleplay(ctx context.Context) settings.Roleplay {
	rp := settings.DefaultRoleplay()
	merged := rp
	if !r.loadJSON(ctx, KeyRoleplay, &merged) {
		return rp
	}
	return merged
}

func (r *Repository) SaveRoleplay(ctx context.Context, rp settings.Roleplay) error {
	return r.saveJSON(ctx, KeyRoleplay, rp)
}

// LoadMemory returns the raw persisted fact list; callers normalize it.
func (r *Repository) LoadMemory(ctx context.Context) []string {
	var facts []string
	if !r.loadJSON(ctx, KeyMemory, &facts) {
		return nil
	}
	return facts
}

func (r *Repository) SaveMemory(ctx context.Context, facts []string) error {
	if facts == nil {
		facts = []string{}
	}
	return r.saveJSON(ctx, KeyMemory, facts)
}

// ClearConversation deletes the history and memory records.
func (r *Repository) ClearConversation(ctx context.Context) error {
	return errors.Join(
		r.store.Delete(ctx, KeyHistory),
		r.store.Delete(ctx, KeyMemory),
	)
}

func (r *Repository) loadJSON(ctx context.Context, key string, dst any) bool {
	data, err := r.store.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("load record failed")
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("malformed record, using default")
		return false
	}
	return true
}

func (r *Repository) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.store.Save(ctx, key, data)
}
