// Package chat owns the single local conversation session: the message log,
// the emotional state, the turn status and the user settings.
package chat

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/astra/backend/internal/audio"
	"github.com/zhouzirui/astra/backend/internal/events"
	"github.com/zhouzirui/astra/backend/internal/lipsync"
	"github.com/zhouzirui/astra/backend/internal/model/chat"
	"github.com/zhouzirui/astra/backend/internal/model/persona"
	"github.com/zhouzirui/astra/backend/internal/model/settings"
	"github.com/zhouzirui/astra/backend/internal/service/ai"
	"github.com/zhouzirui/astra/backend/internal/service/memory"
	"github.com/zhouzirui/astra/backend/internal/service/orchestrator"
)

var (
	ErrBusy              = errors.New("a turn is in progress")
	ErrResetNotConfirmed = errors.New("reset requires confirmation")
	ErrPresetNotFound    = errors.New("scenario preset not found")
	ErrInvalidSpeed      = errors.New("speed out of range")
	ErrVoiceRequired     = errors.New("voice id is required")
	ErrClosed            = errors.New("session closed")
)

// Repository persists the session records.
type Repository interface {
	LoadHistory(ctx context.Context) []chat.Message
	SaveHistory(ctx context.Context, messages []chat.Message) error
	LoadVoice(ctx context.Context) settings.Voice
	SaveVoice(ctx context.Context, v settings.Voice) error
	LoadRoleplay(ctx context.Context) settings.Roleplay
	SaveRoleplay(ctx context.Context, rp settings.Roleplay) error
	LoadMemory(ctx context.Context) []string
	SaveMemory(ctx context.Context, facts []string) error
	ClearConversation(ctx context.Context) error
}

// Runner executes one turn.
type Runner interface {
	Run(ctx context.Context, turn orchestrator.Turn, commit func(ai.Reply)) (*orchestrator.Speech, error)
}

// Options wires a Service.
type Options struct {
	Repository Repository
	Runner     Runner
	Personas   persona.Store
	Audio      *audio.Runtime
	Events     events.Publisher
	// FPS is the lip-sync sampling rate.
	FPS int
	// LearningFlash is how long the learning flag stays raised.
	LearningFlash time.Duration
	Logger        zerolog.Logger
}

// State is a point-in-time copy of everything observable.
type State struct {
	Messages   []chat.Message    `json:"messages"`
	Emotion    chat.Emotion      `json:"emotion"`
	Status     chat.Status       `json:"status"`
	IsThinking bool              `json:"isThinking"`
	IsSpeaking bool              `json:"isSpeaking"`
	Busy       bool              `json:"busy"`
	Mouth      float64           `json:"mouth"`
	Voice      settings.Voice    `json:"voice"`
	Roleplay   settings.Roleplay `json:"roleplay"`
	Memory     []string          `json:"memory"`
	Learning   bool              `json:"learning"`
}

// Service is the conversation state machine. All transitions happen under mu.
type Service struct {
	repo     Repository
	runner   Runner
	personas persona.Store
	audio    *audio.Runtime
	events   events.Publisher
	memory   *memory.Accumulator
	lipsync  *lipsync.Driver
	logger   zerolog.Logger
	now      func() time.Time

	mouth atomic.Uint64

	mu       sync.Mutex
	messages []chat.Message
	emotion  chat.Emotion
	status   chat.Status
	voice    settings.Voice
	roleplay settings.Roleplay
	// busy spans the whole turn, from submission until playback ends or the
	// turn completes without audio.
	busy     bool
	source   *audio.Source
	playback uint64
	closed   bool
}

// NewService restores persisted state and returns an idle session.
func NewService(ctx context.Context, opts Options) *Service {
	publisher := opts.Events
	if publisher == nil {
		publisher = events.Discard{}
	}

	s := &Service{
		repo:     opts.Repository,
		runner:   opts.Runner,
		personas: opts.Personas,
		audio:    opts.Audio,
		events:   publisher,
		logger:   opts.Logger,
		now:      time.Now,
		emotion:  chat.Happy,
		status:   chat.StatusIdle,
	}

	s.messages = s.repo.LoadHistory(ctx)
	s.voice = s.repo.LoadVoice(ctx)
	s.roleplay = s.repo.LoadRoleplay(ctx)

	s.memory = memory.New(s.repo.LoadMemory(ctx), memory.Options{
		Flash:      opts.LearningFlash,
		OnChange:   s.memoryChanged,
		OnLearning: s.learningChanged,
	})
	s.lipsync = lipsync.NewDriver(opts.FPS, s.setMouth, opts.Logger.With().Str("component", "lipsync").Logger())

	s.logger.Info().
		Int("messages", len(s.messages)).
		Int("memories", len(s.memory.Facts())).
		Str("voice", s.voice.VoiceID).
		Msg("session restored")
	return s
}

// Submit starts a turn and blocks until its visible outcome is settled:
// the reply is committed and playback, if any, has started. Blank text and
// submissions while a turn is in flight are ignored and report false.
func (s *Service) Submit(ctx context.Context, text string) bool {
	turn, ok := s.begin(ctx, text)
	if !ok {
		return false
	}
	s.run(ctx, turn)
	return true
}

// Start accepts a submission exactly like Submit but runs the turn in the
// background. The result reports whether the submission was accepted.
func (s *Service) Start(ctx context.Context, text string) bool {
	turn, ok := s.begin(ctx, text)
	if !ok {
		return false
	}
	go s.run(ctx, turn)
	return true
}

// begin records the user message and marks the session busy.
func (s *Service) begin(ctx context.Context, text string) (orchestrator.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.busy || !s.status.IsIdle() || chat.IsBlank(text) {
		return orchestrator.Turn{}, false
	}

	prior := append([]chat.Message(nil), s.messages...)
	msg := chat.NewUserMessage(text, s.now())
	s.messages = append(s.messages, msg)
	s.busy = true
	s.status = chat.StatusThinking
	s.emotion = chat.Thinking
	s.persistHistoryLocked(ctx)
	s.events.Publish(events.TypeMessage, msg)
	s.publishStatusLocked()
	s.publishEmotionLocked()

	return orchestrator.Turn{
		UserText: text,
		Prior:    prior,
		Roleplay: s.roleplay,
		Memories: s.memory.Facts(),
		Voice:    s.voice,
	}, true
}

func (s *Service) run(ctx context.Context, turn orchestrator.Turn) {
	speech, err := s.runner.Run(ctx, turn, func(reply ai.Reply) { s.commit(ctx, reply) })
	if err != nil {
		s.fail(err)
		return
	}
	if speech == nil {
		s.finishTurn()
		return
	}
	s.startPlayback(speech)
}

func (s *Service) commit(ctx context.Context, reply ai.Reply) {
	s.mu.Lock()
	msg := chat.NewAgentMessage(reply.Text, reply.Emotion, s.now())
	s.messages = append(s.messages, msg)
	s.emotion = reply.Emotion
	s.status = chat.StatusIdle
	s.persistHistoryLocked(ctx)
	s.events.Publish(events.TypeMessage, msg)
	s.publishEmotionLocked()
	s.publishStatusLocked()
	s.mu.Unlock()

	s.memory.RecordLearnings(reply.Learnings)
}

func (s *Service) fail(err error) {
	s.logger.Warn().Err(err).Msg("turn failed")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.status = chat.StatusIdle
	s.emotion = chat.FailureEmotion
	s.publishStatusLocked()
	s.publishEmotionLocked()
}

func (s *Service) finishTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

func (s *Service) startPlayback(sp *orchestrator.Speech) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.busy = false
		return
	}

	actx := s.audio.Context()
	src, err := actx.NewSource(sp.Buffer)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cannot create audio source")
		s.busy = false
		return
	}
	src.SetPlaybackRate(sp.Rate)

	s.playback++
	id := s.playback
	if err := src.Start(func() { s.playbackEnded(id) }); err != nil {
		s.logger.Warn().Err(err).Msg("cannot start playback")
		s.busy = false
		return
	}

	s.source = src
	s.status = chat.StatusSpeaking
	s.lipsync.Start(actx.Analyser())
	s.publishStatusLocked()
	s.events.Publish(events.TypeSpeech, speechEvent{
		Clip:       sp.Clip,
		Rate:       sp.Rate,
		SampleRate: sp.Buffer.SampleRate,
		DurationMS: src.Duration().Milliseconds(),
	})
}

func (s *Service) playbackEnded(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != s.playback || s.source == nil {
		return
	}
	s.source = nil
	s.lipsync.Stop()
	s.busy = false
	s.status = chat.StatusIdle
	s.publishStatusLocked()
}

// Reset clears the conversation to the greeting and forgets all memories.
func (s *Service) Reset(ctx context.Context, confirmed bool) error {
	if !confirmed {
		return ErrResetNotConfirmed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.busy {
		return ErrBusy
	}

	if err := s.repo.ClearConversation(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to delete persisted conversation")
	}

	s.messages = []chat.Message{chat.Greeting(s.now())}
	s.emotion = chat.Happy
	s.status = chat.StatusIdle
	s.persistHistoryLocked(ctx)
	s.memory.Clear()

	s.events.Publish(events.TypeReset, s.messages)
	s.publishEmotionLocked()
	s.logger.Info().Msg("conversation reset")
	return nil
}

// SelectVoice switches the voice, auto-tuning speed and pitch for personas
// that carry defaults.
func (s *Service) SelectVoice(ctx context.Context, id string) (settings.Voice, error) {
	if chat.IsBlank(id) {
		return settings.Voice{}, ErrVoiceRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = s.voice.WithVoiceID(id, s.personas.Resolve(id))
	s.persistVoiceLocked(ctx)
	return s.voice, nil
}

// SetSpeed adjusts the speed multiplier within [MinSpeed, MaxSpeed].
func (s *Service) SetSpeed(ctx context.Context, speed float64) (settings.Voice, error) {
	if math.IsNaN(speed) || speed < settings.MinSpeed || speed > settings.MaxSpeed {
		return settings.Voice{}, ErrInvalidSpeed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice.Speed = speed
	s.persistVoiceLocked(ctx)
	return s.voice, nil
}

// ToggleRoleplay flips roleplay mode.
func (s *Service) ToggleRoleplay(ctx context.Context) settings.Roleplay {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleplay.Active = !s.roleplay.Active
	s.persistRoleplayLocked(ctx)
	return s.roleplay
}

// UpdateRoleplay edits scenario, role and alias without touching Active.
func (s *Service) UpdateRoleplay(ctx context.Context, patch settings.RoleplayPatch) settings.Roleplay {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleplay = patch.Apply(s.roleplay)
	s.persistRoleplayLocked(ctx)
	return s.roleplay
}

// ApplyPreset loads a named scenario and activates roleplay.
func (s *Service) ApplyPreset(ctx context.Context, name string) (settings.Roleplay, error) {
	preset, ok := settings.FindPreset(name)
	if !ok {
		return settings.Roleplay{}, ErrPresetNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleplay = preset.Apply(s.roleplay)
	s.persistRoleplayLocked(ctx)
	return s.roleplay, nil
}

// Memory returns the learned facts, oldest first.
func (s *Service) Memory() []string {
	return s.memory.Facts()
}

// RemoveMemory deletes one fact; out-of-range indexes are ignored.
func (s *Service) RemoveMemory(index int) bool {
	return s.memory.Remove(index)
}

// ClearMemory forgets every fact but keeps the conversation.
func (s *Service) ClearMemory() {
	s.memory.Clear()
}

// Busy reports whether a turn is in flight.
func (s *Service) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy || s.closed
}

// Personas lists the persona table.
func (s *Service) Personas() []persona.Persona {
	return s.personas.List()
}

// Snapshot copies the observable state.
func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	mouth := 0.0
	if s.status.IsSpeaking() {
		mouth = math.Float64frombits(s.mouth.Load())
	}
	return State{
		Messages:   append([]chat.Message(nil), s.messages...),
		Emotion:    s.emotion,
		Status:     s.status,
		IsThinking: s.status.IsThinking(),
		IsSpeaking: s.status.IsSpeaking(),
		Busy:       s.busy,
		Mouth:      mouth,
		Voice:      s.voice,
		Roleplay:   s.roleplay,
		Memory:     s.memory.Facts(),
		Learning:   s.memory.Learning(),
	}
}

// Close stops lip-sync and playback and releases the audio context. A turn
// still generating finishes its commit but plays nothing.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.lipsync.Stop()
	if s.source != nil {
		s.source.Stop()
		s.source = nil
		s.busy = false
	}
	s.status = chat.StatusIdle
	s.mu.Unlock()

	s.memory.Close()
	s.audio.Close()
	s.logger.Info().Msg("session closed")
}

type speechEvent struct {
	Clip       string  `json:"clip"`
	Rate       float64 `json:"rate"`
	SampleRate int     `json:"sampleRate"`
	DurationMS int64   `json:"durationMs"`
}

// setMouth is called from the lip-sync loop and must not take mu.
func (s *Service) setMouth(v float64) {
	s.mouth.Store(math.Float64bits(v))
	s.events.Publish(events.TypeMouth, map[string]float64{"value": v})
}

func (s *Service) memoryChanged(facts []string) {
	if err := s.repo.SaveMemory(context.Background(), facts); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist memory")
	}
	s.events.Publish(events.TypeMemory, map[string][]string{"facts": facts})
}

func (s *Service) learningChanged(active bool) {
	s.events.Publish(events.TypeLearning, map[string]bool{"active": active})
}

func (s *Service) persistHistoryLocked(ctx context.Context) {
	if err := s.repo.SaveHistory(ctx, s.messages); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist history")
	}
}

func (s *Service) persistVoiceLocked(ctx context.Context) {
	if err := s.repo.SaveVoice(ctx, s.voice); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist voice settings")
	}
	s.events.Publish(events.TypeVoice, s.voice)
}

func (s *Service) persistRoleplayLocked(ctx context.Context) {
	if err := s.repo.SaveRoleplay(ctx, s.roleplay); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist roleplay settings")
	}
	s.events.Publish(events.TypeRoleplay, s.roleplay)
}

func (s *Service) publishStatusLocked() {
	s.events.Publish(events.TypeStatus, map[string]any{
		"status":     s.status,
		"isThinking": s.status.IsThinking(),
		"isSpeaking": s.status.IsSpeaking(),
	})
}

func (s *Service) publishEmotionLocked() {
	s.events.Publish(events.TypeEmotion, map[string]chat.Emotion{"emotion": s.emotion})
}
