// Package orchestrator drives one conversation turn: generate, commit,
// synthesize, decode.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/astra/backend/internal/audio"
	"github.com/zhouzirui/astra/backend/internal/model/chat"
	"github.com/zhouzirui/astra/backend/internal/model/persona"
	"github.com/zhouzirui/astra/backend/internal/model/settings"
	"github.com/zhouzirui/astra/backend/internal/service/ai"
	"github.com/zhouzirui/astra/backend/internal/service/speech"
)

const tracerName = "github.com/zhouzirui/astra/backend/orchestrator"

// DefaultHistoryLimit is the number of prior messages sent with each turn.
const DefaultHistoryLimit = 15

// Turn is the input snapshot taken when the user submits.
type Turn struct {
	UserText string
	// Prior holds the conversation before the new user message.
	Prior    []chat.Message
	Roleplay settings.Roleplay
	Memories []string
	Voice    settings.Voice
}

// Speech is decoded audio ready to be played.
type Speech struct {
	Buffer *audio.Buffer
	// Clip is the base64 payload the buffer was decoded from.
	Clip string
	Rate float64
}

// Orchestrator sequences the remote steps of a turn.
type Orchestrator struct {
	generator    ai.Generator
	synthesizer  speech.Synthesizer
	personas     persona.Store
	historyLimit int
	tracer       trace.Tracer
	logger       zerolog.Logger
}

// New builds an orchestrator. A non-positive historyLimit uses the default.
func New(generator ai.Generator, synthesizer speech.Synthesizer, personas persona.Store, historyLimit int, logger zerolog.Logger) *Orchestrator {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Orchestrator{
		generator:    generator,
		synthesizer:  synthesizer,
		personas:     personas,
		historyLimit: historyLimit,
		tracer:       otel.Tracer(tracerName),
		logger:       logger,
	}
}

// Run executes one turn. commit receives the reply as soon as generation
// succeeds and before synthesis begins. A returned error means generation
// failed and commit was not called. A nil Speech means the reply has no
// audio.
func (o *Orchestrator) Run(ctx context.Context, turn Turn, commit func(ai.Reply)) (*Speech, error) {
	p := o.personas.Resolve(turn.Voice.VoiceID)

	reply, err := o.generate(ctx, turn, p)
	if err != nil {
		return nil, err
	}
	commit(reply)

	clip := o.synthesize(ctx, reply.Text, p)
	if clip == "" {
		return nil, nil
	}
	return o.decode(ctx, clip, turn.Voice.PlaybackRate()), nil
}

func (o *Orchestrator) generate(ctx context.Context, turn Turn, p persona.Persona) (ai.Reply, error) {
	ctx, span := o.tracer.Start(ctx, "turn.generate", trace.WithAttributes(
		attribute.String("persona", p.ID),
		attribute.Bool("roleplay", turn.Roleplay.Active),
		attribute.Int("memories", len(turn.Memories)),
	))
	defer span.End()

	reply, err := o.generator.Generate(ctx, ai.Request{
		UserText: turn.UserText,
		History:  chat.RecentTurns(turn.Prior, o.historyLimit),
		Roleplay: turn.Roleplay,
		Memories: turn.Memories,
		Persona:  p,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return ai.Reply{}, fmt.Errorf("generate reply: %w", err)
	}

	span.SetAttributes(
		attribute.String("emotion", string(reply.Emotion)),
		attribute.Bool("fallback", reply.Fallback),
	)
	return reply, nil
}

// synthesize never fails the turn; problems mean no audio.
func (o *Orchestrator) synthesize(ctx context.Context, text string, p persona.Persona) string {
	ctx, span := o.tracer.Start(ctx, "turn.synthesize", trace.WithAttributes(
		attribute.String("voice", p.SynthesisVoice),
	))
	defer span.End()

	clip, err := o.synthesizer.Synthesize(ctx, text, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		o.logger.Warn().Err(err).Str("voice", p.SynthesisVoice).Msg("speech synthesis failed, replying without audio")
		return ""
	}
	span.SetAttributes(attribute.Bool("audio", clip != ""))
	return clip
}

func (o *Orchestrator) decode(ctx context.Context, clip string, rate float64) *Speech {
	_, span := o.tracer.Start(ctx, "turn.decode")
	defer span.End()

	buf, err := audio.Decode(clip)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		o.logger.Warn().Err(err).Msg("undecodable audio, replying without audio")
		return nil
	}
	if buf.Frames() == 0 {
		return nil
	}

	span.SetAttributes(attribute.Int("frames", buf.Frames()), attribute.Float64("rate", rate))
	return &Speech{Buffer: buf, Clip: clip, Rate: rate}
}
