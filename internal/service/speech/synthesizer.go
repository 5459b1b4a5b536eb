// Package speech runs the speech-synthesis step of a turn.
package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/astra/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/astra/backend/internal/model/speech"
)

// Synthesizer turns reply text into base64 16-bit LE PCM mono audio. An empty
// string with a nil error means there is nothing to say.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, p persona.Persona) (string, error)
}

type ttsClient interface {
	SynthesizeSpeechWS(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error)
}

var stageDirections = regexp.MustCompile(`\*[^*]*\*|\[[^\]]*\]`)

// CleanText removes *action* and [bracketed] spans and tidies whitespace.
func CleanText(text string) string {
	return strings.Join(strings.Fields(stageDirections.ReplaceAllString(text, " ")), " ")
}

// Service adapts the TTS client to the Synthesizer contract.
type Service struct {
	client     ttsClient
	sampleRate int
	logger     zerolog.Logger
}

// NewService wraps a TTS client.
func NewService(client ttsClient, sampleRate int, logger zerolog.Logger) *Service {
	return &Service{client: client, sampleRate: sampleRate, logger: logger}
}

// Synthesize requests PCM audio for the spoken part of text.
func (s *Service) Synthesize(ctx context.Context, text string, p persona.Persona) (string, error) {
	clean := CleanText(text)
	if clean == "" {
		return "", nil
	}

	resp, err := s.client.SynthesizeSpeechWS(ctx, &speechmodel.TTSRequest{
		Text:       p.DeliveryPrefix + clean,
		Voice:      p.SynthesisVoice,
		Format:     "pcm",
		SampleRate: s.sampleRate,
	})
	if errors.Is(err, ErrEmptyAudio) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("synthesize for %s: %w", p.ID, err)
	}
	if len(resp.AudioData) == 0 {
		return "", nil
	}

	s.logger.Debug().Str("voice", p.SynthesisVoice).Int("bytes", len(resp.AudioData)).Int64("duration_ms", resp.Duration).Msg("synthesized")
	return base64.StdEncoding.EncodeToString(resp.AudioData), nil
}

// Silent is used when no speech backend is configured.
type Silent struct{}

func (Silent) Synthesize(context.Context, string, persona.Persona) (string, error) {
	return "", nil
}
