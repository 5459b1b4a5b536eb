// Package ai runs the text-generation step of a turn.
package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/astra/backend/internal/config"
	"github.com/zhouzirui/astra/backend/internal/model/chat"
	"github.com/zhouzirui/astra/backend/internal/model/persona"
	"github.com/zhouzirui/astra/backend/internal/model/settings"
)

// Request carries everything the model sees for one turn.
type Request struct {
	UserText string
	History  []chat.Turn
	Roleplay settings.Roleplay
	Memories []string
	Persona  persona.Persona
}

// Generator produces a structured reply. A returned error means the request
// itself failed; malformed answers are folded into a fallback Reply.
type Generator interface {
	Generate(ctx context.Context, req Request) (Reply, error)
}

// Service encapsulates the chat chain against an ark model.
type Service struct {
	chain           compose.Runnable[map[string]any, *schema.Message]
	prompts         *PromptBuilder
	fallbackEmotion chat.Emotion
	logger          zerolog.Logger
}

// NewService creates a Service from configuration.
func NewService(ctx context.Context, cfg config.AIConfig, logger zerolog.Logger) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	fallback, ok := chat.ParseEmotion(cfg.FallbackEmotion)
	if !ok {
		logger.Warn().Str("value", cfg.FallbackEmotion).Msg("unknown fallback emotion, using surprised")
		fallback = chat.Surprised
	}
	return NewServiceWithModel(ctx, chatModel, fallback, logger)
}

// NewServiceWithModel builds the chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.ChatModel, fallback chat.Emotion, logger zerolog.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:           runnable,
		prompts:         NewPromptBuilder(),
		fallbackEmotion: fallback,
		logger:          logger,
	}, nil
}

// Generate runs the chain once.
func (s *Service) Generate(ctx context.Context, req Request) (Reply, error) {
	response, err := s.chain.Invoke(ctx, s.buildChainInput(req))
	if err != nil {
		return Reply{}, fmt.Errorf("failed to run AI chain: %w", err)
	}

	reply := ParseReply(response.Content, s.fallbackEmotion)
	if reply.Fallback {
		s.logger.Warn().Str("persona", req.Persona.ID).Int("length", len(response.Content)).Msg("unusable model reply, using fallback")
	} else {
		s.logger.Debug().
			Str("persona", req.Persona.ID).
			Str("emotion", string(reply.Emotion)).
			Int("learnings", len(reply.Learnings)).
			Msg("generated reply")
	}
	return reply, nil
}

func (s *Service) buildChainInput(req Request) map[string]any {
	return map[string]any{
		"system":  s.prompts.BuildSystemPrompt(req.Persona, req.Memories, req.Roleplay),
		"history": buildHistoryMessages(req.History),
		"query":   req.UserText,
	}
}

func buildHistoryMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(turn.Text))
		case chat.RoleAgent:
			history = append(history, schema.AssistantMessage(turn.Text, nil))
		}
	}
	return history
}

// ErrUnavailable is returned by Unavailable for every request.
var ErrUnavailable = errors.New("ai service not configured")

// Unavailable is the Generator used when no model credentials are present.
// Every turn fails as a transport error and the session shows frustration.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, Request) (Reply, error) {
	return Reply{}, ErrUnavailable
}
