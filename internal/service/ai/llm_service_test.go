package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/astra/backend/internal/model/chat"
	"github.com/zhouzirui/astra/backend/internal/model/persona"
	"github.com/zhouzirui/astra/backend/internal/model/settings"
)

type fakeChatModel struct {
	reply string
	err   error
	input []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (f *fakeChatModel) BindTools([]*schema.ToolInfo) error { return nil }

func newTestService(t *testing.T, fake *fakeChatModel) *Service {
	t.Helper()
	svc, err := NewServiceWithModel(context.Background(), fake, chat.Surprised, zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func TestGenerateSendsSystemHistoryAndQuery(t *testing.T) {
	fake := &fakeChatModel{reply: `{"text":"Hi there!","emotion":"happy","learnings":["likes greetings"]}`}
	svc := newTestService(t, fake)

	neuro, _ := persona.NewMemoryStore(persona.Seed()).FindByID("Neuro")
	reply, err := svc.Generate(context.Background(), Request{
		UserText: "Hello",
		History: []chat.Turn{
			{Role: chat.RoleAgent, Text: chat.GreetingText},
			{Role: chat.RoleUser, Text: "earlier"},
		},
		Memories: []string{"likes tea"},
		Persona:  neuro,
	})
	require.NoError(t, err)

	assert.Equal(t, "Hi there!", reply.Text)
	assert.Equal(t, chat.Happy, reply.Emotion)
	assert.Equal(t, []string{"likes greetings"}, reply.Learnings)
	assert.False(t, reply.Fallback)

	require.Len(t, fake.input, 4)
	assert.Equal(t, schema.System, fake.input[0].Role)
	assert.Contains(t, fake.input[0].Content, "CURRENT PERSONA: "+neuro.PromptHint)
	assert.Contains(t, fake.input[0].Content, "- likes tea")
	assert.Equal(t, schema.Assistant, fake.input[1].Role)
	assert.Equal(t, schema.User, fake.input[2].Role)
	assert.Equal(t, "Hello", fake.input[3].Content)
}

func TestGenerateTransportFailure(t *testing.T) {
	svc := newTestService(t, &fakeChatModel{err: errors.New("connection reset")})

	_, err := svc.Generate(context.Background(), Request{UserText: "Hello"})
	assert.Error(t, err)
}

func TestGenerateMalformedReplyFallsBack(t *testing.T) {
	svc := newTestService(t, &fakeChatModel{reply: "sure thing!"})

	reply, err := svc.Generate(context.Background(), Request{UserText: "Hello"})
	require.NoError(t, err)
	assert.True(t, reply.Fallback)
	assert.Equal(t, HiccupText, reply.Text)
	assert.Equal(t, chat.Surprised, reply.Emotion)
	assert.Empty(t, reply.Learnings)
}

func TestParseReply(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		text    string
		emotion chat.Emotion
		learned int
	}{
		{"fenced json", "```json\n{\"text\":\"ok\",\"emotion\":\"angry\"}\n```", "ok", chat.Angry, 0},
		{"invalid emotion", `{"text":"ok","emotion":"ecstatic","learnings":["a"]}`, "ok", chat.Neutral, 1},
		{"missing emotion", `{"text":"ok"}`, "ok", chat.Neutral, 0},
		{"missing text", `{"emotion":"happy"}`, HiccupText, chat.Thinking, 0},
		{"blank text", `{"text":"  ","emotion":"happy"}`, HiccupText, chat.Thinking, 0},
		{"broken json", `{"text": "ok"`, HiccupText, chat.Thinking, 0},
		{"empty", "   ", EmptyText, chat.Neutral, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reply := ParseReply(tc.raw, chat.Thinking)
			assert.Equal(t, tc.text, reply.Text)
			assert.Equal(t, tc.emotion, reply.Emotion)
			assert.Len(t, reply.Learnings, tc.learned)
		})
	}
}

func TestBuildSystemPromptRoleplay(t *testing.T) {
	pb := NewPromptBuilder()
	neuro, _ := persona.NewMemoryStore(persona.Seed()).FindByID("Neuro")

	inactive := pb.BuildSystemPrompt(neuro, nil, settings.DefaultRoleplay())
	assert.NotContains(t, inactive, "ACTIVE ROLEPLAY SESSION")
	assert.NotContains(t, inactive, "LONG-TERM MEMORIES")

	rp := settings.Roleplay{Active: true, Scenario: "A tavern."}
	prompt := pb.BuildSystemPrompt(neuro, nil, rp)
	assert.Contains(t, prompt, "- Current Scenario: A tavern.")
	assert.Contains(t, prompt, "- Your Character/Role: Astra")
	assert.Contains(t, prompt, `Refer to the user as "User".`)

	rp.UserAlias = "Chosen One"
	assert.Contains(t, pb.BuildSystemPrompt(neuro, nil, rp), `Refer to the user as "Chosen One".`)
}
