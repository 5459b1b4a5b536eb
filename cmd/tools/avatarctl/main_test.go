package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/astra/backend/internal/config"
	"github.com/zhouzirui/astra/backend/internal/model/chat"
	"github.com/zhouzirui/astra/backend/internal/storage"
)

func newTestApp(t *testing.T) (*app, *storage.Repository) {
	t.Helper()
	repo := storage.NewRepository(storage.NewMemoryStore(), zerolog.Nop())
	a := &app{
		cfg: &config.Config{},
		openRepository: func(context.Context, *config.Config) (*storage.Repository, func(), error) {
			return repo, func() {}, nil
		},
	}
	return a, repo
}

func run(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMemoryListAndClear(t *testing.T) {
	a, repo := newTestApp(t)
	ctx := context.Background()

	out, err := run(t, a, "memory", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No memories stored.")

	require.NoError(t, repo.SaveMemory(ctx, []string{"likes tea", "owns a cat"}))
	out, err = run(t, a, "memory", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "  0  likes tea")
	assert.Contains(t, out, "  1  owns a cat")

	_, err = run(t, a, "memory", "clear")
	assert.Error(t, err)
	assert.Len(t, repo.LoadMemory(ctx), 2)

	_, err = run(t, a, "memory", "clear", "--confirm")
	require.NoError(t, err)
	assert.Empty(t, repo.LoadMemory(ctx))
}

func TestHistoryShowLimitAndClear(t *testing.T) {
	a, repo := newTestApp(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.SaveHistory(ctx, []chat.Message{
		chat.Greeting(now),
		chat.NewUserMessage("first question", now),
		chat.NewAgentMessage("first answer", chat.Happy, now),
	}))

	out, err := run(t, a, "history", "show", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "first answer (happy)")
	assert.NotContains(t, out, "first question")

	_, err = run(t, a, "history", "clear", "--confirm")
	require.NoError(t, err)
	history := repo.LoadHistory(ctx)
	require.Len(t, history, 1)
	assert.Equal(t, chat.RoleAgent, history[0].Role)
}

func TestSettingsShowDefaults(t *testing.T) {
	a, _ := newTestApp(t)

	out, err := run(t, a, "settings")
	require.NoError(t, err)
	assert.Contains(t, out, `"voiceId": "Neuro"`)
	assert.Contains(t, out, `"agentRole": "Virtual Roommate"`)
}

func TestTTSProbeRequiresSpeechConfig(t *testing.T) {
	a, _ := newTestApp(t)

	_, err := run(t, a, "tts", "probe", "--text", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "speech is not configured")
}
