package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/astra/backend/internal/audio"
	"github.com/zhouzirui/astra/backend/internal/events"
	"github.com/zhouzirui/astra/backend/internal/model/chat"
	"github.com/zhouzirui/astra/backend/internal/model/persona"
	"github.com/zhouzirui/astra/backend/internal/model/settings"
	"github.com/zhouzirui/astra/backend/internal/service/ai"
	chatService "github.com/zhouzirui/astra/backend/internal/service/chat"
	"github.com/zhouzirui/astra/backend/internal/service/orchestrator"
	"github.com/zhouzirui/astra/backend/internal/storage"
)

// scriptedRunner commits a fixed reply and produces no audio.
type scriptedRunner struct {
	reply ai.Reply
	gate  chan struct{}
}

func (s *scriptedRunner) Run(ctx context.Context, _ orchestrator.Turn, commit func(ai.Reply)) (*orchestrator.Speech, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	commit(s.reply)
	return nil, nil
}

type harness struct {
	server  http.Handler
	session *chatService.Service
	bus     *events.Bus
}

func newHarness(t *testing.T, runner *scriptedRunner) *harness {
	t.Helper()

	logger := zerolog.Nop()
	bus := events.NewBus(logger)
	session := chatService.NewService(context.Background(), chatService.Options{
		Repository:    storage.NewRepository(storage.NewMemoryStore(), logger),
		Runner:        runner,
		Personas:      persona.NewMemoryStore(persona.Seed()),
		Audio:         audio.NewRuntime(),
		Events:        bus,
		FPS:           60,
		LearningFlash: 20 * time.Millisecond,
		Logger:        logger,
	})
	t.Cleanup(func() {
		session.Close()
		_ = bus.Close()
	})

	return &harness{server: NewRouter(session, bus, logger), session: session, bus: bus}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	h.server.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestStateReturnsGreeting(t *testing.T) {
	h := newHarness(t, &scriptedRunner{})

	resp := h.do(t, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	state := decode[chatService.State](t, resp)
	require.Len(t, state.Messages, 1)
	assert.Equal(t, chat.RoleAgent, state.Messages[0].Role)
	assert.Equal(t, chat.Happy, state.Emotion)
	assert.Equal(t, chat.StatusIdle, state.Status)
}

func TestSubmitMessage(t *testing.T) {
	h := newHarness(t, &scriptedRunner{reply: ai.Reply{Text: "Hi!", Emotion: chat.Happy}})

	resp := h.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = h.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "Hello"})
	require.Equal(t, http.StatusAccepted, resp.Code)

	require.Eventually(t, func() bool {
		state := h.session.Snapshot()
		return len(state.Messages) == 3 && !state.Busy
	}, 2*time.Second, 10*time.Millisecond)

	state := h.session.Snapshot()
	assert.Equal(t, "Hello", state.Messages[1].Text)
	assert.Equal(t, "Hi!", state.Messages[2].Text)
}

func TestSubmitInvalidBody(t *testing.T) {
	h := newHarness(t, &scriptedRunner{})

	req := httptest.NewRequest(http.MethodPost, "/api/messages", strings.NewReader("{"))
	resp := httptest.NewRecorder()
	h.server.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestBusySessionRejectsSubmitAndReset(t *testing.T) {
	runner := &scriptedRunner{reply: ai.Reply{Text: "done", Emotion: chat.Neutral}, gate: make(chan struct{})}
	h := newHarness(t, runner)

	require.Equal(t, http.StatusAccepted, h.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "first"}).Code)
	require.Eventually(t, h.session.Busy, time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, "/api/messages", map[string]string{"text": "second"}).Code)
	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, "/api/reset", map[string]bool{"confirm": true}).Code)

	close(runner.gate)
	require.Eventually(t, func() bool { return !h.session.Busy() }, time.Second, 5*time.Millisecond)
	assert.Len(t, h.session.Snapshot().Messages, 3)
}

func TestConcurrentSubmitsAcceptExactlyOne(t *testing.T) {
	runner := &scriptedRunner{reply: ai.Reply{Text: "done", Emotion: chat.Neutral}, gate: make(chan struct{})}
	h := newHarness(t, runner)

	const posts = 8
	codes := make(chan int, posts)
	var wg sync.WaitGroup
	for i := 0; i < posts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes <- h.do(t, http.MethodPost, "/api/messages", map[string]string{"text": fmt.Sprintf("message %d", i)}).Code
		}(i)
	}
	wg.Wait()
	close(codes)

	accepted := 0
	for code := range codes {
		if code == http.StatusAccepted {
			accepted++
		} else {
			assert.Equal(t, http.StatusConflict, code)
		}
	}
	assert.Equal(t, 1, accepted)

	close(runner.gate)
	require.Eventually(t, func() bool { return !h.session.Busy() }, time.Second, 5*time.Millisecond)
	assert.Len(t, h.session.Snapshot().Messages, 3, "every accepted submission runs")
}

func TestResetRequiresConfirmation(t *testing.T) {
	h := newHarness(t, &scriptedRunner{reply: ai.Reply{Text: "ok", Emotion: chat.Neutral}})
	require.True(t, h.session.Submit(context.Background(), "hi"))

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/api/reset", map[string]bool{"confirm": false}).Code)
	assert.Len(t, h.session.Snapshot().Messages, 3)

	resp := h.do(t, http.MethodPost, "/api/reset", map[string]bool{"confirm": true})
	require.Equal(t, http.StatusOK, resp.Code)
	state := decode[chatService.State](t, resp)
	assert.Len(t, state.Messages, 1)
}

func TestPersonasAndVoices(t *testing.T) {
	h := newHarness(t, &scriptedRunner{})

	personas := decode[[]persona.Persona](t, h.do(t, http.MethodGet, "/api/personas", nil))
	assert.Len(t, personas, len(persona.Seed()))

	voices := decode[[]string](t, h.do(t, http.MethodGet, "/api/voices", nil))
	assert.Equal(t, settings.VoiceOptions(), voices)
}

func TestUpdateVoice(t *testing.T) {
	h := newHarness(t, &scriptedRunner{})

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPut, "/api/settings/voice", map[string]any{}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPut, "/api/settings/voice", map[string]any{"speed": 2.5}).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPut, "/api/settings/voice", map[string]any{"voiceId": "Hana", "speed": 0.1}).Code)
	assert.Equal(t, settings.DefaultVoice(), h.session.Snapshot().Voice, "rejected requests change nothing")

	resp := h.do(t, http.MethodPut, "/api/settings/voice", map[string]any{"voiceId": "Hana"})
	require.Equal(t, http.StatusOK, resp.Code)
	voice := decode[settings.Voice](t, resp)
	assert.Equal(t, "Hana", voice.VoiceID)
	assert.Equal(t, 0.95, voice.Speed)

	voice = decode[settings.Voice](t, h.do(t, http.MethodPut, "/api/settings/voice", map[string]any{"speed": 2.0}))
	assert.Equal(t, 2.0, voice.Speed)
	assert.Equal(t, "Hana", voice.VoiceID)
}

func TestRoleplayAndPresets(t *testing.T) {
	h := newHarness(t, &scriptedRunner{})

	rp := decode[settings.Roleplay](t, h.do(t, http.MethodPost, "/api/settings/roleplay/toggle", nil))
	assert.True(t, rp.Active)

	rp = decode[settings.Roleplay](t, h.do(t, http.MethodPut, "/api/settings/roleplay", map[string]string{"userAlias": "Captain"}))
	assert.True(t, rp.Active)
	assert.Equal(t, "Captain", rp.UserAlias)
	assert.Equal(t, settings.DefaultRoleplay().Scenario, rp.Scenario)

	presets := decode[[]settings.Preset](t, h.do(t, http.MethodGet, "/api/presets", nil))
	assert.Len(t, presets, len(settings.Presets()))

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/api/presets/Space%20Opera", nil).Code)

	resp := h.do(t, http.MethodPost, "/api/presets/Fantasy%20Quest", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	rp = decode[settings.Roleplay](t, resp)
	assert.True(t, rp.Active)
	assert.Equal(t, "Rogue Guide", rp.AgentRole)
}

func TestMemoryRoutes(t *testing.T) {
	h := newHarness(t, &scriptedRunner{reply: ai.Reply{
		Text:      "Noted.",
		Emotion:   chat.Happy,
		Learnings: []string{"likes tea", "owns a cat"},
	}})
	require.True(t, h.session.Submit(context.Background(), "I like tea and I have a cat"))

	facts := decode[[]string](t, h.do(t, http.MethodGet, "/api/memory", nil))
	assert.Equal(t, []string{"likes tea", "owns a cat"}, facts)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/api/memory/5", nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodDelete, "/api/memory/first", nil).Code)

	facts = decode[[]string](t, h.do(t, http.MethodDelete, "/api/memory/0", nil))
	assert.Equal(t, []string{"owns a cat"}, facts)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodDelete, "/api/memory", nil).Code)
	assert.Equal(t, []string{"owns a cat"}, h.session.Memory())

	resp := h.do(t, http.MethodDelete, "/api/memory?confirm=true", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, h.session.Memory())
	assert.Len(t, h.session.Snapshot().Messages, 3, "clearing memory keeps the conversation")
}

func TestEventFeedSendsSnapshotThenChanges(t *testing.T) {
	h := newHarness(t, &scriptedRunner{})
	srv := httptest.NewServer(h.server)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var first events.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, events.Type("snapshot"), first.Type)

	var state chatService.State
	require.NoError(t, json.Unmarshal(first.Data, &state))
	assert.Len(t, state.Messages, 1)

	h.session.ToggleRoleplay(context.Background())

	for {
		var evt events.Event
		require.NoError(t, conn.ReadJSON(&evt))
		if evt.Type != events.TypeRoleplay {
			continue
		}
		var rp settings.Roleplay
		require.NoError(t, json.Unmarshal(evt.Data, &rp))
		assert.True(t, rp.Active)
		assert.NotZero(t, evt.Seq)
		return
	}
}

func TestEventFeedKeepsSeqOrder(t *testing.T) {
	h := newHarness(t, &scriptedRunner{})
	srv := httptest.NewServer(h.server)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first events.Event
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, events.Type("snapshot"), first.Type)

	const n = 500
	go func() {
		for i := 0; i < n; i++ {
			h.bus.Publish(events.TypeMouth, map[string]int{"value": i})
		}
	}()

	var last uint64
	for i := 0; i < n; i++ {
		var evt events.Event
		require.NoError(t, conn.ReadJSON(&evt))
		require.Greater(t, evt.Seq, last)
		last = evt.Seq
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, &scriptedRunner{})
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil).Code)
}
