package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/astra/backend/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// TypeSnapshot is the first frame sent on every connection.
const TypeSnapshot events.Type = "snapshot"

// Subscriber is the read side of the event bus.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan events.Event, error)
}

// Snapshotter yields the current session state.
type Snapshotter interface {
	Snapshot() any
}

// SnapshotFunc adapts a function to Snapshotter.
type SnapshotFunc func() any

func (f SnapshotFunc) Snapshot() any { return f() }

// Handler 通过WebSocket向展示层推送会话状态变化
type Handler struct {
	bus      Subscriber
	state    Snapshotter
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

// New 创建事件流处理器
func New(bus Subscriber, state Snapshotter, logger zerolog.Logger) *Handler {
	return &Handler{
		bus:    bus,
		state:  state,
		logger: logger,
		upgrader: websocket.Upgrader{
			// 仅监听回环地址
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册事件流路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleEvents)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	// 先订阅再发送快照，避免丢失两者之间的事件
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	feed, err := h.bus.Subscribe(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("subscribe failed")
		http.Error(w, "event feed unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("event feed opened")
	defer h.logger.Debug().Str("remote", r.RemoteAddr).Msg("event feed closed")

	go h.readLoop(conn, cancel)

	if err := h.writeSnapshot(conn); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// 丢弃过期事件
	var lastSeq uint64

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case evt, ok := <-feed:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "bus closed"), time.Now().Add(writeWait))
				return
			}
			if evt.Seq <= lastSeq {
				continue
			}
			lastSeq = evt.Seq
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Debug().Err(err).Msg("write event failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeSnapshot(conn *websocket.Conn) error {
	data, err := json.Marshal(h.state.Snapshot())
	if err != nil {
		h.logger.Error().Err(err).Msg("encode snapshot failed")
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(events.Event{Type: TypeSnapshot, At: time.Now(), Data: data})
}

// readLoop 处理控制帧，客户端断开时取消写循环
func (h *Handler) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
