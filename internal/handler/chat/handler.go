package chat

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/astra/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/astra/backend/internal/service/chat"
	"github.com/zhouzirui/astra/backend/pkg/utils"
)

// Handler 会话的HTTP处理器
type Handler struct {
	session *chatservice.Service
	logger  zerolog.Logger
}

// New 创建会话处理器
func New(session *chatservice.Service, logger zerolog.Logger) *Handler {
	return &Handler{session: session, logger: logger}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/state", h.handleState)
	r.Post("/messages", h.handleSubmit)
	r.Post("/reset", h.handleReset)
}

type submitRequest struct {
	Text string `json:"text"`
}

type resetRequest struct {
	Confirm bool `json:"confirm"`
}

// handleState 返回当前会话快照
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.session.Snapshot())
}

// handleSubmit 受理一条用户消息，回合在后台执行，进度通过事件流推送
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload submitRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if chat.IsBlank(payload.Text) {
		utils.RespondJSON(w, http.StatusConflict, map[string]string{"status": "ignored", "reason": "blank"})
		return
	}
	// 回合不随请求结束而取消
	if !h.session.Start(context.WithoutCancel(r.Context()), payload.Text) {
		h.logger.Debug().Msg("submission ignored, turn in progress")
		utils.RespondJSON(w, http.StatusConflict, map[string]string{"status": "ignored", "reason": "busy"})
		return
	}

	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleReset 清空会话并遗忘所有记忆
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	var payload resetRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.session.Reset(r.Context(), payload.Confirm)
	switch {
	case errors.Is(err, chatservice.ErrResetNotConfirmed):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatservice.ErrBusy), errors.Is(err, chatservice.ErrClosed):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	default:
		utils.RespondJSON(w, http.StatusOK, h.session.Snapshot())
	}
}
