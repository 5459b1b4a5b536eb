package persona

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/astra/backend/internal/model/settings"
	chatservice "github.com/zhouzirui/astra/backend/internal/service/chat"
	"github.com/zhouzirui/astra/backend/pkg/utils"
)

// Handler persona与语音、角色扮演设置的HTTP处理器
type Handler struct {
	session *chatservice.Service
}

// New 创建persona处理器
func New(session *chatservice.Service) *Handler {
	return &Handler{session: session}
}

// RegisterRoutes 注册persona与设置相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/voices", h.handleListVoices)
	r.Get("/presets", h.handleListPresets)
	r.Post("/presets/{name}", h.handleApplyPreset)

	r.Route("/settings", func(r chi.Router) {
		r.Put("/voice", h.handleUpdateVoice)
		r.Post("/roleplay/toggle", h.handleToggleRoleplay)
		r.Put("/roleplay", h.handleUpdateRoleplay)
	})
}

type voiceRequest struct {
	VoiceID *string  `json:"voiceId,omitempty"`
	Speed   *float64 `json:"speed,omitempty"`
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.session.Personas())
}

// handleListVoices 列出可选语音
func (h *Handler) handleListVoices(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, settings.VoiceOptions())
}

func (h *Handler) handleListPresets(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, settings.Presets())
}

// handleApplyPreset 应用预设场景并开启角色扮演
func (h *Handler) handleApplyPreset(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid preset name")
		return
	}

	rp, err := h.session.ApplyPreset(r.Context(), name)
	if errors.Is(err, chatservice.ErrPresetNotFound) {
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, rp)
}

// handleUpdateVoice 切换语音或调整语速，两者同时给出时先切换语音
func (h *Handler) handleUpdateVoice(w http.ResponseWriter, r *http.Request) {
	var payload voiceRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.VoiceID == nil && payload.Speed == nil {
		utils.RespondError(w, http.StatusBadRequest, "voiceId or speed is required")
		return
	}
	// 先校验语速，避免切换语音后才发现请求非法
	if payload.Speed != nil && (*payload.Speed < settings.MinSpeed || *payload.Speed > settings.MaxSpeed) {
		utils.RespondError(w, http.StatusBadRequest, chatservice.ErrInvalidSpeed.Error())
		return
	}

	var (
		voice settings.Voice
		err   error
	)
	if payload.VoiceID != nil {
		if voice, err = h.session.SelectVoice(r.Context(), *payload.VoiceID); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if payload.Speed != nil {
		if voice, err = h.session.SetSpeed(r.Context(), *payload.Speed); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	utils.RespondJSON(w, http.StatusOK, voice)
}

func (h *Handler) handleToggleRoleplay(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.session.ToggleRoleplay(r.Context()))
}

// handleUpdateRoleplay 编辑场景、角色与称呼，不改变开关状态
func (h *Handler) handleUpdateRoleplay(w http.ResponseWriter, r *http.Request) {
	var patch settings.RoleplayPatch
	if err := utils.DecodeJSON(r, &patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.session.UpdateRoleplay(r.Context(), patch))
}
