package memory

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	chatservice "github.com/zhouzirui/astra/backend/internal/service/chat"
	"github.com/zhouzirui/astra/backend/pkg/utils"
)

// Handler 长期记忆的HTTP处理器
type Handler struct {
	session *chatservice.Service
}

// New 创建记忆处理器
func New(session *chatservice.Service) *Handler {
	return &Handler{session: session}
}

// RegisterRoutes 注册记忆相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/memory", h.handleList)
	r.Delete("/memory", h.handleClear)
	r.Delete("/memory/{index}", h.handleRemove)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.session.Memory())
}

// handleRemove 删除一条记忆，越界下标返回404
func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	if !h.session.RemoveMemory(index) {
		utils.RespondError(w, http.StatusNotFound, "memory index out of range")
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.session.Memory())
}

// handleClear 仅清空记忆，必须显式确认
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if !confirmed {
		utils.RespondError(w, http.StatusBadRequest, "clearing memory requires confirm=true")
		return
	}
	h.session.ClearMemory()
	utils.RespondJSON(w, http.StatusOK, []string{})
}
