package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/kaya/internal/chat"
	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/identity"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ModelRequest is the body of POST /api/model.
type ModelRequest struct {
	Model string `json:"model"`
}

// GetConfig returns what the sidebar needs: title, model choices and subagents.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]interface{}{
		"title":         AppTitle,
		"models":        domain.Models(),
		"default_model": h.defaultModel,
		"backend":       h.backend,
		"subagents":     []any{},
	}
	if h.agents != nil {
		resp["subagents"] = h.agents.Subagents()
	}
	JSON(w, http.StatusOK, resp)
}

// GetSession returns the caller's session, creating it on first use.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, h.presenter.View(ctrl.Snapshot()))
}

// PostChat submits a message and returns the session once the reply is in.
func (h *Handler) PostChat(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}

	var req ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := precheckSubmit(ctrl, req.Message); err != nil {
		writeChatError(w, err)
		return
	}

	// Rate-limit by browser id only so clients cannot bypass throttling by rotating tabs.
	if !h.limiter.Allow(identity.BrowserIDFromContext(r.Context())) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	slog.Info("Chat request", "session_id", ctrl.ID(), "message_length", len(req.Message))

	if err := ctrl.Submit(r.Context(), req.Message); err != nil {
		writeChatError(w, err)
		return
	}
	JSON(w, http.StatusOK, h.presenter.View(ctrl.Snapshot()))
}

// PostClear empties the caller's transcript.
func (h *Handler) PostClear(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	ctrl.Clear()
	JSON(w, http.StatusOK, h.presenter.View(ctrl.Snapshot()))
}

// PostModel changes the caller's model tier.
func (h *Handler) PostModel(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req ModelRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := ctrl.SelectModel(req.Model); err != nil {
		writeChatError(w, err)
		return
	}
	JSON(w, http.StatusOK, h.presenter.View(ctrl.Snapshot()))
}

// GetHistory returns recent ledger entries for the caller's session.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	if key == "" {
		Error(w, http.StatusUnauthorized, "no session")
		return
	}
	if h.repo == nil {
		JSON(w, http.StatusOK, map[string]interface{}{"exchanges": []*domain.Exchange{}})
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	exchanges, err := h.repo.RecentExchanges(r.Context(), key, limit)
	if err != nil {
		slog.Error("Failed to load exchange history", "error", err, "session_id", key)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if exchanges == nil {
		exchanges = []*domain.Exchange{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"exchanges": exchanges})
}

func (h *Handler) controller(w http.ResponseWriter, r *http.Request) (*chat.Controller, bool) {
	key := identity.SessionKeyFromContext(r.Context())
	if key == "" {
		Error(w, http.StatusUnauthorized, "no session")
		return nil, false
	}
	return h.registry.Get(key), true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// precheckSubmit rejects submissions Submit would refuse, so they do not
// spend rate-limit budget. Submit still enforces both rules.
func precheckSubmit(ctrl *chat.Controller, text string) error {
	if strings.TrimSpace(text) == "" {
		return chat.ErrInvalidInput
	}
	if ctrl.Status() == chat.StatusThinking {
		return chat.ErrBusy
	}
	return nil
}

func writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput), errors.Is(err, chat.ErrInvalidModel):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrBusy):
		Error(w, http.StatusConflict, err.Error())
	default:
		slog.Error("Unexpected chat error", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
