// Package api provides HTTP handlers for the Kaya API.
package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/kaya/internal/chat"
	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/profile"
	"github.com/ashureev/kaya/internal/store"
	"github.com/go-chi/chi/v5"
)

// AppTitle is shown in the page header and returned by /api/config.
const AppTitle = "Kaya - Your Personal Assistant"

// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const defaultMaxRequestBodySize = 1 << 20

// SubagentLister advertises the subagents available to every session.
type SubagentLister interface {
	Subagents() []profile.Summary
}

// Config holds the dependencies of a Handler.
type Config struct {
	Registry       *chat.Registry
	Hub            *Hub
	Presenter      *Presenter
	Agents         SubagentLister
	Repo           store.Repository
	Backend        string
	DefaultModel   domain.ModelTier
	MaxBodySize    int64
	RateLimit      int
	RateWindow     time.Duration
	AllowedOrigins []string
}

// Handler serves the chat API and the live websocket view.
type Handler struct {
	registry       *chat.Registry
	hub            *Hub
	presenter      *Presenter
	agents         SubagentLister
	repo           store.Repository
	limiter        *RateLimiter
	backend        string
	defaultModel   domain.ModelTier
	maxBodySize    int64
	originPatterns []string
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxRequestBodySize
	}
	limit, window := cfg.RateLimit, cfg.RateWindow
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	presenter := cfg.Presenter
	if presenter == nil {
		presenter = NewPresenter(nil)
	}
	return &Handler{
		registry:       cfg.Registry,
		hub:            cfg.Hub,
		presenter:      presenter,
		agents:         cfg.Agents,
		repo:           cfg.Repo,
		limiter:        NewRateLimiter(limit, window),
		backend:        cfg.Backend,
		defaultModel:   cfg.DefaultModel,
		maxBodySize:    maxBody,
		originPatterns: originPatterns(cfg.AllowedOrigins),
	}
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/session", h.GetSession)
		r.Post("/chat", h.PostChat)
		r.Post("/clear", h.PostClear)
		r.Post("/model", h.PostModel)
		r.Get("/history", h.GetHistory)
	})
	r.Get("/ws/chat", h.ServeChatSocket)
}

// Close stops background work owned by the handler.
func (h *Handler) Close() {
	h.limiter.Stop()
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// originPatterns converts allowed CORS origins into websocket origin host patterns.
func originPatterns(origins []string) []string {
	var patterns []string
	for _, o := range origins {
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		if o = strings.TrimSpace(o); o != "" {
			patterns = append(patterns, o)
		}
	}
	return patterns
}
