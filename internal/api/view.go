package api

import (
	"log/slog"
	"time"

	"github.com/ashureev/kaya/internal/chat"
	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/markdown"
)

// TurnView is a transcript turn as sent to the browser.
type TurnView struct {
	ID        string      `json:"id"`
	Role      domain.Role `json:"role"`
	Text      string      `json:"text"`
	HTML      string      `json:"html,omitempty"`
	Error     bool        `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// SessionView is a chat session as sent to the browser.
type SessionView struct {
	Model     domain.ModelTier `json:"model"`
	Caption   string           `json:"caption"`
	Status    chat.Status      `json:"status"`
	Thinking  bool             `json:"thinking"`
	Turns     []TurnView       `json:"turns"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Presenter turns chat snapshots into views, rendering markdown to HTML.
type Presenter struct {
	md *markdown.Renderer
}

// NewPresenter creates a Presenter. A nil renderer sends text only.
func NewPresenter(md *markdown.Renderer) *Presenter {
	return &Presenter{md: md}
}

// View builds the browser view of snap.
func (p *Presenter) View(snap chat.Snapshot) SessionView {
	turns := make([]TurnView, 0, len(snap.Turns))
	for _, t := range snap.Turns {
		tv := TurnView{
			ID:        t.ID,
			Role:      t.Role,
			Text:      t.Text,
			Error:     t.Error,
			CreatedAt: t.CreatedAt,
		}
		if p.md != nil && !t.Error {
			html, err := p.md.Render(t.Text)
			if err != nil {
				slog.Warn("failed to render turn markdown", "error", err, "turn_id", t.ID)
			} else {
				tv.HTML = html
			}
		}
		turns = append(turns, tv)
	}
	return SessionView{
		Model:     snap.Model,
		Caption:   "Using model: " + string(snap.Model),
		Status:    snap.Status,
		Thinking:  snap.Status == chat.StatusThinking,
		Turns:     turns,
		UpdatedAt: snap.UpdatedAt,
	}
}
