// Package chat holds per-session chat state and the registry that owns it.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/kaya/internal/agent"
	"github.com/ashureev/kaya/internal/domain"
	"github.com/google/uuid"
)

// Caller errors. The transcript is unchanged when any of these is returned.
var (
	ErrInvalidInput = errors.New("message cannot be empty")
	ErrInvalidModel = errors.New("unknown model")
	ErrBusy         = errors.New("a response is already in progress")
)

// Status is the controller's position in its Idle/AwaitingResponse cycle.
type Status string

const (
	// StatusIdle accepts new submissions.
	StatusIdle Status = "idle"
	// StatusThinking means a response is outstanding.
	StatusThinking Status = "thinking"
)

// Responder sends a prompt to the agent and assembles the reply.
type Responder interface {
	Respond(ctx context.Context, prompt string, cfg domain.AgentConfiguration) (agent.Reply, error)
}

// ConfigSource builds the agent configuration for a model tier.
type ConfigSource interface {
	Configuration(model domain.ModelTier) domain.AgentConfiguration
}

// Renderer receives a snapshot after every mutation. Implementations must not block.
type Renderer interface {
	Render(snap Snapshot)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Snapshot)

// Render implements Renderer.
func (f RendererFunc) Render(snap Snapshot) { f(snap) }

// Snapshot is a consistent copy of a session's visible state.
type Snapshot struct {
	SessionID string           `json:"session_id"`
	Model     domain.ModelTier `json:"model"`
	Status    Status           `json:"status"`
	Turns     []domain.Turn    `json:"turns"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Options configures controllers created by a Registry.
type Options struct {
	Responder    Responder
	Profile      ConfigSource
	Recorder     Recorder
	Renderer     Renderer
	DefaultModel domain.ModelTier
	Logger       *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Controller owns one session's transcript and model selection.
type Controller struct {
	id        string
	responder Responder
	profile   ConfigSource
	recorder  Recorder
	renderer  Renderer
	logger    *slog.Logger

	mu       sync.Mutex
	model    domain.ModelTier
	status   Status
	turns    []domain.Turn
	epoch    uint64 // bumped by Clear so stale replies are discarded
	lastUsed time.Time
	updated  time.Time

	// renderMu keeps renders in mutation order without holding mu during Render.
	renderMu sync.Mutex
}

// NewController creates an idle controller with an empty transcript.
func NewController(id string, opts Options) *Controller {
	model := opts.DefaultModel
	if _, ok := domain.ParseModel(string(model)); !ok {
		model = domain.DefaultModel
	}
	logger := opts.logger()
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}
	now := time.Now()
	return &Controller{
		id:        id,
		responder: opts.Responder,
		profile:   opts.Profile,
		recorder:  recorder,
		renderer:  opts.Renderer,
		logger:    logger.With("session_id", id),
		model:     model,
		status:    StatusIdle,
		lastUsed:  now,
		updated:   now,
	}
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Submit appends text as a user turn, asks the agent for a reply and appends
// exactly one assistant turn. Agent failures become an "Error: ..." turn and
// are not returned.
func (c *Controller) Submit(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrInvalidInput
	}

	c.mu.Lock()
	if c.status == StatusThinking {
		c.mu.Unlock()
		return ErrBusy
	}
	c.appendLocked(domain.RoleUser, text, false)
	c.status = StatusThinking
	model := c.model
	epoch := c.epoch
	c.commitLocked()

	cfg := c.profile.Configuration(model)
	start := time.Now()
	reply, err := c.responder.Respond(ctx, text, cfg)
	elapsed := time.Since(start)

	answer := reply.Text
	if err != nil {
		c.logger.Warn("Agent call failed", "model", model, "error", err)
		answer = "Error: " + err.Error()
	} else {
		c.logger.Info("Agent replied", "model", model, "events", reply.Events, "duration", elapsed)
	}

	c.mu.Lock()
	if c.epoch == epoch {
		c.appendLocked(domain.RoleAssistant, answer, err != nil)
	} else {
		c.logger.Info("Discarding reply for cleared transcript")
	}
	c.status = StatusIdle
	c.commitLocked()

	c.recorder.Record(ctx, Record{
		Exchange: domain.Exchange{
			SessionID:      c.id,
			Model:          model,
			PromptLength:   len(text),
			ResponseLength: len(reply.Text),
			EventCount:     reply.Events,
			Duration:       elapsed,
			Failed:         err != nil,
			ErrorMessage:   errorText(err),
			CreatedAt:      start,
		},
		Prompt: text,
		Reply:  answer,
	})
	return nil
}

// Clear empties the transcript unconditionally.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.turns = nil
	c.epoch++
	c.commitLocked()
}

// SelectModel changes the tier used by subsequent submissions.
func (c *Controller) SelectModel(name string) error {
	model, ok := domain.ParseModel(name)
	if !ok {
		return ErrInvalidModel
	}
	c.mu.Lock()
	c.model = model
	c.commitLocked()
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Status reports whether a response is outstanding.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Model returns the selected tier.
func (c *Controller) Model() domain.ModelTier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Touch marks the session as used now.
func (c *Controller) Touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// idleSince reports when the session was last used and whether it is busy.
func (c *Controller) idleSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsed, c.status == StatusThinking
}

func (c *Controller) appendLocked(role domain.Role, text string, failed bool) {
	c.turns = append(c.turns, domain.Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Error:     failed,
		CreatedAt: time.Now(),
	})
}

func (c *Controller) snapshotLocked() Snapshot {
	turns := make([]domain.Turn, len(c.turns))
	copy(turns, c.turns)
	return Snapshot{
		SessionID: c.id,
		Model:     c.model,
		Status:    c.status,
		Turns:     turns,
		UpdatedAt: c.updated,
	}
}

// commitLocked stamps the mutation, releases mu and renders the new state.
func (c *Controller) commitLocked() {
	now := time.Now()
	c.updated = now
	c.lastUsed = now
	snap := c.snapshotLocked()
	c.renderMu.Lock()
	c.mu.Unlock()
	defer c.renderMu.Unlock()
	if c.renderer != nil {
		c.renderer.Render(snap)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
