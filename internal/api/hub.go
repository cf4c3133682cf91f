package api

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/kaya/internal/chat"
)

// Frame types exchanged over /ws/chat.
const (
	frameSnapshot    = "snapshot"
	frameError       = "error"
	framePong        = "pong"
	frameSubmit      = "submit"
	frameClear       = "clear"
	frameSelectModel = "select_model"
	framePing        = "ping"
)

// serverFrame is a message pushed to the browser.
type serverFrame struct {
	Type    string       `json:"type"`
	Session *SessionView `json:"session,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// subscriber is one websocket connection watching a session. Snapshots are
// latest-wins; other frames queue in order.
type subscriber struct {
	mu     sync.Mutex
	latest []byte
	notify chan struct{}
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		notify: make(chan struct{}, 1),
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

// offer replaces the pending snapshot.
func (s *subscriber) offer(frame []byte) {
	s.mu.Lock()
	s.latest = frame
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// offerIfEmpty queues frame unless a render already queued a newer snapshot.
func (s *subscriber) offerIfEmpty(frame []byte) {
	s.mu.Lock()
	if s.latest != nil {
		s.mu.Unlock()
		return
	}
	s.latest = frame
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// take returns and clears the pending snapshot.
func (s *subscriber) take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.latest
	s.latest = nil
	return frame
}

// send queues a non-snapshot frame, dropping it when the queue is full.
func (s *subscriber) send(frame []byte) bool {
	select {
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// Hub fans chat snapshots out to the websocket connections watching each session.
type Hub struct {
	presenter *Presenter

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub creates a hub that renders views with presenter.
func NewHub(presenter *Presenter) *Hub {
	if presenter == nil {
		presenter = NewPresenter(nil)
	}
	return &Hub{
		presenter: presenter,
		subs:      make(map[string]map[*subscriber]struct{}),
	}
}

// Render implements chat.Renderer.
func (h *Hub) Render(snap chat.Snapshot) {
	h.mu.RLock()
	subs := h.subs[snap.SessionID]
	if len(subs) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]*subscriber, 0, len(subs))
	for s := range subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	frame, err := h.snapshotFrame(snap)
	if err != nil {
		slog.Warn("failed to encode snapshot frame", "error", err, "session_id", snap.SessionID)
		return
	}
	for _, s := range targets {
		s.offer(frame)
	}
}

func (h *Hub) snapshotFrame(snap chat.Snapshot) ([]byte, error) {
	view := h.presenter.View(snap)
	return json.Marshal(serverFrame{Type: frameSnapshot, Session: &view})
}

// subscribe registers a new watcher for sessionKey.
func (h *Hub) subscribe(sessionKey string) *subscriber {
	s := newSubscriber()
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sessionKey]; !ok {
		h.subs[sessionKey] = make(map[*subscriber]struct{})
	}
	h.subs[sessionKey][s] = struct{}{}
	slog.Debug("Chat socket subscribed", "session_id", sessionKey, "watchers", len(h.subs[sessionKey]))
	return s
}

// unsubscribe removes a watcher.
func (h *Hub) unsubscribe(sessionKey string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[sessionKey]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.subs, sessionKey)
		}
	}
	s.close()
}

// CloseSession disconnects every watcher of sessionKey. It is used when the
// sweeper discards the session.
func (h *Hub) CloseSession(sessionKey string) {
	h.mu.Lock()
	subs := h.subs[sessionKey]
	delete(h.subs, sessionKey)
	h.mu.Unlock()

	for s := range subs {
		s.close()
	}
	if len(subs) > 0 {
		slog.Info("Chat sockets closed", "session_id", sessionKey, "count", len(subs))
	}
}

// Watchers returns the number of connections watching sessionKey.
func (h *Hub) Watchers(sessionKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionKey])
}
