package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/kaya/internal/chat"
	"github.com/ashureev/kaya/internal/identity"
	"github.com/coder/websocket"
)

const wsWriteTimeout = 10 * time.Second

// clientFrame is a message sent by the browser.
type clientFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Model   string `json:"model,omitempty"`
}

// ServeChatSocket upgrades to a websocket that pushes a snapshot of the
// session on every change and accepts submit/clear/select_model/ping frames.
func (h *Handler) ServeChatSocket(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())
	if key == "" {
		Error(w, http.StatusUnauthorized, "no session")
		return
	}
	browserID := identity.BrowserIDFromContext(r.Context())
	slog.Info("Chat socket connection request", "session_id", key, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Warn("Failed to accept chat socket", "error", err, "session_id", key)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close chat socket", "error", closeErr, "session_id", key)
		}
	}()
	ws.SetReadLimit(h.maxBodySize)

	ctrl := h.registry.Get(key)
	sub := h.hub.subscribe(key)
	defer h.hub.unsubscribe(key, sub)

	if frame, err := h.hub.snapshotFrame(ctrl.Snapshot()); err == nil {
		sub.offerIfEmpty(frame)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.readLoop(ctx, ws, ctrl, sub, browserID)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.writeLoop(ctx, ws, sub, key)
	}()

	wg.Wait()
	slog.Info("Chat socket closed", "session_id", key)
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, ctrl *chat.Controller, sub *subscriber, browserID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("Chat socket closed by client", "session_id", ctrl.ID())
			} else {
				slog.Warn("Chat socket read error", "error", err, "session_id", ctrl.ID())
			}
			return
		}

		var msg clientFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(sub, "invalid frame")
			continue
		}

		switch msg.Type {
		case frameSubmit:
			if err := precheckSubmit(ctrl, msg.Message); err != nil {
				h.sendError(sub, err.Error())
				continue
			}
			if !h.limiter.Allow(browserID) {
				h.sendError(sub, "rate limit exceeded")
				continue
			}
			// The reply outlives this socket so a reload still shows it.
			go func(text string) {
				if err := ctrl.Submit(context.WithoutCancel(ctx), text); err != nil {
					h.sendError(sub, err.Error())
				}
			}(msg.Message)
		case frameClear:
			ctrl.Clear()
		case frameSelectModel:
			if err := ctrl.SelectModel(msg.Model); err != nil {
				h.sendError(sub, err.Error())
			}
		case framePing:
			ctrl.Touch()
			h.sendFrame(sub, serverFrame{Type: framePong})
		default:
			h.sendError(sub, "unknown frame type")
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, ws *websocket.Conn, sub *subscriber, key string) {
	for {
		var frame []byte
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			if err := ws.Close(websocket.StatusGoingAway, "session expired"); err != nil {
				slog.Debug("Failed to close expired chat socket", "error", err, "session_id", key)
			}
			return
		case frame = <-sub.frames:
		case <-sub.notify:
			if frame = sub.take(); frame == nil {
				continue
			}
		}

		writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
		err := ws.Write(writeCtx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				slog.Debug("Chat socket write error", "error", err, "session_id", key)
			}
			return
		}
	}
}

func (h *Handler) sendError(sub *subscriber, msg string) {
	h.sendFrame(sub, serverFrame{Type: frameError, Error: msg})
}

func (h *Handler) sendFrame(sub *subscriber, f serverFrame) {
	data, err := json.Marshal(f)
	if err != nil {
		slog.Warn("failed to encode chat frame", "error", err)
		return
	}
	if !sub.send(data) {
		slog.Debug("Chat socket frame dropped", "type", f.Type)
	}
}
