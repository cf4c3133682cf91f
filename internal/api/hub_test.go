//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ashureev/kaya/internal/chat"
	"github.com/ashureev/kaya/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(key string, status chat.Status, texts ...string) chat.Snapshot {
	snap := chat.Snapshot{SessionID: key, Model: domain.ModelBalanced, Status: status, UpdatedAt: time.Now()}
	for i, text := range texts {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		snap.Turns = append(snap.Turns, domain.Turn{ID: text, Role: role, Text: text})
	}
	return snap
}

func decodeFrame(t *testing.T, data []byte) serverFrame {
	t.Helper()
	var f serverFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestHubRendersToSessionWatchersOnly(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	a := hub.subscribe("a")
	b := hub.subscribe("b")

	hub.Render(testSnapshot("a", chat.StatusThinking, "hi"))

	select {
	case <-a.notify:
	default:
		t.Fatal("watcher of a was not notified")
	}
	f := decodeFrame(t, a.take())
	assert.Equal(t, frameSnapshot, f.Type)
	require.NotNil(t, f.Session)
	assert.True(t, f.Session.Thinking)
	assert.Len(t, f.Session.Turns, 1)

	assert.Nil(t, b.take())
}

func TestHubSnapshotsAreLatestWins(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	s := hub.subscribe("a")
	hub.Render(testSnapshot("a", chat.StatusThinking, "hi"))
	hub.Render(testSnapshot("a", chat.StatusIdle, "hi", "hello"))

	f := decodeFrame(t, s.take())
	assert.Equal(t, chat.StatusIdle, f.Session.Status)
	assert.Len(t, f.Session.Turns, 2)
	assert.Nil(t, s.take())
}

func TestHubUnsubscribeAndCloseSession(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil)
	s1 := hub.subscribe("a")
	s2 := hub.subscribe("a")
	assert.Equal(t, 2, hub.Watchers("a"))

	hub.unsubscribe("a", s1)
	assert.Equal(t, 1, hub.Watchers("a"))
	select {
	case <-s1.done:
	default:
		t.Fatal("unsubscribed watcher was not closed")
	}

	hub.CloseSession("a")
	assert.Zero(t, hub.Watchers("a"))
	select {
	case <-s2.done:
	default:
		t.Fatal("watcher was not closed with its session")
	}

	// Unsubscribing after the session closed is harmless.
	hub.unsubscribe("a", s2)
}

func TestSubscriberSendDropsWhenFull(t *testing.T) {
	t.Parallel()

	s := newSubscriber()
	for i := 0; i < cap(s.frames); i++ {
		require.True(t, s.send([]byte("x")))
	}
	assert.False(t, s.send([]byte("x")))
}

func TestPresenterView(t *testing.T) {
	t.Parallel()

	snap := testSnapshot("a", chat.StatusIdle, "hi", "*ok*")
	snap.Turns = append(snap.Turns,
		domain.Turn{ID: "u2", Role: domain.RoleUser, Text: "again"},
		domain.Turn{ID: "e", Role: domain.RoleAssistant, Text: "Error: agent call failed", Error: true},
	)

	plain := NewPresenter(nil).View(snap)
	assert.Equal(t, "Using model: sonnet", plain.Caption)
	assert.False(t, plain.Thinking)
	assert.Empty(t, plain.Turns[1].HTML)

	view := NewPresenter(newTestMarkdown()).View(snap)
	require.Len(t, view.Turns, 4)
	assert.Contains(t, view.Turns[1].HTML, "<em>ok</em>")
	assert.True(t, view.Turns[3].Error)
	assert.Empty(t, view.Turns[3].HTML)
}
