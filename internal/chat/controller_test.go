package chat

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/kaya/internal/agent"
	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProcessor yields a fixed list of text events, or fails with err.
type scriptedProcessor struct {
	mu      sync.Mutex
	texts   []string
	err     error
	block   chan struct{}
	started chan struct{}
	configs []domain.AgentConfiguration
}

func (p *scriptedProcessor) Query(_ context.Context, _ string, cfg domain.AgentConfiguration) iter.Seq2[*agent.Event, error] {
	p.mu.Lock()
	p.configs = append(p.configs, cfg)
	texts, err, block, started := p.texts, p.err, p.block, p.started
	p.mu.Unlock()

	return func(yield func(*agent.Event, error) bool) {
		if started != nil {
			close(started)
		}
		if block != nil {
			<-block
		}
		if err != nil {
			yield(nil, err)
			return
		}
		for _, text := range texts {
			if !yield(&agent.Event{Kind: agent.EventAssistant, Segments: []agent.Segment{agent.TextSegment(text)}}, nil) {
				return
			}
		}
	}
}

func (p *scriptedProcessor) Name() string { return "scripted" }

func (p *scriptedProcessor) Close() {}

func (p *scriptedProcessor) lastConfig() domain.AgentConfiguration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.configs[len(p.configs)-1]
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *snapshotRecorder) Render(snap Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, snap)
	r.mu.Unlock()
}

func (r *snapshotRecorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = s.Status
	}
	return out
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *fakeRecorder) Record(_ context.Context, rec Record) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

func newTestController(t *testing.T, p *scriptedProcessor) (*Controller, *snapshotRecorder, *fakeRecorder) {
	t.Helper()
	prof, err := profile.Default()
	require.NoError(t, err)
	renders := &snapshotRecorder{}
	records := &fakeRecorder{}
	c := NewController("sess_test:tab", Options{
		Responder:    agent.NewServiceWithProcessor(p, 0),
		Profile:      prof,
		Recorder:     records,
		Renderer:     renders,
		DefaultModel: domain.DefaultModel,
	})
	return c, renders, records
}

func TestSubmitAppendsAlternatingTurns(t *testing.T) {
	t.Parallel()

	c, _, records := newTestController(t, &scriptedProcessor{texts: []string{"ok"}})
	ctx := context.Background()

	const n = 4
	for i := 0; i < n; i++ {
		require.NoError(t, c.Submit(ctx, "hello"))
	}

	snap := c.Snapshot()
	require.Len(t, snap.Turns, 2*n)
	for i, turn := range snap.Turns {
		if i%2 == 0 {
			assert.Equal(t, domain.RoleUser, turn.Role)
			assert.Equal(t, "hello", turn.Text)
		} else {
			assert.Equal(t, domain.RoleAssistant, turn.Role)
			assert.Equal(t, "ok", turn.Text)
			assert.False(t, turn.Error)
		}
		assert.NotEmpty(t, turn.ID)
	}
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Len(t, records.records, n)
}

func TestSubmitConcatenatesEventText(t *testing.T) {
	t.Parallel()

	c, _, records := newTestController(t, &scriptedProcessor{texts: []string{"A", "B"}})
	require.NoError(t, c.Submit(context.Background(), "hi"))

	turns := c.Snapshot().Turns
	require.Len(t, turns, 2)
	assert.Equal(t, "AB", turns[1].Text)

	require.Len(t, records.records, 1)
	ex := records.records[0].Exchange
	assert.Equal(t, "sess_test:tab", ex.SessionID)
	assert.Equal(t, 2, ex.PromptLength)
	assert.Equal(t, 2, ex.ResponseLength)
	assert.Equal(t, 2, ex.EventCount)
	assert.False(t, ex.Failed)
}

func TestClearEmptiesTranscript(t *testing.T) {
	t.Parallel()

	c, renders, _ := newTestController(t, &scriptedProcessor{texts: []string{"ok"}})
	c.Clear()
	assert.Empty(t, c.Snapshot().Turns)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Submit(context.Background(), "hi"))
	}
	c.Clear()
	assert.Empty(t, c.Snapshot().Turns)
	assert.NotEmpty(t, renders.statuses())
}

func TestSelectModelAffectsNextSubmit(t *testing.T) {
	t.Parallel()

	p := &scriptedProcessor{texts: []string{"ok"}}
	c, _, _ := newTestController(t, p)

	require.NoError(t, c.SelectModel("sonnet"))
	require.NoError(t, c.Submit(context.Background(), "hi"))
	assert.Equal(t, domain.ModelBalanced, p.lastConfig().Model)

	require.NoError(t, c.SelectModel("haiku"))
	require.NoError(t, c.Submit(context.Background(), "hi"))
	assert.Equal(t, domain.ModelFast, p.lastConfig().Model)
	assert.Equal(t, "acceptEdits", p.lastConfig().PermissionMode)
	assert.Contains(t, p.lastConfig().Subagents, "researcher")
}

func TestSelectModelRejectsUnknownName(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestController(t, &scriptedProcessor{})
	require.NoError(t, c.SelectModel("opus"))

	err := c.SelectModel("gpt-4")
	require.ErrorIs(t, err, ErrInvalidModel)
	assert.Equal(t, domain.ModelHighCapability, c.Model())
}

func TestSubmitFailureBecomesErrorTurn(t *testing.T) {
	t.Parallel()

	p := &scriptedProcessor{err: errors.New("runtime crashed")}
	c, _, records := newTestController(t, p)

	require.NoError(t, c.Submit(context.Background(), "hi"))
	turns := c.Snapshot().Turns
	require.Len(t, turns, 2)
	assert.True(t, strings.HasPrefix(turns[1].Text, "Error: "))
	assert.Contains(t, turns[1].Text, "runtime crashed")
	assert.True(t, turns[1].Error)
	assert.Equal(t, StatusIdle, c.Status())
	require.Len(t, records.records, 1)
	assert.True(t, records.records[0].Exchange.Failed)

	p.mu.Lock()
	p.err = nil
	p.texts = []string{"recovered"}
	p.mu.Unlock()

	require.NoError(t, c.Submit(context.Background(), "again"))
	turns = c.Snapshot().Turns
	require.Len(t, turns, 4)
	assert.Equal(t, "recovered", turns[3].Text)
}

func TestSubmitRejectsEmptyText(t *testing.T) {
	t.Parallel()

	c, renders, _ := newTestController(t, &scriptedProcessor{texts: []string{"ok"}})
	for _, text := range []string{"", "   ", "\n\t"} {
		require.ErrorIs(t, c.Submit(context.Background(), text), ErrInvalidInput)
	}
	assert.Empty(t, c.Snapshot().Turns)
	assert.Empty(t, renders.statuses())
}

func TestSubmitWhileThinkingIsBusy(t *testing.T) {
	t.Parallel()

	p := &scriptedProcessor{texts: []string{"done"}, block: make(chan struct{}), started: make(chan struct{})}
	c, renders, _ := newTestController(t, p)

	errc := make(chan error, 1)
	go func() { errc <- c.Submit(context.Background(), "first") }()
	<-p.started

	snap := c.Snapshot()
	assert.Equal(t, StatusThinking, snap.Status)
	require.Len(t, snap.Turns, 1)

	require.ErrorIs(t, c.Submit(context.Background(), "second"), ErrBusy)
	assert.Len(t, c.Snapshot().Turns, 1)

	close(p.block)
	require.NoError(t, <-errc)

	turns := c.Snapshot().Turns
	require.Len(t, turns, 2)
	assert.Equal(t, "done", turns[1].Text)
	assert.Equal(t, []Status{StatusThinking, StatusIdle}, renders.statuses())
}

func TestClearDuringResponseDiscardsReply(t *testing.T) {
	t.Parallel()

	p := &scriptedProcessor{texts: []string{"late"}, block: make(chan struct{}), started: make(chan struct{})}
	c, _, records := newTestController(t, p)

	errc := make(chan error, 1)
	go func() { errc <- c.Submit(context.Background(), "first") }()
	<-p.started

	c.Clear()
	close(p.block)
	require.NoError(t, <-errc)

	snap := c.Snapshot()
	assert.Empty(t, snap.Turns)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Len(t, records.records, 1)
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	c, _, _ := newTestController(t, &scriptedProcessor{texts: []string{"ok"}})
	require.NoError(t, c.Submit(context.Background(), "hi"))

	snap := c.Snapshot()
	snap.Turns[0].Text = "mutated"
	assert.Equal(t, "hi", c.Snapshot().Turns[0].Text)
	assert.WithinDuration(t, time.Now(), snap.UpdatedAt, time.Minute)
}
