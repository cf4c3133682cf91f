//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/kaya/internal/agent"
	"github.com/ashureev/kaya/internal/chat"
	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/identity"
	"github.com/ashureev/kaya/internal/markdown"
	"github.com/ashureev/kaya/internal/profile"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoProcessor replies with "**echo** <prompt>", optionally waiting on gate first.
type echoProcessor struct {
	mu      sync.Mutex
	gate    chan struct{}
	started chan struct{}
	models  []domain.ModelTier
}

func (p *echoProcessor) Query(ctx context.Context, prompt string, cfg domain.AgentConfiguration) iter.Seq2[*agent.Event, error] {
	p.mu.Lock()
	p.models = append(p.models, cfg.Model)
	gate, started := p.gate, p.started
	p.mu.Unlock()

	return func(yield func(*agent.Event, error) bool) {
		if started != nil {
			started <- struct{}{}
		}
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}
		yield(&agent.Event{Kind: agent.EventAssistant, Segments: []agent.Segment{agent.TextSegment("**echo** " + prompt)}}, nil)
	}
}

func (p *echoProcessor) Name() string { return "echo" }

func (p *echoProcessor) Close() {}

func (p *echoProcessor) lastModel() domain.ModelTier {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.models[len(p.models)-1]
}

type historyRepo struct {
	mu        sync.Mutex
	exchanges []*domain.Exchange
	pingErr   error
}

func (r *historyRepo) RecordExchange(_ context.Context, ex *domain.Exchange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *ex
	r.exchanges = append([]*domain.Exchange{&c}, r.exchanges...)
	return nil
}

func (r *historyRepo) RecentExchanges(_ context.Context, sessionID string, limit int) ([]*domain.Exchange, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Exchange
	for _, ex := range r.exchanges {
		if ex.SessionID == sessionID && len(out) < limit {
			out = append(out, ex)
		}
	}
	return out, nil
}

func (r *historyRepo) PruneExchanges(context.Context, time.Time) (int64, error) { return 0, nil }

func (r *historyRepo) Ping(context.Context) error { return r.pingErr }

func (r *historyRepo) Close() error { return nil }

type testEnv struct {
	handler   *Handler
	hub       *Hub
	registry  *chat.Registry
	processor *echoProcessor
	repo      *historyRepo
	recorder  *chat.LedgerRecorder
	router    chi.Router
}

func newTestEnv(t *testing.T, p *echoProcessor, rateLimit int) *testEnv {
	t.Helper()
	if p == nil {
		p = &echoProcessor{}
	}
	prof, err := profile.Default()
	require.NoError(t, err)

	presenter := NewPresenter(markdown.New(64))
	hub := NewHub(presenter)
	repo := &historyRepo{}
	recorder := chat.NewLedgerRecorder(repo, nil, nil)
	registry := chat.NewRegistry(chat.Options{
		Responder:    agent.NewServiceWithProcessor(p, 0),
		Profile:      prof,
		Recorder:     recorder,
		Renderer:     hub,
		DefaultModel: domain.ModelBalanced,
	})
	h := NewHandler(Config{
		Registry:       registry,
		Hub:            hub,
		Presenter:      presenter,
		Agents:         prof,
		Repo:           repo,
		Backend:        "echo",
		DefaultModel:   domain.ModelBalanced,
		MaxBodySize:    1024,
		RateLimit:      rateLimit,
		RateWindow:     time.Minute,
		AllowedOrigins: []string{"*"},
	})
	t.Cleanup(h.Close)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	h.RegisterRoutes(r)
	return &testEnv{handler: h, hub: hub, registry: registry, processor: p, repo: repo, recorder: recorder, router: r}
}

const testBrowserID = "sess_0123456789abcdef0123456789abcdef"

func (e *testEnv) do(t *testing.T, method, path, body, tab string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.AddCookie(&http.Cookie{Name: identity.CookieName, Value: testBrowserID})
	if tab != "" {
		req.Header.Set(identity.TabHeaderName, tab)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestJSON(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	resp := w.Result()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "bar", got["foo"])
}

func TestOriginPatterns(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"*"}, originPatterns([]string{"https://a.example", "*"}))
	assert.Equal(t, []string{"a.example", "localhost:5173"}, originPatterns([]string{"https://a.example", "http://localhost:5173"}))
	assert.Nil(t, originPatterns(nil))
}
