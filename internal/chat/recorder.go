package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/kaya/internal/agent"
	"github.com/ashureev/kaya/internal/domain"
	"github.com/ashureev/kaya/internal/store"
)

const recordTimeout = 5 * time.Second

// Record describes one completed exchange. Prompt and Reply only reach the
// conversation log, never the ledger.
type Record struct {
	Exchange domain.Exchange
	Prompt   string
	Reply    string
}

// Recorder stores completed exchanges. Failures are logged by the recorder
// and never reach the transcript.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Record) {}

// LedgerRecorder writes exchange metadata to the ledger and the full
// exchange to the conversation log. Writes run in the background so a slow
// ledger never holds up the reply; Wait drains them.
type LedgerRecorder struct {
	repo    store.Repository
	log     agent.ConversationLogger
	logger  *slog.Logger
	pending sync.WaitGroup
}

// NewLedgerRecorder creates a recorder. Either sink may be nil.
func NewLedgerRecorder(repo store.Repository, log agent.ConversationLogger, logger *slog.Logger) *LedgerRecorder {
	if log == nil {
		log = agent.NoopConversationLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerRecorder{repo: repo, log: log, logger: logger}
}

// Record implements Recorder. It returns at once; the write outlives a
// cancelled request context so a client disconnect still leaves a ledger row.
func (r *LedgerRecorder) Record(ctx context.Context, rec Record) {
	ctx = context.WithoutCancel(ctx)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		r.write(ctx, rec)
	}()
}

// Wait blocks until every pending write has finished. Call it before closing
// the repository or the conversation log.
func (r *LedgerRecorder) Wait() {
	r.pending.Wait()
}

func (r *LedgerRecorder) write(ctx context.Context, rec Record) {
	ex := rec.Exchange
	if r.repo != nil {
		writeCtx, cancel := context.WithTimeout(ctx, recordTimeout)
		if err := r.repo.RecordExchange(writeCtx, &ex); err != nil {
			r.logger.Warn("failed to record exchange", "error", err, "session_id", ex.SessionID)
		}
		cancel()
	}

	userID, tabID := splitSessionKey(ex.SessionID)
	ts := ex.CreatedAt.UTC()
	r.log.Log(agent.ConversationLogEvent{
		Timestamp:  ts.Format(time.RFC3339Nano),
		UserID:     userID,
		SessionID:  tabID,
		Channel:    "chat_http",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: rec.Prompt,
		Meta: map[string]any{
			"exchange_id": ex.ID,
			"model":       string(ex.Model),
		},
	})
	r.log.Log(agent.ConversationLogEvent{
		Timestamp:  ts.Add(ex.Duration).Format(time.RFC3339Nano),
		UserID:     userID,
		SessionID:  tabID,
		Channel:    "chat_http",
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		ContentRaw: rec.Reply,
		Meta: map[string]any{
			"exchange_id": ex.ID,
			"model":       string(ex.Model),
			"events":      ex.EventCount,
			"duration_ms": ex.Duration.Milliseconds(),
			"failed":      ex.Failed,
			"error":       ex.ErrorMessage,
		},
	})
}

// splitSessionKey splits "<browser id>:<tab id>" into its parts.
func splitSessionKey(key string) (string, string) {
	user, tab, _ := strings.Cut(key, ":")
	return user, tab
}
