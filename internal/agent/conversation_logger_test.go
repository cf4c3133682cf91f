package agent

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	logger.Log(ConversationLogEvent{
		UserID:     "sess_1",
		SessionID:  "tab-1",
		Channel:    "chat_http",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: "find events in Lisbon",
	})

	line := waitForLogLine(t, filepath.Join(dir, "sess_1", "tab-1.ndjson"))
	var got ConversationLogEvent
	require.NoError(t, json.Unmarshal([]byte(line), &got))
	assert.Equal(t, "find events in Lisbon", got.ContentRaw)
	assert.Equal(t, "find events in Lisbon", got.Content)
}

func TestConversationLoggerSanitizesPathParts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: true, Dir: dir}, nil)
	require.NoError(t, err)
	defer func() { _ = logger.Close() }()

	logger.Log(ConversationLogEvent{
		UserID:     "../../etc",
		SessionID:  "",
		EventType:  "chat_assistant_message",
		ContentRaw: "hi",
	})

	waitForLogLine(t, filepath.Join(dir, ".._.._etc", "default.ndjson"))
}

func TestConversationLoggerWritesGlobalLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "conversations.ndjson")
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:       true,
		Dir:           filepath.Join(dir, "sessions"),
		GlobalEnabled: true,
		GlobalPath:    global,
	}, nil)
	require.NoError(t, err)

	logger.Log(ConversationLogEvent{UserID: "u", SessionID: "s", ContentRaw: "one"})
	logger.Log(ConversationLogEvent{UserID: "u", SessionID: "s", ContentRaw: "two"})
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(global)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)
}

func TestConversationLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.IsType(t, NoopConversationLogger{}, logger)
	logger.Log(ConversationLogEvent{ContentRaw: "ignored"})
	assert.NoError(t, logger.Close())
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	clean := cleanForReadability("\x1b[31merror\x1b[0m plain\r\n")
	assert.NotContains(t, clean, "\x1b[31m")
	assert.Equal(t, "error plain", clean)
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			return lines[len(lines)-1]
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
