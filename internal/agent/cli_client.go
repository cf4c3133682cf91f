package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/kaya/internal/domain"
)

const (
	maxStreamLine = 16 << 20 // tool results can be large
	stderrTailLen = 4096
	// pipeGrace bounds how long a cancelled run waits for its output pipes
	// to close after the process group has been killed.
	pipeGrace = 2 * time.Second
)

var (
	errRuntimeExited = errors.New("agent runtime exited")
	errRunFailed     = errors.New("agent run ended with an error")
	errMalformedLine = errors.New("malformed stream event")
)

// CLIClient runs the agent runtime CLI as a subprocess for every query and
// decodes its stream-json output.
type CLIClient struct {
	path    string
	workDir string
	env     []string
	logger  *slog.Logger
}

// CLIClientConfig holds configuration for the CLI client.
type CLIClientConfig struct {
	// Path is the runtime executable, looked up in PATH when not absolute.
	Path string
	// WorkDir is the runtime's working directory; empty means the server's.
	WorkDir string
	// Env is appended to the server's environment.
	Env []string
}

// NewCLIClient creates a client for the runtime at cfg.Path.
func NewCLIClient(cfg CLIClientConfig, logger *slog.Logger) (*CLIClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path, err := exec.LookPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("agent runtime %q not found: %w", cfg.Path, err)
	}

	logger.Info("Using agent runtime CLI", "path", path, "workdir", cfg.WorkDir)

	return &CLIClient{
		path:    path,
		workDir: cfg.WorkDir,
		env:     cfg.Env,
		logger:  logger,
	}, nil
}

// Name implements Processor.
func (c *CLIClient) Name() string { return "cli" }

// Close implements Processor. Runtime processes never outlive a query.
func (c *CLIClient) Close() {}

// BuildArgs returns the runtime arguments encoding cfg.
func BuildArgs(cfg domain.AgentConfiguration) ([]string, error) {
	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--input-format", "stream-json",
	}
	if cfg.Model != "" {
		args = append(args, "--model", string(cfg.Model))
	}
	if cfg.PermissionMode != "" {
		args = append(args, "--permission-mode", cfg.PermissionMode)
	}
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(cfg.AllowedTools, ","))
	}
	if len(cfg.SettingSources) > 0 {
		args = append(args, "--setting-sources", strings.Join(cfg.SettingSources, ","))
	}
	if len(cfg.ToolServers) > 0 {
		data, err := json.Marshal(map[string]any{"mcpServers": cfg.ToolServers})
		if err != nil {
			return nil, fmt.Errorf("encode tool servers: %w", err)
		}
		args = append(args, "--mcp-config", string(data))
	}
	if len(cfg.Subagents) > 0 {
		data, err := json.Marshal(cfg.Subagents)
		if err != nil {
			return nil, fmt.Errorf("encode subagents: %w", err)
		}
		args = append(args, "--agents", string(data))
	}
	return args, nil
}

type streamInput struct {
	Type            string             `json:"type"`
	Message         streamInputMessage `json:"message"`
	ParentToolUseID *string            `json:"parent_tool_use_id"`
	SessionID       string             `json:"session_id"`
}

type streamInputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamLine struct {
	Type    string         `json:"type"`
	Subtype string         `json:"subtype,omitempty"`
	Message *streamMessage `json:"message,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
	Result  string         `json:"result,omitempty"`
}

type streamMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type streamBlock struct {
	Type string  `json:"type"`
	Text *string `json:"text"`
}

// Query implements Processor.
//
//nolint:gocognit // Process lifecycle and stream decoding are kept together.
func (c *CLIClient) Query(ctx context.Context, prompt string, cfg domain.AgentConfiguration) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		args, err := BuildArgs(cfg)
		if err != nil {
			yield(nil, err)
			return
		}

		input, err := json.Marshal(streamInput{
			Type:      "user",
			Message:   streamInputMessage{Role: "user", Content: prompt},
			SessionID: "default",
		})
		if err != nil {
			yield(nil, fmt.Errorf("encode prompt: %w", err))
			return
		}

		cmd := exec.CommandContext(ctx, c.path, args...)
		cmd.Dir = c.workDir
		cmd.Env = append(os.Environ(), c.env...)
		stderr := &tailBuffer{max: stderrTailLen}
		cmd.Stderr = stderr
		startOwnGroup(cmd)
		cmd.Cancel = func() error { return killGroup(cmd.Process) }
		cmd.WaitDelay = pipeGrace

		stdin, err := cmd.StdinPipe()
		if err != nil {
			yield(nil, fmt.Errorf("open runtime stdin: %w", err))
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			yield(nil, fmt.Errorf("open runtime stdout: %w", err))
			return
		}

		if err := cmd.Start(); err != nil {
			yield(nil, fmt.Errorf("start agent runtime: %w", err))
			return
		}
		c.logger.Debug("Agent runtime started", "pid", cmd.Process.Pid, "model", cfg.Model)

		waited := false
		defer func() {
			if waited {
				return
			}
			if killErr := killGroup(cmd.Process); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
				c.logger.Warn("failed to kill agent runtime", "error", killErr)
			}
			_ = cmd.Wait()
		}()

		// A process that left the group can still hold stdout open; stop
		// reading once the grace period after cancellation has passed.
		stopWatch := context.AfterFunc(ctx, func() {
			time.AfterFunc(pipeGrace, func() { _ = stdout.Close() })
		})
		defer stopWatch()

		go func() {
			if _, err := stdin.Write(append(input, '\n')); err != nil {
				c.logger.Debug("failed to write prompt to agent runtime", "error", err)
			}
			if err := stdin.Close(); err != nil {
				c.logger.Debug("failed to close agent runtime stdin", "error", err)
			}
		}()

		var runErr error
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			ev, err := decodeLine(line)
			if err != nil {
				yield(nil, err)
				return
			}
			if ev == nil {
				continue
			}
			if ev.failure != nil {
				runErr = ev.failure
				continue
			}
			if !yield(ev.event, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			} else {
				err = fmt.Errorf("read agent runtime output: %w", err)
			}
			yield(nil, err)
			return
		}

		waitErr := cmd.Wait()
		waited = true
		if ctx.Err() != nil {
			yield(nil, ctx.Err())
			return
		}
		if runErr != nil {
			yield(nil, runErr)
			return
		}
		if waitErr != nil {
			yield(nil, fmt.Errorf("%w: %v%s", errRuntimeExited, waitErr, stderr.suffix()))
		}
	}
}

type decoded struct {
	event   *Event
	failure error
}

// decodeLine turns one stream-json line into an event. Lines that describe
// nothing the caller consumes return nil.
func decodeLine(line []byte) (*decoded, error) {
	var sl streamLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedLine, err)
	}

	switch EventKind(sl.Type) {
	case EventResult:
		if sl.IsError {
			reason := sl.Subtype
			if sl.Result != "" {
				reason = sl.Result
			}
			return &decoded{failure: fmt.Errorf("%w: %s", errRunFailed, reason)}, nil
		}
		return &decoded{event: &Event{Kind: EventResult}}, nil
	case EventSystem:
		return &decoded{event: &Event{Kind: EventSystem}}, nil
	case EventAssistant, EventUser:
	default:
		return nil, nil
	}

	ev := &Event{Kind: EventKind(sl.Type)}
	if sl.Message == nil || len(sl.Message.Content) == 0 {
		return &decoded{event: ev}, nil
	}

	content := bytes.TrimSpace(sl.Message.Content)
	switch content[0] {
	case '[':
		var blocks []streamBlock
		if err := json.Unmarshal(content, &blocks); err != nil {
			return nil, fmt.Errorf("%w: content blocks: %v", errMalformedLine, err)
		}
		for _, b := range blocks {
			ev.Segments = append(ev.Segments, Segment{Type: b.Type, Text: b.Text})
		}
	case '{':
		var b streamBlock
		if err := json.Unmarshal(content, &b); err != nil {
			return nil, fmt.Errorf("%w: content block: %v", errMalformedLine, err)
		}
		ev.Payload = &Segment{Type: b.Type, Text: b.Text}
	case '"':
		// Plain-string content only appears as the echoed user prompt.
		if ev.Kind == EventAssistant {
			var s string
			if err := json.Unmarshal(content, &s); err != nil {
				return nil, fmt.Errorf("%w: content: %v", errMalformedLine, err)
			}
			seg := TextSegment(s)
			ev.Payload = &seg
		}
	}
	return &decoded{event: ev}, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func (t *tailBuffer) suffix() string {
	s := strings.TrimSpace(t.String())
	if s == "" {
		return ""
	}
	return ": " + s
}

var _ io.Writer = (*tailBuffer)(nil)
