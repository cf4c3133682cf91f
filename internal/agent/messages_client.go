package agent

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ashureev/kaya/internal/domain"
)

// messagesModels maps model tiers to Messages API model ids.
var messagesModels = map[domain.ModelTier]string{
	domain.ModelFast:           "claude-haiku-4-5",
	domain.ModelBalanced:       "claude-sonnet-4-5",
	domain.ModelHighCapability: "claude-opus-4-1",
}

// MessagesClient talks to the Messages API directly. It has no agent loop,
// so subagents and tool servers in the configuration are not used.
type MessagesClient struct {
	client    anthropic.Client
	maxTokens int64
	logger    *slog.Logger
	warnOnce  sync.Once
}

// NewMessagesClient creates a Messages API backend. Extra request options are
// applied after the API key (tests point the base URL at a local server).
func NewMessagesClient(apiKey string, maxTokens int, logger *slog.Logger, opts ...option.RequestOption) *MessagesClient {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &MessagesClient{
		client:    anthropic.NewClient(opts...),
		maxTokens: int64(maxTokens),
		logger:    logger,
	}
}

// Name implements Processor.
func (c *MessagesClient) Name() string { return "api" }

// Close implements Processor.
func (c *MessagesClient) Close() {}

// Query implements Processor. The whole response arrives as one event.
func (c *MessagesClient) Query(ctx context.Context, prompt string, cfg domain.AgentConfiguration) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		if len(cfg.Subagents) > 0 || len(cfg.ToolServers) > 0 {
			c.warnOnce.Do(func() {
				c.logger.Warn("Messages API backend ignores subagents and tool servers",
					"subagents", len(cfg.Subagents),
					"tool_servers", len(cfg.ToolServers),
				)
			})
		}

		model, ok := messagesModels[cfg.Model]
		if !ok {
			yield(nil, fmt.Errorf("no Messages API model for tier %q", cfg.Model))
			return
		}

		msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: c.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if err != nil {
			yield(nil, fmt.Errorf("messages request failed: %w", err))
			return
		}

		ev := &Event{Kind: EventAssistant}
		for _, block := range msg.Content {
			seg := Segment{Type: block.Type}
			if block.Type == "text" {
				text := block.Text
				seg.Text = &text
			}
			ev.Segments = append(ev.Segments, seg)
		}
		yield(ev, nil)
	}
}
