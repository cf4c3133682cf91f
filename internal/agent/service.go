package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/kaya/internal/domain"
)

// Service runs queries against a Processor and assembles the replies.
type Service struct {
	processor Processor
	timeout   time.Duration
}

// NewServiceWithProcessor creates a new agent service with a custom processor.
// A zero timeout leaves the call bounded only by the caller's context.
func NewServiceWithProcessor(processor Processor, timeout time.Duration) *Service {
	return &Service{
		processor: processor,
		timeout:   timeout,
	}
}

// Respond sends prompt with cfg and returns the concatenated response text.
// Every failure, including a panicking backend, is wrapped in ErrAgentCall.
func (s *Service) Respond(ctx context.Context, prompt string, cfg domain.AgentConfiguration) (reply Reply, err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent backend panicked", "backend", s.processor.Name(), "panic", r)
			err = fmt.Errorf("%w: malformed response: %v", ErrAgentCall, r)
		}
	}()

	reply, err = Assemble(s.processor.Query(ctx, prompt, cfg))
	if err != nil {
		return reply, fmt.Errorf("%w: %w", ErrAgentCall, err)
	}
	return reply, nil
}

// Backend returns the processor's name.
func (s *Service) Backend() string {
	return s.processor.Name()
}

// Close releases resources.
func (s *Service) Close() {
	if s.processor != nil {
		s.processor.Close()
	}
}
