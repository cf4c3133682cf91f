// Package agent implements the call contract with the external agent runtime.
package agent

import (
	"context"
	"errors"
	"iter"

	"github.com/ashureev/kaya/internal/domain"
)

// ErrAgentCall wraps every failure raised by an agent backend or while
// assembling its response.
var ErrAgentCall = errors.New("agent call failed")

// EventKind categorizes message events emitted by a backend.
type EventKind string

const (
	// EventAssistant carries model output.
	EventAssistant EventKind = "assistant"
	// EventUser echoes user-side content such as tool results.
	EventUser EventKind = "user"
	// EventSystem carries runtime metadata.
	EventSystem EventKind = "system"
	// EventResult closes a run.
	EventResult EventKind = "result"
)

// Segment is one content block of a message event. Text is nil for blocks
// that carry no text (tool calls, tool results, images).
type Segment struct {
	Type string
	Text *string
}

// HasText reports whether the segment carries text.
func (s Segment) HasText() bool {
	return s.Text != nil
}

// Event is a single message event from the agent runtime. An event carries
// either a list of segments, a single payload, or nothing.
type Event struct {
	Kind     EventKind
	Segments []Segment
	Payload  *Segment
}

// TextSegment is a convenience constructor for a text-bearing segment.
func TextSegment(text string) Segment {
	return Segment{Type: "text", Text: &text}
}

// Processor defines the interface for agent runtime backends.
type Processor interface {
	// Query sends prompt with cfg and yields the response events in arrival order.
	// A yielded error terminates the sequence.
	Query(ctx context.Context, prompt string, cfg domain.AgentConfiguration) iter.Seq2[*Event, error]

	// Name identifies the backend in logs and /api/config.
	Name() string

	// Close releases resources.
	Close()
}

// Ensure backends implement Processor.
var (
	_ Processor = (*CLIClient)(nil)
	_ Processor = (*MessagesClient)(nil)
)
