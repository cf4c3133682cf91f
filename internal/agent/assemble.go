package agent

import (
	"errors"
	"iter"
	"strings"
)

var errNilEvent = errors.New("received nil event")

// Reply is the assembled response to one query.
type Reply struct {
	Text   string
	Events int
}

// Assemble concatenates the text of every event in arrival order. For list
// content every segment with text contributes; for a single payload its text
// is appended directly. Segments without text are skipped.
func Assemble(events iter.Seq2[*Event, error]) (Reply, error) {
	var (
		b     strings.Builder
		count int
	)
	for ev, err := range events {
		if err != nil {
			return Reply{Text: b.String(), Events: count}, err
		}
		if ev == nil {
			return Reply{Text: b.String(), Events: count}, errNilEvent
		}
		count++
		if len(ev.Segments) > 0 {
			for _, seg := range ev.Segments {
				if seg.HasText() {
					b.WriteString(*seg.Text)
				}
			}
			continue
		}
		if ev.Payload != nil && ev.Payload.HasText() {
			b.WriteString(*ev.Payload.Text)
		}
	}
	return Reply{Text: b.String(), Events: count}, nil
}
