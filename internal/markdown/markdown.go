// Package markdown renders assistant replies to HTML for the chat UI.
package markdown

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts markdown to HTML. Raw HTML in the source is escaped, not passed through.
type Renderer struct {
	md goldmark.Markdown

	mu    sync.Mutex
	cache map[string]string
	limit int
}

// New creates a renderer with GitHub-flavored tables, strikethrough, task
// lists and autolinks. Up to cacheSize rendered turns are memoized.
func New(cacheSize int) *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		cache: make(map[string]string),
		limit: cacheSize,
	}
}

// Render returns the HTML for src.
func (r *Renderer) Render(src string) (string, error) {
	r.mu.Lock()
	if out, ok := r.cache[src]; ok {
		r.mu.Unlock()
		return out, nil
	}
	r.mu.Unlock()

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	out := buf.String()

	r.mu.Lock()
	if r.limit > 0 {
		// Snapshots re-render the whole transcript; a full reset keeps this bounded.
		if len(r.cache) >= r.limit {
			clear(r.cache)
		}
		r.cache[src] = out
	}
	r.mu.Unlock()
	return out, nil
}
