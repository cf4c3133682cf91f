package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderFormatsMarkdown(t *testing.T) {
	t.Parallel()

	r := New(8)
	out, err := r.Render("# Events\n\n- **Jazz** night\n- see https://example.com\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")
	require.NoError(t, err)
	assert.Contains(t, out, "<h1>Events</h1>")
	assert.Contains(t, out, "<strong>Jazz</strong>")
	assert.Contains(t, out, `<a href="https://example.com">`)
	assert.Contains(t, out, "<table>")
}

func TestRenderEscapesRawHTML(t *testing.T) {
	t.Parallel()

	out, err := New(0).Render("hello <script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
}

func TestRenderCacheIsBounded(t *testing.T) {
	t.Parallel()

	r := New(2)
	for _, s := range []string{"a", "b", "c"} {
		_, err := r.Render(s)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, len(r.cache), 2)

	again, err := r.Render("c")
	require.NoError(t, err)
	assert.Equal(t, "<p>c</p>\n", again)
}
