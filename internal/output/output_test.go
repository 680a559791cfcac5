package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_PlainMessages(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)

	w.Success("corpus loaded")
	w.Warningf("partial results: %d paths failed", 1)
	w.Error("index missing")
	w.Status("", "indented detail")

	out := buf.String()
	assert.Contains(t, out, "✅ corpus loaded")
	assert.Contains(t, out, "partial results: 1 paths failed")
	assert.Contains(t, out, "❌ index missing")
	assert.Contains(t, out, "   indented detail")
}

func TestWriter_NoColorForBuffers(t *testing.T) {
	var buf bytes.Buffer
	w := New(&buf)

	w.Success("done")
	// A non-terminal destination gets no ANSI escapes.
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestWriter_Quote(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)

	w.Quote("line one\nline two")

	assert.Equal(t, "  line one\n  line two\n", buf.String())
}

func TestWriter_ProgressRendersBar(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)

	w.Progress(5, 10, "indexing")
	out := buf.String()

	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "indexing")
	assert.Contains(t, out, "█")
	assert.Contains(t, out, "░")
	assert.False(t, strings.HasSuffix(out, "\n"), "in-place update until complete")

	w.Progress(10, 10, "indexing")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"), "newline once complete")
}

func TestWriter_ProgressIgnoresZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	w := NewPlain(&buf)

	w.Progress(1, 0, "noop")
	assert.Empty(t, buf.String())
}

func TestRenderProgressBar_Bounds(t *testing.T) {
	assert.Equal(t, strings.Repeat("█", 10), renderProgressBar(10, 10, 10))
	assert.Equal(t, strings.Repeat("░", 10), renderProgressBar(0, 10, 10))
	assert.Equal(t, strings.Repeat("█", 10), renderProgressBar(20, 10, 10))
}
