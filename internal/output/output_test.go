package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("🔍", "Probing text embedder...")

	assert.Equal(t, "🔍 Probing text embedder...\n", buf.String())
}

func TestWriter_Status_NoIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("", "video: vid-42")

	assert.Equal(t, "   video: vid-42\n", buf.String())
}

func TestWriter_Statusf(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Statusf("📂", "Read %d scene record(s) from %s", 42, "scenes.jsonl")

	assert.Contains(t, buf.String(), "Read 42 scene record(s) from scenes.jsonl")
}

func TestWriter_IconHelpers(t *testing.T) {
	tests := []struct {
		name string
		emit func(w *Writer)
		icon string
		text string
	}{
		{"success", func(w *Writer) { w.Successf("Ingested %d scene(s)", 3) }, "✅", "Ingested 3 scene(s)"},
		{"warning", func(w *Writer) { w.Warning("CLIP embedder unreachable") }, "⚠️", "CLIP embedder unreachable"},
		{"error", func(w *Writer) { w.Errorf("scene store: %s", "locked") }, "❌", "scene store: locked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.emit(New(buf))

			assert.Contains(t, buf.String(), tt.icon)
			assert.Contains(t, buf.String(), tt.text)
		})
	}
}

func TestWriter_Progress(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(50, 100, "embedding transcripts")

	out := buf.String()
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "embedding transcripts")
	assert.True(t, strings.HasPrefix(out, "\r"), "Progress should redraw in place")
	assert.False(t, strings.HasSuffix(out, "\n"), "Incomplete progress should not end the line")
}

func TestWriter_Progress_CompletionEndsLine(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(10, 10, "done")

	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestWriter_Progress_ZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Progress(0, 0, "waiting")

	assert.Empty(t, buf.String())
}

func TestProgressBar_FilledWidth(t *testing.T) {
	tests := []struct {
		name    string
		current int
		total   int
		filled  int
	}{
		{"empty", 0, 100, 0},
		{"half", 50, 100, 15},
		{"full", 100, 100, 30},
		{"overshoot clamps", 120, 100, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := progressBar(tt.current, tt.total)

			assert.Equal(t, tt.filled, strings.Count(bar, "█"))
			assert.Equal(t, progressBarWidth, len([]rune(bar)))
		})
	}
}

func TestWriter_Newline(t *testing.T) {
	buf := &bytes.Buffer{}
	New(buf).Newline()

	assert.Equal(t, "\n", buf.String())
}
