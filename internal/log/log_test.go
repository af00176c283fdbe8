package log

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(LevelInfo)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(LevelWarn)

	Debug("debug line")
	Info("info line")
	Warn("warn line", "k", "v")
	Error("error line", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "[WARN] warn line k=v")
	assert.Contains(t, out, "[ERROR] error line err=boom")
}

func TestFormatKVsQuotesAndIgnoresOddTail(t *testing.T) {
	got := formatKVs("summary", "🔴 Sleep (0.4h)", "count", 3, "dangling")
	assert.Equal(t, ` summary="🔴 Sleep (0.4h)" count=3`, got)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"chatty":  LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestLineHasTimestampPrefix(t *testing.T) {
	buf := captureOutput(t)
	Info("hello")
	line := strings.TrimSpace(buf.String())
	parts := strings.SplitN(line, " ", 2)
	if assert.Len(t, parts, 2) {
		assert.Equal(t, "[INFO] hello", parts[1])
	}
}
