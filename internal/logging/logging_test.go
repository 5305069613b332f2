package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"":        LevelInfo,
		"verbose": LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "ParseLevel(%q)", in)
	}
}

func TestWriterSplitsLines(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	w := NewWriter(logger, "hook")

	_, err := w.Write([]byte("first\nsec"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ond\n\nthird"))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "line=first")
	assert.Contains(t, out.String(), "line=second")
	assert.NotContains(t, out.String(), "third")

	w.Flush()
	assert.Contains(t, out.String(), "line=third")
	assert.Contains(t, out.String(), "source=hook")
	assert.Equal(t, 3, bytes.Count(out.Bytes(), []byte("command output")))
}

func TestNewLoggerPlainWhenNotTerminal(t *testing.T) {
	var out bytes.Buffer
	logger := NewLogger(&out, LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown", "machine", "web")

	assert.NotContains(t, out.String(), "hidden")
	assert.Contains(t, out.String(), "shown")
	assert.Contains(t, out.String(), "machine=web")
	assert.NotContains(t, out.String(), "\x1b[")
	assert.Equal(t, "warn", LevelWarn.String())
}
