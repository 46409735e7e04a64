package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsCanonicalKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "marketd", "dev", slog.LevelInfo)
	logger.Info("listing created", "assetId", "7", "secret", "hunter2", MaskField("jwt", "abc"))
	logger.Debug("dropped")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "listing created", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "marketd", line["service"])
	require.Equal(t, "dev", line["env"])
	require.Equal(t, "7", line["assetId"])
	require.Equal(t, RedactedValue, line["secret"])
	require.Equal(t, RedactedValue, line["jwt"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")), "debug line must be filtered at info level")
}

func TestParseLevel(t *testing.T) {
	for raw, want := range map[string]slog.Level{
		"":      slog.LevelInfo,
		"DEBUG": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestMaskValueKeepsEmpty(t *testing.T) {
	require.Equal(t, "", MaskValue(""))
	require.Equal(t, RedactedValue, MaskValue("x"))
	require.True(t, IsSensitive(" Authorization "))
	require.False(t, IsSensitive("seller"))
}
