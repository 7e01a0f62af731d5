package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	SetWriter(buf)
	t.Cleanup(func() {
		SetWriter(os.Stdout)
		SetLevel("INFO")
		_ = SetFormat("text")
	})
	return buf
}

func TestSetLevel(t *testing.T) {
	buf := capture(t)

	SetLevel("WARN")
	Info("hidden %d", 1)
	Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden 1")
	assert.Contains(t, out, "shown 2")
	assert.Equal(t, LevelWarn, GetLevel())
}

func TestSetLevelIgnoresUnknown(t *testing.T) {
	capture(t)

	SetLevel("DEBUG")
	SetLevel("verbose")
	assert.Equal(t, LevelDebug, GetLevel())
	assert.True(t, IsDebug())
}

func TestJSONFormat(t *testing.T) {
	buf := capture(t)
	require.NoError(t, SetFormat("json"))

	WithFields(Fields{"request_id": "abc"}).Info("served %s", "/entries")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "served /entries", line["msg"])
	assert.Equal(t, "abc", line["request_id"])
	assert.Equal(t, "info", line["level"])
}

func TestSetFormatRejectsUnknown(t *testing.T) {
	assert.Error(t, SetFormat("xml"))
}

func TestSetOutputFile(t *testing.T) {
	capture(t)
	path := filepath.Join(t.TempDir(), "plevy.log")

	require.NoError(t, SetOutput(path))
	Error("disk %s", "full")
	require.NoError(t, SetOutput("stdout"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "disk full"))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}
