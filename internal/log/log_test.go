package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutputCarriesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "json", LevelDebug)
	t.Cleanup(func() { Configure(os.Stderr, "text", LevelInfo) })

	Error("export failed", errors.New("bad date"), "event_id", "e1", "count", 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "export failed", line["message"])
	assert.Equal(t, "bad date", line["error"])
	assert.Equal(t, "e1", line["event_id"])
	assert.EqualValues(t, 2, line["count"])
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "json", LevelInfo)
	t.Cleanup(func() { Configure(os.Stderr, "text", LevelInfo) })

	Debug("hidden")
	assert.Zero(t, buf.Len())

	Configure(&buf, "json", LevelDebug)
	Debug("shown", "odd")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	l, ok := ParseLevel(" warning ")
	assert.True(t, ok)
	assert.Equal(t, LevelWarn, l)

	l, ok = ParseLevel("verbose")
	assert.False(t, ok)
	assert.Equal(t, LevelInfo, l)
}
