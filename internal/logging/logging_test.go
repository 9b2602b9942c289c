package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"INFO":    zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		"trace":   zerolog.TraceLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSONRespectsLevel(t *testing.T) {
	var out bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "json", Out: &out})
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Str("kind", "checksum").Msg("diagnostic")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 1)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	assert.Equal(t, "warn", m["level"])
	assert.Equal(t, "checksum", m["kind"])
	assert.Equal(t, "diagnostic", m["message"])
	assert.Contains(t, m, "time")
}

func TestNew_TeeGetsPlainText(t *testing.T) {
	var out, tee bytes.Buffer
	logger, err := New(Options{Format: "json", Out: &out, Tee: &tee})
	require.NoError(t, err)

	logger.Info().Str("port", "/dev/ttyUSB0").Msg("link started")

	assert.Contains(t, out.String(), `"message":"link started"`)
	assert.Contains(t, tee.String(), "link started")
	assert.Contains(t, tee.String(), "port=/dev/ttyUSB0")
	assert.NotContains(t, tee.String(), "\x1b[")
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(Options{Level: "nope"})
	assert.Error(t, err)

	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}
