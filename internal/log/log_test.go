package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reset puts the default logger back after a test replaced it.
func reset(t *testing.T) {
	saved := Logger
	t.Cleanup(func() { Logger = saved })
}

func TestDefaultLoggerDropsDebug(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, true, zerolog.InfoLevel)
	l.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	l.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")

	assert.Equal(t, zerolog.InfoLevel, Logger.GetLevel())
}

func TestInitJSON(t *testing.T) {
	reset(t)

	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	l := WithComponent("sched")
	l.Debug().Int("unit", 2).Msg("picked")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "sched", rec["component"])
	assert.Equal(t, "picked", rec["message"])
	assert.Equal(t, "debug", rec["level"])
	assert.EqualValues(t, 2, rec["unit"])
}

func TestInitLevels(t *testing.T) {
	reset(t)

	tests := []struct {
		level Level
		want  zerolog.Level
	}{
		{TraceLevel, zerolog.TraceLevel},
		{DebugLevel, zerolog.DebugLevel},
		{InfoLevel, zerolog.InfoLevel},
		{WarnLevel, zerolog.WarnLevel},
		{ErrorLevel, zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			Init(Config{Level: tt.level, Output: &bytes.Buffer{}})
			assert.Equal(t, tt.want, Logger.GetLevel())
			assert.Equal(t, tt.want, WithComponent("x").GetLevel())
		})
	}
}

func TestWithFields(t *testing.T) {
	reset(t)

	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	l := WithEntity(42)
	l.Info().Msg("x")
	assert.Contains(t, buf.String(), `"entity":42`)

	buf.Reset()
	l = WithRunID("abc")
	l.Info().Msg("x")
	assert.Contains(t, buf.String(), `"run_id":"abc"`)

	buf.Reset()
	l = WithUnit(3)
	l.Info().Msg("x")
	assert.Contains(t, buf.String(), `"unit":3`)
}
