package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.WithComponent("search-service").
		WithRequestID("req-1").
		WithSessionID("s-1").
		WithCriterion("c1", "phone").
		Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "search-service", entry["component"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "s-1", entry["session_id"])
	assert.Equal(t, "c1", entry["criterion_id"])
	assert.Equal(t, "phone", entry["category"])
	assert.Equal(t, "hello", entry["message"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARNING": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})
	log.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
	log.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}
