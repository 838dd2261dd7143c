package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestFieldsAreTyped(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, zerolog.DebugLevel)

	l.Info("run finished",
		String("run_id", "r1"),
		Int("instruments", 3),
		Float64("mse", 0.25),
		Bool("backtest", true),
		Strings("tickers", []string{"AAPL", "MSFT"}),
		Duration("duration_ms", 1500*time.Millisecond),
		Error(errors.New("sink down")),
	)

	e := lastEntry(t, &buf)
	assert.Equal(t, "run finished", e["message"])
	assert.Equal(t, "info", e["level"])
	assert.Equal(t, "r1", e["run_id"])
	assert.Equal(t, float64(3), e["instruments"])
	assert.Equal(t, 0.25, e["mse"])
	assert.Equal(t, true, e["backtest"])
	assert.Equal(t, []interface{}{"AAPL", "MSFT"}, e["tickers"])
	assert.Equal(t, float64(1500), e["duration_ms"])
	assert.Equal(t, "sink down", e["error"])
}

func TestNilErrorAddsNothing(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, zerolog.InfoLevel).Warn("no error", Error(nil))
	_, ok := lastEntry(t, &buf)["error"]
	assert.False(t, ok)
}

func TestWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, zerolog.InfoLevel).With(String("run_id", "r2"))
	l.Info("stage done", String("stage", "short"))

	e := lastEntry(t, &buf)
	assert.Equal(t, "r2", e["run_id"])
	assert.Equal(t, "short", e["stage"])
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, zerolog.WarnLevel)
	l.Debug("hidden")
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Error("shown")
	assert.NotZero(t, buf.Len())
}

func TestNewConfig(t *testing.T) {
	_, err := New(&Config{Level: "loud"})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "debug", Output: path})
	require.NoError(t, err)
	l.Debug("to file")

	Nop().Error("discarded", Error(errors.New("x")))
}
