package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTuning_IsValid(t *testing.T) {
	tuning := DefaultTuning()
	require.NoError(t, tuning.Validate())

	assert.Equal(t, 4, tuning.Race.TotalHorses)
	assert.Equal(t, int64(100), tuning.Race.InitialCoins)
	assert.Equal(t, 100*time.Millisecond, tuning.Race.TickInterval)
	assert.Equal(t, 150*time.Millisecond, tuning.Audio.GallopRetry)

	multipliers := tuning.Race.Multipliers()
	require.Len(t, multipliers, 4)
	assert.True(t, multipliers[1].Equal(decimal.RequireFromString("1.3")))
}

func TestParseTuning_OverridesOnlyGivenKeys(t *testing.T) {
	data := []byte(`
race:
  total_horses: 6
  tick_interval: 50ms
  rank_multipliers: [3.0, 1.5, 0.5]
audio:
  vocal_delay_max: 8s
`)
	tuning, err := ParseTuning(data)
	require.NoError(t, err)

	assert.Equal(t, 6, tuning.Race.TotalHorses)
	assert.Equal(t, 50*time.Millisecond, tuning.Race.TickInterval)
	assert.Equal(t, []string{"3.0", "1.5", "0.5"}, tuning.Race.RankMultipliers)
	assert.Equal(t, 8*time.Second, tuning.Audio.VocalDelayMax)

	// untouched keys keep their defaults
	assert.Equal(t, 3, tuning.Race.CountdownStart)
	assert.Equal(t, 2*time.Second, tuning.Audio.VocalDelayMin)
}

func TestParseTuning_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "single horse", yaml: "race: {total_horses: 1}"},
		{name: "inverted speed range", yaml: "race: {normal_speed: {min: 0.7, max: 0.1}}"},
		{name: "zero tick", yaml: "race: {tick_interval: 0s}"},
		{name: "empty multipliers", yaml: "race: {rank_multipliers: []}"},
		{name: "bad multiplier", yaml: "race: {rank_multipliers: [two]}"},
		{name: "negative multiplier", yaml: "race: {rank_multipliers: [-1]}"},
		{name: "burst past finish", yaml: "race: {burst_trigger: 150}"},
		{name: "volume above one", yaml: "audio: {bgm_volume: 1.5}"},
		{name: "vocal window inverted", yaml: "audio: {vocal_delay_min: 6s, vocal_delay_max: 2s}"},
		{name: "malformed yaml", yaml: "race: ["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTuning([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadTuning_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("race:\n  initial_coins: 250\n"), 0o600))

	tuning, err := LoadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, int64(250), tuning.Race.InitialCoins)

	_, err = LoadTuning(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := load()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/derby")
	cfg, err := load()
	require.NoError(t, err)
	assert.Equal(t, StorageBackendPostgres, cfg.StorageBackend)
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"STORAGE_BACKEND", "PEBBLE_PATH", "AUDIO_BACKEND", "LOG_LEVEL", "TUNING_FILE"} {
		t.Setenv(key, "")
	}
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("OTEL_EXPORT_INTERVAL_MS", "5000")

	cfg, err := load()
	require.NoError(t, err)

	assert.Equal(t, StorageBackendPebble, cfg.StorageBackend)
	assert.Equal(t, AudioBackendHeadless, cfg.AudioBackend)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 5000, cfg.OTelExportIntervalMillis)
	assert.Equal(t, DefaultTuning(), cfg.Tuning)
}
