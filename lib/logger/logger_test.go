package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigLevels(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_LEVEL_BUILDS", "debug")

	cfg := NewConfig()
	assert.Equal(t, slog.LevelWarn, cfg.LevelFor(SubsystemAPI))
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor(SubsystemBuilds))
}

func TestNewConfigInvalidLevelFallsBack(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	cfg := NewConfig()
	assert.Equal(t, slog.LevelInfo, cfg.DefaultLevel)
}

func TestSubsystemLoggerFansOut(t *testing.T) {
	var primary, secondary bytes.Buffer
	cfg := Config{DefaultLevel: slog.LevelInfo, Output: &primary}
	other := slog.NewJSONHandler(&secondary, nil)

	log := NewSubsystemLogger(SubsystemImages, cfg, other)
	log.Info("inspected", "ref", "alpine")
	log.Debug("hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(primary.Bytes(), &rec))
	assert.Equal(t, "images", rec["subsystem"])
	assert.Equal(t, "alpine", rec["ref"])
	assert.Contains(t, secondary.String(), `"msg":"inspected"`)
	assert.NotContains(t, primary.String(), "hidden")
}

func TestContextRoundTrip(t *testing.T) {
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := AddToContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestTextLogger(t *testing.T) {
	var out bytes.Buffer
	log := NewSubsystemLogger(SubsystemCLI, Config{Output: &out, Text: true}, nil)
	log.Info("planned", "variant", "full")
	assert.Contains(t, out.String(), "msg=planned")
	assert.Contains(t, out.String(), "subsystem=cli")
	assert.Contains(t, out.String(), "variant=full")
}
