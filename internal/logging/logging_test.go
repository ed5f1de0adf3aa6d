package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "resolver")).Info(context.Background(), "footprint selected",
		Int("candidates", 3), Float("confidence", 0.88), Err(errors.New("boom")))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "footprint selected", line["msg"])
	assert.Equal(t, "resolver", line["component"])
	assert.Equal(t, float64(3), line["candidates"])
	assert.Equal(t, 0.88, line["confidence"])
	assert.Equal(t, "boom", line["error"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	assert.Empty(t, buf.String())

	log.Warn(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNoopAndOrNoop(t *testing.T) {
	assert.NotPanics(t, func() {
		l := OrNoop(nil)
		l.With(String("k", "v")).Error(context.Background(), "dropped")
	})
}

func TestForContextAddsMeasurementID(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	ctx := ContextWithMeasurementID(context.Background(), "m-1")
	assert.Equal(t, "m-1", MeasurementIDFromContext(ctx))
	ForContext(ctx, base).Info(ctx, "hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "m-1", line["measurement_id"])
	assert.Equal(t, "", MeasurementIDFromContext(context.Background()))
}
