package retinanet

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchedBoxesMetric(t *testing.T) {
	metric := NewMatchedBoxesMetric()
	assert.Equal(t, "percent_boxes_matched_with_anchor", metric.Name())

	// Before any update the fraction reads as 0, not NaN.
	assert.Equal(t, 0.0, tensors.ToScalar[float64](metric.ReadGo()))

	metric.UpdateGo(tensors.FromValue([]bool{true, false, true}))
	assert.InDelta(t, 2.0/3.0, tensors.ToScalar[float64](metric.ReadGo()), 1e-9)

	// Updates accumulate across batches.
	metric.UpdateGo(tensors.FromValue([]bool{true}))
	matched, total := metric.Counts()
	assert.Equal(t, int64(3), matched)
	assert.Equal(t, int64(4), total)
	assert.InDelta(t, 0.75, tensors.ToScalar[float64](metric.ReadGo()), 1e-9)

	// Empty batches (no ground-truth boxes at all) are valid no-ops.
	metric.UpdateGo(tensors.FromFlatDataAndDimensions([]bool{}, 0))
	matched, total = metric.Counts()
	assert.Equal(t, int64(3), matched)
	assert.Equal(t, int64(4), total)

	metric.Reset()
	matched, total = metric.Counts()
	assert.Equal(t, int64(0), matched)
	assert.Equal(t, int64(0), total)
	assert.Equal(t, 0.0, tensors.ToScalar[float64](metric.ReadGo()))
}

func TestMatchedBoxesMetricValidation(t *testing.T) {
	metric := NewMatchedBoxesMetric()
	require.Panics(t, func() { metric.UpdateGo(nil) })
	require.Panics(t, func() { metric.UpdateGo(tensors.FromValue([]float32{1, 0})) })
}
