package retinanet

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/compute/dtypes"
	"github.com/gomlx/vision/anchors"
	"github.com/gomlx/vision/boxes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedAnchors is a Generator with hand-picked anchors, for tests where the
// matching outcome must be worked out by hand.
type fixedAnchors struct {
	format boxes.Format
	levels []*tensors.Tensor
}

func (g *fixedAnchors) Format() boxes.Format { return g.format }

func (g *fixedAnchors) Generate(_, _ int) []*tensors.Tensor { return g.levels }

func (g *fixedAnchors) NumAnchorsPerLocation() int { return 1 }

// twoAnchors tiles two 10x10 anchors side by side: [0,0,10,10] and
// [10,0,20,10], in XYXY.
func twoAnchors() *fixedAnchors {
	return &fixedAnchors{
		format: boxes.XYXY,
		levels: []*tensors.Tensor{tensors.FromValue([][]float32{{0, 0, 10, 10}, {10, 0, 20, 10}})},
	}
}

func testImages(batchSize int) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(make([]float32, batchSize*20*20), batchSize, 20, 20, 1)
}

func TestEncode(t *testing.T) {
	enc := NewLabelEncoder(boxes.XYXY, twoAnchors())
	// One box with IoU 0.6 against the first anchor: positive there,
	// negative against the second.
	gt := boxes.RaggedFromSlices(
		[][][]float32{{{0, 2.5, 10, 12.5}}},
		[][]float32{{4}},
	)
	boxTargets, classTargets := enc.Encode(testImages(1), gt)

	require.Equal(t, []int{1, 2, 4}, boxTargets.Shape().Dimensions)
	require.Equal(t, []int{1, 2}, classTargets.Shape().Dimensions)
	require.Equal(t, dtypes.Float32, boxTargets.DType())

	assert.True(t, classTargets.Equal(tensors.FromValue([][]float32{{4, -1}})))
	// Anchor centers are (5,5) and (15,5), both 10x10; the box center is
	// (5,7.5), 10x10. Deltas are scaled by the default variance.
	wantBoxes := tensors.FromValue([][][]float32{{
		{0, 2.5, 0, 0},
		{-10, 2.5, 0, 0},
	}})
	assert.Truef(t, wantBoxes.InDelta(boxTargets, 1e-5), "got box targets %s", boxTargets.GoStr())
}

func TestEncodeIgnoreZone(t *testing.T) {
	enc := NewLabelEncoder(boxes.XYXY, twoAnchors())
	// IoU against the first anchor is 62/138 ~ 0.449: between the negative
	// (0.4) and positive (0.5) thresholds.
	gt := boxes.RaggedFromSlices(
		[][][]float32{{{0, 3.8, 10, 13.8}}},
		[][]float32{{2}},
	)
	_, classTargets := enc.Encode(testImages(1), gt)
	assert.True(t, classTargets.Equal(tensors.FromValue([][]float32{{-2, -1}})))
}

func TestEncodeThresholdConfig(t *testing.T) {
	// With a lowered positive threshold the 0.449 overlap becomes positive.
	enc := NewLabelEncoder(boxes.XYXY, twoAnchors()).
		WithNegativeThreshold(0.2).
		WithPositiveThreshold(0.4)
	gt := boxes.RaggedFromSlices(
		[][][]float32{{{0, 3.8, 10, 13.8}}},
		[][]float32{{2}},
	)
	_, classTargets := enc.Encode(testImages(1), gt)
	assert.True(t, classTargets.Equal(tensors.FromValue([][]float32{{2, -1}})))
}

func TestEncodeAllPadding(t *testing.T) {
	enc := NewLabelEncoder(boxes.XYXY, twoAnchors())
	testCases := []struct {
		name string
		gt   *boxes.Ragged
	}{
		{"no_boxes", boxes.RaggedFromSlices([][][]float32{{}, {}}, [][]float32{{}, {}})},
		{"all_minus_one", boxes.RaggedFromDense(
			tensors.FromValue([][][]float32{{{-1, -1, -1, -1}, {-1, -1, -1, -1}}}),
			tensors.FromValue([][]float32{{-1, -1}}),
			nil)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			boxTargets, classTargets := enc.Encode(testImages(tc.gt.Len()), tc.gt)
			require.Equal(t, []int{tc.gt.Len(), 2, 4}, boxTargets.Shape().Dimensions)
			// Matching against nothing (or degenerate -1 boxes) must yield
			// the ignore class everywhere and no NaN or Inf anywhere.
			for _, v := range tensors.MustCopyFlatData[float32](classTargets) {
				assert.Equal(t, float32(-2), v)
			}
			for _, v := range tensors.MustCopyFlatData[float32](boxTargets) {
				assert.Equal(t, float32(-2), v)
			}
		})
	}
}

func TestEncodeTargetCountMatchesAnchors(t *testing.T) {
	// With the real pyramid generator on a 20x20 image, levels 3 and 4 tile
	// 3x3 and 2x2 locations with 9 anchors each: 117 anchors total -- the
	// target count no matter how many boxes a sample has.
	enc := NewLabelEncoder(boxes.XYXY, anchors.NewPyramid(3, 4))
	gt := boxes.RaggedFromSlices(
		[][][]float32{
			{},
			{{0, 0, 8, 8}},
			{{0, 0, 8, 8}, {4, 4, 12, 12}, {10, 10, 20, 20}},
		},
		[][]float32{{}, {0}, {1, 2, 3}},
	)
	boxTargets, classTargets := enc.Encode(testImages(3), gt)
	require.Equal(t, []int{3, 117, 4}, boxTargets.Shape().Dimensions)
	require.Equal(t, []int{3, 117}, classTargets.Shape().Dimensions)

	assert.Same(t, enc.Anchors(20, 20), enc.Anchors(20, 20))
	require.Equal(t, []int{117, 4}, enc.Anchors(20, 20).Shape().Dimensions)
}

func TestEncodeForceMatch(t *testing.T) {
	// IoU 1/3 against the first anchor: below the negative threshold, so
	// the box goes unmatched -- unless force-matching claims the best
	// anchor for it.
	gt := boxes.RaggedFromSlices(
		[][][]float32{{{0, 0, 10, 30}}},
		[][]float32{{5}},
	)
	_, classTargets := NewLabelEncoder(boxes.XYXY, twoAnchors()).Encode(testImages(1), gt)
	assert.True(t, classTargets.Equal(tensors.FromValue([][]float32{{-1, -1}})))

	_, classTargets = NewLabelEncoder(boxes.XYXY, twoAnchors()).
		WithForceMatchForEachColumn(true).
		Encode(testImages(1), gt)
	assert.True(t, classTargets.Equal(tensors.FromValue([][]float32{{5, -1}})))
}

func TestEncodeCustomClassIds(t *testing.T) {
	enc := NewLabelEncoder(boxes.XYXY, twoAnchors()).
		WithBackgroundClass(0).
		WithIgnoreClass(-3)
	gt := boxes.RaggedFromSlices(
		[][][]float32{{{0, 2.5, 10, 12.5}}, {}},
		[][]float32{{4}, {}},
	)
	_, classTargets := enc.Encode(testImages(2), gt)
	assert.True(t, classTargets.Equal(tensors.FromValue([][]float32{
		{4, 0},
		{-3, -3},
	})))
}

func TestEncodeFloat64(t *testing.T) {
	enc := NewLabelEncoder(boxes.XYXY, twoAnchors())
	gt := boxes.RaggedFromDense(
		tensors.FromValue([][][]float64{{{0, 2.5, 10, 12.5}}}),
		tensors.FromValue([][]float64{{4}}),
		nil)
	boxTargets, classTargets := enc.Encode(testImages(1), gt)
	require.Equal(t, dtypes.Float64, boxTargets.DType())
	assert.True(t, classTargets.Equal(tensors.FromValue([][]float64{{4, -1}})))
	wantBoxes := tensors.FromValue([][][]float64{{{0, 2.5, 0, 0}, {-10, 2.5, 0, 0}}})
	assert.True(t, wantBoxes.InDelta(boxTargets, 1e-9))
}

func TestEncodeObserver(t *testing.T) {
	metric := NewMatchedBoxesMetric()
	enc := NewLabelEncoder(boxes.XYXY, twoAnchors()).WithObserver(metric)
	// Sample 0: one box exactly on an anchor (matched) and one far away
	// (unmatched). Sample 1: one box exactly on the second anchor. The
	// padding slot of sample 1 must not be counted.
	gt := boxes.RaggedFromSlices(
		[][][]float32{
			{{0, 0, 10, 10}, {100, 100, 110, 110}},
			{{10, 0, 20, 10}},
		},
		[][]float32{{1, 2}, {3}},
	)
	enc.Encode(testImages(2), gt)

	matched, total := metric.Counts()
	assert.Equal(t, int64(2), matched)
	assert.Equal(t, int64(3), total)
	assert.InDelta(t, 2.0/3.0, tensors.ToScalar[float64](metric.ReadGo()), 1e-9)
}

func TestEncodeValidation(t *testing.T) {
	enc := NewLabelEncoder(boxes.XYXY, twoAnchors())
	gt := boxes.RaggedFromSlices([][][]float32{{}}, [][]float32{{}})

	err := exceptions.TryCatch[error](func() {
		enc.Encode(tensors.FromFlatDataAndDimensions(make([]float32, 400), 20, 20, 1), gt)
	})
	require.ErrorContains(t, err, "per-sample image sizes")

	require.Panics(t, func() { enc.Encode(testImages(1), nil) })
	require.Panics(t, func() { enc.Encode(testImages(2), gt) })

	require.Panics(t, func() { NewLabelEncoder(boxes.Format(99), twoAnchors()) })
	require.Panics(t, func() { NewLabelEncoder(boxes.XYXY, nil) })
	require.Panics(t, func() {
		NewLabelEncoder(boxes.XYXY, twoAnchors()).WithVariance([4]float64{0.1, 0, 0.2, 0.2})
	})
	// Inconsistent thresholds surface when encoding.
	require.Panics(t, func() {
		NewLabelEncoder(boxes.XYXY, twoAnchors()).
			WithNegativeThreshold(0.9).
			Encode(testImages(1), gt)
	})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	// Box targets decode back to the ground-truth box each anchor was
	// matched against.
	enc := NewLabelEncoder(boxes.XYXY, twoAnchors())
	gt := boxes.RaggedFromSlices(
		[][][]float32{{{0, 2.5, 10, 12.5}}},
		[][]float32{{4}},
	)
	boxTargets, _ := enc.Encode(testImages(1), gt)
	deltas := tensors.FromFlatDataAndDimensions(
		tensors.MustCopyFlatData[float32](boxTargets), 2, 4)
	decoded := boxes.DecodeDeltas(enc.Anchors(20, 20), deltas, boxes.XYXY, DefaultVariance)
	want := tensors.FromValue([][]float32{
		{0, 2.5, 10, 12.5},
		{0, 2.5, 10, 12.5},
	})
	assert.Truef(t, want.InDelta(decoded, 1e-4), "decoded to %s", decoded.GoStr())
}
