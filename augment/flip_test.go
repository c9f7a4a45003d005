package augment

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/compute/dtypes/bfloat16"
	"github.com/gomlx/vision/boxes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/gomlx/compute/dtypes/float16"
)

func TestFlipImage(t *testing.T) {
	// 2x3 image, one channel:
	//	1 2 3
	//	4 5 6
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3, 1)
	testCases := []struct {
		name  string
		state FlipState
		want  []float32
	}{
		{"none", FlipState{}, []float32{1, 2, 3, 4, 5, 6}},
		{"horizontal", FlipState{Horizontal: true}, []float32{3, 2, 1, 6, 5, 4}},
		{"vertical", FlipState{Vertical: true}, []float32{4, 5, 6, 1, 2, 3}},
		{"both", FlipState{Horizontal: true, Vertical: true}, []float32{6, 5, 4, 3, 2, 1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := FlipImage(input, tc.state)
			require.Equal(t, input.Shape().Dimensions, got.Shape().Dimensions)
			assert.Equal(t, tc.want, tensors.MustCopyFlatData[float32](got))
		})
	}
}

func TestFlipImageChannelsMoveTogether(t *testing.T) {
	// 1x2 image with 3 channels: pixels (1,2,3) and (4,5,6).
	input := tensors.FromFlatDataAndDimensions([]uint8{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	got := FlipImage(input, FlipState{Horizontal: true})
	assert.Equal(t, []uint8{4, 5, 6, 1, 2, 3}, tensors.MustCopyFlatData[uint8](got))
}

func TestFlipImageInvolution(t *testing.T) {
	input := tensors.FromValue([][][]float64{
		{{1, 10}, {2, 20}, {3, 30}},
		{{4, 40}, {5, 50}, {6, 60}},
		{{7, 70}, {8, 80}, {9, 90}},
	})
	for _, state := range []FlipState{
		{Horizontal: true},
		{Vertical: true},
		{Horizontal: true, Vertical: true},
	} {
		twice := FlipImage(FlipImage(input, state), state)
		require.Truef(t, input.Equal(twice), "flipping twice with %+v changed the image", state)
	}
}

func TestFlipImageHalfDTypes(t *testing.T) {
	f16 := tensors.FromFlatDataAndDimensions([]float16.Float16{
		float16.FromFloat32(1), float16.FromFloat32(2)}, 1, 2, 1)
	got := FlipImage(f16, FlipState{Horizontal: true})
	assert.Equal(t, float32(2), tensors.MustCopyFlatData[float16.Float16](got)[0].Float32())

	bf16 := tensors.FromFlatDataAndDimensions([]bfloat16.BFloat16{
		bfloat16.FromFloat32(1), bfloat16.FromFloat32(2)}, 2, 1, 1)
	got = FlipImage(bf16, FlipState{Vertical: true})
	assert.Equal(t, float32(2), tensors.MustCopyFlatData[bfloat16.BFloat16](got)[0].Float32())
}

func TestFlipImageValidation(t *testing.T) {
	require.Panics(t, func() { FlipImage(nil, FlipState{Horizontal: true}) })
	require.Panics(t, func() {
		FlipImage(tensors.FromValue([][]float32{{1, 2}}), FlipState{Horizontal: true})
	})
}

func TestFlipBoxes(t *testing.T) {
	// The same box -- corners (2, 3) to (10, 15) -- inside a 20x20 image, in
	// every format, flipped along both axes.
	testCases := []struct {
		format      boxes.Format
		input, want []float32
	}{
		{boxes.XYXY, []float32{2, 3, 10, 15}, []float32{10, 5, 18, 17}},
		{boxes.XYWH, []float32{2, 3, 8, 12}, []float32{10, 5, 8, 12}},
		{boxes.CenterXYWH, []float32{6, 9, 8, 12}, []float32{14, 11, 8, 12}},
		{boxes.YXYX, []float32{3, 2, 15, 10}, []float32{5, 10, 17, 18}},
	}
	both := FlipState{Horizontal: true, Vertical: true}
	for _, tc := range testCases {
		t.Run(tc.format.String(), func(t *testing.T) {
			input := tensors.FromFlatDataAndDimensions(tc.input, 1, 4)
			got := FlipBoxes(input, both, tc.format, 20, 20)
			assert.Equal(t, tc.want, tensors.MustCopyFlatData[float32](got))
		})
	}
}

func TestFlipBoxesSingleAxis(t *testing.T) {
	input := tensors.FromValue([][]float64{{2, 3, 10, 15}})
	horizontal := FlipBoxes(input, FlipState{Horizontal: true}, boxes.XYXY, 20, 20)
	assert.Equal(t, []float64{10, 3, 18, 15}, tensors.MustCopyFlatData[float64](horizontal))
	vertical := FlipBoxes(input, FlipState{Vertical: true}, boxes.XYXY, 20, 20)
	assert.Equal(t, []float64{2, 5, 10, 17}, tensors.MustCopyFlatData[float64](vertical))
}

func TestFlipBoxesOrthogonalCoordinatesUntouched(t *testing.T) {
	// 0.3 is not exactly representable, so any recomputation of the
	// orthogonal coordinates would show up as a bit difference.
	input := tensors.FromValue([][]float32{{2.5, 0.3, 10.5, 14.7}})
	got := FlipBoxes(input, FlipState{Horizontal: true}, boxes.XYXY, 20, 20)
	flat := tensors.MustCopyFlatData[float32](got)
	assert.Equal(t, float32(0.3), flat[1])
	assert.Equal(t, float32(14.7), flat[3])
}

func TestFlipBoxesInvolution(t *testing.T) {
	input := tensors.FromValue([][]float32{{2, 3, 10, 15}, {0, 0, 20, 20}, {7.5, 1.25, 8, 19}})
	for _, format := range []boxes.Format{boxes.XYXY, boxes.XYWH, boxes.CenterXYWH, boxes.YXYX} {
		for _, state := range []FlipState{
			{Horizontal: true},
			{Vertical: true},
			{Horizontal: true, Vertical: true},
		} {
			boxesIn := boxes.Convert(input, boxes.XYXY, format)
			twice := FlipBoxes(FlipBoxes(boxesIn, state, format, 20, 20), state, format, 20, 20)
			require.Truef(t, boxesIn.Equal(twice),
				"flipping twice with %+v in format %s changed the boxes", state, format)
		}
	}
}

func TestFlipBoxesEmpty(t *testing.T) {
	empty := tensors.FromFlatDataAndDimensions([]float32{}, 0, 4)
	got := FlipBoxes(empty, FlipState{Horizontal: true}, boxes.XYXY, 20, 20)
	assert.Equal(t, []int{0, 4}, got.Shape().Dimensions)
}

func TestFlipBoxesValidation(t *testing.T) {
	require.Panics(t, func() { FlipBoxes(nil, FlipState{}, boxes.XYXY, 20, 20) })
	require.Panics(t, func() {
		FlipBoxes(tensors.FromValue([]float32{1, 2, 3, 4}), FlipState{}, boxes.XYXY, 20, 20)
	})
	require.Panics(t, func() {
		FlipBoxes(tensors.FromValue([][]float32{{1, 2, 3, 4}}), FlipState{}, boxes.Format(99), 20, 20)
	})
	require.Panics(t, func() {
		FlipBoxes(tensors.FromValue([][]int32{{1, 2, 3, 4}}), FlipState{}, boxes.XYXY, 20, 20)
	})
}
