/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package augment

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/compute/dtypes"
	"github.com/gomlx/compute/dtypes/bfloat16"
	"github.com/gomlx/vision/boxes"
	"github.com/gomlx/compute/dtypes/float16"
	"golang.org/x/exp/constraints"
)

// FlipImage mirrors a [height, width, channels] image (or mask) tensor along
// the axes selected by state. It is a pure element move -- no interpolation,
// no resampling -- so it is safe for nearest-neighbor data like segmentation
// masks, and flipping twice restores the original exactly.
//
// All numeric dtypes are supported. The result is a new tensor of the same
// shape and dtype.
func FlipImage(imageT *tensors.Tensor, state FlipState) *tensors.Tensor {
	if imageT == nil || imageT.Rank() != 3 {
		exceptions.Panicf("augment.FlipImage requires a [height, width, channels] tensor, got %v", imageT)
	}
	dims := imageT.Shape().Dimensions
	return flipSpatial(imageT, []FlipState{state}, dims[0], dims[1], dims[2])
}

// flipImageBatch mirrors each sample of a [batchSize, height, width,
// channels] tensor according to its own FlipState.
func flipImageBatch(imagesT *tensors.Tensor, states []FlipState) *tensors.Tensor {
	dims := imagesT.Shape().Dimensions
	return flipSpatial(imagesT, states, dims[1], dims[2], dims[3])
}

// flipSpatial treats t's flat data as len(states) consecutive [height, width,
// channels] blocks and mirrors each according to its state.
func flipSpatial(t *tensors.Tensor, states []FlipState, height, width, channels int) *tensors.Tensor {
	switch t.DType() {
	case dtypes.Float32:
		return flipSpatialGenericsImpl[float32](t, states, height, width, channels)
	case dtypes.Float64:
		return flipSpatialGenericsImpl[float64](t, states, height, width, channels)
	case dtypes.Int8:
		return flipSpatialGenericsImpl[int8](t, states, height, width, channels)
	case dtypes.Int16:
		return flipSpatialGenericsImpl[int16](t, states, height, width, channels)
	case dtypes.Int32:
		return flipSpatialGenericsImpl[int32](t, states, height, width, channels)
	case dtypes.Int64:
		return flipSpatialGenericsImpl[int64](t, states, height, width, channels)
	case dtypes.Uint8:
		return flipSpatialGenericsImpl[uint8](t, states, height, width, channels)
	case dtypes.Uint16:
		return flipSpatialGenericsImpl[uint16](t, states, height, width, channels)
	case dtypes.Uint32:
		return flipSpatialGenericsImpl[uint32](t, states, height, width, channels)
	case dtypes.Uint64:
		return flipSpatialGenericsImpl[uint64](t, states, height, width, channels)
	case dtypes.Float16:
		return flipSpatialGenericsImpl[float16.Float16](t, states, height, width, channels)
	case dtypes.BFloat16:
		return flipSpatialGenericsImpl[bfloat16.BFloat16](t, states, height, width, channels)
	}
	exceptions.Panicf("augment: flipping images does not support dtype %s", t.DType())
	return nil
}

func flipSpatialGenericsImpl[T dtypes.NumberNotComplex | float16.Float16 | bfloat16.BFloat16](
	t *tensors.Tensor, states []FlipState, height, width, channels int) *tensors.Tensor {
	sampleSize := height * width * channels
	output := make([]T, t.Size())
	tensors.MustConstFlatData(t, func(flat []T) {
		for i, state := range states {
			flipHW(flat[i*sampleSize:(i+1)*sampleSize], output[i*sampleSize:(i+1)*sampleSize],
				height, width, channels, state)
		}
	})
	return tensors.FromFlatDataAndDimensions(output, t.Shape().Dimensions...)
}

// flipHW writes into dst the mirror of src along the selected axes. Both are
// flat [height, width, channels] buffers.
func flipHW[T dtypes.NumberNotComplex | float16.Float16 | bfloat16.BFloat16](
	src, dst []T, height, width, channels int, state FlipState) {
	rowSize := width * channels
	for y := range height {
		srcY := y
		if state.Vertical {
			srcY = height - 1 - y
		}
		dstRow := dst[y*rowSize : (y+1)*rowSize]
		srcRow := src[srcY*rowSize : (srcY+1)*rowSize]
		if !state.Horizontal {
			copy(dstRow, srcRow)
			continue
		}
		for x := range width {
			srcX := width - 1 - x
			copy(dstRow[x*channels:(x+1)*channels], srcRow[srcX*channels:(srcX+1)*channels])
		}
	}
}

// FlipBoxes mirrors [numBoxes, 4] boxes within an image of the given size,
// along the axes selected by state. Boxes are given and returned in the
// specified format: only the coordinates that reference a flipped axis
// change, the orthogonal ones are returned bit-identical. Mirroring is an
// involution, so applying the same state twice restores the input.
//
// Coordinates are mirrored as newMin = size - oldMax (and newMax = size -
// oldMin), with size the image width for horizontal flips and the height for
// vertical ones. Width/height components of XYWH and CenterXYWH boxes are
// never touched.
func FlipBoxes(boxesT *tensors.Tensor, state FlipState, format boxes.Format, height, width int) *tensors.Tensor {
	if boxesT == nil || boxesT.Rank() != 2 || boxesT.Shape().Dimensions[1] != 4 {
		exceptions.Panicf("augment.FlipBoxes requires a [numBoxes, 4] tensor, got %v", boxesT)
	}
	if !format.Valid() {
		exceptions.Panicf("augment.FlipBoxes got invalid box format %d", int(format))
	}
	numBoxes := boxesT.Shape().Dimensions[0]
	states := []FlipState{state}
	counts := []int32{int32(numBoxes)}
	switch boxesT.DType() {
	case dtypes.Float32:
		return flipBoxesGenericsImpl[float32](boxesT, states, format, height, width, counts, numBoxes)
	case dtypes.Float64:
		return flipBoxesGenericsImpl[float64](boxesT, states, format, height, width, counts, numBoxes)
	}
	exceptions.Panicf("augment.FlipBoxes requires boxes dtype Float32 or Float64, got %s", boxesT.DType())
	return nil
}

// flipBoxesDense mirrors the first counts[s] rows of each sample in a dense
// [batchSize, maxBoxes, 4] tensor, leaving padding rows untouched. All
// samples share the same image size.
func flipBoxesDense(boxesT *tensors.Tensor, states []FlipState, format boxes.Format,
	height, width int, counts []int32) *tensors.Tensor {
	maxBoxes := boxesT.Shape().Dimensions[1]
	switch boxesT.DType() {
	case dtypes.Float32:
		return flipBoxesGenericsImpl[float32](boxesT, states, format, height, width, counts, maxBoxes)
	case dtypes.Float64:
		return flipBoxesGenericsImpl[float64](boxesT, states, format, height, width, counts, maxBoxes)
	}
	exceptions.Panicf("augment: flipping boxes requires dtype Float32 or Float64, got %s", boxesT.DType())
	return nil
}

func flipBoxesGenericsImpl[T float32 | float64](boxesT *tensors.Tensor, states []FlipState,
	format boxes.Format, height, width int, counts []int32, maxBoxes int) *tensors.Tensor {
	flat := tensors.MustCopyFlatData[T](boxesT)
	for s, state := range states {
		if !state.Horizontal && !state.Vertical {
			continue
		}
		base := s * maxBoxes * 4
		for n := range int(counts[s]) {
			row := flat[base+n*4 : base+n*4+4]
			mirrorBoxRow(row, state, format, height, width)
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, boxesT.Shape().Dimensions...)
}

// mirrorBoxRow flips one box row in place, in its native format.
func mirrorBoxRow[T constraints.Float](row []T, state FlipState, format boxes.Format, height, width int) {
	w, h := T(width), T(height)
	switch format {
	case boxes.XYXY:
		if state.Horizontal {
			row[0], row[2] = w-row[2], w-row[0]
		}
		if state.Vertical {
			row[1], row[3] = h-row[3], h-row[1]
		}
	case boxes.XYWH:
		if state.Horizontal {
			row[0] = w - row[0] - row[2]
		}
		if state.Vertical {
			row[1] = h - row[1] - row[3]
		}
	case boxes.CenterXYWH:
		if state.Horizontal {
			row[0] = w - row[0]
		}
		if state.Vertical {
			row[1] = h - row[1]
		}
	case boxes.YXYX:
		if state.Horizontal {
			row[1], row[3] = w-row[3], w-row[1]
		}
		if state.Vertical {
			row[0], row[2] = h-row[2], h-row[0]
		}
	}
}
