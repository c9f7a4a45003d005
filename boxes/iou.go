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

package boxes

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/compute/dtypes"
)

// IoU returns the pairwise intersection-over-union matrix between two sets of
// boxes: a is [numA, 4], b is [numB, 4], both in the given format and with the
// same dtype, and the result is [numA, numB] with values in [0, 1].
//
// A pair where either box has non-positive area scores 0. Empty inputs (numA
// or numB == 0) yield an empty matrix, not an error.
func IoU(a, b *tensors.Tensor, format Format) *tensors.Tensor {
	validateBoxesTensor("boxes.IoU", a)
	validateBoxesTensor("boxes.IoU", b)
	validateFormats("boxes.IoU", format)
	if a.Rank() != 2 || b.Rank() != 2 {
		exceptions.Panicf("boxes.IoU requires [numBoxes, 4] operands, got shapes %s and %s",
			a.Shape(), b.Shape())
	}
	if a.DType() != b.DType() {
		exceptions.Panicf("boxes.IoU requires operands with the same dtype, got %s and %s",
			a.DType(), b.DType())
	}
	switch a.DType() {
	case dtypes.Float32:
		return iouImpl[float32](a, b, format)
	case dtypes.Float64:
		return iouImpl[float64](a, b, format)
	}
	return nil
}

func iouImpl[T float32 | float64](a, b *tensors.Tensor, format Format) *tensors.Tensor {
	numA := a.Shape().Dimensions[0]
	numB := b.Shape().Dimensions[0]
	cornersA := cornersOf[T](a, format)
	cornersB := cornersOf[T](b, format)
	output := make([]T, numA*numB)
	for i := range numA {
		aLeft, aTop, aRight, aBottom := cornersA[4*i], cornersA[4*i+1], cornersA[4*i+2], cornersA[4*i+3]
		areaA := (aRight - aLeft) * (aBottom - aTop)
		for j := range numB {
			bLeft, bTop, bRight, bBottom := cornersB[4*j], cornersB[4*j+1], cornersB[4*j+2], cornersB[4*j+3]
			areaB := (bRight - bLeft) * (bBottom - bTop)
			if areaA <= 0 || areaB <= 0 {
				continue
			}
			interW := min(aRight, bRight) - max(aLeft, bLeft)
			interH := min(aBottom, bBottom) - max(aTop, bTop)
			if interW <= 0 || interH <= 0 {
				continue
			}
			inter := interW * interH
			output[i*numB+j] = inter / (areaA + areaB - inter)
		}
	}
	return tensors.FromFlatDataAndDimensions(output, numA, numB)
}

// cornersOf returns the boxes of t converted to corner (XYXY) coordinates as
// a flat slice of 4 values per box.
func cornersOf[T float32 | float64](t *tensors.Tensor, format Format) []T {
	corners := make([]T, t.Size())
	tensors.MustConstFlatData(t, func(flat []T) {
		for i := 0; i < len(flat); i += 4 {
			corners[i], corners[i+1], corners[i+2], corners[i+3] =
				toCorners(format, flat[i], flat[i+1], flat[i+2], flat[i+3])
		}
	})
	return corners
}
