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
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/compute/dtypes"
	"golang.org/x/exp/constraints"
)

// EncodeDeltas returns the anchor-relative regression targets for boxesT:
// for each box/anchor pair, the center offset scaled by the anchor size and
// the log of the size ratio, each divided by the corresponding variance
// entry:
//
//	(Δcx/aw/v0, Δcy/ah/v1, log(bw/aw)/v2, log(bh/ah)/v3)
//
// anchorsT and boxesT must have identical shapes [..., 4], the same dtype and
// both be expressed in format. A box identical to its anchor encodes to all
// zeros.
//
// Degenerate rows -- zero or negative sizes, as produced by matching against
// -1 padding -- yield non-finite deltas (NaN or ±Inf). They are returned
// as-is; callers that build training targets are expected to replace such
// rows (see the retinanet package).
func EncodeDeltas(anchorsT, boxesT *tensors.Tensor, format Format, variance [4]float64) *tensors.Tensor {
	validateDeltasArgs("boxes.EncodeDeltas", anchorsT, boxesT, format)
	switch boxesT.DType() {
	case dtypes.Float32:
		return encodeDeltasImpl[float32](anchorsT, boxesT, format, variance)
	case dtypes.Float64:
		return encodeDeltasImpl[float64](anchorsT, boxesT, format, variance)
	}
	return nil
}

// DecodeDeltas inverts EncodeDeltas: given anchors and encoded deltas it
// reconstructs the boxes in the given format. Same shape/dtype requirements
// as EncodeDeltas.
func DecodeDeltas(anchorsT, deltasT *tensors.Tensor, format Format, variance [4]float64) *tensors.Tensor {
	validateDeltasArgs("boxes.DecodeDeltas", anchorsT, deltasT, format)
	switch deltasT.DType() {
	case dtypes.Float32:
		return decodeDeltasImpl[float32](anchorsT, deltasT, format, variance)
	case dtypes.Float64:
		return decodeDeltasImpl[float64](anchorsT, deltasT, format, variance)
	}
	return nil
}

func encodeDeltasImpl[T float32 | float64](anchorsT, boxesT *tensors.Tensor, format Format, variance [4]float64) *tensors.Tensor {
	output := make([]T, boxesT.Size())
	tensors.MustConstFlatData(anchorsT, func(anchorsFlat []T) {
		tensors.MustConstFlatData(boxesT, func(boxesFlat []T) {
			for i := 0; i < len(boxesFlat); i += 4 {
				acx, acy, aw, ah := centerOf(format, anchorsFlat[i], anchorsFlat[i+1], anchorsFlat[i+2], anchorsFlat[i+3])
				bcx, bcy, bw, bh := centerOf(format, boxesFlat[i], boxesFlat[i+1], boxesFlat[i+2], boxesFlat[i+3])
				output[i] = T((float64(bcx) - float64(acx)) / float64(aw) / variance[0])
				output[i+1] = T((float64(bcy) - float64(acy)) / float64(ah) / variance[1])
				output[i+2] = T(math.Log(float64(bw)/float64(aw)) / variance[2])
				output[i+3] = T(math.Log(float64(bh)/float64(ah)) / variance[3])
			}
		})
	})
	return tensors.FromFlatDataAndDimensions(output, boxesT.Shape().Dimensions...)
}

func decodeDeltasImpl[T float32 | float64](anchorsT, deltasT *tensors.Tensor, format Format, variance [4]float64) *tensors.Tensor {
	output := make([]T, deltasT.Size())
	tensors.MustConstFlatData(anchorsT, func(anchorsFlat []T) {
		tensors.MustConstFlatData(deltasT, func(deltasFlat []T) {
			for i := 0; i < len(deltasFlat); i += 4 {
				acx, acy, aw, ah := centerOf(format, anchorsFlat[i], anchorsFlat[i+1], anchorsFlat[i+2], anchorsFlat[i+3])
				cx := float64(acx) + float64(deltasFlat[i])*variance[0]*float64(aw)
				cy := float64(acy) + float64(deltasFlat[i+1])*variance[1]*float64(ah)
				w := float64(aw) * math.Exp(float64(deltasFlat[i+2])*variance[2])
				h := float64(ah) * math.Exp(float64(deltasFlat[i+3])*variance[3])
				c0, c1, c2, c3 := fromCorners(format, T(cx-w/2), T(cy-h/2), T(cx+w/2), T(cy+h/2))
				output[i], output[i+1], output[i+2], output[i+3] = c0, c1, c2, c3
			}
		})
	})
	return tensors.FromFlatDataAndDimensions(output, deltasT.Shape().Dimensions...)
}

// centerOf maps one box from the given format to center coordinates plus
// sizes.
func centerOf[T constraints.Float](f Format, c0, c1, c2, c3 T) (cx, cy, w, h T) {
	left, top, right, bottom := toCorners(f, c0, c1, c2, c3)
	return (left + right) / 2, (top + bottom) / 2, right - left, bottom - top
}

func validateDeltasArgs(fnName string, anchorsT, otherT *tensors.Tensor, format Format) {
	validateBoxesTensor(fnName, anchorsT)
	validateBoxesTensor(fnName, otherT)
	validateFormats(fnName, format)
	if !anchorsT.Shape().Equal(otherT.Shape()) {
		exceptions.Panicf("%s requires anchors and boxes with identical shapes, got %s and %s",
			fnName, anchorsT.Shape(), otherT.Shape())
	}
}
