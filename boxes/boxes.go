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

// Package boxes manipulates bounding boxes for object-detection data
// pipelines: coordinate-format conversion, pairwise intersection-over-union,
// anchor-relative delta encoding and ragged (variable number of boxes per
// image) batches.
//
// Boxes live in *tensors.Tensor values of dtype Float32 or Float64 whose last
// axis has dimension 4. The meaning of the 4 coordinates is given explicitly
// by a Format value -- there is no auto-detection. Leading axes are preserved,
// so [numBoxes, 4] and [batchSize, numBoxes, 4] both work where not stated
// otherwise.
//
// All functions are host-side (pure Go), deterministic, and leave their input
// tensors unchanged. Invalid shapes, dtypes or formats panic with an error
// constructed with the exceptions package -- use exceptions.TryCatch to
// convert to an error where needed.
package boxes

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/compute/dtypes"
	"golang.org/x/exp/constraints"
)

// Format enumerates the supported bounding-box coordinate conventions.
//
// The x axis points right (width dimension of the image) and the y axis
// points down (height dimension), matching image tensor layout [height,
// width, channels].
type Format int

const (
	// XYXY is [left, top, right, bottom].
	XYXY Format = iota

	// XYWH is [left, top, width, height].
	XYWH

	// CenterXYWH is [centerX, centerY, width, height].
	CenterXYWH

	// YXYX is [top, left, bottom, right].
	YXYX

	numFormats
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case XYXY:
		return "xyxy"
	case XYWH:
		return "xywh"
	case CenterXYWH:
		return "center_xywh"
	case YXYX:
		return "yxyx"
	}
	return "invalid_format"
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	return f >= 0 && f < numFormats
}

// Convert returns a new tensor with the boxes in boxesT converted from one
// coordinate convention to another. Conversions round-trip exactly for
// coordinates representable in the tensor's dtype, except where a format pair
// forces a division by 2 (CenterXYWH) on odd coordinates in integer-valued
// data -- still exact for the float dtypes supported here.
//
// If from == to it returns an unchanged copy.
func Convert(boxesT *tensors.Tensor, from, to Format) *tensors.Tensor {
	validateBoxesTensor("boxes.Convert", boxesT)
	validateFormats("boxes.Convert", from, to)
	switch boxesT.DType() {
	case dtypes.Float32:
		return convertImpl[float32](boxesT, from, to)
	case dtypes.Float64:
		return convertImpl[float64](boxesT, from, to)
	}
	return nil // validateBoxesTensor excludes other dtypes.
}

func convertImpl[T float32 | float64](boxesT *tensors.Tensor, from, to Format) *tensors.Tensor {
	output := make([]T, boxesT.Size())
	tensors.MustConstFlatData(boxesT, func(flat []T) {
		for i := 0; i < len(flat); i += 4 {
			left, top, right, bottom := toCorners(from, flat[i], flat[i+1], flat[i+2], flat[i+3])
			output[i], output[i+1], output[i+2], output[i+3] = fromCorners(to, left, top, right, bottom)
		}
	})
	return tensors.FromFlatDataAndDimensions(output, boxesT.Shape().Dimensions...)
}

// toCorners maps one box from the given format to corner (XYXY) coordinates.
func toCorners[T constraints.Float](f Format, c0, c1, c2, c3 T) (left, top, right, bottom T) {
	switch f {
	case XYXY:
		return c0, c1, c2, c3
	case XYWH:
		return c0, c1, c0 + c2, c1 + c3
	case CenterXYWH:
		halfW, halfH := c2/2, c3/2
		return c0 - halfW, c1 - halfH, c0 + halfW, c1 + halfH
	case YXYX:
		return c1, c0, c3, c2
	}
	return
}

// fromCorners maps corner (XYXY) coordinates of one box to the given format.
func fromCorners[T constraints.Float](f Format, left, top, right, bottom T) (c0, c1, c2, c3 T) {
	switch f {
	case XYXY:
		return left, top, right, bottom
	case XYWH:
		return left, top, right - left, bottom - top
	case CenterXYWH:
		return (left + right) / 2, (top + bottom) / 2, right - left, bottom - top
	case YXYX:
		return top, left, bottom, right
	}
	return
}

// ToDType converts a Float32/Float64 tensor (boxes, classes or anchors) to
// the given dtype, one of the two this package supports. It returns the input
// unchanged when the dtype already matches.
func ToDType(t *tensors.Tensor, dtype dtypes.DType) *tensors.Tensor {
	if t == nil {
		exceptions.Panicf("boxes.ToDType got a nil tensor")
	}
	if t.DType() == dtype {
		return t
	}
	switch {
	case t.DType() == dtypes.Float32 && dtype == dtypes.Float64:
		return toDTypeImpl[float32, float64](t)
	case t.DType() == dtypes.Float64 && dtype == dtypes.Float32:
		return toDTypeImpl[float64, float32](t)
	}
	exceptions.Panicf("boxes.ToDType supports only Float32 and Float64, got %s to %s", t.DType(), dtype)
	return nil
}

func toDTypeImpl[F, T float32 | float64](t *tensors.Tensor) *tensors.Tensor {
	output := make([]T, t.Size())
	tensors.MustConstFlatData(t, func(flat []F) {
		for i, v := range flat {
			output[i] = T(v)
		}
	})
	return tensors.FromFlatDataAndDimensions(output, t.Shape().Dimensions...)
}

func validateBoxesTensor(fnName string, t *tensors.Tensor) {
	if t == nil {
		exceptions.Panicf("%s got a nil boxes tensor", fnName)
	}
	shape := t.Shape()
	if shape.Rank() < 1 || shape.Dimensions[shape.Rank()-1] != 4 {
		exceptions.Panicf("%s requires boxes with last axis dimension 4, got shape %s", fnName, shape)
	}
	if dtype := t.DType(); dtype != dtypes.Float32 && dtype != dtypes.Float64 {
		exceptions.Panicf("%s requires boxes dtype Float32 or Float64, got %s", fnName, dtype)
	}
}

func validateFormats(fnName string, formats ...Format) {
	for _, f := range formats {
		if !f.Valid() {
			exceptions.Panicf("%s got invalid box format %d", fnName, int(f))
		}
	}
}
