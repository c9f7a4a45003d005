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
	"github.com/gomlx/compute/dtypes/float16"
)

// castTensor converts t to the target dtype, returning t itself when it
// already matches. Values convert through float64, the widest type involved,
// so every supported dtype casts without intermediate precision loss.
func castTensor(t *tensors.Tensor, target dtypes.DType) *tensors.Tensor {
	if t.DType() == target {
		return t
	}
	return fromFloatValues(floatValues(t), t.Shape().Dimensions, target)
}

// floatValues reads t's flat data as float64, whatever its dtype.
func floatValues(t *tensors.Tensor) []float64 {
	out := make([]float64, t.Size())
	switch t.DType() {
	case dtypes.Float32:
		readFloatValues[float32](t, out)
	case dtypes.Float64:
		readFloatValues[float64](t, out)
	case dtypes.Int8:
		readFloatValues[int8](t, out)
	case dtypes.Int16:
		readFloatValues[int16](t, out)
	case dtypes.Int32:
		readFloatValues[int32](t, out)
	case dtypes.Int64:
		readFloatValues[int64](t, out)
	case dtypes.Uint8:
		readFloatValues[uint8](t, out)
	case dtypes.Uint16:
		readFloatValues[uint16](t, out)
	case dtypes.Uint32:
		readFloatValues[uint32](t, out)
	case dtypes.Uint64:
		readFloatValues[uint64](t, out)
	case dtypes.Float16:
		tensors.MustConstFlatData(t, func(flat []float16.Float16) {
			for i, v := range flat {
				out[i] = float64(v.Float32())
			}
		})
	case dtypes.BFloat16:
		tensors.MustConstFlatData(t, func(flat []bfloat16.BFloat16) {
			for i, v := range flat {
				out[i] = float64(v.Float32())
			}
		})
	default:
		exceptions.Panicf("augment: casting does not support dtype %s", t.DType())
	}
	return out
}

func readFloatValues[T dtypes.NumberNotComplex](t *tensors.Tensor, out []float64) {
	tensors.MustConstFlatData(t, func(flat []T) {
		for i, v := range flat {
			out[i] = float64(v)
		}
	})
}

// fromFloatValues builds a tensor of the given dtype and dimensions from
// float64 values.
func fromFloatValues(values []float64, dimensions []int, dtype dtypes.DType) *tensors.Tensor {
	switch dtype {
	case dtypes.Float32:
		return writeFloatValues[float32](values, dimensions)
	case dtypes.Float64:
		return writeFloatValues[float64](values, dimensions)
	case dtypes.Int8:
		return writeFloatValues[int8](values, dimensions)
	case dtypes.Int16:
		return writeFloatValues[int16](values, dimensions)
	case dtypes.Int32:
		return writeFloatValues[int32](values, dimensions)
	case dtypes.Int64:
		return writeFloatValues[int64](values, dimensions)
	case dtypes.Uint8:
		return writeFloatValues[uint8](values, dimensions)
	case dtypes.Uint16:
		return writeFloatValues[uint16](values, dimensions)
	case dtypes.Uint32:
		return writeFloatValues[uint32](values, dimensions)
	case dtypes.Uint64:
		return writeFloatValues[uint64](values, dimensions)
	case dtypes.Float16:
		data := make([]float16.Float16, len(values))
		for i, v := range values {
			data[i] = float16.FromFloat32(float32(v))
		}
		return tensors.FromFlatDataAndDimensions(data, dimensions...)
	case dtypes.BFloat16:
		data := make([]bfloat16.BFloat16, len(values))
		for i, v := range values {
			data[i] = bfloat16.FromFloat32(float32(v))
		}
		return tensors.FromFlatDataAndDimensions(data, dimensions...)
	}
	exceptions.Panicf("augment: casting does not support dtype %s", dtype)
	return nil
}

func writeFloatValues[T dtypes.NumberNotComplex](values []float64, dimensions []int) *tensors.Tensor {
	data := make([]T, len(values))
	for i, v := range values {
		data[i] = T(v)
	}
	return tensors.FromFlatDataAndDimensions(data, dimensions...)
}
