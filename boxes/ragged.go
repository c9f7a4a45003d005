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
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/compute/dtypes"
)

// PadValue fills the box coordinates and class ids of padding entries in
// dense ragged batches.
const PadValue = -1

// Ragged is a batch of ground-truth boxes with a variable number of boxes per
// sample. It is stored dense: boxes padded to [batchSize, maxBoxes, 4] and
// classes to [batchSize, maxBoxes] with PadValue, plus an explicit per-sample
// count of valid entries. Valid entries always come first within a sample.
//
// The dense tensors double as the "densified" form required by training
// pipelines (Dense), while Sample gives access to the valid prefix of
// individual samples.
type Ragged struct {
	boxes   *tensors.Tensor
	classes *tensors.Tensor
	counts  []int32
}

// RaggedFromSlices builds a Ragged batch from per-sample slices:
// boxesPerSample[i] lists the boxes of sample i, each box holding 4
// coordinates (in whatever Format the consumer expects), and
// classesPerSample[i] the aligned class ids. Samples may have zero boxes.
// The dense representation uses dtype Float32.
func RaggedFromSlices(boxesPerSample [][][]float32, classesPerSample [][]float32) *Ragged {
	if len(boxesPerSample) != len(classesPerSample) {
		exceptions.Panicf("boxes.RaggedFromSlices requires one class list per box list, got %d and %d samples",
			len(boxesPerSample), len(classesPerSample))
	}
	batchSize := len(boxesPerSample)
	maxBoxes := 0
	for i, sample := range boxesPerSample {
		if len(sample) != len(classesPerSample[i]) {
			exceptions.Panicf("boxes.RaggedFromSlices sample %d has %d boxes but %d classes",
				i, len(sample), len(classesPerSample[i]))
		}
		maxBoxes = max(maxBoxes, len(sample))
	}
	flatBoxes := xslices.SliceWithValue(batchSize*maxBoxes*4, float32(PadValue))
	flatClasses := xslices.SliceWithValue(batchSize*maxBoxes, float32(PadValue))
	counts := make([]int32, batchSize)
	for i, sample := range boxesPerSample {
		counts[i] = int32(len(sample))
		for j, box := range sample {
			if len(box) != 4 {
				exceptions.Panicf("boxes.RaggedFromSlices sample %d box %d has %d coordinates, want 4",
					i, j, len(box))
			}
			copy(flatBoxes[(i*maxBoxes+j)*4:], box)
			flatClasses[i*maxBoxes+j] = classesPerSample[i][j]
		}
	}
	return &Ragged{
		boxes:   tensors.FromFlatDataAndDimensions(flatBoxes, batchSize, maxBoxes, 4),
		classes: tensors.FromFlatDataAndDimensions(flatClasses, batchSize, maxBoxes),
		counts:  counts,
	}
}

// RaggedFromDense wraps already padded dense tensors: boxesT is [batchSize,
// maxBoxes, 4] and classesT is [batchSize, maxBoxes], both Float32 or Float64
// and padded with PadValue.
//
// counts gives the number of valid boxes per sample; pass nil to infer it as
// the length of the leading run of entries whose class is not PadValue.
func RaggedFromDense(boxesT, classesT *tensors.Tensor, counts []int32) *Ragged {
	validateBoxesTensor("boxes.RaggedFromDense", boxesT)
	if boxesT.Rank() != 3 {
		exceptions.Panicf("boxes.RaggedFromDense requires boxes shaped [batchSize, maxBoxes, 4], got %s",
			boxesT.Shape())
	}
	batchSize := boxesT.Shape().Dimensions[0]
	maxBoxes := boxesT.Shape().Dimensions[1]
	if classesT == nil {
		exceptions.Panicf("boxes.RaggedFromDense got nil classes: ground-truth requires both boxes and classes")
	}
	if classesT.Rank() != 2 || classesT.Shape().Dimensions[0] != batchSize ||
		classesT.Shape().Dimensions[1] != maxBoxes {
		exceptions.Panicf("boxes.RaggedFromDense requires classes shaped [%d, %d] to match boxes %s, got %s",
			batchSize, maxBoxes, boxesT.Shape(), classesT.Shape())
	}
	if classesT.DType() != boxesT.DType() {
		exceptions.Panicf("boxes.RaggedFromDense requires boxes and classes with the same dtype, got %s and %s",
			boxesT.DType(), classesT.DType())
	}
	if counts == nil {
		counts = inferCounts(classesT, batchSize, maxBoxes)
	} else {
		if len(counts) != batchSize {
			exceptions.Panicf("boxes.RaggedFromDense got %d counts for batch size %d", len(counts), batchSize)
		}
		for i, n := range counts {
			if n < 0 || int(n) > maxBoxes {
				exceptions.Panicf("boxes.RaggedFromDense count[%d]=%d outside [0, %d]", i, n, maxBoxes)
			}
		}
		counts = xslices.Copy(counts)
	}
	return &Ragged{boxes: boxesT, classes: classesT, counts: counts}
}

func inferCounts(classesT *tensors.Tensor, batchSize, maxBoxes int) []int32 {
	counts := make([]int32, batchSize)
	scan := func(isPad func(pos int) bool) {
		for i := range batchSize {
			n := 0
			for n < maxBoxes && !isPad(i*maxBoxes+n) {
				n++
			}
			counts[i] = int32(n)
		}
	}
	switch classesT.DType() {
	case dtypes.Float32:
		tensors.MustConstFlatData(classesT, func(flat []float32) {
			scan(func(pos int) bool { return flat[pos] == PadValue })
		})
	case dtypes.Float64:
		tensors.MustConstFlatData(classesT, func(flat []float64) {
			scan(func(pos int) bool { return flat[pos] == PadValue })
		})
	}
	return counts
}

// Len returns the batch size.
func (r *Ragged) Len() int { return len(r.counts) }

// MaxBoxes returns the padded (maximum) number of boxes per sample.
func (r *Ragged) MaxBoxes() int { return r.boxes.Shape().Dimensions[1] }

// NumBoxes returns the number of valid boxes of the given sample.
func (r *Ragged) NumBoxes(sample int) int { return int(r.counts[sample]) }

// Counts returns the per-sample valid box counts. The returned slice is
// owned by the Ragged, don't modify it.
func (r *Ragged) Counts() []int32 { return r.counts }

// DType returns the dtype of the underlying dense tensors.
func (r *Ragged) DType() dtypes.DType { return r.boxes.DType() }

// Dense returns the padded dense tensors backing the batch: boxes
// [batchSize, maxBoxes, 4] and classes [batchSize, maxBoxes], padded with
// PadValue. The tensors are owned by the Ragged, don't modify them.
func (r *Ragged) Dense() (boxesT, classesT *tensors.Tensor) {
	return r.boxes, r.classes
}

// Sample returns copies of the valid prefix of the given sample: boxes
// [numBoxes, 4] and classes [numBoxes]. Zero-box samples return empty (but
// valid) tensors.
func (r *Ragged) Sample(sample int) (boxesT, classesT *tensors.Tensor) {
	if sample < 0 || sample >= r.Len() {
		exceptions.Panicf("boxes.Ragged.Sample index %d outside batch of size %d", sample, r.Len())
	}
	switch r.DType() {
	case dtypes.Float32:
		return sampleImpl[float32](r, sample)
	case dtypes.Float64:
		return sampleImpl[float64](r, sample)
	}
	return nil, nil
}

func sampleImpl[T float32 | float64](r *Ragged, sample int) (boxesT, classesT *tensors.Tensor) {
	n := r.NumBoxes(sample)
	maxBoxes := r.MaxBoxes()
	boxesOut := make([]T, n*4)
	classesOut := make([]T, n)
	tensors.MustConstFlatData(r.boxes, func(flat []T) {
		copy(boxesOut, flat[sample*maxBoxes*4:sample*maxBoxes*4+n*4])
	})
	tensors.MustConstFlatData(r.classes, func(flat []T) {
		copy(classesOut, flat[sample*maxBoxes:sample*maxBoxes+n])
	})
	return tensors.FromFlatDataAndDimensions(boxesOut, n, 4),
		tensors.FromFlatDataAndDimensions(classesOut, n)
}
