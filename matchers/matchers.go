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

// Package matchers assigns each anchor box to its best ground-truth box given
// a similarity matrix (typically IoU, see the boxes package), bucketing the
// match quality with configurable thresholds. It implements the argmax
// matching strategy used by single-stage detectors.
package matchers

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/compute/dtypes"
)

// Match quality labels produced by ArgmaxMatcher.
const (
	// Negative marks anchors whose best similarity is below the negative
	// threshold: they train as background.
	Negative int32 = -1

	// Ignore marks anchors whose best similarity falls between the two
	// thresholds: they are excluded from the loss.
	Ignore int32 = -2

	// Positive marks anchors whose best similarity reaches the positive
	// threshold: they train against their matched ground-truth box.
	Positive int32 = 1
)

// ArgmaxMatcher matches each row of a similarity matrix (anchor) to its
// best-scoring column (ground-truth box) and buckets the best score into a
// match quality label. Create it with NewArgmaxMatcher.
type ArgmaxMatcher struct {
	thresholds  []float64
	matchValues []int32
	forceMatch  bool
}

// NewArgmaxMatcher returns a matcher that labels a row Negative when its best
// similarity is strictly below negativeThreshold, Positive when at or above
// positiveThreshold, and Ignore in between.
func NewArgmaxMatcher(negativeThreshold, positiveThreshold float64) *ArgmaxMatcher {
	if negativeThreshold > positiveThreshold {
		exceptions.Panicf("matchers.NewArgmaxMatcher requires negativeThreshold <= positiveThreshold, got %g > %g",
			negativeThreshold, positiveThreshold)
	}
	return &ArgmaxMatcher{
		thresholds:  []float64{negativeThreshold, positiveThreshold},
		matchValues: []int32{Negative, Ignore, Positive},
	}
}

// WithForceMatchForEachColumn configures whether every column (ground-truth
// box) is guaranteed a match: when enabled, after the threshold pass each
// column's best row is relabeled Positive and pointed at that column. When
// disabled -- the default -- ground-truth boxes whose best similarity lands
// below the positive threshold stay unmatched.
// It returns the matcher to allow cascaded configuration calls.
func (m *ArgmaxMatcher) WithForceMatchForEachColumn(enabled bool) *ArgmaxMatcher {
	m.forceMatch = enabled
	return m
}

// Match takes a [numRows, numColumns] similarity matrix (Float32 or Float64)
// and returns two Int32 tensors shaped [numRows]: matchedCols with the
// best-scoring column per row (first maximum wins on ties), and matchedVals
// with the quality label of that score.
//
// A matrix with zero columns yields matchedCols of zeros -- an invalid index
// the caller must treat as a sentinel -- and all-Negative matchedVals.
func (m *ArgmaxMatcher) Match(similarity *tensors.Tensor) (matchedCols, matchedVals *tensors.Tensor) {
	if similarity == nil || similarity.Rank() != 2 {
		exceptions.Panicf("matchers.Match requires a [numRows, numColumns] similarity matrix, got %v", similarity)
	}
	switch similarity.DType() {
	case dtypes.Float32:
		return matchImpl[float32](m, similarity)
	case dtypes.Float64:
		return matchImpl[float64](m, similarity)
	default:
		exceptions.Panicf("matchers.Match requires a Float32 or Float64 similarity matrix, got dtype %s",
			similarity.DType())
	}
	return
}

func matchImpl[T float32 | float64](m *ArgmaxMatcher, similarity *tensors.Tensor) (matchedCols, matchedVals *tensors.Tensor) {
	numRows := similarity.Shape().Dimensions[0]
	numCols := similarity.Shape().Dimensions[1]
	cols := make([]int32, numRows)
	vals := make([]int32, numRows)
	if numRows == 0 || numCols == 0 {
		xslices.FillSlice(vals, m.matchValues[0])
		return tensors.FromFlatDataAndDimensions(cols, numRows),
			tensors.FromFlatDataAndDimensions(vals, numRows)
	}
	tensors.MustConstFlatData(similarity, func(flat []T) {
		for i := range numRows {
			row := flat[i*numCols : (i+1)*numCols]
			bestCol := 0
			bestScore := row[0]
			for j := 1; j < numCols; j++ {
				if row[j] > bestScore {
					bestCol, bestScore = j, row[j]
				}
			}
			cols[i] = int32(bestCol)
			vals[i] = m.bucket(float64(bestScore))
		}
		if m.forceMatch {
			for j := range numCols {
				bestRow := 0
				bestScore := flat[j]
				for i := 1; i < numRows; i++ {
					if flat[i*numCols+j] > bestScore {
						bestRow, bestScore = i, flat[i*numCols+j]
					}
				}
				cols[bestRow] = int32(j)
				vals[bestRow] = m.matchValues[len(m.matchValues)-1]
			}
		}
	})
	return tensors.FromFlatDataAndDimensions(cols, numRows),
		tensors.FromFlatDataAndDimensions(vals, numRows)
}

func (m *ArgmaxMatcher) bucket(score float64) int32 {
	for k, threshold := range m.thresholds {
		if score < threshold {
			return m.matchValues[k]
		}
	}
	return m.matchValues[len(m.matchValues)-1]
}
