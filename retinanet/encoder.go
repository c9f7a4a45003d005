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

// Package retinanet builds training targets for RetinaNet-style one-stage
// object detectors: it matches multi-scale anchors against ground-truth boxes
// by intersection-over-union and turns the matches into dense per-anchor
// regression and classification targets.
//
// The core type is LabelEncoder:
//
//	gen := anchors.NewPyramid(3, 7)
//	enc := retinanet.NewLabelEncoder(boxes.XYXY, gen).
//		WithObserver(retinanet.NewMatchedBoxesMetric())
//	boxTargets, classTargets := enc.Encode(images, groundTruth)
//
// Every anchor receives a target row: variance-scaled box deltas (see
// boxes.EncodeDeltas) plus a classification target -- the matched class id
// for positively matched anchors, the background class for negative ones and
// the ignore class for anchors whose best overlap falls between the negative
// and positive thresholds. Ground truth is given as a boxes.Ragged batch, so
// samples may have any number of boxes, including none.
//
// Dataset plugs the encoder into a training input pipeline, and SaveDataset /
// SavedDataset stream pre-encoded targets through disk so the matching cost
// is paid once rather than once per epoch.
package retinanet

import (
	"math"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/compute/dtypes"
	"github.com/gomlx/vision/anchors"
	"github.com/gomlx/vision/boxes"
	"github.com/gomlx/vision/matchers"
	"golang.org/x/exp/constraints"
)

// DefaultVariance holds the standard RetinaNet scaling factors for the box
// regression targets: centers scaled by 0.1, sizes by 0.2.
var DefaultVariance = [4]float64{0.1, 0.1, 0.2, 0.2}

// LabelEncoder transforms raw object-detection labels into per-anchor
// training targets. Create it with NewLabelEncoder and configure with the
// WithX methods; it is safe for concurrent use once configured.
type LabelEncoder struct {
	format            boxes.Format
	generator         anchors.Generator
	positiveThreshold float64
	negativeThreshold float64
	forceMatch        bool
	variance          [4]float64
	backgroundClass   float64
	ignoreClass       float64
	observer          MatchObserver

	mu          sync.Mutex
	anchorCache map[[2]int]*tensors.Tensor
}

// NewLabelEncoder creates a LabelEncoder for ground-truth boxes expressed in
// the given format, matching them against the anchors produced by generator.
//
// Defaults: positive threshold 0.5, negative threshold 0.4, variance
// DefaultVariance, background class -1, ignore class -2, no observer.
func NewLabelEncoder(format boxes.Format, generator anchors.Generator) *LabelEncoder {
	if !format.Valid() {
		exceptions.Panicf("retinanet.NewLabelEncoder got invalid box format %d", int(format))
	}
	if generator == nil {
		exceptions.Panicf("retinanet.NewLabelEncoder requires an anchor generator")
	}
	return &LabelEncoder{
		format:            format,
		generator:         generator,
		positiveThreshold: 0.5,
		negativeThreshold: 0.4,
		variance:          DefaultVariance,
		backgroundClass:   -1,
		ignoreClass:       -2,
		anchorCache:       make(map[[2]int]*tensors.Tensor),
	}
}

// WithPositiveThreshold sets the IoU at or above which an anchor is a
// positive match. It returns the LabelEncoder to allow cascaded
// configuration calls.
func (e *LabelEncoder) WithPositiveThreshold(threshold float64) *LabelEncoder {
	e.positiveThreshold = threshold
	return e
}

// WithNegativeThreshold sets the IoU below which an anchor is a negative
// (background) match; anchors between the two thresholds are ignored by the
// losses. It returns the LabelEncoder to allow cascaded configuration calls.
func (e *LabelEncoder) WithNegativeThreshold(threshold float64) *LabelEncoder {
	e.negativeThreshold = threshold
	return e
}

// WithForceMatchForEachColumn forces every ground-truth box to claim its best
// anchor as a positive match even when the overlap is below the positive
// threshold. Disabled by default: small boxes then simply go unmatched,
// which keeps targets cleaner but leaves them untrained -- watch the
// MatchedBoxesMetric when enabling or disabling this.
// It returns the LabelEncoder to allow cascaded configuration calls.
func (e *LabelEncoder) WithForceMatchForEachColumn(enable bool) *LabelEncoder {
	e.forceMatch = enable
	return e
}

// WithVariance sets the scaling factors applied to the box deltas, in the
// order centerX, centerY, width, height.
// It returns the LabelEncoder to allow cascaded configuration calls.
func (e *LabelEncoder) WithVariance(variance [4]float64) *LabelEncoder {
	for _, v := range variance {
		if v <= 0 {
			exceptions.Panicf("retinanet.LabelEncoder.WithVariance requires positive factors, got %v", variance)
		}
	}
	e.variance = variance
	return e
}

// WithBackgroundClass sets the class target assigned to negatively matched
// anchors. It returns the LabelEncoder to allow cascaded configuration calls.
func (e *LabelEncoder) WithBackgroundClass(id float64) *LabelEncoder {
	e.backgroundClass = id
	return e
}

// WithIgnoreClass sets the class target assigned to anchors the losses must
// skip. It returns the LabelEncoder to allow cascaded configuration calls.
func (e *LabelEncoder) WithIgnoreClass(id float64) *LabelEncoder {
	e.ignoreClass = id
	return e
}

// WithObserver registers an observer that receives the per-batch matching
// outcomes -- see MatchObserver. The observer is owned by the caller; the
// encoder only feeds it. It returns the LabelEncoder to allow cascaded
// configuration calls.
func (e *LabelEncoder) WithObserver(observer MatchObserver) *LabelEncoder {
	e.observer = observer
	return e
}

// Anchors returns the flattened [numAnchors, 4] Float32 anchors for an image
// of the given size, in the encoder's box format, concatenated in level
// order. Results are cached per size. At inference time the same anchors
// decode predicted deltas back to boxes with boxes.DecodeDeltas.
func (e *LabelEncoder) Anchors(height, width int) *tensors.Tensor {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := [2]int{height, width}
	if cached, found := e.anchorCache[key]; found {
		return cached
	}
	flat := anchors.Flatten(e.generator.Generate(height, width))
	if from := e.generator.Format(); from != e.format {
		flat = boxes.Convert(flat, from, e.format)
	}
	e.anchorCache[key] = flat
	return flat
}

// Encode builds the training targets for one batch.
//
// images must be a dense [batchSize, height, width, channels] tensor -- only
// its shape is consulted, to generate anchors. gt holds the ground-truth
// boxes, in the encoder's box format, and class ids.
//
// It returns boxTargets shaped [batchSize, numAnchors, 4] with the
// variance-scaled deltas from each anchor to its matched box, and
// classTargets shaped [batchSize, numAnchors]. Both share gt's dtype, and
// numAnchors depends only on the image size -- every sample gets the same
// number of target rows no matter how many boxes it has. Anchor rows whose
// deltas come out non-finite (degenerate matched boxes, e.g. all-padding
// ground truth) are overwritten with the ignore class, so targets never
// carry NaN or Inf.
func (e *LabelEncoder) Encode(images *tensors.Tensor, gt *boxes.Ragged) (boxTargets, classTargets *tensors.Tensor) {
	if images == nil || images.Rank() != 4 {
		exceptions.Panicf("retinanet.LabelEncoder.Encode requires dense images shaped "+
			"[batchSize, height, width, channels], got %v -- batches with per-sample image sizes "+
			"are not supported, resize or pad them first", images)
	}
	if gt == nil {
		exceptions.Panicf("retinanet.LabelEncoder.Encode got nil ground-truth")
	}
	dims := images.Shape().Dimensions
	if gt.Len() != dims[0] {
		exceptions.Panicf("retinanet.LabelEncoder.Encode got %d images but ground-truth for %d samples",
			dims[0], gt.Len())
	}
	anchorsT := boxes.ToDType(e.Anchors(dims[1], dims[2]), gt.DType())
	matcher := matchers.NewArgmaxMatcher(e.negativeThreshold, e.positiveThreshold).
		WithForceMatchForEachColumn(e.forceMatch)

	var outcomes []bool
	switch gt.DType() {
	case dtypes.Float32:
		boxTargets, classTargets, outcomes = encodeImpl[float32](e, gt, anchorsT, matcher)
	case dtypes.Float64:
		boxTargets, classTargets, outcomes = encodeImpl[float64](e, gt, anchorsT, matcher)
	}
	if e.observer != nil {
		e.observer.UpdateGo(tensors.FromFlatDataAndDimensions(outcomes, len(outcomes)))
	}
	return
}

func encodeImpl[T float32 | float64](e *LabelEncoder, gt *boxes.Ragged, anchorsT *tensors.Tensor,
	matcher *matchers.ArgmaxMatcher) (boxTargets, classTargets *tensors.Tensor, outcomes []bool) {
	batchSize := gt.Len()
	numAnchors := anchorsT.Shape().Dimensions[0]
	boxFlat := make([]T, batchSize*numAnchors*4)
	classFlat := make([]T, batchSize*numAnchors)
	background, ignore := T(e.backgroundClass), T(e.ignoreClass)
	outcomes = make([]bool, 0, batchSize*gt.MaxBoxes())

	for s := range batchSize {
		gtBoxes, gtClasses := gt.Sample(s)
		numBoxes := gt.NumBoxes(s)
		similarity := boxes.IoU(anchorsT, gtBoxes, e.format)
		matchedCols, matchedVals := matcher.Match(similarity)
		cols := tensors.MustCopyFlatData[int32](matchedCols)
		vals := tensors.MustCopyFlatData[int32](matchedVals)

		matchedBoxes := gatherRows[T](gtBoxes, cols, numBoxes)
		deltas := tensors.MustCopyFlatData[T](boxes.EncodeDeltas(anchorsT, matchedBoxes, e.format, e.variance))
		classes := tensors.MustCopyFlatData[T](gtClasses)

		matched := make([]bool, numBoxes)
		for a := range numAnchors {
			var class T
			switch vals[a] {
			case matchers.Positive:
				col := cols[a]
				class = classes[col]
				matched[col] = true
			case matchers.Ignore:
				class = ignore
			default:
				class = background
			}
			row := deltas[a*4 : a*4+4]
			if !rowFinite(row) {
				// A degenerate box was matched (all -1 padding in
				// particular): skip the anchor entirely.
				for i := range row {
					row[i] = ignore
				}
				class = ignore
			}
			copy(boxFlat[(s*numAnchors+a)*4:], row)
			classFlat[s*numAnchors+a] = class
		}
		outcomes = append(outcomes, matched...)
	}
	return tensors.FromFlatDataAndDimensions(boxFlat, batchSize, numAnchors, 4),
		tensors.FromFlatDataAndDimensions(classFlat, batchSize, numAnchors),
		outcomes
}

// gatherRows picks rows of boxesT by index, substituting an all-zero row for
// indices outside [0, numValid) -- the matcher returns index 0 when there is
// nothing to match, which must gather a sentinel rather than fail.
func gatherRows[T float32 | float64](boxesT *tensors.Tensor, indices []int32, numValid int) *tensors.Tensor {
	out := make([]T, len(indices)*4)
	tensors.MustConstFlatData(boxesT, func(flat []T) {
		for a, idx := range indices {
			if idx < 0 || int(idx) >= numValid {
				continue
			}
			copy(out[a*4:a*4+4], flat[idx*4:idx*4+4])
		}
	})
	return tensors.FromFlatDataAndDimensions(out, len(indices), 4)
}

func rowFinite[T constraints.Float](row []T) bool {
	for _, v := range row {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
