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

// Package augment implements random data augmentation for object-detection
// training pipelines: transformations drawn independently per sample and
// applied consistently to the image, its bounding boxes and its segmentation
// mask.
//
// RandomFlip mirrors samples horizontally and/or vertically:
//
//	flip := augment.NewRandomFlip(augment.FlipHorizontalAndVertical).
//		WithBoxFormat(boxes.XYXY).
//		WithRand(rand.New(rand.NewSource(42)))
//	out := flip.Sample(augment.Example{Image: img, Boxes: gtBoxes, Classes: gtClasses})
//
// It works per sample, so ragged batches -- samples with different image
// sizes or box counts -- are just slices of Example (see Batch). Dense
// [batchSize, height, width, channels] image batches can use Images, and
// Dataset wraps a train.Dataset so augmentation happens inside the input
// pipeline.
//
// All transformations are host-side (pure Go). Randomness comes from a
// math/rand source, replaceable with WithRand for deterministic tests.
package augment

import (
	"math/rand"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/compute/dtypes"
	"github.com/gomlx/vision/boxes"
)

// FlipMode selects which axes RandomFlip may mirror.
type FlipMode int

const (
	// FlipHorizontal mirrors the width axis only.
	FlipHorizontal FlipMode = iota

	// FlipVertical mirrors the height axis only.
	FlipVertical

	// FlipHorizontalAndVertical draws an independent decision per axis.
	FlipHorizontalAndVertical

	numFlipModes
)

// String implements fmt.Stringer.
func (m FlipMode) String() string {
	switch m {
	case FlipHorizontal:
		return "horizontal"
	case FlipVertical:
		return "vertical"
	case FlipHorizontalAndVertical:
		return "horizontal_and_vertical"
	}
	return "invalid_flip_mode"
}

// FlipState is the outcome of the per-sample random draws: one independent
// boolean per enabled axis. The same state is applied to the sample's image,
// boxes and mask.
type FlipState struct {
	Horizontal, Vertical bool
}

// Example is one unbatched sample: an image, optionally its ground-truth
// boxes plus aligned class ids, and optionally a segmentation mask.
type Example struct {
	// Image is [height, width, channels]. Required.
	Image *tensors.Tensor

	// Boxes is [numBoxes, 4] (Float32 or Float64) in the layer's box
	// format. Optional, but Boxes and Classes must be given together.
	Boxes *tensors.Tensor

	// Classes is [numBoxes], aligned with Boxes.
	Classes *tensors.Tensor

	// Mask is [height, width, maskChannels] with the same spatial size as
	// Image. Optional.
	Mask *tensors.Tensor
}

// uniformSource yields uniform draws in [0, 1). *rand.Rand implements it;
// tests substitute fixed sequences.
type uniformSource interface {
	Float64() float64
}

// RandomFlip randomly mirrors samples along the horizontal and/or vertical
// axis. Create it with NewRandomFlip and configure with the WithX methods.
//
// Each sample draws one uniform value per enabled axis and flips that axis
// when the draw is below the configured rate. Images and masks mirror their
// pixels (pure element moves, no interpolation); boxes mirror the
// coordinates that reference the flipped axis and keep the orthogonal ones.
type RandomFlip struct {
	mode      FlipMode
	rate      float64
	rng       uniformSource
	boxFormat boxes.Format
	dtype     dtypes.DType
}

// NewRandomFlip creates a RandomFlip layer for the given mode. Defaults:
// rate 0.5, box format XYXY, time-seeded randomness, outputs cast to
// Float32 (see WithDType).
func NewRandomFlip(mode FlipMode) *RandomFlip {
	if mode < 0 || mode >= numFlipModes {
		exceptions.Panicf("augment.NewRandomFlip got invalid mode %d", int(mode))
	}
	return &RandomFlip{
		mode:      mode,
		rate:      0.5,
		rng:       rand.New(rand.NewSource(time.Now().UTC().UnixNano())),
		boxFormat: boxes.XYXY,
		dtype:     dtypes.InvalidDType,
	}
}

// WithRate sets the probability of flipping each enabled axis, in [0, 1].
// It returns the RandomFlip to allow cascaded configuration calls.
func (rf *RandomFlip) WithRate(rate float64) *RandomFlip {
	if rate < 0 || rate > 1 {
		exceptions.Panicf("augment.RandomFlip.WithRate requires a rate in [0, 1], got %g", rate)
	}
	rf.rate = rate
	return rf
}

// WithRand sets the random number generator, for deterministic pipelines.
// It returns the RandomFlip to allow cascaded configuration calls.
func (rf *RandomFlip) WithRand(rng *rand.Rand) *RandomFlip {
	rf.rng = rng
	return rf
}

// WithBoxFormat declares the coordinate convention of Example.Boxes.
// It returns the RandomFlip to allow cascaded configuration calls.
func (rf *RandomFlip) WithBoxFormat(format boxes.Format) *RandomFlip {
	if !format.Valid() {
		exceptions.Panicf("augment.RandomFlip.WithBoxFormat got invalid format %d", int(format))
	}
	rf.boxFormat = format
	return rf
}

// WithDType overrides the dtype all outputs (image, boxes, classes and mask)
// are cast to. Without an override outputs default to Float32.
// It returns the RandomFlip to allow cascaded configuration calls.
func (rf *RandomFlip) WithDType(dtype dtypes.DType) *RandomFlip {
	if !supportedDType(dtype) {
		exceptions.Panicf("augment.RandomFlip.WithDType does not support dtype %s", dtype)
	}
	rf.dtype = dtype
	return rf
}

// Draw performs the random draws for one sample: each axis enabled by the
// mode flips when its draw is below the rate. The horizontal axis, when
// enabled, draws first.
func (rf *RandomFlip) Draw() FlipState {
	var state FlipState
	if rf.mode == FlipHorizontal || rf.mode == FlipHorizontalAndVertical {
		state.Horizontal = rf.rng.Float64() < rf.rate
	}
	if rf.mode == FlipVertical || rf.mode == FlipHorizontalAndVertical {
		state.Vertical = rf.rng.Float64() < rf.rate
	}
	return state
}

// Sample draws a FlipState and applies it to the example. See Apply.
func (rf *RandomFlip) Sample(ex Example) Example {
	return rf.Apply(ex, rf.Draw())
}

// Batch augments a ragged batch: every example draws its own FlipState and
// may have its own image size and box count.
func (rf *RandomFlip) Batch(exs []Example) []Example {
	out := make([]Example, len(exs))
	for i, ex := range exs {
		out[i] = rf.Sample(ex)
	}
	return out
}

// Apply transforms the example with an explicit FlipState -- no randomness
// consumed -- and applies the output dtype policy. Sample is the random
// variant.
func (rf *RandomFlip) Apply(ex Example, state FlipState) Example {
	validateExample(ex)
	out := ex
	if state.Horizontal || state.Vertical {
		out.Image = FlipImage(ex.Image, state)
		if ex.Mask != nil {
			out.Mask = FlipImage(ex.Mask, state)
		}
		if ex.Boxes != nil {
			height := ex.Image.Shape().Dimensions[0]
			width := ex.Image.Shape().Dimensions[1]
			out.Boxes = FlipBoxes(ex.Boxes, state, rf.boxFormat, height, width)
		}
	}
	target := rf.targetDType()
	out.Image = castTensor(out.Image, target)
	if out.Mask != nil {
		out.Mask = castTensor(out.Mask, target)
	}
	if out.Boxes != nil {
		out.Boxes = castTensor(out.Boxes, target)
		out.Classes = castTensor(out.Classes, target)
	}
	return out
}

// Images flips a dense [batchSize, height, width, channels] batch of images,
// drawing an independent FlipState per sample. For batches that carry boxes
// or masks alongside use Dataset or Batch instead, which keep them
// consistent.
func (rf *RandomFlip) Images(imagesT *tensors.Tensor) *tensors.Tensor {
	if imagesT == nil || imagesT.Rank() != 4 {
		exceptions.Panicf("augment.RandomFlip.Images requires a [batchSize, height, width, channels] tensor, got %v",
			imagesT)
	}
	states := rf.drawBatch(imagesT.Shape().Dimensions[0])
	return castTensor(flipImageBatch(imagesT, states), rf.targetDType())
}

func (rf *RandomFlip) drawBatch(batchSize int) []FlipState {
	states := make([]FlipState, batchSize)
	for i := range states {
		states[i] = rf.Draw()
	}
	return states
}

func (rf *RandomFlip) targetDType() dtypes.DType {
	if rf.dtype != dtypes.InvalidDType {
		return rf.dtype
	}
	return dtypes.Float32
}

func validateExample(ex Example) {
	if ex.Image == nil || ex.Image.Rank() != 3 {
		exceptions.Panicf("augment: Example.Image must be a [height, width, channels] tensor, got %v", ex.Image)
	}
	if (ex.Boxes == nil) != (ex.Classes == nil) {
		exceptions.Panicf("augment: Example requires Boxes and Classes together, got Boxes=%v, Classes=%v",
			ex.Boxes, ex.Classes)
	}
	if ex.Boxes != nil {
		if ex.Boxes.Rank() != 2 || ex.Boxes.Shape().Dimensions[1] != 4 {
			exceptions.Panicf("augment: Example.Boxes must be shaped [numBoxes, 4], got %s", ex.Boxes.Shape())
		}
		if ex.Classes.Rank() != 1 || ex.Classes.Shape().Dimensions[0] != ex.Boxes.Shape().Dimensions[0] {
			exceptions.Panicf("augment: Example.Classes must be shaped [%d] to match Boxes, got %s",
				ex.Boxes.Shape().Dimensions[0], ex.Classes.Shape())
		}
	}
	if ex.Mask != nil {
		if ex.Mask.Rank() != 3 ||
			ex.Mask.Shape().Dimensions[0] != ex.Image.Shape().Dimensions[0] ||
			ex.Mask.Shape().Dimensions[1] != ex.Image.Shape().Dimensions[1] {
			exceptions.Panicf("augment: Example.Mask spatial size must match the image %s, got %s",
				ex.Image.Shape(), ex.Mask.Shape())
		}
	}
}

func supportedDType(dtype dtypes.DType) bool {
	switch dtype {
	case dtypes.Float32, dtypes.Float64, dtypes.Float16, dtypes.BFloat16,
		dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
		dtypes.Uint8, dtypes.Uint16, dtypes.Uint32, dtypes.Uint64:
		return true
	}
	return false
}
