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

// Package anchors generates the fixed grids of reference boxes ("anchors")
// that anchor-based object detectors regress against.
//
// A Generator produces one set of anchors per feature-pyramid level for a
// given image size; Flatten concatenates the levels into the single flat
// list that label encoders and detection heads consume. Pyramid is the
// standard multi-scale implementation: at pyramid level l it tiles
// len(scales)*len(aspectRatios) anchors on a stride 2^l grid.
//
// Example, the usual RetinaNet configuration for 640x640 inputs:
//
//	gen := anchors.NewPyramid(3, 7)
//	levels := gen.Generate(640, 640)
//	all := anchors.Flatten(levels) // [totalAnchors, 4] in gen.Format().
package anchors

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/compute/dtypes"
	"github.com/gomlx/vision/boxes"
)

// Generator produces anchor boxes for a given image spatial shape.
type Generator interface {
	// Format returns the box format the generated anchors are expressed in.
	Format() boxes.Format

	// Generate returns one [numLocations*NumAnchorsPerLocation(), 4] Float32
	// tensor per level, in level order, for an image with the given height
	// and width in pixels.
	Generate(height, width int) []*tensors.Tensor

	// NumAnchorsPerLocation returns how many anchors are tiled at each grid
	// location.
	NumAnchorsPerLocation() int
}

// Pyramid generates multi-scale anchors over a feature pyramid. Create it
// with NewPyramid and configure with the WithX methods.
type Pyramid struct {
	minLevel, maxLevel int
	scales             []float64
	aspectRatios       []float64
	sizes              []float64
	format             boxes.Format
}

// Compile-time check that Pyramid implements Generator.
var _ Generator = &Pyramid{}

// NewPyramid returns a Generator tiling anchors at pyramid levels minLevel to
// maxLevel inclusive, where level l has stride 2^l pixels. Defaults: anchor
// base size 4x the stride at each level, scales {2^0, 2^(1/3), 2^(2/3)},
// aspect ratios {0.5, 1, 2} (width/height), boxes in CenterXYWH format.
func NewPyramid(minLevel, maxLevel int) *Pyramid {
	if minLevel < 0 || minLevel > maxLevel {
		exceptions.Panicf("anchors.NewPyramid requires 0 <= minLevel <= maxLevel, got [%d, %d]",
			minLevel, maxLevel)
	}
	return &Pyramid{
		minLevel:     minLevel,
		maxLevel:     maxLevel,
		scales:       []float64{1, math.Pow(2, 1.0/3.0), math.Pow(2, 2.0/3.0)},
		aspectRatios: []float64{0.5, 1, 2},
		format:       boxes.CenterXYWH,
	}
}

// WithScales sets the per-location anchor size multipliers.
// It returns the Pyramid to allow cascaded configuration calls.
func (p *Pyramid) WithScales(scales []float64) *Pyramid {
	if len(scales) == 0 {
		exceptions.Panicf("anchors.Pyramid.WithScales requires at least one scale")
	}
	p.scales = scales
	return p
}

// WithAspectRatios sets the width/height ratios tiled at each location.
// It returns the Pyramid to allow cascaded configuration calls.
func (p *Pyramid) WithAspectRatios(ratios []float64) *Pyramid {
	if len(ratios) == 0 {
		exceptions.Panicf("anchors.Pyramid.WithAspectRatios requires at least one ratio")
	}
	p.aspectRatios = ratios
	return p
}

// WithSizes sets the anchor base size in pixels for each level, overriding
// the default of 4x the level stride. One size per level, minLevel first.
// It returns the Pyramid to allow cascaded configuration calls.
func (p *Pyramid) WithSizes(sizes []float64) *Pyramid {
	if len(sizes) != p.NumLevels() {
		exceptions.Panicf("anchors.Pyramid.WithSizes requires one size per level (%d), got %d",
			p.NumLevels(), len(sizes))
	}
	p.sizes = sizes
	return p
}

// WithFormat sets the box format of the generated anchors.
// It returns the Pyramid to allow cascaded configuration calls.
func (p *Pyramid) WithFormat(format boxes.Format) *Pyramid {
	if !format.Valid() {
		exceptions.Panicf("anchors.Pyramid.WithFormat got invalid format %d", int(format))
	}
	p.format = format
	return p
}

// NumLevels returns how many pyramid levels anchors are generated for.
func (p *Pyramid) NumLevels() int { return p.maxLevel - p.minLevel + 1 }

// Format implements Generator.
func (p *Pyramid) Format() boxes.Format { return p.format }

// NumAnchorsPerLocation implements Generator.
func (p *Pyramid) NumAnchorsPerLocation() int { return len(p.scales) * len(p.aspectRatios) }

// Generate implements Generator: one [gridHeight*gridWidth*anchorsPerLocation, 4]
// Float32 tensor per level. Anchor centers sit at (x+0.5)*stride, (y+0.5)*stride;
// grid cells at the right/bottom borders are kept even when the image does not
// cover them fully (grid size is the stride-ceiling of the image size).
func (p *Pyramid) Generate(height, width int) []*tensors.Tensor {
	if height <= 0 || width <= 0 {
		exceptions.Panicf("anchors.Pyramid.Generate requires a positive image size, got %dx%d", height, width)
	}
	perLocation := p.NumAnchorsPerLocation()
	levels := make([]*tensors.Tensor, 0, p.NumLevels())
	for level := p.minLevel; level <= p.maxLevel; level++ {
		stride := 1 << level
		size := 4 * float64(stride)
		if p.sizes != nil {
			size = p.sizes[level-p.minLevel]
		}
		gridH := (height + stride - 1) / stride
		gridW := (width + stride - 1) / stride
		flat := make([]float32, gridH*gridW*perLocation*4)
		pos := 0
		for y := range gridH {
			cy := (float64(y) + 0.5) * float64(stride)
			for x := range gridW {
				cx := (float64(x) + 0.5) * float64(stride)
				for _, scale := range p.scales {
					for _, ratio := range p.aspectRatios {
						sqrtRatio := math.Sqrt(ratio)
						flat[pos] = float32(cx)
						flat[pos+1] = float32(cy)
						flat[pos+2] = float32(size * scale * sqrtRatio)
						flat[pos+3] = float32(size * scale / sqrtRatio)
						pos += 4
					}
				}
			}
		}
		levelT := tensors.FromFlatDataAndDimensions(flat, gridH*gridW*perLocation, 4)
		if p.format != boxes.CenterXYWH {
			levelT = boxes.Convert(levelT, boxes.CenterXYWH, p.format)
		}
		levels = append(levels, levelT)
	}
	return levels
}

// Flatten concatenates per-level anchor tensors into a single
// [totalAnchors, 4] tensor, preserving level order.
func Flatten(levels []*tensors.Tensor) *tensors.Tensor {
	if len(levels) == 0 {
		exceptions.Panicf("anchors.Flatten got no levels")
	}
	total := 0
	for i, level := range levels {
		if level == nil || level.Rank() != 2 || level.Shape().Dimensions[1] != 4 {
			exceptions.Panicf("anchors.Flatten level %d must be shaped [numAnchors, 4], got %v", i, level)
		}
		if level.DType() != levels[0].DType() {
			exceptions.Panicf("anchors.Flatten level %d dtype %s differs from level 0 dtype %s",
				i, level.DType(), levels[0].DType())
		}
		total += level.Shape().Dimensions[0]
	}
	switch levels[0].DType() {
	case dtypes.Float32:
		return flattenImpl[float32](levels, total)
	case dtypes.Float64:
		return flattenImpl[float64](levels, total)
	default:
		exceptions.Panicf("anchors.Flatten requires Float32 or Float64 anchors, got %s", levels[0].DType())
	}
	return nil
}

func flattenImpl[T float32 | float64](levels []*tensors.Tensor, total int) *tensors.Tensor {
	flat := make([]T, 0, total*4)
	for _, level := range levels {
		tensors.MustConstFlatData(level, func(levelFlat []T) {
			flat = append(flat, levelFlat...)
		})
	}
	return tensors.FromFlatDataAndDimensions(flat, total, 4)
}
