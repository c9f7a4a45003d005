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
	"image"

	"github.com/disintegration/imaging"
)

// Image draws a FlipState and applies it to a standard library image, for
// pipelines that augment image.Image values before converting them to
// tensors (see gomlx's tensors/images package for the conversion). Boxes
// associated with the image can be flipped consistently by passing the same
// state to FlipBoxes -- use ApplyToImage with an explicit state for that.
func (rf *RandomFlip) Image(img image.Image) image.Image {
	return ApplyToImage(img, rf.Draw())
}

// ApplyToImage mirrors a standard library image with an explicit FlipState.
func ApplyToImage(img image.Image, state FlipState) image.Image {
	if state.Horizontal {
		img = imaging.FlipH(img)
	}
	if state.Vertical {
		img = imaging.FlipV(img)
	}
	return img
}
