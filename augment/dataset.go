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
	data "github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/gomlx/vision/boxes"
)

// Dataset wraps a train.Dataset so every yielded batch is randomly flipped,
// with an independent FlipState drawn per sample. The wrapped dataset must
// yield:
//
//   - inputs[0]: images shaped [batchSize, height, width, channels];
//   - inputs[1] (optional): segmentation masks shaped [batchSize, height,
//     width, maskChannels];
//   - labels[0] (optional): ground-truth boxes shaped [batchSize, maxBoxes,
//     4] in the layer's box format, padded with boxes.PadValue;
//   - labels[1] (required with labels[0]): class ids shaped [batchSize,
//     maxBoxes], padded with boxes.PadValue.
//
// A sample's image, mask and valid boxes all flip with the same state;
// padding box rows are left untouched. Inputs and labels beyond the ones
// above pass through unchanged. All transformed tensors are cast following
// the layer's dtype policy (see RandomFlip.WithDType).
func Dataset(ds train.Dataset, flip *RandomFlip) train.Dataset {
	return data.Map(ds, flip.mapBatch)
}

// mapBatch is a data.MapExampleFn: it augments one yielded batch.
func (rf *RandomFlip) mapBatch(inputs, labels []*tensors.Tensor) ([]*tensors.Tensor, []*tensors.Tensor) {
	if len(inputs) == 0 || inputs[0] == nil || inputs[0].Rank() != 4 {
		exceptions.Panicf("augment.Dataset requires inputs[0] shaped [batchSize, height, width, channels], got %v",
			firstOrNil(inputs))
	}
	imagesT := inputs[0]
	dims := imagesT.Shape().Dimensions
	batchSize, height, width := dims[0], dims[1], dims[2]
	states := rf.drawBatch(batchSize)
	target := rf.targetDType()

	mappedInputs := xslices.Copy(inputs)
	mappedInputs[0] = castTensor(flipImageBatch(imagesT, states), target)
	if len(inputs) >= 2 && inputs[1] != nil {
		maskT := inputs[1]
		if maskT.Rank() != 4 || maskT.Shape().Dimensions[0] != batchSize ||
			maskT.Shape().Dimensions[1] != height || maskT.Shape().Dimensions[2] != width {
			exceptions.Panicf("augment.Dataset requires masks in inputs[1] with the images' spatial size %s, got %s",
				imagesT.Shape(), maskT.Shape())
		}
		mappedInputs[1] = castTensor(flipImageBatch(maskT, states), target)
	}

	mappedLabels := xslices.Copy(labels)
	if len(labels) >= 1 && labels[0] != nil {
		if len(labels) < 2 || labels[1] == nil {
			exceptions.Panicf("augment.Dataset requires class ids in labels[1] aligned with the boxes in labels[0]")
		}
		boxesT := labels[0]
		classesT := castTensor(labels[1], boxesT.DType())
		gt := boxes.RaggedFromDense(boxesT, classesT, nil)
		flipped := flipBoxesDense(boxesT, states, rf.boxFormat, height, width, gt.Counts())
		mappedLabels[0] = castTensor(flipped, target)
		mappedLabels[1] = castTensor(classesT, target)
	}
	return mappedInputs, mappedLabels
}

func firstOrNil(ts []*tensors.Tensor) *tensors.Tensor {
	if len(ts) == 0 {
		return nil
	}
	return ts[0]
}
