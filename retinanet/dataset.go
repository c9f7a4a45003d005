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

package retinanet

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	data "github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/vision/boxes"
)

// Dataset wraps a train.Dataset so the raw ground-truth labels of every
// yielded batch are replaced by the training targets built by enc. The
// wrapped dataset must yield:
//
//   - inputs[0]: images shaped [batchSize, height, width, channels];
//   - labels[0]: ground-truth boxes shaped [batchSize, maxBoxes, 4], Float32
//     or Float64, in the encoder's box format and padded with boxes.PadValue;
//   - labels[1]: class ids shaped [batchSize, maxBoxes], same dtype, padded
//     with boxes.PadValue -- the padding marks where each sample's valid
//     boxes end.
//
// That is the layout augment.Dataset produces, so the two adapters chain
// naturally. The mapped batches keep the inputs and yield labels[0] with the
// box targets [batchSize, numAnchors, 4] and labels[1] with the class
// targets [batchSize, numAnchors]; labels beyond the first two pass through
// unchanged.
func Dataset(ds train.Dataset, enc *LabelEncoder) train.Dataset {
	return data.Map(ds, func(inputs, labels []*tensors.Tensor) ([]*tensors.Tensor, []*tensors.Tensor) {
		if len(inputs) < 1 || inputs[0] == nil {
			exceptions.Panicf("retinanet.Dataset requires the images batch in inputs[0]")
		}
		if len(labels) < 2 {
			exceptions.Panicf("retinanet.Dataset requires ground-truth boxes in labels[0] and class ids "+
				"in labels[1], got %d labels", len(labels))
		}
		gt := boxes.RaggedFromDense(labels[0], labels[1], nil)
		boxTargets, classTargets := enc.Encode(inputs[0], gt)
		mappedLabels := append([]*tensors.Tensor{boxTargets, classTargets}, labels[2:]...)
		return inputs, mappedLabels
	})
}
