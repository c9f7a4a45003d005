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
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/compute/dtypes"
)

// MatchObserver receives the matching outcomes of every batch passed through
// LabelEncoder.Encode: a Bool vector with one entry per valid ground-truth
// box in the batch, true when at least one anchor was positively matched to
// that box. Padding entries are never reported.
//
// The method name follows the UpdateGo convention of gomlx's
// ml/train/metrics package, so Go-updated metrics can be fed directly.
// MatchedBoxesMetric is the standard implementation.
type MatchObserver interface {
	UpdateGo(value *tensors.Tensor)
}

// MatchedBoxesMetric accumulates the fraction of ground-truth boxes that got
// at least one positively matched anchor. It is purely diagnostic -- the
// encoder's output does not depend on it -- but a low value means many boxes
// produce no positive training signal, usually a sign the anchor sizes or
// thresholds don't fit the dataset.
//
// It is safe for concurrent use.
type MatchedBoxesMetric struct {
	mu             sync.Mutex
	matched, total int64
}

// Compile-time check that the metric can observe a LabelEncoder.
var _ MatchObserver = (*MatchedBoxesMetric)(nil)

// NewMatchedBoxesMetric creates an empty MatchedBoxesMetric. Register it on
// an encoder with LabelEncoder.WithObserver.
func NewMatchedBoxesMetric() *MatchedBoxesMetric {
	return &MatchedBoxesMetric{}
}

// Name of the metric.
func (m *MatchedBoxesMetric) Name() string { return "percent_boxes_matched_with_anchor" }

// UpdateGo accumulates one batch of matching outcomes, as emitted by
// LabelEncoder.Encode.
func (m *MatchedBoxesMetric) UpdateGo(value *tensors.Tensor) {
	if value == nil || value.DType() != dtypes.Bool {
		exceptions.Panicf("retinanet.MatchedBoxesMetric.UpdateGo requires a Bool tensor, got %v", value)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tensors.MustConstFlatData(value, func(flat []bool) {
		for _, matched := range flat {
			m.total++
			if matched {
				m.matched++
			}
		}
	})
}

// ReadGo returns the fraction of boxes matched so far as a Float64 scalar,
// or 0 before any box was seen.
func (m *MatchedBoxesMetric) ReadGo() *tensors.Tensor {
	matched, total := m.Counts()
	if total == 0 {
		return tensors.FromScalar(0.0)
	}
	return tensors.FromScalar(float64(matched) / float64(total))
}

// Counts returns the number of matched and total ground-truth boxes seen
// since the last Reset.
func (m *MatchedBoxesMetric) Counts() (matched, total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.matched, m.total
}

// Reset clears the accumulated counts.
func (m *MatchedBoxesMetric) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matched, m.total = 0, 0
}
