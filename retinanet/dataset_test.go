package retinanet

import (
	"io"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/vision/boxes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDataset yields a fixed list of batches, one epoch.
type fakeDataset struct {
	batches []fakeBatch
	next    int
}

type fakeBatch struct {
	inputs, labels []*tensors.Tensor
}

func (ds *fakeDataset) Name() string { return "fake" }

func (ds *fakeDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if ds.next >= len(ds.batches) {
		return nil, nil, nil, io.EOF
	}
	batch := ds.batches[ds.next]
	ds.next++
	return nil, batch.inputs, batch.labels, nil
}

func (ds *fakeDataset) Reset() { ds.next = 0 }

func TestDataset(t *testing.T) {
	images := testImages(1)
	gtBoxes := tensors.FromValue([][][]float32{{{0, 2.5, 10, 12.5}, {-1, -1, -1, -1}}})
	gtClasses := tensors.FromValue([][]float32{{4, -1}})
	weights := tensors.FromValue([]float32{1.5})
	base := &fakeDataset{batches: []fakeBatch{{
		inputs: []*tensors.Tensor{images},
		labels: []*tensors.Tensor{gtBoxes, gtClasses, weights},
	}}}
	ds := Dataset(base, NewLabelEncoder(boxes.XYXY, twoAnchors()))

	_, inputs, labels, err := ds.Yield()
	require.NoError(t, err)
	require.Len(t, inputs, 1)
	assert.Same(t, images, inputs[0])

	// The ground-truth labels are replaced by per-anchor targets; extra
	// labels pass through untouched.
	require.Len(t, labels, 3)
	wantBoxes := tensors.FromValue([][][]float32{{{0, 2.5, 0, 0}, {-10, 2.5, 0, 0}}})
	assert.True(t, wantBoxes.InDelta(labels[0], 1e-5))
	assert.True(t, labels[1].Equal(tensors.FromValue([][]float32{{4, -1}})))
	assert.Same(t, weights, labels[2])

	_, _, _, err = ds.Yield()
	require.ErrorIs(t, err, io.EOF)

	ds.Reset()
	_, _, labels, err = ds.Yield()
	require.NoError(t, err)
	assert.True(t, labels[1].Equal(tensors.FromValue([][]float32{{4, -1}})))
}

func TestDatasetValidation(t *testing.T) {
	enc := NewLabelEncoder(boxes.XYXY, twoAnchors())
	gtBoxes := tensors.FromValue([][][]float32{{{0, 0, 1, 1}}})
	gtClasses := tensors.FromValue([][]float32{{0}})

	missingClasses := &fakeDataset{batches: []fakeBatch{{
		inputs: []*tensors.Tensor{testImages(1)},
		labels: []*tensors.Tensor{gtBoxes},
	}}}
	require.Panics(t, func() { Dataset(missingClasses, enc).Yield() })

	missingImages := &fakeDataset{batches: []fakeBatch{{
		labels: []*tensors.Tensor{gtBoxes, gtClasses},
	}}}
	require.Panics(t, func() { Dataset(missingImages, enc).Yield() })
}
