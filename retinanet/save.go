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
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// SaveDataset runs ds to the end of its epoch, writing every yielded batch
// to w in gob format, and returns the number of batches written. The dataset
// must be finite.
//
// The typical use is to wrap the raw dataset with Dataset (and optionally
// augment.Dataset before it) and save the result, so training streams the
// pre-encoded targets back with SavedDataset instead of paying the matching
// cost once per epoch.
//
// If verbose is set to true, it will output a progress bar.
func SaveDataset(ds train.Dataset, w io.Writer, verbose bool) (numBatches int, err error) {
	var pBar *progressbar.ProgressBar
	if verbose {
		pBar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Encoding"),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}
	counting := &countingWriter{w: w}
	encoder := gob.NewEncoder(counting)
	for {
		_, inputs, labels, yieldErr := ds.Yield()
		if yieldErr == io.EOF {
			break
		}
		if yieldErr != nil {
			return numBatches, errors.WithMessagef(yieldErr, "reading dataset %q", ds.Name())
		}
		if err = writeBatch(encoder, inputs, labels); err != nil {
			return numBatches, errors.WithMessagef(err, "saving batch %d of dataset %q", numBatches, ds.Name())
		}
		numBatches++
		if verbose {
			_ = pBar.Add(1)
		}
	}
	if verbose {
		_ = pBar.Close()
		fmt.Println()
	}
	klog.V(1).Infof("saved %d batches (%s) from dataset %q",
		numBatches, humanize.Bytes(uint64(counting.written)), ds.Name())
	return numBatches, nil
}

func writeBatch(encoder *gob.Encoder, inputs, labels []*tensors.Tensor) error {
	if err := encoder.Encode(len(inputs)); err != nil {
		return errors.Wrap(err, "encoding batch header")
	}
	if err := encoder.Encode(len(labels)); err != nil {
		return errors.Wrap(err, "encoding batch header")
	}
	for _, group := range [][]*tensors.Tensor{inputs, labels} {
		for _, t := range group {
			if t == nil {
				return errors.Errorf("cannot save a batch containing nil tensors")
			}
			if err := t.GobSerialize(encoder); err != nil {
				return err
			}
		}
	}
	return nil
}

type countingWriter struct {
	w       io.Writer
	written int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.written += int64(n)
	return n, err
}

// SavedDataset implements train.Dataset by streaming batches previously
// written by SaveDataset. Yield returns io.EOF at the end of the file and
// Reset rewinds to the first batch, so it plugs directly into training
// loops. Close it when done.
type SavedDataset struct {
	name     string
	filePath string
	file     *os.File
	decoder  *gob.Decoder
	err      error
}

// Assert SavedDataset is a train.Dataset.
var _ train.Dataset = &SavedDataset{}

// NewSavedDataset opens a file written by SaveDataset.
func NewSavedDataset(name, filePath string) (*SavedDataset, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening saved dataset %q", filePath)
	}
	return &SavedDataset{
		name:     name,
		filePath: filePath,
		file:     f,
		decoder:  gob.NewDecoder(f),
	}, nil
}

// Name implements train.Dataset.
func (ds *SavedDataset) Name() string { return ds.name }

// Yield implements train.Dataset. The spec is always nil.
func (ds *SavedDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if ds.err != nil {
		return nil, nil, nil, ds.err
	}
	var numInputs, numLabels int
	if err = ds.decoder.Decode(&numInputs); err != nil {
		if err == io.EOF {
			return nil, nil, nil, io.EOF
		}
		ds.err = errors.Wrapf(err, "reading saved dataset from %q", ds.filePath)
		return nil, nil, nil, ds.err
	}
	if err = ds.decoder.Decode(&numLabels); err != nil {
		ds.err = errors.Wrapf(err, "reading saved dataset from %q", ds.filePath)
		return nil, nil, nil, ds.err
	}
	read := func(n int) []*tensors.Tensor {
		ts := make([]*tensors.Tensor, n)
		for i := range ts {
			var t *tensors.Tensor
			t, err = tensors.GobDeserialize(ds.decoder)
			if err != nil {
				return nil
			}
			ts[i] = t
		}
		return ts
	}
	inputs = read(numInputs)
	if err == nil {
		labels = read(numLabels)
	}
	if err != nil {
		ds.err = errors.Wrapf(err, "reading saved dataset from %q", ds.filePath)
		return nil, nil, nil, ds.err
	}
	return nil, inputs, labels, nil
}

// Reset implements train.Dataset, rewinding to the first batch.
func (ds *SavedDataset) Reset() {
	if _, err := ds.file.Seek(0, io.SeekStart); err != nil {
		ds.err = errors.Wrapf(err, "rewinding saved dataset %q", ds.filePath)
		return
	}
	ds.decoder = gob.NewDecoder(ds.file)
	ds.err = nil
}

// Close releases the underlying file. The dataset cannot be used afterwards.
func (ds *SavedDataset) Close() error {
	return ds.file.Close()
}
