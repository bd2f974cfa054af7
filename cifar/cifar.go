// Copyright 2026 The Residual Attention Network Authors. SPDX-License-Identifier: Apache-2.0

// Package cifar downloads, parses and partitions the CIFAR-10 dataset
// (https://www.cs.toronto.edu/~kriz/cifar.html) into the train/validation/test
// datasets used to fit and evaluate the residual attention network.
//
// Unlike the dataset's own 50k/10k split, the partition here is a seeded
// random shuffle of all 60000 examples into 50000 training, 5000 validation
// and 5000 test examples.
package cifar

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/examples/downloader"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	data "github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/pkg/errors"
)

const (
	// URL, TarName and SubDir describe the binary-format CIFAR-10 archive.
	URL     = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"
	TarName = "cifar-10-binary.tar.gz"
	SubDir  = "cifar-10-batches-bin"

	tarHash = "c4a38c50a1bc5f3a1c5537f2155ab9d68f9f25eb1ed8d9ddda3db29a59bca1dd"

	// Height, Width and Depth are the image dimensions.
	Height = 32
	Width  = 32
	Depth  = 3

	// NumClasses is the number of label classes.
	NumClasses = 10

	// NumExamples is the total number of examples across all archive files.
	NumExamples = 60000

	// NumTrain, NumValidation and NumTest are the partition sizes.
	NumTrain      = 50000
	NumValidation = 5000
	NumTest       = 5000

	// DefaultSeed seeds the partition shuffle (and the training dataset's
	// batch shuffling) unless overridden.
	DefaultSeed = 42

	examplesPerFile = 10000
	imageSizeBytes  = Height * Width * Depth
)

// Labels are the class names, indexed by label value.
var Labels = []string{"airplane", "automobile", "bird", "cat", "deer", "dog",
	"frog", "horse", "ship", "truck"}

// Download fetches and unpacks the CIFAR-10 archive under baseDir, if it is
// not already there. The download is checksum-verified.
func Download(baseDir string) error {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	return downloader.DownloadAndUntarIfMissing(URL, baseDir, TarName, SubDir, tarHash)
}

// Examples holds a set of parsed examples: images normalized to [0, 1] and
// laid out as [Count, Height, Width, Depth] (channels last), labels one-hot
// encoded as [Count, NumClasses]. Both are flat row-major slices.
type Examples struct {
	Count  int
	Images []float32
	Labels []float32
}

func newExamples(count int) *Examples {
	return &Examples{
		Count:  count,
		Images: make([]float32, count*imageSizeBytes),
		Labels: make([]float32, count*NumClasses),
	}
}

// image returns the flat image data of example ii.
func (e *Examples) image(ii int) []float32 {
	return e.Images[ii*imageSizeBytes : (ii+1)*imageSizeBytes]
}

// label returns the one-hot label of example ii.
func (e *Examples) label(ii int) []float32 {
	return e.Labels[ii*NumClasses : (ii+1)*NumClasses]
}

// Class returns the label class of example ii, decoding the one-hot encoding.
func (e *Examples) Class(ii int) int {
	for class, v := range e.label(ii) {
		if v != 0 {
			return class
		}
	}
	return -1
}

// parse reads count examples in the archive's binary format -- one label byte
// followed by 3072 image bytes in channel-major (CHW) order -- appending them
// to e starting at example offset.
//
// Pixel values are scaled to [0, 1] and transposed to channels-last (HWC).
func (e *Examples) parse(r io.Reader, offset, count int) error {
	var record [1 + imageSizeBytes]byte
	for ii := 0; ii < count; ii++ {
		if _, err := io.ReadFull(r, record[:]); err != nil {
			return errors.Wrapf(err, "reading example %d of %d", ii, count)
		}
		label := int(record[0])
		if label >= NumClasses {
			return errors.Errorf("example %d has label %d, expected < %d", ii, label, NumClasses)
		}
		e.label(offset+ii)[label] = 1

		img := e.image(offset + ii)
		raw := record[1:]
		for h := 0; h < Height; h++ {
			for w := 0; w < Width; w++ {
				for d := 0; d < Depth; d++ {
					img[(h*Width+w)*Depth+d] = float32(raw[d*Height*Width+h*Width+w]) / 255
				}
			}
		}
	}
	return nil
}

// archiveFiles are the data files inside the archive, in reading order.
var archiveFiles = []string{
	"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin",
	"data_batch_4.bin", "data_batch_5.bin", "test_batch.bin",
}

// Load parses all 60000 examples from a previously downloaded archive under
// baseDir.
func Load(baseDir string) (*Examples, error) {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	all := newExamples(NumExamples)
	for fileIdx, fileName := range archiveFiles {
		dataFile := path.Join(baseDir, SubDir, fileName)
		f, err := os.Open(dataFile)
		if err != nil {
			return nil, errors.Wrapf(err, "opening data file %q", dataFile)
		}
		err = all.parse(f, fileIdx*examplesPerFile, examplesPerFile)
		_ = f.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "parsing data file %q", dataFile)
		}
	}
	return all, nil
}

// Split is a partition of the examples in three disjoint subsets.
type Split struct {
	Train, Validation, Test *Examples
}

// NewSplit randomly partitions all examples into 50000 training, 5000
// validation and 5000 test examples, using rng to shuffle. The same rng state
// always produces the same partition.
func NewSplit(all *Examples, rng *rand.Rand) (*Split, error) {
	if all.Count != NumExamples {
		return nil, errors.Errorf("partition requires %d examples, got %d", NumExamples, all.Count)
	}
	parts := partition(all, rng, NumTrain, NumValidation, NumTest)
	return &Split{Train: parts[0], Validation: parts[1], Test: parts[2]}, nil
}

// partition shuffles all examples with rng and deals them out into subsets of
// the given sizes.
func partition(all *Examples, rng *rand.Rand, counts ...int) []*Examples {
	order := rng.Perm(all.Count)
	subsets := make([]*Examples, len(counts))
	for si, count := range counts {
		subset := newExamples(count)
		for ii := 0; ii < count; ii++ {
			src := order[0]
			order = order[1:]
			copy(subset.image(ii), all.image(src))
			copy(subset.label(ii), all.label(src))
		}
		subsets[si] = subset
	}
	return subsets
}

// Datasets materializes the split on the given backend as in-memory datasets.
// The training dataset is batched to batchSize (incomplete batches dropped)
// and reshuffled every epoch with rng; validation and test are batched the
// same but in fixed order and keeping the final incomplete batch.
func (s *Split) Datasets(backend backends.Backend, batchSize int, rng *rand.Rand) (train, validation, test *data.InMemoryDataset, err error) {
	train, err = s.Train.dataset(backend, "train")
	if err != nil {
		return
	}
	train = train.BatchSize(batchSize, true).Shuffle().WithRand(rng)
	validation, err = s.Validation.dataset(backend, "validation")
	if err != nil {
		return
	}
	validation = validation.BatchSize(batchSize, false)
	test, err = s.Test.dataset(backend, "test")
	if err != nil {
		return
	}
	test = test.BatchSize(batchSize, false)
	return
}

func (e *Examples) dataset(backend backends.Backend, name string) (*data.InMemoryDataset, error) {
	images := tensors.FromFlatDataAndDimensions(e.Images, e.Count, Height, Width, Depth)
	labels := tensors.FromFlatDataAndDimensions(e.Labels, e.Count, NumClasses)
	ds, err := data.InMemoryFromData(backend, name, []any{images}, []any{labels})
	if err != nil {
		return nil, errors.WithMessagef(err, "building %s dataset", name)
	}
	return ds, nil
}

// AssertDownloaded returns an error naming the expected location when the
// archive files are not present under baseDir.
func AssertDownloaded(baseDir string) error {
	baseDir = fsutil.MustReplaceTildeInDir(baseDir)
	for _, fileName := range archiveFiles {
		dataFile := path.Join(baseDir, SubDir, fileName)
		if _, err := os.Stat(dataFile); err != nil {
			return errors.Wrapf(err, "missing data file %q: download with cifar.Download(%q)",
				dataFile, baseDir)
		}
	}
	return nil
}

// String implements fmt.Stringer.
func (s *Split) String() string {
	return fmt.Sprintf("CIFAR-10 split: %d train, %d validation, %d test",
		s.Train.Count, s.Validation.Count, s.Test.Count)
}
