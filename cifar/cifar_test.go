// Copyright 2026 The Residual Attention Network Authors. SPDX-License-Identifier: Apache-2.0

package cifar

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// rawExample builds one record in the archive's binary format: a label byte
// followed by the red, green and blue planes.
func rawExample(label byte, r, g, b byte) []byte {
	record := make([]byte, 1+imageSizeBytes)
	record[0] = label
	plane := Height * Width
	for ii := 0; ii < plane; ii++ {
		record[1+ii] = r
		record[1+plane+ii] = g
		record[1+2*plane+ii] = b
	}
	return record
}

func TestParse(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(rawExample(3, 255, 0, 51))
	buf.Write(rawExample(9, 0, 255, 102))

	examples := newExamples(2)
	require.NoError(t, examples.parse(&buf, 0, 2))

	require.Equal(t, 3, examples.Class(0))
	require.Equal(t, 9, examples.Class(1))
	require.Equal(t, []float32{0, 0, 0, 1, 0, 0, 0, 0, 0, 0}, examples.label(0))

	// Channels-last layout, scaled to [0, 1]: the first pixel of example 0 is
	// (255, 0, 51) across the three channel positions.
	img := examples.image(0)
	require.Equal(t, float32(1), img[0])
	require.Equal(t, float32(0), img[1])
	require.InDelta(t, 51.0/255.0, img[2], 1e-6)

	// Same pixel on example 1.
	img = examples.image(1)
	require.Equal(t, float32(0), img[0])
	require.Equal(t, float32(1), img[1])
	require.InDelta(t, 102.0/255.0, img[2], 1e-6)
}

func TestParseTruncatedInput(t *testing.T) {
	record := rawExample(1, 1, 2, 3)
	examples := newExamples(2)
	err := examples.parse(bytes.NewReader(record[:len(record)-10]), 0, 2)
	require.Error(t, err)
}

func TestParseBadLabel(t *testing.T) {
	examples := newExamples(1)
	err := examples.parse(bytes.NewReader(rawExample(200, 0, 0, 0)), 0, 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "label 200")
}

func TestPartition(t *testing.T) {
	const total = 10
	all := newExamples(total)
	for ii := 0; ii < total; ii++ {
		all.label(ii)[ii%NumClasses] = 1
		// Tag each example's first pixel with its index, to track provenance.
		all.image(ii)[0] = float32(ii)
	}

	parts := partition(all, rand.New(rand.NewSource(DefaultSeed)), 6, 2, 2)
	require.Equal(t, 6, parts[0].Count)
	require.Equal(t, 2, parts[1].Count)
	require.Equal(t, 2, parts[2].Count)

	// Every source example lands in exactly one subset.
	seen := make(map[float32]int)
	for _, part := range parts {
		for ii := 0; ii < part.Count; ii++ {
			seen[part.image(ii)[0]]++
		}
	}
	require.Len(t, seen, total)
	for tag, count := range seen {
		require.Equalf(t, 1, count, "example %v appears %d times", tag, count)
	}

	// Same seed, same partition.
	again := partition(all, rand.New(rand.NewSource(DefaultSeed)), 6, 2, 2)
	require.Equal(t, parts[0].Images, again[0].Images)
	require.Equal(t, parts[2].Labels, again[2].Labels)

	// A different seed reorders.
	other := partition(all, rand.New(rand.NewSource(7)), 6, 2, 2)
	require.NotEqual(t, parts[0].Images, other[0].Images)
}

func TestNewSplitRequiresFullDataset(t *testing.T) {
	_, err := NewSplit(newExamples(100), rand.New(rand.NewSource(DefaultSeed)))
	require.Error(t, err)
}

func TestClassOfUnlabeled(t *testing.T) {
	require.Equal(t, -1, newExamples(1).Class(0))
}
