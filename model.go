// Copyright 2026 The Residual Attention Network Authors. SPDX-License-Identifier: Apache-2.0

// Package resattention implements a residual attention network for image
// classification, along with the layer primitives it is composed of and a
// training driver with early stopping.
//
// The architecture follows "Residual Attention Network for Image
// Classification" (arXiv:1704.06904), built from pre-activation residual
// blocks (arXiv:1603.05027) and attention modules that modulate trunk
// features with a learned soft mask.
package resattention

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// TargetCIFAR10 is the only dataset target the model currently supports. The
// spelling comes from the original experiments and is kept for
// command-line compatibility.
const TargetCIFAR10 = "CIFER-10"

// NumClasses is the number of output classes for the supported target.
const NumClasses = 10

// ValidateTarget returns an error if target names a dataset the model cannot
// be built for. It is meant to run before any data is downloaded or tensors
// are allocated.
func ValidateTarget(target string) error {
	if target != TargetCIFAR10 {
		return errors.Errorf("unsupported dataset target %q: valid targets are [%s]",
			target, TargetCIFAR10)
	}
	return nil
}

// BuildModel returns a model graph function for the given dataset target, in
// the form used by the trainer: it takes the batch inputs (a single image
// tensor shaped [batch, 32, 32, 3]) and returns the per-class logits shaped
// [batch, 10].
//
// The target must have been validated with ValidateTarget first; an unknown
// target panics here.
func BuildModel(target string) func(ctx *context.Context, spec any, inputs []*Node) []*Node {
	if err := ValidateTarget(target); err != nil {
		panic(err)
	}
	return modelGraph
}

// modelGraph builds the residual attention network:
//
//	stem 3×3 conv (16 channels)
//	→ attention module @16 → residual block stride 2 to 32 channels
//	→ attention module @32 → residual block stride 2 to 64 channels
//	→ attention module @64 → residual block @64
//	→ batch-norm+ReLU → global average pool → dense logits
func modelGraph(ctx *context.Context, _ any, inputs []*Node) []*Node {
	x := inputs[0]
	batchSize := x.Shape().Dimensions[0]
	x.AssertDims(batchSize, 32, 32, 3)
	ctx = ctx.In("model")

	x = (&Conv{KernelSize: 3, OutputChannels: 16}).Forward(ctx.In("stem"), x)

	x = (&AttentionModule{Channels: 16}).Forward(ctx.In("stage_0"), x)
	x = (&ResidualBlock{OutputChannels: 32, Stride: 2}).Forward(ctx.In("down_0"), x)

	x = (&AttentionModule{Channels: 32}).Forward(ctx.In("stage_1"), x)
	x = (&ResidualBlock{OutputChannels: 64, Stride: 2}).Forward(ctx.In("down_1"), x)

	x = (&AttentionModule{Channels: 64, DownSampleSteps: 1}).Forward(ctx.In("stage_2"), x)
	x = (&ResidualBlock{OutputChannels: 64}).Forward(ctx.In("top"), x)

	x = (&BatchNorm{}).Forward(ctx.In("head"), x)
	x = ReduceMean(x, 1, 2) // Global average pooling over the spatial axes.

	logits := (&Dense{OutputDim: NumClasses, Activation: Identity}).
		Forward(ctx.In("readout"), x)
	logits.AssertDims(batchSize, NumClasses)
	return []*Node{logits}
}

// Identity is the no-op activation, used where the raw affine output (the
// logits) is wanted -- e.g. when the loss applies its own softmax.
func Identity(x *Node) *Node { return x }
