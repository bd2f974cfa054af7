// Copyright 2026 The Residual Attention Network Authors. SPDX-License-Identifier: Apache-2.0

package resattention

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// AttentionModule is the mixed-attention building block from
// "Residual Attention Network for Image Classification" (arXiv:1704.06904).
//
// It splits into a trunk branch (plain residual blocks performing feature
// processing) and a soft mask branch (a small bottom-up/top-down network that
// down-samples with max-pooling, up-samples with bilinear interpolation, and
// squashes to (0,1) with a sigmoid). The two recombine as
//
//	output = (1 + mask) * trunk
//
// so the mask modulates trunk features without ever zeroing them out, and the
// identity mapping survives when the mask saturates at zero.
//
// The module preserves its input shape: channels and spatial size are
// unchanged.
type AttentionModule struct {
	Channels int

	// DownSampleSteps is the depth of the mask branch's bottom-up pyramid.
	// Defaults to 2. Each step halves the spatial size, so the input's height
	// and width must be divisible by 2^DownSampleSteps.
	DownSampleSteps int
}

func (a *AttentionModule) downSampleSteps() int {
	if a.DownSampleSteps == 0 {
		return 2
	}
	return a.DownSampleSteps
}

// Forward implements Transform.
func (a *AttentionModule) Forward(ctx *context.Context, x *Node) *Node {
	ctx = ctx.In("attention_module")

	x = (&ResidualBlock{OutputChannels: a.Channels}).Forward(ctx.In("first"), x)

	trunk := x
	for ii := range 2 {
		trunk = (&ResidualBlock{OutputChannels: a.Channels}).
			Forward(ctx.Inf("trunk_%d", ii), trunk)
	}

	mask := a.softMask(ctx.In("mask"), x)
	output := Mul(OnePlus(mask), trunk)

	return (&ResidualBlock{OutputChannels: a.Channels}).Forward(ctx.In("last"), output)
}

// softMask builds the bottom-up/top-down mask branch and returns a tensor of
// attention weights in (0, 1), shaped like x.
func (a *AttentionModule) softMask(ctx *context.Context, x *Node) *Node {
	steps := a.downSampleSteps()

	// Bottom-up: max-pool then a residual block at each level. The output of
	// each level is kept to be added back on the way up.
	levels := make([]*Node, steps)
	down := x
	for ii := range steps {
		down = MaxPool(down).Window(3).Strides(2).PadSame().Done()
		down = (&ResidualBlock{OutputChannels: a.Channels}).
			Forward(ctx.Inf("down_%d", ii), down)
		levels[ii] = down
	}

	// Top-down: at each level, one residual block, bilinear up-sampling to
	// the level above, then an additive skip from the bottom-up level at that
	// resolution.
	up := down
	for ii := steps - 1; ii >= 0; ii-- {
		up = (&ResidualBlock{OutputChannels: a.Channels}).
			Forward(ctx.Inf("up_%d", ii), up)
		target := x
		if ii > 0 {
			target = levels[ii-1]
		}
		dims := target.Shape().Dimensions
		up = Interpolate(up, dims[0], dims[1], dims[2], dims[3]).Bilinear().Done()
		if ii > 0 {
			up = Add(up, levels[ii-1])
		}
	}

	// Two 1×1 convolutions (each preceded by batch-norm and ReLU) and a
	// sigmoid produce the final attention weights.
	mask := up
	for ii := range 2 {
		mask = (&BatchNorm{}).Forward(ctx.Inf("out_bn_%d", ii), mask)
		mask = (&Conv{KernelSize: 1, OutputChannels: a.Channels}).
			Forward(ctx.Inf("out_conv_%d", ii), mask)
	}
	return Sigmoid(mask)
}
