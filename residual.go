// Copyright 2026 The Residual Attention Network Authors. SPDX-License-Identifier: Apache-2.0

package resattention

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// ResidualBlock is a pre-activation residual unit, following
// "Identity Mappings in Deep Residual Networks" (arXiv:1603.05027):
// each convolution is preceded by batch-normalization and ReLU, and the
// un-activated input is added back through a skip connection.
//
// For an input shaped [batch, h, w, in], the output is shaped
// [batch, h/Stride, w/Stride, OutputChannels]. Any down-sampling happens in
// the second convolution; the skip path carries the raw input unchanged when
// channel count and spatial size are preserved, and otherwise projects it
// with a strided 1×1 convolution.
type ResidualBlock struct {
	OutputChannels int
	Stride         int
	KernelSize     int // defaults to 3
}

// NeedsProjection reports whether the skip connection must project its input:
// true iff the channel count changes or the block down-samples.
func (r *ResidualBlock) NeedsProjection(inputChannels int) bool {
	return inputChannels != r.OutputChannels || r.stride() != 1
}

func (r *ResidualBlock) stride() int {
	if r.Stride == 0 {
		return 1
	}
	return r.Stride
}

func (r *ResidualBlock) kernelSize() int {
	if r.KernelSize == 0 {
		return 3
	}
	return r.KernelSize
}

// Forward implements Transform.
func (r *ResidualBlock) Forward(ctx *context.Context, x *Node) *Node {
	ctx = ctx.In("residual_block")
	inputChannels := x.Shape().Dimensions[x.Rank()-1]

	residual := (&BatchNorm{}).Forward(ctx.In("pre_act_0"), x)
	residual = (&Conv{
		KernelSize:     r.kernelSize(),
		OutputChannels: r.OutputChannels,
	}).Forward(ctx.In("conv_0"), residual)

	residual = (&BatchNorm{}).Forward(ctx.In("pre_act_1"), residual)
	residual = (&Conv{
		KernelSize:     r.kernelSize(),
		OutputChannels: r.OutputChannels,
		Strides:        r.stride(),
	}).Forward(ctx.In("conv_1"), residual)

	skip := x
	if r.NeedsProjection(inputChannels) {
		skip = (&Conv{
			KernelSize:     1,
			OutputChannels: r.OutputChannels,
			Strides:        r.stride(),
		}).Forward(ctx.In("projection"), skip)
	}
	return Add(residual, skip)
}
