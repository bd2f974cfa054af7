// Copyright 2026 The Residual Attention Network Authors. SPDX-License-Identifier: Apache-2.0

package resattention

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

const (
	// WeightsStdDev is the standard deviation used to initialize every weight
	// tensor (convolution kernels, dense weights and batch-normalization scales).
	WeightsStdDev = 0.1

	// ParamInitialSeed is the context hyperparameter with the seed for the
	// weights initializer.
	ParamInitialSeed = "initial_seed"

	// DefaultInitialSeed is the seed the original experiments used.
	DefaultInitialSeed = int64(1234)
)

// Transform is the capability implemented by every layer primitive: it maps an
// input node to its transformed output, creating (or reusing) the layer's
// parameter variables in the given context scope.
//
// Each variant carries its own parameter tensors as context variables scoped
// under the ctx it is given -- there is no layer base type to inherit from.
type Transform interface {
	Forward(ctx *context.Context, x *Node) *Node
}

// TruncatedNormalFn returns a variable initializer that draws from a normal
// distribution with mean 0 and the given standard deviation, truncated at two
// standard deviations. Values beyond the limit are clipped rather than redrawn.
func TruncatedNormalFn(initialSeed int64, stddev float64) initializers.VariableInitializer {
	normal := initializers.RandomNormalFn(initialSeed, stddev)
	return func(g *Graph, shape shapes.Shape) *Node {
		limit := 2 * stddev
		return ClipScalar(normal(g, shape), -limit, limit)
	}
}

// weightsInitializer reads the seed from the context and returns the truncated
// normal initializer shared by all layer primitives.
func weightsInitializer(ctx *context.Context) initializers.VariableInitializer {
	seed := context.GetParamOr(ctx, ParamInitialSeed, DefaultInitialSeed)
	return TruncatedNormalFn(seed, WeightsStdDev)
}

// Dense is a fully-connected layer: activation(x·W + b).
//
// Input is shaped [batchSize, inputDim], output [batchSize, OutputDim].
// Activation defaults to Softmax (a normalized exponential) when nil.
type Dense struct {
	OutputDim  int
	Activation func(x *Node) *Node
}

// Forward implements Transform.
func (d *Dense) Forward(ctx *context.Context, x *Node) *Node {
	g := x.Graph()
	ctx = ctx.In("dense")
	dtype := x.DType()
	inputDim := x.Shape().Dimensions[x.Rank()-1]

	weightsVar := ctx.WithInitializer(weightsInitializer(ctx)).
		VariableWithShape("weights", shapes.Make(dtype, inputDim, d.OutputDim))
	biasesVar := ctx.WithInitializer(initializers.Zero).
		VariableWithShape("biases", shapes.Make(dtype, d.OutputDim))

	output := Einsum("ij,jk->ik", x, weightsVar.ValueGraph(g))
	output = Add(output, ExpandAxes(biasesVar.ValueGraph(g), 0))
	if d.Activation != nil {
		return d.Activation(output)
	}
	return Softmax(output)
}

// Conv is a 2D convolution over [batchSize, height, width, channels] inputs,
// with a learned bias per output channel.
//
// Padding takes "SAME" (spatial size preserved at stride 1) or "VALID"
// (no padding, spatial size shrinks). Any other value panics when the graph
// is built, the same way shape errors do.
type Conv struct {
	KernelSize     int
	OutputChannels int
	Strides        int
	Padding        string
}

// Forward implements Transform.
func (c *Conv) Forward(ctx *context.Context, x *Node) *Node {
	g := x.Graph()
	ctx = ctx.In("conv")
	dtype := x.DType()
	inputChannels := x.Shape().Dimensions[x.Rank()-1]
	strides := c.Strides
	if strides == 0 {
		strides = 1
	}

	kernelVar := ctx.WithInitializer(weightsInitializer(ctx)).
		VariableWithShape("weights",
			shapes.Make(dtype, c.KernelSize, c.KernelSize, inputChannels, c.OutputChannels))
	biasesVar := ctx.WithInitializer(initializers.Zero).
		VariableWithShape("biases", shapes.Make(dtype, c.OutputChannels))

	conv := Convolve(x, kernelVar.ValueGraph(g)).Strides(strides)
	switch c.Padding {
	case "SAME", "":
		conv = conv.PadSame()
	case "VALID":
		conv = conv.NoPadding()
	default:
		Panicf("invalid padding %q for convolution: valid values are \"SAME\" and \"VALID\"", c.Padding)
	}
	output := conv.Done()
	return Add(output, ExpandAxes(biasesVar.ValueGraph(g), 0, 1, 2))
}

// BatchNorm normalizes its input per channel using the mean and variance of
// the current batch -- statistics are recomputed on every forward call and
// never carried across calls -- then applies a learned affine rescaling
// (scale, offset) followed by a rectified-linear nonlinearity.
//
// The channel axis is assumed to be the last one; all other axes are reduced
// when computing the batch statistics.
type BatchNorm struct {
	// Epsilon guards the division when the batch variance is near zero.
	// Defaults to 1e-3 when zero.
	Epsilon float64
}

// Forward implements Transform.
func (b *BatchNorm) Forward(ctx *context.Context, x *Node) *Node {
	g := x.Graph()
	ctx = ctx.In("batch_normalization")
	dtype := x.DType()
	epsilon := b.Epsilon
	if epsilon == 0 {
		epsilon = 1e-3
	}
	channels := x.Shape().Dimensions[x.Rank()-1]
	varShape := shapes.Make(dtype, channels)

	// The scale (gamma) is initialized like a weight tensor, the offset
	// (beta) to zero.
	scaleVar := ctx.WithInitializer(weightsInitializer(ctx)).
		VariableWithShape("gamma", varShape)
	offsetVar := ctx.WithInitializer(initializers.Zero).
		VariableWithShape("beta", varShape)

	normalized := batchNormalize(x, epsilon)
	broadcastAxes := axesUpTo(x.Rank() - 1)
	scale := ExpandAxes(scaleVar.ValueGraph(g), broadcastAxes...)
	offset := ExpandAxes(offsetVar.ValueGraph(g), broadcastAxes...)
	return activations.Relu(Add(Mul(normalized, scale), offset))
}

// batchNormalize re-centers and re-scales x to (approximately) zero mean and
// unit variance per channel, using statistics over all axes but the last.
func batchNormalize(x *Node, epsilon float64) *Node {
	reduceAxes := axesUpTo(x.Rank() - 1)
	mean := ReduceAndKeep(x, ReduceMean, reduceAxes...)
	variance := ReduceAndKeep(Square(Sub(x, mean)), ReduceMean, reduceAxes...)
	return Div(Sub(x, mean), Sqrt(AddScalar(variance, epsilon)))
}

// axesUpTo returns [0, 1, ..., n-1].
func axesUpTo(n int) []int {
	axes := make([]int, n)
	for ii := range axes {
		axes[ii] = ii
	}
	return axes
}
