// Copyright 2026 The Residual Attention Network Authors. SPDX-License-Identifier: Apache-2.0

package resattention

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/stretchr/testify/require"
)

func TestResidualBlockNeedsProjection(t *testing.T) {
	for _, test := range []struct {
		name          string
		block         ResidualBlock
		inputChannels int
		want          bool
	}{
		{"identity", ResidualBlock{OutputChannels: 16}, 16, false},
		{"channel-change", ResidualBlock{OutputChannels: 32}, 16, true},
		{"down-sampling", ResidualBlock{OutputChannels: 16, Stride: 2}, 16, true},
		{"both", ResidualBlock{OutputChannels: 32, Stride: 2}, 16, true},
	} {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want, test.block.NeedsProjection(test.inputChannels))
		})
	}
}

func TestResidualBlockShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, test := range []struct {
		name     string
		block    ResidualBlock
		wantDims []int
	}{
		{"identity", ResidualBlock{OutputChannels: 8}, []int{2, 16, 16, 8}},
		{"widen", ResidualBlock{OutputChannels: 16}, []int{2, 16, 16, 16}},
		{"down-sample", ResidualBlock{OutputChannels: 16, Stride: 2}, []int{2, 8, 8, 16}},
	} {
		t.Run(test.name, func(t *testing.T) {
			ctx := context.New()
			gotT := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
				x := IotaFull(g, shapes.Make(dtypes.Float32, 2, 16, 16, 8))
				return test.block.Forward(ctx, x)
			})
			require.NoError(t, gotT.Shape().Check(dtypes.Float32, test.wantDims...))
		})
	}
}

// The skip path only creates its projection variables when the shape changes.
func TestResidualBlockProjectionVariables(t *testing.T) {
	backend := graphtest.BuildTestBackend()

	hasProjection := func(block ResidualBlock) bool {
		ctx := context.New()
		_ = context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
			x := IotaFull(g, shapes.Make(dtypes.Float32, 2, 8, 8, 8))
			return block.Forward(ctx.In("block"), x)
		})
		found := false
		ctx.EnumerateVariables(func(v *context.Variable) {
			if v.Scope() == "/block/residual_block/projection/conv" {
				found = true
			}
		})
		return found
	}

	require.False(t, hasProjection(ResidualBlock{OutputChannels: 8}))
	require.True(t, hasProjection(ResidualBlock{OutputChannels: 8, Stride: 2}))
	require.True(t, hasProjection(ResidualBlock{OutputChannels: 16}))
}
