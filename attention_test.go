// Copyright 2026 The Residual Attention Network Authors. SPDX-License-Identifier: Apache-2.0

package resattention

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/stretchr/testify/require"
)

// The attention module must preserve its input shape, whatever the depth of
// the mask branch pyramid.
func TestAttentionModuleShape(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, test := range []struct {
		name   string
		module AttentionModule
		dims   []int
	}{
		{"default-depth", AttentionModule{Channels: 8}, []int{2, 16, 16, 8}},
		{"shallow-mask", AttentionModule{Channels: 4, DownSampleSteps: 1}, []int{2, 8, 8, 4}},
		{"deep-mask", AttentionModule{Channels: 4, DownSampleSteps: 3}, []int{2, 16, 16, 4}},
	} {
		t.Run(test.name, func(t *testing.T) {
			ctx := context.New()
			gotT := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
				x := IotaFull(g, shapes.Make(dtypes.Float32, test.dims...))
				return test.module.Forward(ctx, x)
			})
			require.NoError(t, gotT.Shape().Check(dtypes.Float32, test.dims...))
		})
	}
}

// The mask is a sigmoid output, so attention weights stay strictly within
// (0, 1).
func TestAttentionMaskRange(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	module := &AttentionModule{Channels: 4}
	maskT := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		x := IotaFull(g, shapes.Make(dtypes.Float32, 2, 8, 8, 4))
		return module.softMask(ctx, x)
	})
	require.NoError(t, maskT.Shape().Check(dtypes.Float32, 2, 8, 8, 4))
	for _, v := range tensors.CopyFlatData[float32](maskT) {
		require.Greater(t, v, float32(0))
		require.Less(t, v, float32(1))
	}
}
