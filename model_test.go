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

func TestValidateTarget(t *testing.T) {
	require.NoError(t, ValidateTarget(TargetCIFAR10))

	err := ValidateTarget("MNIST")
	require.Error(t, err)
	require.Contains(t, err.Error(), "MNIST")
	require.Contains(t, err.Error(), TargetCIFAR10)

	// The historical misspelling is the supported name, not the correct one.
	require.Error(t, ValidateTarget("CIFAR-10"))
}

func TestBuildModelLogitsShape(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	modelFn := BuildModel(TargetCIFAR10)
	batchSize := 2
	logitsT := context.ExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		images := IotaFull(g, shapes.Make(dtypes.Float32, batchSize, 32, 32, 3))
		return modelFn(ctx, nil, []*Node{images})[0]
	})
	require.NoError(t, logitsT.Shape().Check(dtypes.Float32, batchSize, NumClasses))
}

func TestBuildModelUnknownTargetPanics(t *testing.T) {
	require.Panics(t, func() { BuildModel("MNIST") })
}
