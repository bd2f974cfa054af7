// Copyright 2026 The Residual Attention Network Authors. SPDX-License-Identifier: Apache-2.0

package resattention

import (
	"fmt"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/google/uuid"
)

// macroF1Metric accumulates per-class true-positive, false-positive and
// false-negative counts across batches and reports the macro-averaged F1:
// the unweighted mean of the per-class F1 scores, so every class counts the
// same regardless of its support.
//
// Classes never seen in the evaluated data (zero support and zero
// predictions) contribute an F1 of zero.
type macroF1Metric struct {
	numClasses int
	scopeName  string
}

// NewMacroF1 returns a macro-averaged F1 metric over numClasses classes.
// Labels are expected one-hot encoded and predictions as logits (or
// probabilities), both shaped [batchSize, numClasses]; both are reduced with
// an arg-max before counting.
func NewMacroF1(numClasses int) metrics.Interface {
	return &macroF1Metric{numClasses: numClasses}
}

func (m *macroF1Metric) Name() string       { return "Macro-averaged F1" }
func (m *macroF1Metric) ShortName() string  { return "F1" }
func (m *macroF1Metric) MetricType() string { return "f1" }

func (m *macroF1Metric) ScopeName() string {
	if m.scopeName == "" {
		m.scopeName = context.EscapeScopeName(
			fmt.Sprintf("%s_uuid_%s", m.Name(), uuid.NewString()))
	}
	return m.scopeName
}

func (m *macroF1Metric) PrettyPrint(value *tensors.Tensor) string {
	return fmt.Sprintf("%.3f", value.Value())
}

// counterNames are the per-class count variables kept between batches.
var counterNames = []string{"true_positives", "false_positives", "false_negatives"}

// metricsScope is the context scope holding metric state, away from the model
// variables.
const metricsScope = "metrics"

// UpdateGraph implements metrics.Interface. It adds this batch's counts to
// the stored totals and returns the macro F1 over everything seen since the
// last Reset.
func (m *macroF1Metric) UpdateGraph(ctx *context.Context, labels, predictions []*Node) *Node {
	g := predictions[0].Graph()
	dtype := dtypes.Float32

	predicted := OneHot(ArgMax(predictions[0], -1), m.numClasses, dtype)
	truth := OneHot(ArgMax(labels[0], -1), m.numClasses, dtype)

	batchCounts := []*Node{
		ReduceSum(Mul(predicted, truth), 0),            // true positives
		ReduceSum(Mul(predicted, OneMinus(truth)), 0),  // false positives
		ReduceSum(Mul(OneMinus(predicted), truth), 0),  // false negatives
	}

	// Metric state lives in its own scope, outside the model variables, so
	// variable reuse checks don't apply.
	ctx = ctx.Checked(false).In(metricsScope).In(m.ScopeName())
	counts := make([]*Node, len(counterNames))
	for ii, name := range counterNames {
		countVar := ctx.WithInitializer(initializers.Zero).
			VariableWithShape(name, shapes.Make(dtype, m.numClasses)).
			SetTrainable(false)
		counts[ii] = Add(countVar.ValueGraph(g), batchCounts[ii])
		countVar.SetValueGraph(counts[ii])
	}

	tp, fp, fn := counts[0], counts[1], counts[2]
	// Per-class F1 written with a single denominator: 2·TP / (2·TP + FP + FN).
	denominator := Add(MulScalar(tp, 2), Add(fp, fn))
	f1 := Where(GreaterThan(denominator, ScalarZero(g, dtype)),
		Div(MulScalar(tp, 2), denominator),
		Zeros(g, tp.Shape()))
	return ReduceAllMean(f1)
}

// Reset implements metrics.Interface, zeroing the accumulated counts. A call
// before the first UpdateGraph is a no-op.
func (m *macroF1Metric) Reset(ctx *context.Context) {
	ctx = ctx.Reuse().In(metricsScope).In(m.ScopeName())
	for _, name := range counterNames {
		countVar := ctx.GetVariableByScopeAndName(ctx.Scope(), name)
		if countVar == nil {
			return
		}
		zeros := tensors.FromShape(countVar.Shape())
		countVar.MustSetValue(zeros)
	}
}
