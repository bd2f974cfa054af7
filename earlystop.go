// Copyright 2026 The Residual Attention Network Authors. SPDX-License-Identifier: Apache-2.0

package resattention

import "math"

// EarlyStopping tracks a validation loss across epochs and signals when it
// has stopped improving: whenever Patience consecutive observations fail to
// beat the best loss seen so far.
//
// An observation improves only if it is strictly below the best; equaling it
// counts as no improvement. Any improvement resets the counter in full.
type EarlyStopping struct {
	patience int
	best     float64
	counter  int
}

// NewEarlyStopping returns a tracker that triggers after patience consecutive
// non-improving epochs.
func NewEarlyStopping(patience int) *EarlyStopping {
	return &EarlyStopping{patience: patience, best: math.Inf(1)}
}

// Observe records one epoch's validation loss and reports whether training
// should stop.
func (e *EarlyStopping) Observe(loss float64) bool {
	if loss < e.best {
		e.best = loss
		e.counter = 0
		return false
	}
	e.counter++
	return e.counter >= e.patience
}

// Best returns the lowest loss observed so far, or +Inf before any
// observation.
func (e *EarlyStopping) Best() float64 { return e.best }
