// Copyright 2026 The Residual Attention Network Authors. SPDX-License-Identifier: Apache-2.0

package resattention

import (
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"

	. "github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	data "github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gomlx/pkg/ml/train/losses"
	"github.com/gomlx/gomlx/pkg/ml/train/metrics"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/koichiro11/residual-attention-network/cifar"
)

// Context hyperparameters read by the training driver. They can be set with
// Context.SetParam (or from the command line) and default to the values the
// network was tuned with.
const (
	ParamBatchSize         = "batch_size"
	ParamNumEpochs         = "num_epochs"
	ParamEarlyStopPatience = "early_stop_patience"
	ParamSplitSeed         = "split_seed"
	ParamReportEveryEpochs = "report_every_epochs"

	// ParamStoppedEpoch is written (not read) by the driver: the epoch early
	// stopping triggered at, recorded in the context so the checkpoint
	// carries it.
	ParamStoppedEpoch = "stopped_epoch"
)

// State is the phase the training driver is in. Transitions are strictly
// forward: data loading, graph building, the epoch loop, then one of the
// terminal loop outcomes — early stop, epoch budget exhausted, or a user
// interrupt — and finally (only after an early stop) the checkpoint write.
type State int

const (
	StateLoadingData State = iota
	StateBuildingGraph
	StateEpochLoop
	StateEarlyStopped
	StateExhausted
	StateInterrupted
	StateCheckpointSaved
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateLoadingData:
		return "loading-data"
	case StateBuildingGraph:
		return "building-graph"
	case StateEpochLoop:
		return "epoch-loop"
	case StateEarlyStopped:
		return "early-stopped"
	case StateExhausted:
		return "epochs-exhausted"
	case StateInterrupted:
		return "interrupted"
	case StateCheckpointSaved:
		return "checkpoint-saved"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// epochResult is what one full epoch of training plus validation produces.
type epochResult struct {
	TrainLoss      float64
	ValidationLoss float64
	ValidationF1   float64
}

// Driver owns a full training run: it loads and partitions the data, builds
// the trainer, runs the epoch loop with early stopping, and writes a final
// checkpoint when training stops early.
type Driver struct {
	backend backends.Backend
	ctx     *context.Context
	target  string

	dataDir       string
	checkpointDir string

	state         State
	stopRequested atomic.Bool

	// runEpoch and saveCheckpoint are filled in by Run; split out so the epoch
	// loop can be driven without a backend.
	runEpoch       func(epoch int) (epochResult, error)
	saveCheckpoint func(epoch int) error

	trainer    *train.Trainer
	checkpoint *checkpoints.Handler
}

// NewDriver returns a training driver for the given dataset target. The
// target is validated here, before any data is touched.
//
// dataDir is where the dataset archive is downloaded and unpacked;
// checkpointDir, if non-empty, is where the final model checkpoint is saved.
func NewDriver(backend backends.Backend, ctx *context.Context, target, dataDir, checkpointDir string) (*Driver, error) {
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}
	return &Driver{
		backend:       backend,
		ctx:           ctx,
		target:        target,
		dataDir:       dataDir,
		checkpointDir: checkpointDir,
		state:         StateLoadingData,
	}, nil
}

// State returns the driver's current phase.
func (d *Driver) State() State { return d.state }

// RequestStop asks the epoch loop to finish after the current epoch, without
// saving a checkpoint. Safe to call from another goroutine (e.g. a signal
// handler).
func (d *Driver) RequestStop() { d.stopRequested.Store(true) }

// Run executes the whole training: download and partition the data, build
// model and trainer, loop over epochs with early stopping, and save the
// checkpoint if (and only if) early stopping triggered. It finishes by
// reporting the evaluation metrics on the held-out test partition, and
// returns the terminal state reached.
func (d *Driver) Run() (State, error) {
	ctx := d.ctx
	batchSize := context.GetParamOr(ctx, ParamBatchSize, 64)
	seed := context.GetParamOr(ctx, ParamSplitSeed, int64(cifar.DefaultSeed))

	// Data.
	klog.V(1).Infof("downloading %s data to %s", d.target, d.dataDir)
	if err := cifar.Download(d.dataDir); err != nil {
		return d.state, errors.WithMessage(err, "downloading dataset")
	}
	all, err := cifar.Load(d.dataDir)
	if err != nil {
		return d.state, errors.WithMessage(err, "loading dataset")
	}
	rng := rand.New(rand.NewSource(seed))
	split, err := cifar.NewSplit(all, rng)
	if err != nil {
		return d.state, err
	}
	klog.V(1).Info(split)
	trainDS, validDS, testDS, err := split.Datasets(d.backend, batchSize, rng)
	if err != nil {
		return d.state, err
	}

	// Trainer and checkpointing.
	d.state = StateBuildingGraph
	d.trainer = train.NewTrainer(d.backend, ctx, BuildModel(d.target),
		losses.CategoricalCrossEntropyLogits,
		optimizers.FromContext(ctx),
		nil, // trainMetrics: the built-in loss metrics suffice.
		[]metrics.Interface{NewMacroF1(NumClasses)})
	if d.checkpointDir != "" {
		d.checkpoint, err = checkpoints.Build(ctx).Dir(d.checkpointDir).Keep(1).Done()
		if err != nil {
			return d.state, errors.WithMessage(err, "setting up checkpointing")
		}
	}

	d.runEpoch = func(epoch int) (epochResult, error) {
		return d.trainValidateEpoch(epoch, trainDS, validDS)
	}
	d.saveCheckpoint = func(epoch int) error {
		if d.checkpoint == nil {
			klog.Warning("no checkpoint directory configured, model not saved")
			return nil
		}
		// Recorded as a context param so the checkpoint carries the epoch it
		// captured.
		ctx.SetParam(ParamStoppedEpoch, epoch)
		return d.checkpoint.Save()
	}
	finalState, err := d.loop()
	if err != nil {
		return finalState, err
	}
	if err = commandline.ReportEval(d.trainer, testDS); err != nil {
		return finalState, errors.WithMessage(err, "evaluating on test data")
	}
	return finalState, nil
}

// loop is the epoch loop state machine. It requires runEpoch and
// saveCheckpoint to be set.
func (d *Driver) loop() (State, error) {
	ctx := d.ctx
	numEpochs := context.GetParamOr(ctx, ParamNumEpochs, 100)
	patience := context.GetParamOr(ctx, ParamEarlyStopPatience, 3)
	reportEvery := context.GetParamOr(ctx, ParamReportEveryEpochs, 5)

	d.state = StateEpochLoop
	stopper := NewEarlyStopping(patience)
	var stoppedEpoch int
	for epoch := 1; epoch <= numEpochs; epoch++ {
		result, err := d.runEpoch(epoch)
		if err != nil {
			return d.state, errors.WithMessagef(err, "epoch %d", epoch)
		}
		if reportEvery > 0 && epoch%reportEvery == 0 {
			fmt.Printf("epoch %d: train loss %.4f, validation loss %.4f, validation F1 %.4f\n",
				epoch, result.TrainLoss, result.ValidationLoss, result.ValidationF1)
		}
		if d.stopRequested.Load() {
			klog.Infof("stop requested, interrupting training after epoch %d", epoch)
			d.state = StateInterrupted
			break
		}
		if stopper.Observe(result.ValidationLoss) {
			klog.Infof("early stopping at epoch %d: validation loss %.4f has not improved on %.4f for %d epochs",
				epoch, result.ValidationLoss, stopper.Best(), patience)
			d.state = StateEarlyStopped
			stoppedEpoch = epoch
			break
		}
	}
	if d.state == StateInterrupted {
		return d.state, nil
	}
	if d.state != StateEarlyStopped {
		d.state = StateExhausted
		return d.state, nil
	}
	if err := d.saveCheckpoint(stoppedEpoch); err != nil {
		return d.state, errors.WithMessage(err, "saving checkpoint")
	}
	d.state = StateCheckpointSaved
	return d.state, nil
}

// trainValidateEpoch runs one pass over the training dataset followed by a
// full evaluation on the validation dataset. The validation loss comes from
// its own evaluation pass and is never mixed up with the training loss.
func (d *Driver) trainValidateEpoch(epoch int, trainDS, validDS *data.InMemoryDataset) (result epochResult, err error) {
	trainDS.Reset()
	batchSize := context.GetParamOr(d.ctx, ParamBatchSize, 64)
	bar := progressbar.NewOptions(trainDS.NumExamples()/batchSize,
		progressbar.OptionSetDescription(fmt.Sprintf("epoch %d", epoch)),
		progressbar.OptionClearOnFinish())

	lossIdx := lossMetricIndex(d.trainer.TrainMetrics())
	var lossSum float64
	var numBatches int
	for {
		spec, inputs, labels, yieldErr := trainDS.Yield()
		if yieldErr == io.EOF {
			break
		}
		if yieldErr != nil {
			err = errors.WithMessage(yieldErr, "reading training batch")
			return
		}
		var stepMetrics []*tensors.Tensor
		stepMetrics, err = d.trainer.TrainStep(spec, inputs, labels)
		if err != nil {
			err = errors.WithMessage(err, "training step")
			return
		}
		lossSum += metricFloat(stepMetrics[lossIdx])
		numBatches++
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	if numBatches == 0 {
		err = errors.New("training dataset yielded no batches")
		return
	}
	result.TrainLoss = lossSum / float64(numBatches)

	validDS.Reset()
	evalValues, evalErr := d.trainer.Eval(validDS)
	if evalErr != nil {
		err = errors.WithMessage(evalErr, "evaluating on validation data")
		return
	}
	evalMetrics := d.trainer.EvalMetrics()
	result.ValidationLoss = metricFloat(evalValues[lossMetricIndex(evalMetrics)])
	for ii, metric := range evalMetrics {
		if metric.MetricType() == "f1" {
			result.ValidationF1 = metricFloat(evalValues[ii])
		}
	}
	return
}

// lossMetricIndex finds the mean loss among the trainer's metrics. The
// trainer always registers one.
func lossMetricIndex(list []metrics.Interface) int {
	for ii, m := range list {
		if m.MetricType() == metrics.LossMetricType {
			return ii
		}
	}
	return 0
}

// metricFloat converts a scalar metric tensor to float64. It panics on any
// other dtype: feeding a silent zero to the early stopper would be worse.
func metricFloat(t *tensors.Tensor) float64 {
	switch v := t.Value().(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	}
	Panicf("metric value has unexpected dtype %s, expected a float scalar", t.DType())
	return 0
}
