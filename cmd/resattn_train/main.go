// Copyright 2026 The Residual Attention Network Authors. SPDX-License-Identifier: Apache-2.0

// resattn_train trains a residual attention network on CIFAR-10.
//
// Usage:
//
//	resattn_train [flags] [dataset]
//
// The optional dataset argument defaults to "CIFER-10" (the only supported
// value, spelled as the original experiments did). Hyperparameters can be
// overridden with --set, e.g. --set="batch_size=128;num_epochs=20".
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"

	resattention "github.com/koichiro11/residual-attention-network"
	"github.com/koichiro11/residual-attention-network/cifar"
)

var (
	flagDataDir    = flag.String("data", "~/work/residual-attention", "Directory to cache the downloaded dataset files.")
	flagCheckpoint = flag.String("checkpoint", "", "Directory to save the final checkpoint to. If left empty, no checkpoint is written.")
)

// createDefaultContext sets the context with the hyperparameters the network
// was tuned with.
func createDefaultContext() *context.Context {
	ctx := context.New()
	ctx.RngStateReset()
	ctx.SetParams(map[string]any{
		resattention.ParamBatchSize:         64,
		resattention.ParamNumEpochs:         100,
		resattention.ParamEarlyStopPatience: 3,
		resattention.ParamSplitSeed:         int64(cifar.DefaultSeed),
		resattention.ParamReportEveryEpochs: 5,
		resattention.ParamInitialSeed:       resattention.DefaultInitialSeed,

		optimizers.ParamOptimizer:    "adam",
		optimizers.ParamLearningRate: 1e-4,
	})
	return ctx
}

func main() {
	ctx := createDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()
	must.M(commandline.ParseContextSettings(ctx, *settings))

	target := resattention.TargetCIFAR10
	if flag.NArg() > 0 {
		target = flag.Arg(0)
	}
	// Fail on an unknown dataset before any download or tensor allocation.
	if err := resattention.ValidateTarget(target); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	*flagDataDir = data.ReplaceTildeInDir(*flagDataDir)
	if !data.FileExists(*flagDataDir) {
		must.M(os.MkdirAll(*flagDataDir, 0777))
	}

	backend := backends.MustNew()
	fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())

	driver := must.M1(resattention.NewDriver(backend, ctx, target, *flagDataDir, *flagCheckpoint))

	// First interrupt stops cleanly after the current epoch; a second one
	// kills the process the usual way.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		klog.Info("interrupt received, finishing current epoch")
		driver.RequestStop()
		signal.Stop(interrupt)
	}()

	finalState := must.M1(driver.Run())
	fmt.Printf("Training finished: %s\n", finalState)
}
