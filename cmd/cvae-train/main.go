// Command cvae-train trains a conditional variational autoencoder on
// MNIST: it wires the dataset, model, optimizer, plateau scheduler,
// early stopping and visualization together, runs the epoch loop with
// checkpointing, and writes the final sample/reconstruction images.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/Noofbiz/cvae/datasets"
	"github.com/Noofbiz/cvae/train"
	"github.com/Noofbiz/cvae/vae"
	"github.com/Noofbiz/cvae/viz"
)

func main() {
	var (
		batchSize   = flag.Int("batch-size", 128, "input training batch size")
		epochs      = flag.Int("epochs", 25, "number of training epochs")
		lr          = flag.Float64("lr", 1e-4, "learning rate")
		optimizer   = flag.String("optimizer", "adam", "optimizer (default: adam)")
		conditional = flag.Bool("conditional", true, "enable the conditional (CVAE) path")
		visdomURL   = flag.String("visdom-url", "", "visdom url, needs http, e.g. http://localhost (default: disabled)")
		visdomPort  = flag.Int("visdom-port", 8097, "visdom server port")
		logInterval = flag.Int("log-interval", 1, "log average losses every this many epochs (not batches)")
		noCuda      = flag.Bool("no-cuda", false, "disables cuda")
		ngpu        = flag.Int("ngpu", 1, "number of gpus available")
		seed        = flag.Int64("seed", 0, "seed for RNGs (0 = time-based)")
		dataDir     = flag.String("data-dir", "data", "directory holding the MNIST IDX files")
		modelDir    = flag.String("model-dir", "models", "directory for checkpoint files")
		outDir      = flag.String("out-dir", "output", "directory for final images and plots")
		workers     = flag.Int("workers", 2, "batch prefetch workers")
	)
	flag.Parse()

	log.Printf("config: batch-size=%d epochs=%d lr=%g optimizer=%s conditional=%v log-interval=%d",
		*batchSize, *epochs, *lr, *optimizer, *conditional, *logInterval)
	if *optimizer != "adam" {
		log.Fatalf("unsupported optimizer %q (only adam is available)", *optimizer)
	}
	// Only a CPU backend exists; the CUDA flags are accepted for
	// compatibility with the usual invocation.
	if !*noCuda || *ngpu > 1 {
		log.Printf("no GPU backend available; running on CPU (ngpu=%d ignored)", *ngpu)
	}
	if *seed != 0 {
		log.Printf("Seed: %d", *seed)
	}

	loaderTrain, err := datasets.NewMNISTDataset(*dataDir, true)
	if err != nil {
		log.Fatalf("failed to load MNIST training split: %v", err)
	}
	loaderVal, err := datasets.NewMNISTDataset(*dataDir, false)
	if err != nil {
		log.Fatalf("failed to load MNIST validation split: %v", err)
	}

	labelDim := 0
	if *conditional {
		labelDim = datasets.NumClasses
	}
	model, err := vae.NewModel(vae.Config{LabelDim: labelDim, Seed: *seed})
	if err != nil {
		log.Fatalf("failed to build model: %v", err)
	}
	opt := vae.NewAdam(model, vae.DefaultAdamConfig())
	scheduler := train.NewReduceLROnPlateau(opt, 0.1, 10, 1e-4, train.ModeMin)
	stopper, err := train.NewEarlyStopping(train.ModeMin, 0.0005, 5)
	if err != nil {
		log.Fatalf("failed to build early stopping: %v", err)
	}

	var reporter train.Reporter
	if *visdomURL != "" {
		client := viz.NewClient(*visdomURL, *visdomPort)
		if client.WaitForConnection(2 * time.Second) {
			reporter = client
		} else {
			log.Printf("visdom endpoint %s unreachable; continuing without visualization", *visdomURL)
		}
	}

	loop := &train.Loop{
		Model:       model,
		Opt:         opt,
		Scheduler:   scheduler,
		Stopper:     stopper,
		Loss:        vae.BCEKLD,
		TrainSource: loaderTrain,
		ValSource:   loaderVal,
		Reporter:    reporter,
		Config: train.LoopConfig{
			Epochs:      *epochs,
			BatchSize:   *batchSize,
			Conditional: *conditional,
			LatentDim:   model.LatentDim(),
			Seed:        *seed,
			LogInterval: *logInterval,
			ModelDir:    *modelDir,
			Workers:     *workers,
		},
	}

	results, err := loop.Run()
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}

	if err := writeArtifacts(*outDir, *epochs, *seed, *conditional, model, loaderVal, results); err != nil {
		log.Fatalf("failed to write final artifacts: %v", err)
	}
	log.Printf("done: %d epochs, artifacts in %s", len(results), *outDir)
}

// writeArtifacts renders the final sample grid, the paired
// original/reconstruction grid and the loss curves.
func writeArtifacts(outDir string, epochs int, seed int64, conditional bool, model *vae.Model, val train.Source, results []train.EpochResult) error {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	samples, err := train.LatentSpaceExample(model, rng, model.LatentDim(), datasets.NumClasses, conditional)
	if err != nil {
		return fmt.Errorf("sample generation: %w", err)
	}
	samplePath := filepath.Join(outDir, fmt.Sprintf("sample_%d.png", epochs))
	if err := viz.SaveImageGrid(samplePath, samples, datasets.ImageRows, datasets.ImageCols, datasets.NumClasses); err != nil {
		return err
	}

	pairs, err := train.ReconstructionExample(model, val, conditional, datasets.NumClasses, 10)
	if err != nil {
		return fmt.Errorf("reconstruction example: %w", err)
	}
	comparisonPath := filepath.Join(outDir, fmt.Sprintf("comparison_%d.png", epochs))
	if err := viz.SaveImageGrid(comparisonPath, pairs, datasets.ImageRows, datasets.ImageCols, 2); err != nil {
		return err
	}

	return viz.SaveLossCurves(filepath.Join(outDir, "loss.png"), results)
}
