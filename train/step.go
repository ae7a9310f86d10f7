package train

import (
	"errors"
	"fmt"
	"math"

	"github.com/Noofbiz/cvae/datasets"
)

// Model is the trainable collaborator. Forward takes a batch of
// flattened images plus an optional one-hot label batch (nil for the
// unconditional path) and returns reconstructions and the posterior
// parameters. Backward accumulates the loss gradient for the batch
// most recently passed through Forward. Decode maps latent draws back
// to images.
type Model interface {
	Forward(inputs, labels [][]float32) (recons, mu, logVar [][]float32, err error)
	Backward(inputs [][]float32) error
	Decode(latents, labels [][]float32) ([][]float32, error)
	StateDict() []WeightTensor
	LoadStateDict(weights []WeightTensor) error
}

// Optimizer is the parameter-update collaborator.
type Optimizer interface {
	ZeroGrad()
	Step()
}

// LossFunc scores a batch; it must agree with the gradient the model's
// Backward accumulates.
type LossFunc func(inputs, recons, mu, logVar [][]float32) (float64, error)

// Source produces (input, label) examples in a fixed but arbitrary
// order. Shuffle reorders it; the training pass shuffles once per call.
type Source interface {
	Len() int
	Batch(indices []int) (inputs [][]float32, labels []int, err error)
	Shuffle(seed int64)
}

// PassConfig configures one full pass over a Source.
type PassConfig struct {
	// Training applies optimizer updates; otherwise the pass is pure
	// evaluation.
	Training bool

	// Conditional one-hot-encodes labels and hands them to the model;
	// otherwise labels are omitted entirely.
	Conditional bool

	// NumClasses is the one-hot width (default datasets.NumClasses).
	NumClasses int

	// BatchSize (default 128).
	BatchSize int

	// ShuffleSeed reorders the source before a training pass.
	ShuffleSeed int64

	// Workers sizes the prefetch pool (default 2).
	Workers int
}

// RunPass runs one train or evaluate pass over src and returns the
// cumulative loss divided by the number of examples in the source
// (mean per example over the whole pass, not per batch).
func RunPass(m Model, opt Optimizer, lossFn LossFunc, src Source, cfg PassConfig) (float64, error) {
	n := src.Len()
	if n == 0 {
		return 0, errors.New("data source is empty")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.NumClasses <= 0 {
		cfg.NumClasses = datasets.NumClasses
	}
	if cfg.Training && opt == nil {
		return 0, errors.New("training pass requires an optimizer")
	}

	if cfg.Training {
		src.Shuffle(cfg.ShuffleSeed)
	}

	plan := datasets.BatchPlan(n, cfg.BatchSize)
	pf := datasets.NewPrefetcher(src, plan, cfg.Workers, 0)
	defer pf.Close()

	var sum float64
	for {
		batch, ok := pf.Next()
		if !ok {
			break
		}
		if batch.Err != nil {
			return 0, fmt.Errorf("failed to read batch: %w", batch.Err)
		}

		if cfg.Training {
			opt.ZeroGrad()
		}

		var oneHot [][]float32
		if cfg.Conditional {
			oneHot = datasets.OneHot(batch.Labels, cfg.NumClasses)
		}

		recons, mu, logVar, err := m.Forward(batch.Inputs, oneHot)
		if err != nil {
			return 0, fmt.Errorf("forward pass failed: %w", err)
		}
		loss, err := lossFn(batch.Inputs, recons, mu, logVar)
		if err != nil {
			return 0, fmt.Errorf("loss computation failed: %w", err)
		}
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return 0, fmt.Errorf("loss is not finite: %v", loss)
		}
		sum += loss

		if cfg.Training {
			if err := m.Backward(batch.Inputs); err != nil {
				return 0, fmt.Errorf("backward pass failed: %w", err)
			}
			opt.Step()
		}
	}

	return sum / float64(n), nil
}
