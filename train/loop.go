package train

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/Noofbiz/cvae/datasets"
)

// EpochResult records one epoch's mean losses.
type EpochResult struct {
	Epoch     int
	TrainLoss float64
	ValLoss   float64
}

// Scheduler adjusts the learning rate from the validation metric.
type Scheduler interface {
	Step(metric float64)
}

// Reporter receives named (x, y) series updates and raw image batches
// for display. Implementations are fire-and-forget: they log their own
// failures and never surface errors into the training loop.
type Reporter interface {
	UpdatePlot(win string, x, y float64)
	Images(win string, images [][]float32, rows, cols int)
}

// LoopConfig holds the knobs for the epoch loop.
type LoopConfig struct {
	Epochs      int
	BatchSize   int
	Conditional bool
	NumClasses  int // one-hot width (default datasets.NumClasses)
	LatentDim   int // latent width for sample generation (default 20)
	ImageRows   int // image height for reporting (default datasets.ImageRows)
	ImageCols   int // image width for reporting (default datasets.ImageCols)
	Seed        int64
	// LogInterval is the number of epochs between loss log lines
	// (default 1). The interval counts epochs, not batches.
	LogInterval int
	ModelDir    string
	Workers     int
}

// Loop composes the collaborators for the full training run: one
// training pass and one validation pass per epoch, scheduler step,
// reporting, early-stopping check and checkpoint decision.
type Loop struct {
	Model       Model
	Opt         Optimizer
	Scheduler   Scheduler
	Stopper     *EarlyStopping
	Loss        LossFunc
	TrainSource Source
	ValSource   Source
	Reporter    Reporter

	Config LoopConfig
}

// Run executes the epoch loop until the budget is exhausted or the
// early-stopping signal fires. On stop the final checkpoint check
// still runs, then the loop exits immediately. Returns one EpochResult
// per executed epoch.
func (l *Loop) Run() ([]EpochResult, error) {
	if l.Model == nil || l.Loss == nil || l.TrainSource == nil || l.ValSource == nil {
		return nil, errors.New("loop requires model, loss and both data sources")
	}
	if l.Stopper == nil {
		return nil, errors.New("loop requires an early-stopping rule")
	}
	cfg := l.Config
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epoch budget must be > 0, got %d", cfg.Epochs)
	}
	if cfg.NumClasses <= 0 {
		cfg.NumClasses = datasets.NumClasses
	}
	if cfg.LatentDim <= 0 {
		cfg.LatentDim = 20
	}
	if cfg.ImageRows <= 0 {
		cfg.ImageRows = datasets.ImageRows
	}
	if cfg.ImageCols <= 0 {
		cfg.ImageCols = datasets.ImageCols
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	bestLoss := math.Inf(1)
	results := make([]EpochResult, 0, cfg.Epochs)

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		tLoss, err := RunPass(l.Model, l.Opt, l.Loss, l.TrainSource, PassConfig{
			Training:    true,
			Conditional: cfg.Conditional,
			NumClasses:  cfg.NumClasses,
			BatchSize:   cfg.BatchSize,
			ShuffleSeed: rng.Int63(),
			Workers:     cfg.Workers,
		})
		if err != nil {
			return results, fmt.Errorf("training pass failed at epoch %d: %w", epoch, err)
		}

		vLoss, err := RunPass(l.Model, nil, l.Loss, l.ValSource, PassConfig{
			Training:    false,
			Conditional: cfg.Conditional,
			NumClasses:  cfg.NumClasses,
			BatchSize:   cfg.BatchSize,
			Workers:     cfg.Workers,
		})
		if err != nil {
			return results, fmt.Errorf("validation pass failed at epoch %d: %w", epoch, err)
		}

		if l.Scheduler != nil {
			l.Scheduler.Step(vLoss)
		}

		if epoch%cfg.LogInterval == 0 {
			log.Printf("====> Epoch: %d Average Train loss: %.4f", epoch, tLoss)
			log.Printf("====> Epoch: %d Average Validation loss: %.4f", epoch, vLoss)
		}

		l.report(epoch, tLoss, vLoss, rng, cfg)

		stop, err := l.Stopper.Step(vLoss)
		if err != nil {
			return results, fmt.Errorf("early stopping failed at epoch %d: %w", epoch, err)
		}

		if ShouldCheckpoint(vLoss, bestLoss, stop) {
			// An empty ModelDir disables persistence only; bestLoss
			// still advances and the decision sequence is identical.
			bestLoss = vLoss
			if cfg.ModelDir != "" {
				log.Print("Writing model checkpoint")
				cp := &Checkpoint{
					Epoch:   epoch,
					ValLoss: vLoss,
					Weights: l.Model.StateDict(),
				}
				if stater, ok := l.Opt.(OptimizerStater); ok {
					state := stater.StateDict()
					cp.Optimizer = &state
				}
				if _, err := WriteCheckpoint(cfg.ModelDir, cp); err != nil {
					return results, fmt.Errorf("checkpoint failed at epoch %d: %w", epoch, err)
				}
			}
		}

		results = append(results, EpochResult{Epoch: epoch, TrainLoss: tLoss, ValLoss: vLoss})

		if stop {
			log.Printf("Early stopping at epoch: %d", epoch)
			break
		}
	}

	return results, nil
}

// report sends the epoch's series points and example images to the
// reporter. Reporting is optional and never aborts the run.
func (l *Loop) report(epoch int, tLoss, vLoss float64, rng *rand.Rand, cfg LoopConfig) {
	if l.Reporter == nil {
		return
	}
	l.Reporter.UpdatePlot("tloss", float64(epoch), tLoss)
	l.Reporter.UpdatePlot("vloss", float64(epoch), vLoss)

	samples, err := LatentSpaceExample(l.Model, rng, cfg.LatentDim, cfg.NumClasses, cfg.Conditional)
	if err != nil {
		log.Printf("sample generation failed at epoch %d: %v", epoch, err)
	} else {
		l.Reporter.Images(fmt.Sprintf("Generated sample %d", epoch), samples, cfg.ImageRows, cfg.ImageCols)
	}

	pairs, err := ReconstructionExample(l.Model, l.ValSource, cfg.Conditional, cfg.NumClasses, cfg.NumClasses)
	if err != nil {
		log.Printf("reconstruction example failed at epoch %d: %v", epoch, err)
	} else {
		l.Reporter.Images(fmt.Sprintf("Reconstruction %d", epoch), pairs, cfg.ImageRows, cfg.ImageCols)
	}
}

// LatentSpaceExample decodes one random latent draw per class: a batch
// of numClasses standard-normal codes, conditioned on the identity
// one-hot labels when conditional.
func LatentSpaceExample(m Model, rng *rand.Rand, latentDim, numClasses int, conditional bool) ([][]float32, error) {
	latents := make([][]float32, numClasses)
	for e := range latents {
		z := make([]float32, latentDim)
		for i := range z {
			z[i] = float32(rng.NormFloat64())
		}
		latents[e] = z
	}
	var labels [][]float32
	if conditional {
		labels = make([][]float32, numClasses)
		for e := range labels {
			row := make([]float32, numClasses)
			row[e] = 1.0
			labels[e] = row
		}
	}
	return m.Decode(latents, labels)
}

// ReconstructionExample runs the first count validation examples
// through the model and returns original/reconstruction pairs
// interleaved: [orig0, recon0, orig1, recon1, ...].
func ReconstructionExample(m Model, val Source, conditional bool, numClasses, count int) ([][]float32, error) {
	n := val.Len()
	if n == 0 {
		return nil, errors.New("validation source is empty")
	}
	if count > n {
		count = n
	}
	indices := make([]int, count)
	for i := range indices {
		indices[i] = i
	}
	inputs, labels, err := val.Batch(indices)
	if err != nil {
		return nil, err
	}
	var oneHot [][]float32
	if conditional {
		oneHot = datasets.OneHot(labels, numClasses)
	}
	recons, _, _, err := m.Forward(inputs, oneHot)
	if err != nil {
		return nil, err
	}
	pairs := make([][]float32, 0, 2*count)
	for i := 0; i < count; i++ {
		pairs = append(pairs, inputs[i], recons[i])
	}
	return pairs, nil
}
