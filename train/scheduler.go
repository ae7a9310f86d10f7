package train

import "log"

// LRController is the optimizer surface the scheduler drives.
type LRController interface {
	LearningRate() float64
	SetLearningRate(lr float64)
}

// ReduceLROnPlateau reduces the learning rate when a metric has
// stopped improving. Its patience is independent of EarlyStopping's.
type ReduceLROnPlateau struct {
	Factor    float64 // multiplier applied to the LR on plateau
	Patience  int     // epochs with no improvement before reducing
	Threshold float64 // minimum change counting as an improvement
	Mode      string  // ModeMin or ModeMax

	target LRController

	bestMetric  float64
	badEpochs   int
	initialized bool
}

// NewReduceLROnPlateau creates a plateau-based scheduler over the
// given optimizer. Out-of-range settings fall back to the usual
// defaults (factor 0.1, patience 10, threshold 1e-4, minimize).
func NewReduceLROnPlateau(target LRController, factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateau {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 10
	}
	if threshold < 0 {
		threshold = 1e-4
	}
	if mode != ModeMin && mode != ModeMax {
		mode = ModeMin
	}
	return &ReduceLROnPlateau{
		Factor:    factor,
		Patience:  patience,
		Threshold: threshold,
		Mode:      mode,
		target:    target,
	}
}

// Step feeds one epoch's metric. On a plateau the optimizer's learning
// rate is multiplied by Factor and the patience window restarts.
func (s *ReduceLROnPlateau) Step(metric float64) {
	if !s.initialized {
		s.bestMetric = metric
		s.initialized = true
		return
	}

	improved := false
	if s.Mode == ModeMin {
		improved = metric < s.bestMetric-s.Threshold
	} else {
		improved = metric > s.bestMetric+s.Threshold
	}

	if improved {
		s.bestMetric = metric
		s.badEpochs = 0
		return
	}

	s.badEpochs++
	if s.badEpochs >= s.Patience {
		old := s.target.LearningRate()
		s.target.SetLearningRate(old * s.Factor)
		s.badEpochs = 0
		log.Printf("ReduceLROnPlateau: metric plateaued, reducing learning rate %g -> %g", old, old*s.Factor)
	}
}
