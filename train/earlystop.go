package train

import (
	"fmt"
	"math"
)

// Early-stopping modes: minimize tracks losses, maximize tracks scores.
const (
	ModeMin = "min"
	ModeMax = "max"
)

// EarlyStopping halts training once the monitored metric has gone
// patience epochs without improving on the best value seen by more
// than minDelta.
//
// bestValue follows the best metric observed so far regardless of
// minDelta; the patience counter only resets when a new value beats
// the previous best by more than minDelta. Once the stop signal has
// fired it is terminal: later calls keep returning true and the
// counter never resets.
type EarlyStopping struct {
	mode     string
	minDelta float64
	patience int

	bestValue      float64
	badEpochsCount int
	triggered      bool
}

// NewEarlyStopping builds the stopper. mode is ModeMin or ModeMax,
// patience must be positive.
func NewEarlyStopping(mode string, minDelta float64, patience int) (*EarlyStopping, error) {
	if mode != ModeMin && mode != ModeMax {
		return nil, fmt.Errorf("early stopping mode must be %q or %q, got %q", ModeMin, ModeMax, mode)
	}
	if patience <= 0 {
		return nil, fmt.Errorf("early stopping patience must be > 0, got %d", patience)
	}
	if minDelta < 0 {
		return nil, fmt.Errorf("early stopping minDelta must be >= 0, got %v", minDelta)
	}
	e := &EarlyStopping{
		mode:     mode,
		minDelta: minDelta,
		patience: patience,
	}
	if mode == ModeMin {
		e.bestValue = math.Inf(1)
	} else {
		e.bestValue = math.Inf(-1)
	}
	return e, nil
}

// Step feeds one epoch's metric and reports whether training should
// stop. A NaN or infinite metric is a malformed input and fails.
func (e *EarlyStopping) Step(current float64) (bool, error) {
	if math.IsNaN(current) || math.IsInf(current, 0) {
		return false, fmt.Errorf("early stopping metric is not finite: %v", current)
	}
	if e.triggered {
		return true, nil
	}

	var beyondDelta, better bool
	if e.mode == ModeMin {
		beyondDelta = current < e.bestValue-e.minDelta
		better = current < e.bestValue
	} else {
		beyondDelta = current > e.bestValue+e.minDelta
		better = current > e.bestValue
	}

	if beyondDelta {
		e.badEpochsCount = 0
	} else {
		e.badEpochsCount++
	}
	if better {
		e.bestValue = current
	}

	if e.badEpochsCount >= e.patience {
		e.triggered = true
	}
	return e.triggered, nil
}

// Best returns the best metric value seen so far.
func (e *EarlyStopping) Best() float64 { return e.bestValue }

// BadEpochs returns the current run of epochs without sufficient
// improvement.
func (e *EarlyStopping) BadEpochs() int { return e.badEpochsCount }
