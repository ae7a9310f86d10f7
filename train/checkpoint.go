package train

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WeightTensor is one named model parameter with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// OptimizerState captures optimizer-specific state (moment estimates,
// step counter) alongside its hyperparameters.
type OptimizerState struct {
	Type       string             `json:"type"`
	Step       int                `json:"step"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	StateData  []WeightTensor     `json:"state_data,omitempty"`
}

// OptimizerStater is implemented by optimizers whose state belongs in
// checkpoints.
type OptimizerStater interface {
	StateDict() OptimizerState
	LoadStateDict(state OptimizerState) error
}

// Checkpoint is a full training snapshot: model parameters plus the
// epoch and validation loss that produced them.
type Checkpoint struct {
	Epoch     int             `json:"epoch"`
	ValLoss   float64         `json:"val_loss"`
	Weights   []WeightTensor  `json:"weights"`
	Optimizer *OptimizerState `json:"optimizer,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ShouldCheckpoint reports whether the model state should be persisted:
// either the validation loss improved on the best seen, or the stop
// signal fired and this is the final epoch.
func ShouldCheckpoint(currentValLoss, bestLoss float64, stop bool) bool {
	return currentValLoss < bestLoss || stop
}

// CheckpointPath names a checkpoint file from its validation loss.
// Two epochs with the same rounded loss collide; the later write wins.
func CheckpointPath(dir string, valLoss float64) string {
	return filepath.Join(dir, fmt.Sprintf("CVAE_%.4f.json", valLoss))
}

// WriteCheckpoint persists cp under dir, named by its validation loss,
// creating dir if needed. The write is synchronous and any I/O failure
// is returned to the caller.
func WriteCheckpoint(dir string, cp *Checkpoint) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	path := CheckpointPath(dir, cp.ValLoss)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return path, nil
}

// ReadCheckpoint loads a checkpoint previously written by
// WriteCheckpoint.
func ReadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint %s: %w", path, err)
	}
	return &cp, nil
}
