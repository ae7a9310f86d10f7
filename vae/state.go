package vae

import (
	"fmt"

	"github.com/Noofbiz/cvae/train"
)

// StateDict exports every parameter tensor by name, in a stable order,
// for checkpointing. The returned buffers are copies.
func (m *Model) StateDict() []train.WeightTensor {
	out := make([]train.WeightTensor, 0, len(m.params))
	for _, p := range m.params {
		data := make([]float32, len(p.w))
		copy(data, p.w)
		out = append(out, train.WeightTensor{
			Name:  p.name,
			Shape: p.shape(),
			Data:  data,
		})
	}
	return out
}

// LoadStateDict restores parameters from a checkpoint's weight
// tensors, matching by name and validating shapes. Every model
// parameter must be present.
func (m *Model) LoadStateDict(weights []train.WeightTensor) error {
	byName := make(map[string]train.WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}
	for _, p := range m.params {
		w, ok := byName[p.name]
		if !ok {
			return fmt.Errorf("checkpoint is missing parameter %q", p.name)
		}
		if !shapeEqual(w.Shape, p.shape()) {
			return fmt.Errorf("parameter %q has shape %v, want %v", p.name, w.Shape, p.shape())
		}
		if len(w.Data) != len(p.w) {
			return fmt.Errorf("parameter %q has %d values, want %d", p.name, len(w.Data), len(p.w))
		}
		copy(p.w, w.Data)
	}
	return nil
}

// StateDict exports the optimizer moments and step counter for
// checkpointing.
func (a *Adam) StateDict() train.OptimizerState {
	state := train.OptimizerState{
		Type: "Adam",
		Step: a.step,
		Parameters: map[string]float64{
			"lr":      a.cfg.LearningRate,
			"beta1":   a.cfg.Beta1,
			"beta2":   a.cfg.Beta2,
			"epsilon": a.cfg.Epsilon,
		},
	}
	for k, p := range a.model.params {
		m := make([]float32, len(a.m[k]))
		copy(m, a.m[k])
		v := make([]float32, len(a.v[k]))
		copy(v, a.v[k])
		state.StateData = append(state.StateData,
			train.WeightTensor{Name: p.name + ".m", Shape: p.shape(), Data: m},
			train.WeightTensor{Name: p.name + ".v", Shape: p.shape(), Data: v},
		)
	}
	return state
}

// LoadStateDict restores the optimizer moments and step counter.
func (a *Adam) LoadStateDict(state train.OptimizerState) error {
	if state.Type != "Adam" {
		return fmt.Errorf("optimizer state is %q, want Adam", state.Type)
	}
	byName := make(map[string][]float32, len(state.StateData))
	for _, w := range state.StateData {
		byName[w.Name] = w.Data
	}
	for k, p := range a.model.params {
		m, ok := byName[p.name+".m"]
		if !ok {
			return fmt.Errorf("optimizer state is missing %q", p.name+".m")
		}
		v, ok := byName[p.name+".v"]
		if !ok {
			return fmt.Errorf("optimizer state is missing %q", p.name+".v")
		}
		if len(m) != len(a.m[k]) || len(v) != len(a.v[k]) {
			return fmt.Errorf("optimizer state for %q has wrong size", p.name)
		}
		copy(a.m[k], m)
		copy(a.v[k], v)
	}
	a.step = state.Step
	if lr, ok := state.Parameters["lr"]; ok && lr > 0 {
		a.cfg.LearningRate = lr
	}
	return nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
