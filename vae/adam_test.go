package vae

import "testing"

func TestNewAdamDefaults(t *testing.T) {
	m, err := NewModel(smallConfig(0))
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	a := NewAdam(m, AdamConfig{})
	if a.cfg != DefaultAdamConfig() {
		t.Errorf("zero config = %+v, want the defaults %+v", a.cfg, DefaultAdamConfig())
	}

	a = NewAdam(m, AdamConfig{LearningRate: 5e-4})
	if a.cfg.LearningRate != 5e-4 || a.cfg.Beta1 != 0.9 {
		t.Errorf("partial config not merged with defaults: %+v", a.cfg)
	}
}

func TestAdamStepUpdatesWeights(t *testing.T) {
	m, err := NewModel(smallConfig(0))
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	a := NewAdam(m, DefaultAdamConfig())

	inputs := [][]float32{{0.9, 0.1, 0.9, 0.1, 0.9, 0.1}}
	before := m.StateDict()

	a.ZeroGrad()
	if _, _, _, err := m.Forward(inputs, nil); err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if err := m.Backward(inputs); err != nil {
		t.Fatalf("backward failed: %v", err)
	}
	a.Step()

	if a.StepCount() != 1 {
		t.Errorf("step count = %d, want 1", a.StepCount())
	}
	after := m.StateDict()
	changed := false
	for i := range before {
		for j := range before[i].Data {
			if before[i].Data[j] != after[i].Data[j] {
				changed = true
			}
		}
	}
	if !changed {
		t.Error("step with accumulated gradients left every weight unchanged")
	}
}

func TestAdamStepWithZeroGradientsIsNoOp(t *testing.T) {
	m, err := NewModel(smallConfig(0))
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	a := NewAdam(m, DefaultAdamConfig())

	before := m.StateDict()
	a.ZeroGrad()
	a.Step()
	after := m.StateDict()
	for i := range before {
		for j := range before[i].Data {
			if before[i].Data[j] != after[i].Data[j] {
				t.Fatalf("weight %s[%d] moved with zero gradients", before[i].Name, j)
			}
		}
	}
}

func TestAdamLearningRateControl(t *testing.T) {
	m, err := NewModel(smallConfig(0))
	if err != nil {
		t.Fatalf("failed to build model: %v", err)
	}
	a := NewAdam(m, DefaultAdamConfig())
	if a.LearningRate() != 1e-3 {
		t.Errorf("learning rate = %v, want 1e-3", a.LearningRate())
	}
	a.SetLearningRate(1e-4)
	if a.LearningRate() != 1e-4 {
		t.Errorf("learning rate = %v after set, want 1e-4", a.LearningRate())
	}
}
