package vae

import "math"

// AdamConfig holds the Adam optimizer hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// DefaultAdamConfig returns the standard Adam settings.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 1e-3,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
	}
}

// Adam applies bias-corrected Adam updates to a Model's parameters
// using the gradients Backward accumulated.
type Adam struct {
	cfg   AdamConfig
	model *Model

	// first and second moment estimates, one buffer per parameter
	// tensor, same order as model.params.
	m [][]float32
	v [][]float32

	step int
}

// NewAdam creates an Adam optimizer over model. Zero-valued config
// fields fall back to the defaults.
func NewAdam(model *Model, cfg AdamConfig) *Adam {
	def := DefaultAdamConfig()
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.Beta1 <= 0 {
		cfg.Beta1 = def.Beta1
	}
	if cfg.Beta2 <= 0 {
		cfg.Beta2 = def.Beta2
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = def.Epsilon
	}

	a := &Adam{
		cfg:   cfg,
		model: model,
		m:     make([][]float32, len(model.params)),
		v:     make([][]float32, len(model.params)),
	}
	for i, p := range model.params {
		a.m[i] = make([]float32, p.size())
		a.v[i] = make([]float32, p.size())
	}
	return a
}

// ZeroGrad clears every parameter's gradient accumulator.
func (a *Adam) ZeroGrad() {
	for _, p := range a.model.params {
		for i := range p.g {
			p.g[i] = 0
		}
	}
}

// Step applies one bias-corrected Adam update.
func (a *Adam) Step() {
	a.step++
	t := float64(a.step)
	lrT := a.cfg.LearningRate * math.Sqrt(1.0-math.Pow(a.cfg.Beta2, t)) / (1.0 - math.Pow(a.cfg.Beta1, t))

	b1 := float32(a.cfg.Beta1)
	b2 := float32(a.cfg.Beta2)
	for k, p := range a.model.params {
		mk, vk := a.m[k], a.v[k]
		for i, g := range p.g {
			mk[i] = b1*mk[i] + (1-b1)*g
			vk[i] = b2*vk[i] + (1-b2)*g*g
			p.w[i] -= float32(lrT * float64(mk[i]) / (math.Sqrt(float64(vk[i])) + a.cfg.Epsilon))
		}
	}
}

// LearningRate returns the current base learning rate.
func (a *Adam) LearningRate() float64 { return a.cfg.LearningRate }

// SetLearningRate replaces the base learning rate; the plateau
// scheduler calls this when the validation loss stalls.
func (a *Adam) SetLearningRate(lr float64) { a.cfg.LearningRate = lr }

// StepCount returns the number of updates applied so far.
func (a *Adam) StepCount() int { return a.step }
