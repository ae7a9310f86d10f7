package vae

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds configurable hyperparameters for the CVAE model.
type Config struct {
	// InputDim is the flattened image width. If zero, 784 (28x28) is
	// used by NewModel.
	InputDim int

	// LabelDim is the one-hot label width appended to the encoder and
	// decoder inputs. Zero builds an unconditional VAE.
	LabelDim int

	// HiddenDim is the size of the single hidden layer on each side
	// (default if 0 will be set by NewModel to 400).
	HiddenDim int

	// LatentDim is the size of the latent code (default if 0 will be
	// set by NewModel to 20).
	LatentDim int

	// Seed controls RNG for weight init and latent sampling. If zero,
	// a time-based seed is used.
	Seed int64
}

// param is one named weight tensor with its gradient accumulator.
// rows*cols elements for matrices, rows elements (cols==0) for biases.
type param struct {
	name string
	rows int
	cols int
	w    []float32
	g    []float32
}

func (p *param) size() int {
	if p.cols == 0 {
		return p.rows
	}
	return p.rows * p.cols
}

func (p *param) shape() []int {
	if p.cols == 0 {
		return []int{p.rows}
	}
	return []int{p.rows, p.cols}
}

// Model is a small conditional variational autoencoder over flattened
// images. Encoder: [x;y] -> hidden -> (mu, logVar). Decoder:
// [z;y] -> hidden -> sigmoid logits. Forward and backward passes are
// hand-rolled, so the package has no deep-learning dependency and tests
// run deterministically from a seed.
type Model struct {
	// Config used for initialization.
	Config Config

	encW, encB *param // [x;y] -> hidden
	muW, muB   *param // hidden -> mu
	lvW, lvB   *param // hidden -> logVar
	decW, decB *param // [z;y] -> hidden
	outW, outB *param // hidden -> logits

	params []*param

	// rng drives weight init and the reparameterization draw.
	rng *rand.Rand

	// cache of the most recent Forward, consumed by Backward.
	cache *forwardCache
}

// forwardCache keeps the per-example intermediates Backward needs.
type forwardCache struct {
	xy     [][]float32 // encoder input, x with one-hot appended
	h1pre  [][]float32
	h1     [][]float32
	mu     [][]float32
	logVar [][]float32
	eps    [][]float32
	zy     [][]float32 // decoder input, z with one-hot appended
	h2pre  [][]float32
	h2     [][]float32
	xhat   [][]float32
}

// NewModel creates a Model with the provided configuration, weights
// Xavier-initialized and ready to train.
func NewModel(cfg Config) (*Model, error) {
	// defaults
	if cfg.InputDim == 0 {
		cfg.InputDim = 784
	}
	if cfg.HiddenDim == 0 {
		cfg.HiddenDim = 400
	}
	if cfg.LatentDim == 0 {
		cfg.LatentDim = 20
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.LabelDim < 0 {
		return nil, errors.New("LabelDim must be >= 0")
	}

	m := &Model{
		Config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}

	encIn := cfg.InputDim + cfg.LabelDim
	decIn := cfg.LatentDim + cfg.LabelDim

	m.encW = m.newMatrix("enc.weight", cfg.HiddenDim, encIn)
	m.encB = m.newBias("enc.bias", cfg.HiddenDim)
	m.muW = m.newMatrix("mu.weight", cfg.LatentDim, cfg.HiddenDim)
	m.muB = m.newBias("mu.bias", cfg.LatentDim)
	m.lvW = m.newMatrix("logvar.weight", cfg.LatentDim, cfg.HiddenDim)
	m.lvB = m.newBias("logvar.bias", cfg.LatentDim)
	m.decW = m.newMatrix("dec.weight", cfg.HiddenDim, decIn)
	m.decB = m.newBias("dec.bias", cfg.HiddenDim)
	m.outW = m.newMatrix("out.weight", cfg.InputDim, cfg.HiddenDim)
	m.outB = m.newBias("out.bias", cfg.InputDim)

	m.params = []*param{
		m.encW, m.encB, m.muW, m.muB, m.lvW, m.lvB,
		m.decW, m.decB, m.outW, m.outB,
	}
	return m, nil
}

// newMatrix allocates a [rows x cols] weight matrix with Xavier/Glorot
// uniform initialization.
func (m *Model) newMatrix(name string, rows, cols int) *param {
	p := &param{name: name, rows: rows, cols: cols}
	p.w = make([]float32, rows*cols)
	p.g = make([]float32, rows*cols)
	limit := float32(math.Sqrt(6.0 / float64(rows+cols)))
	for i := range p.w {
		p.w[i] = (m.rng.Float32()*2.0 - 1.0) * limit
	}
	return p
}

func (m *Model) newBias(name string, rows int) *param {
	return &param{name: name, rows: rows, w: make([]float32, rows), g: make([]float32, rows)}
}

// Conditional reports whether the model expects one-hot labels.
func (m *Model) Conditional() bool { return m.Config.LabelDim > 0 }

// LatentDim returns the latent code width.
func (m *Model) LatentDim() int { return m.Config.LatentDim }

// checkLabels validates the optional label batch against the model's
// conditional configuration and the input batch size.
func (m *Model) checkLabels(batch int, labels [][]float32) error {
	if !m.Conditional() {
		if labels != nil {
			return errors.New("model is unconditional but a label batch was provided")
		}
		return nil
	}
	if labels == nil {
		return errors.New("model is conditional: a one-hot label batch is required")
	}
	if len(labels) != batch {
		return fmt.Errorf("label batch size %d does not match input batch size %d", len(labels), batch)
	}
	for i, row := range labels {
		if len(row) != m.Config.LabelDim {
			return fmt.Errorf("label %d has width %d, want %d", i, len(row), m.Config.LabelDim)
		}
	}
	return nil
}

// dense computes out = W*in + b for a single example.
func dense(W, b *param, in []float32) []float32 {
	out := make([]float32, W.rows)
	for j := 0; j < W.rows; j++ {
		sum := b.w[j]
		row := W.w[j*W.cols : (j+1)*W.cols]
		for i, v := range in {
			sum += row[i] * v
		}
		out[j] = sum
	}
	return out
}

func reluInPlace(x []float32) {
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

func sigmoid(x float32) float32 {
	return float32(1.0 / (1.0 + math.Exp(-float64(x))))
}

// concat returns a with b appended in a fresh slice. b may be nil.
func concat(a, b []float32) []float32 {
	out := make([]float32, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

// Forward runs the encoder, the reparameterization draw and the decoder
// over a batch. labels must be nil for an unconditional model and a
// one-hot batch of matching size otherwise. The intermediates are
// cached for a subsequent Backward call on the same batch.
func (m *Model) Forward(inputs, labels [][]float32) (recons, mu, logVar [][]float32, err error) {
	if len(inputs) == 0 {
		return nil, nil, nil, errors.New("empty input batch")
	}
	if err := m.checkLabels(len(inputs), labels); err != nil {
		return nil, nil, nil, err
	}

	n := len(inputs)
	c := &forwardCache{
		xy:     make([][]float32, n),
		h1pre:  make([][]float32, n),
		h1:     make([][]float32, n),
		mu:     make([][]float32, n),
		logVar: make([][]float32, n),
		eps:    make([][]float32, n),
		zy:     make([][]float32, n),
		h2pre:  make([][]float32, n),
		h2:     make([][]float32, n),
		xhat:   make([][]float32, n),
	}

	recons = make([][]float32, n)
	mu = make([][]float32, n)
	logVar = make([][]float32, n)

	for e := 0; e < n; e++ {
		x := inputs[e]
		if len(x) != m.Config.InputDim {
			return nil, nil, nil, fmt.Errorf("input %d has dimension %d, want %d", e, len(x), m.Config.InputDim)
		}
		var y []float32
		if m.Conditional() {
			y = labels[e]
		}

		xy := concat(x, y)
		h1pre := dense(m.encW, m.encB, xy)
		h1 := make([]float32, len(h1pre))
		copy(h1, h1pre)
		reluInPlace(h1)

		muE := dense(m.muW, m.muB, h1)
		lvE := dense(m.lvW, m.lvB, h1)

		// z = mu + exp(logVar/2) * eps, eps ~ N(0,1)
		eps := make([]float32, m.Config.LatentDim)
		z := make([]float32, m.Config.LatentDim)
		for i := range z {
			eps[i] = float32(m.rng.NormFloat64())
			z[i] = muE[i] + float32(math.Exp(float64(lvE[i])*0.5))*eps[i]
		}

		zy := concat(z, y)
		h2pre := dense(m.decW, m.decB, zy)
		h2 := make([]float32, len(h2pre))
		copy(h2, h2pre)
		reluInPlace(h2)

		logits := dense(m.outW, m.outB, h2)
		xhat := make([]float32, len(logits))
		for i, v := range logits {
			xhat[i] = sigmoid(v)
		}

		c.xy[e] = xy
		c.h1pre[e] = h1pre
		c.h1[e] = h1
		c.mu[e] = muE
		c.logVar[e] = lvE
		c.eps[e] = eps
		c.zy[e] = zy
		c.h2pre[e] = h2pre
		c.h2[e] = h2
		c.xhat[e] = xhat

		recons[e] = xhat
		mu[e] = muE
		logVar[e] = lvE
	}

	m.cache = c
	return recons, mu, logVar, nil
}

// Decode maps latent draws (plus optional one-hot labels) to
// reconstructions without touching the Forward cache.
func (m *Model) Decode(latents, labels [][]float32) ([][]float32, error) {
	if len(latents) == 0 {
		return nil, errors.New("empty latent batch")
	}
	if err := m.checkLabels(len(latents), labels); err != nil {
		return nil, err
	}

	out := make([][]float32, len(latents))
	for e, z := range latents {
		if len(z) != m.Config.LatentDim {
			return nil, fmt.Errorf("latent %d has dimension %d, want %d", e, len(z), m.Config.LatentDim)
		}
		var y []float32
		if m.Conditional() {
			y = labels[e]
		}
		h2 := dense(m.decW, m.decB, concat(z, y))
		reluInPlace(h2)
		logits := dense(m.outW, m.outB, h2)
		xhat := make([]float32, len(logits))
		for i, v := range logits {
			xhat[i] = sigmoid(v)
		}
		out[e] = xhat
	}
	return out, nil
}

// Backward accumulates parameter gradients of the summed BCE+KLD loss
// for the batch most recently passed through Forward. Gradients add
// onto whatever is already in the accumulators; the optimizer's
// ZeroGrad clears them.
func (m *Model) Backward(inputs [][]float32) error {
	c := m.cache
	if c == nil {
		return errors.New("Backward called before Forward")
	}
	if len(inputs) != len(c.xhat) {
		return fmt.Errorf("Backward batch size %d does not match cached Forward batch %d", len(inputs), len(c.xhat))
	}

	latent := m.Config.LatentDim
	for e := range inputs {
		x := inputs[e]
		xhat := c.xhat[e]

		// BCE through the sigmoid: dL/dlogits = xhat - x
		dlogits := make([]float32, len(xhat))
		for i := range xhat {
			dlogits[i] = xhat[i] - x[i]
		}

		dh2 := m.backwardDense(m.outW, m.outB, c.h2[e], dlogits)
		maskReLU(dh2, c.h2pre[e])

		dzy := m.backwardDense(m.decW, m.decB, c.zy[e], dh2)

		// KLD = -0.5 * sum(1 + logVar - mu^2 - exp(logVar))
		dmu := make([]float32, latent)
		dlv := make([]float32, latent)
		for i := 0; i < latent; i++ {
			dz := dzy[i] // label part of dzy reaches no parameters upstream
			muI := c.mu[e][i]
			lvI := float64(c.logVar[e][i])
			dmu[i] = dz + muI
			dlv[i] = dz*c.eps[e][i]*float32(0.5*math.Exp(lvI*0.5)) + float32(0.5*(math.Exp(lvI)-1.0))
		}

		dh1mu := m.backwardDense(m.muW, m.muB, c.h1[e], dmu)
		dh1lv := m.backwardDense(m.lvW, m.lvB, c.h1[e], dlv)
		dh1 := dh1mu
		for i := range dh1 {
			dh1[i] += dh1lv[i]
		}
		maskReLU(dh1, c.h1pre[e])

		m.backwardDense(m.encW, m.encB, c.xy[e], dh1)
	}
	return nil
}

// backwardDense accumulates dW += delta x in, db += delta and returns
// dIn = W^T delta.
func (m *Model) backwardDense(W, b *param, in, delta []float32) []float32 {
	dIn := make([]float32, W.cols)
	for j := 0; j < W.rows; j++ {
		d := delta[j]
		b.g[j] += d
		wRow := W.w[j*W.cols : (j+1)*W.cols]
		gRow := W.g[j*W.cols : (j+1)*W.cols]
		for i := range wRow {
			gRow[i] += d * in[i]
			dIn[i] += wRow[i] * d
		}
	}
	return dIn
}

// maskReLU zeroes deltas where the pre-activation was not positive.
func maskReLU(delta, preact []float32) {
	for i := range delta {
		if preact[i] <= 0 {
			delta[i] = 0
		}
	}
}
