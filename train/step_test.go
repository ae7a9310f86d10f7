package train

import (
	"errors"
	"math"
	"runtime"
	"testing"
	"time"
)

// stubModel echoes its inputs back as reconstructions and counts calls.
type stubModel struct {
	forwardCalls  int
	backwardCalls int
	forwardErr    error
}

func (s *stubModel) Forward(inputs, labels [][]float32) ([][]float32, [][]float32, [][]float32, error) {
	s.forwardCalls++
	if s.forwardErr != nil {
		return nil, nil, nil, s.forwardErr
	}
	mu := make([][]float32, len(inputs))
	lv := make([][]float32, len(inputs))
	for i := range inputs {
		mu[i] = make([]float32, 2)
		lv[i] = make([]float32, 2)
	}
	return inputs, mu, lv, nil
}

func (s *stubModel) Backward(inputs [][]float32) error {
	s.backwardCalls++
	return nil
}

func (s *stubModel) Decode(latents, labels [][]float32) ([][]float32, error) {
	return latents, nil
}

func (s *stubModel) StateDict() []WeightTensor {
	return []WeightTensor{{Name: "w", Shape: []int{1}, Data: []float32{0}}}
}

func (s *stubModel) LoadStateDict(weights []WeightTensor) error { return nil }

type stubOptimizer struct {
	zeroCalls int
	stepCalls int
}

func (s *stubOptimizer) ZeroGrad() { s.zeroCalls++ }
func (s *stubOptimizer) Step()     { s.stepCalls++ }

// stubSource serves n single-pixel examples with label i%10.
type stubSource struct {
	n        int
	shuffled bool
}

func (s *stubSource) Len() int { return s.n }

func (s *stubSource) Batch(indices []int) ([][]float32, []int, error) {
	inputs := make([][]float32, len(indices))
	labels := make([]int, len(indices))
	for i, idx := range indices {
		inputs[i] = []float32{float32(idx)}
		labels[i] = idx % 10
	}
	return inputs, labels, nil
}

func (s *stubSource) Shuffle(seed int64) { s.shuffled = true }

func constLoss(v float64) LossFunc {
	return func(inputs, recons, mu, logVar [][]float32) (float64, error) {
		return v, nil
	}
}

func TestRunPassDividesByExampleCount(t *testing.T) {
	// 100 examples in batches of 10: ten batch losses of 2.0 summed,
	// divided by the dataset size, not the batch count.
	m := &stubModel{}
	src := &stubSource{n: 100}
	got, err := RunPass(m, nil, constLoss(2.0), src, PassConfig{BatchSize: 10})
	if err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if want := 0.2; math.Abs(got-want) > 1e-12 {
		t.Errorf("mean loss = %v, want %v", got, want)
	}
	if m.forwardCalls != 10 {
		t.Errorf("forward calls = %d, want 10", m.forwardCalls)
	}
}

func TestRunPassTraining(t *testing.T) {
	m := &stubModel{}
	opt := &stubOptimizer{}
	src := &stubSource{n: 25}
	if _, err := RunPass(m, opt, constLoss(1.0), src, PassConfig{Training: true, BatchSize: 10, ShuffleSeed: 7}); err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if !src.shuffled {
		t.Error("training pass did not shuffle the source")
	}
	// 25 examples at batch size 10 is three batches.
	if opt.zeroCalls != 3 || opt.stepCalls != 3 || m.backwardCalls != 3 {
		t.Errorf("zero/step/backward = %d/%d/%d, want 3/3/3",
			opt.zeroCalls, opt.stepCalls, m.backwardCalls)
	}
}

func TestRunPassEvaluationSkipsUpdates(t *testing.T) {
	m := &stubModel{}
	src := &stubSource{n: 20}
	if _, err := RunPass(m, nil, constLoss(1.0), src, PassConfig{BatchSize: 10}); err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	if src.shuffled {
		t.Error("evaluation pass shuffled the source")
	}
	if m.backwardCalls != 0 {
		t.Errorf("backward calls = %d during evaluation, want 0", m.backwardCalls)
	}
}

func TestRunPassErrors(t *testing.T) {
	if _, err := RunPass(&stubModel{}, nil, constLoss(1.0), &stubSource{n: 0}, PassConfig{}); err == nil {
		t.Error("expected an error for an empty source")
	}
	if _, err := RunPass(&stubModel{}, nil, constLoss(1.0), &stubSource{n: 10}, PassConfig{Training: true}); err == nil {
		t.Error("expected an error for a training pass without an optimizer")
	}
	if _, err := RunPass(&stubModel{}, nil, constLoss(math.NaN()), &stubSource{n: 10}, PassConfig{}); err == nil {
		t.Error("expected an error for a NaN loss")
	}
	failing := &stubModel{forwardErr: errors.New("boom")}
	if _, err := RunPass(failing, nil, constLoss(1.0), &stubSource{n: 10}, PassConfig{}); err == nil {
		t.Error("expected the forward error to surface")
	}
}

func TestRunPassErrorReleasesPrefetchWorkers(t *testing.T) {
	// A pass that aborts on the first batch must still tear down its
	// prefetch pool; repeated failures over a large source would
	// otherwise accumulate blocked workers.
	before := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		_, err := RunPass(&stubModel{}, nil, constLoss(math.NaN()), &stubSource{n: 1000},
			PassConfig{BatchSize: 10, Workers: 4})
		if err == nil {
			t.Fatal("expected a non-finite loss error")
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	after := runtime.NumGoroutine()
	for after > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		after = runtime.NumGoroutine()
	}
	if after > before {
		t.Fatalf("goroutines grew from %d to %d across failed passes", before, after)
	}
}
