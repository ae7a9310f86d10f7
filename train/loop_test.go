package train

import (
	"bytes"
	"log"
	"math"
	"math/rand"
	"os"
	"strings"
	"testing"
)

// scheduleLoss replays a fixed loss per pass. With a single-example
// source every pass is one batch, so consecutive calls alternate
// between the training and validation pass of each epoch.
func scheduleLoss(losses []float64) LossFunc {
	i := 0
	return func(inputs, recons, mu, logVar [][]float32) (float64, error) {
		v := losses[i%len(losses)]
		i++
		return v, nil
	}
}

func TestLoopRunsFullBudget(t *testing.T) {
	dir := t.TempDir()
	stopper, err := NewEarlyStopping(ModeMin, 0.0005, 5)
	if err != nil {
		t.Fatalf("failed to build stopper: %v", err)
	}

	// Validation losses improve strictly but agree to four decimals, so
	// every epoch checkpoints to the same CVAE_0.1234.json file.
	loop := &Loop{
		Model:       &stubModel{},
		Opt:         &stubOptimizer{},
		Stopper:     stopper,
		Loss:        scheduleLoss([]float64{0.5, 0.123410, 0.4, 0.123405, 0.3, 0.123401}),
		TrainSource: &stubSource{n: 1},
		ValSource:   &stubSource{n: 1},
		Config: LoopConfig{
			Epochs:   3,
			ModelDir: dir,
			Seed:     1,
		},
	}

	results, err := loop.Run()
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d epoch results, want 3", len(results))
	}
	wantTrain := []float64{0.5, 0.4, 0.3}
	wantVal := []float64{0.123410, 0.123405, 0.123401}
	for i, r := range results {
		if r.Epoch != i+1 {
			t.Errorf("result %d epoch = %d, want %d", i, r.Epoch, i+1)
		}
		if math.Abs(r.TrainLoss-wantTrain[i]) > 1e-12 {
			t.Errorf("epoch %d train loss = %v, want %v", r.Epoch, r.TrainLoss, wantTrain[i])
		}
		if math.Abs(r.ValLoss-wantVal[i]) > 1e-12 {
			t.Errorf("epoch %d val loss = %v, want %v", r.Epoch, r.ValLoss, wantVal[i])
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to list checkpoint dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d checkpoint files, want 1 (colliding names overwrite)", len(entries))
	}
	if entries[0].Name() != "CVAE_0.1234.json" {
		t.Errorf("checkpoint file = %q, want CVAE_0.1234.json", entries[0].Name())
	}
	cp, err := ReadCheckpoint(CheckpointPath(dir, 0.123401))
	if err != nil {
		t.Fatalf("failed to read checkpoint: %v", err)
	}
	if cp.Epoch != 3 {
		t.Errorf("surviving checkpoint epoch = %d, want the last write 3", cp.Epoch)
	}
}

func TestLoopStopsEarly(t *testing.T) {
	dir := t.TempDir()
	stopper, err := NewEarlyStopping(ModeMin, 0, 2)
	if err != nil {
		t.Fatalf("failed to build stopper: %v", err)
	}

	loop := &Loop{
		Model:       &stubModel{},
		Opt:         &stubOptimizer{},
		Stopper:     stopper,
		Loss:        constLoss(1.0),
		TrainSource: &stubSource{n: 1},
		ValSource:   &stubSource{n: 1},
		Config: LoopConfig{
			Epochs:   10,
			ModelDir: dir,
			Seed:     1,
		},
	}

	results, err := loop.Run()
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	// Constant loss: epoch 1 sets the best, epochs 2 and 3 exhaust
	// patience. The stop epoch still checkpoints.
	if len(results) != 3 {
		t.Fatalf("got %d epoch results, want 3", len(results))
	}
	cp, err := ReadCheckpoint(CheckpointPath(dir, 1.0))
	if err != nil {
		t.Fatalf("failed to read final checkpoint: %v", err)
	}
	if cp.Epoch != 3 {
		t.Errorf("final checkpoint epoch = %d, want 3", cp.Epoch)
	}
}

func TestLoopLogIntervalCountsEpochs(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	stopper, err := NewEarlyStopping(ModeMin, 0.0005, 5)
	if err != nil {
		t.Fatalf("failed to build stopper: %v", err)
	}

	// Improving losses, no ModelDir: the checkpoint decision still
	// runs every epoch but nothing is written.
	loop := &Loop{
		Model:       &stubModel{},
		Opt:         &stubOptimizer{},
		Stopper:     stopper,
		Loss:        scheduleLoss([]float64{0.5, 0.9, 0.4, 0.8, 0.3, 0.7, 0.2, 0.6}),
		TrainSource: &stubSource{n: 1},
		ValSource:   &stubSource{n: 1},
		Config: LoopConfig{
			Epochs:      4,
			LogInterval: 2,
			Seed:        1,
		},
	}
	if _, err := loop.Run(); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, "Epoch: 1 Average") || strings.Contains(out, "Epoch: 3 Average") {
		t.Error("off-interval epochs were logged")
	}
	if !strings.Contains(out, "Epoch: 2 Average") || !strings.Contains(out, "Epoch: 4 Average") {
		t.Error("on-interval epochs were not logged")
	}
	if strings.Contains(out, "Writing model checkpoint") {
		t.Error("empty ModelDir must not write checkpoints")
	}
}

func TestLoopValidatesConfig(t *testing.T) {
	stopper, _ := NewEarlyStopping(ModeMin, 0, 1)
	loop := &Loop{
		Model:       &stubModel{},
		Opt:         &stubOptimizer{},
		Stopper:     stopper,
		Loss:        constLoss(1.0),
		TrainSource: &stubSource{n: 1},
		ValSource:   &stubSource{n: 1},
	}
	if _, err := loop.Run(); err == nil {
		t.Error("expected an error for a zero epoch budget")
	}

	loop.Config.Epochs = 1
	loop.Stopper = nil
	if _, err := loop.Run(); err == nil {
		t.Error("expected an error for a missing stopper")
	}
}

func TestLatentSpaceExample(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := &stubModel{}

	images, err := LatentSpaceExample(m, rng, 4, 10, true)
	if err != nil {
		t.Fatalf("sample generation failed: %v", err)
	}
	if len(images) != 10 {
		t.Fatalf("got %d images, want one per class", len(images))
	}
	for i, img := range images {
		if len(img) != 4 {
			t.Errorf("image %d has %d values, want the stub to echo 4 latents", i, len(img))
		}
	}
}

func TestReconstructionExample(t *testing.T) {
	m := &stubModel{}
	src := &stubSource{n: 5}

	pairs, err := ReconstructionExample(m, src, true, 10, 3)
	if err != nil {
		t.Fatalf("reconstruction example failed: %v", err)
	}
	if len(pairs) != 6 {
		t.Fatalf("got %d images, want 3 interleaved pairs", len(pairs))
	}
	// The stub echoes inputs, so each pair matches elementwise.
	for i := 0; i < len(pairs); i += 2 {
		if pairs[i][0] != pairs[i+1][0] {
			t.Errorf("pair %d original %v != reconstruction %v", i/2, pairs[i][0], pairs[i+1][0])
		}
	}

	if _, err := ReconstructionExample(m, &stubSource{n: 0}, false, 10, 3); err == nil {
		t.Error("expected an error for an empty validation source")
	}
}
