package datasets

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// OneHot encodes class ids into one-hot rows of the given width.
// Out-of-range ids leave their row all zero.
func OneHot(labels []int, width int) [][]float32 {
	out := make([][]float32, len(labels))
	for i, la := range labels {
		row := make([]float32, width)
		if la >= 0 && la < width {
			row[la] = 1.0
		}
		out[i] = row
	}
	return out
}

// BatchFlat stores a batch in flat contiguous buffers
type BatchFlat struct {
	Inputs    []float32
	Labels    []float32
	BatchSize int
	InputDim  int
	LabelDim  int
}

// MakeBatchFlat flattens a batch into contiguous buffers
func MakeBatchFlat(inputs, labels [][]float32) (*BatchFlat, error) {
	if len(inputs) != len(labels) {
		return nil, fmt.Errorf("inputs and labels batch sizes don't match: %d != %d", len(inputs), len(labels))
	}
	if len(inputs) == 0 {
		return &BatchFlat{BatchSize: 0, InputDim: 0, LabelDim: 0}, nil
	}

	batchSize := len(inputs)
	inputDim := len(inputs[0])
	labelDim := len(labels[0])

	flatInputs := make([]float32, batchSize*inputDim)
	flatLabels := make([]float32, batchSize*labelDim)

	for i := range batchSize {
		if len(inputs[i]) != inputDim {
			return nil, fmt.Errorf("inconsistent input dimensions at example %d: expected %d, got %d",
				i, inputDim, len(inputs[i]))
		}
		if len(labels[i]) != labelDim {
			return nil, fmt.Errorf("inconsistent label dimensions at example %d: expected %d, got %d",
				i, labelDim, len(labels[i]))
		}
		copy(flatInputs[i*inputDim:], inputs[i])
		copy(flatLabels[i*labelDim:], labels[i])
	}

	return &BatchFlat{
		Inputs:    flatInputs,
		Labels:    flatLabels,
		BatchSize: batchSize,
		InputDim:  inputDim,
		LabelDim:  labelDim,
	}, nil
}

// ToGomlxTensors converts BatchFlat to gomlx tensors
func (b *BatchFlat) ToGomlxTensors() (*tensors.Tensor, *tensors.Tensor, error) {
	// handle empty batch gracefully
	if b.BatchSize == 0 || b.InputDim == 0 || b.LabelDim == 0 {
		emptyInputs := make([][]float32, 0)
		emptyLabels := make([][]float32, 0)
		inT := tensors.FromAnyValue(emptyInputs)
		labT := tensors.FromAnyValue(emptyLabels)
		return inT, labT, nil
	}
	// Reshape flat data into 2D slices
	inputs := make([][]float32, b.BatchSize)
	labels := make([][]float32, b.BatchSize)
	for i := range b.BatchSize {
		inputs[i] = b.Inputs[i*b.InputDim : (i+1)*b.InputDim]
		labels[i] = b.Labels[i*b.LabelDim : (i+1)*b.LabelDim]
	}
	inT := tensors.FromAnyValue(inputs)
	labT := tensors.FromAnyValue(labels)
	return inT, labT, nil
}
