package datasets

import "github.com/gomlx/gomlx/pkg/core/tensors"

// This file defines the dataset contract consumed by the training
// driver.
//
// The concrete implementation loads the MNIST image files (IDX format,
// optionally gzip-compressed) from a local directory. Dataset
// acquisition is out of scope: the files are expected on disk and the
// loader discovers them by their standard names.
//
// Notes on gomlx tensors:
//   - Converting batches into gomlx tensors is a small, well-defined
//     step. Batches are kept as plain float32 buffers plus shape
//     metadata, and the ToGomlx* helpers turn them into gomlx tensors
//     when a gomlx training loop is the consumer.
//
// Layout and intended usage:
//
// MNISTDataset
//   - Reads images-idx3-ubyte and labels-idx1-ubyte files
//   - Inputs per example: 784 float32 pixels scaled to [0,1]
//   - Labels per example: class id 0..9
//
// The datasets implement this interface in order to interact with both
// the train package's pass runner and GoMLX training loops.
type Dataset interface {
	Len() int
	Example(i int) (input []float32, label int, err error)
	Batch(indices []int) (inputs [][]float32, labels []int, err error)
	Shuffle(seed int64)

	// To implement gomlx's train.Dataset interface
	Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error)
	Restart() error
}
