package datasets

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// IDX magic numbers: 0x00000803 for image files, 0x00000801 for labels.
const (
	idxMagicImages = 0x00000803
	idxMagicLabels = 0x00000801
)

// ImageRows and ImageCols are the MNIST image dimensions; InputDim is
// the flattened input width fed to the model.
const (
	ImageRows = 28
	ImageCols = 28
	InputDim  = ImageRows * ImageCols

	// NumClasses is the one-hot width for the conditional path.
	NumClasses = 10
)

// MNISTDataset holds a fully decoded split of MNIST. Images are kept as
// raw bytes and scaled to float32 on access, so a 60k-example split
// stays under 50MB.
type MNISTDataset struct {
	images []byte // n * InputDim raw pixels
	labels []byte // n class ids
	n      int

	// BatchSize is used by Yield when feeding a gomlx training loop.
	BatchSize int

	rand *rand.Rand
	perm []int // identity until Shuffle is called
	next int   // Yield cursor
}

// NewMNISTDataset loads one split of MNIST from dir. train selects the
// 60k training split, otherwise the 10k test split. Both the raw IDX
// files and their .gz forms are accepted.
func NewMNISTDataset(dir string, train bool) (*MNISTDataset, error) {
	prefix := "t10k"
	if train {
		prefix = "train"
	}
	imgPath, err := findIDXFile(dir, prefix+"-images-idx3-ubyte")
	if err != nil {
		return nil, err
	}
	labPath, err := findIDXFile(dir, prefix+"-labels-idx1-ubyte")
	if err != nil {
		return nil, err
	}

	images, rows, cols, err := readIDXImages(imgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", imgPath, err)
	}
	if rows != ImageRows || cols != ImageCols {
		return nil, fmt.Errorf("unexpected image size %dx%d in %s (want %dx%d)",
			rows, cols, imgPath, ImageRows, ImageCols)
	}
	labels, err := readIDXLabels(labPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", labPath, err)
	}
	n := len(labels)
	if len(images) != n*InputDim {
		return nil, fmt.Errorf("image/label count mismatch: %d images, %d labels",
			len(images)/InputDim, n)
	}

	ds := &MNISTDataset{
		images:    images,
		labels:    labels,
		n:         n,
		BatchSize: 128,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	ds.perm = make([]int, n)
	for i := range ds.perm {
		ds.perm[i] = i
	}
	return ds, nil
}

// Len returns the number of examples in the split.
func (d *MNISTDataset) Len() int { return d.n }

// Example returns the i-th example (after any shuffle) as scaled pixels
// plus its class id.
func (d *MNISTDataset) Example(i int) ([]float32, int, error) {
	if i < 0 || i >= d.n {
		return nil, 0, fmt.Errorf("example index %d out of range [0,%d)", i, d.n)
	}
	j := d.perm[i]
	raw := d.images[j*InputDim : (j+1)*InputDim]
	input := make([]float32, InputDim)
	for k, px := range raw {
		input[k] = float32(px) / 255.0
	}
	return input, int(d.labels[j]), nil
}

// Batch returns inputs and labels for the provided indices.
func (d *MNISTDataset) Batch(indices []int) ([][]float32, []int, error) {
	inputs := make([][]float32, len(indices))
	labels := make([]int, len(indices))
	for i, idx := range indices {
		in, la, err := d.Example(idx)
		if err != nil {
			return nil, nil, err
		}
		inputs[i] = in
		labels[i] = la
	}
	return inputs, labels, nil
}

// Shuffle reorders the examples with the given seed. The underlying
// buffers are untouched; only the index permutation changes.
func (d *MNISTDataset) Shuffle(seed int64) {
	d.rand.Seed(seed)
	d.rand.Shuffle(d.n, func(i, j int) {
		d.perm[i], d.perm[j] = d.perm[j], d.perm[i]
	})
}

// Yield returns the next batch as gomlx tensors, for use with a gomlx
// training loop. Inputs come out as [batch, 784] and labels one-hot as
// [batch, 10]. Returns io.EOF once the split is exhausted; Restart
// rewinds.
func (d *MNISTDataset) Yield() (any, []*tensors.Tensor, []*tensors.Tensor, error) {
	if d.next >= d.n {
		return nil, nil, nil, io.EOF
	}
	end := d.next + d.BatchSize
	if end > d.n {
		end = d.n
	}
	indices := make([]int, end-d.next)
	for i := range indices {
		indices[i] = d.next + i
	}
	d.next = end

	inputs, labels, err := d.Batch(indices)
	if err != nil {
		return nil, nil, nil, err
	}
	flat, err := MakeBatchFlat(inputs, OneHot(labels, NumClasses))
	if err != nil {
		return nil, nil, nil, err
	}
	inT, laT, err := flat.ToGomlxTensors()
	if err != nil {
		return nil, nil, nil, err
	}
	return nil, []*tensors.Tensor{inT}, []*tensors.Tensor{laT}, nil
}

// Restart resets the Yield cursor for a new epoch.
func (d *MNISTDataset) Restart() error {
	d.next = 0
	return nil
}

// Name returns the name of the dataset
func (d *MNISTDataset) Name() string { return "MNISTDataset" }

// findIDXFile locates an IDX file by its canonical name, trying the
// raw file first and then the gzipped form.
func findIDXFile(dir, name string) (string, error) {
	candidates := []string{
		filepath.Join(dir, name),
		filepath.Join(dir, name+".gz"),
		// torchvision-style layout
		filepath.Join(dir, "MNIST", "raw", name),
		filepath.Join(dir, "MNIST", "raw", name+".gz"),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("MNIST file %s not found under %s", name, dir)
}

// openMaybeGzip opens path and transparently decompresses .gz files.
// The returned closer closes both readers.
func openMaybeGzip(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if filepath.Ext(path) != ".gz" {
		return f, f.Close, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	closer := func() error {
		if err := gz.Close(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}
	return gz, closer, nil
}

// readIDXImages decodes an images-idx3-ubyte file into raw pixel bytes.
func readIDXImages(path string) (pixels []byte, rows, cols int, err error) {
	r, closeFn, err := openMaybeGzip(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer closeFn()

	var header [4]uint32
	for i := range header {
		if err := binary.Read(r, binary.BigEndian, &header[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("short IDX header: %w", err)
		}
	}
	if header[0] != idxMagicImages {
		return nil, 0, 0, fmt.Errorf("bad IDX image magic 0x%08x", header[0])
	}
	count := int(header[1])
	rows = int(header[2])
	cols = int(header[3])

	pixels = make([]byte, count*rows*cols)
	if _, err := io.ReadFull(r, pixels); err != nil {
		return nil, 0, 0, fmt.Errorf("short IDX image data: %w", err)
	}
	return pixels, rows, cols, nil
}

// readIDXLabels decodes a labels-idx1-ubyte file into class id bytes.
func readIDXLabels(path string) ([]byte, error) {
	r, closeFn, err := openMaybeGzip(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var header [2]uint32
	for i := range header {
		if err := binary.Read(r, binary.BigEndian, &header[i]); err != nil {
			return nil, fmt.Errorf("short IDX header: %w", err)
		}
	}
	if header[0] != idxMagicLabels {
		return nil, fmt.Errorf("bad IDX label magic 0x%08x", header[0])
	}
	labels := make([]byte, int(header[1]))
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("short IDX label data: %w", err)
	}
	return labels, nil
}
