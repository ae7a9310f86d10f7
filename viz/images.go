package viz

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
)

// GridImage tiles a batch of rows x cols grayscale images into one
// image, perRow tiles per grid row, values clamped from [0,1] to
// 8-bit gray.
func GridImage(images [][]float32, rows, cols, perRow int) (*image.Gray, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("no images to tile")
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid tile size %dx%d", rows, cols)
	}
	if perRow <= 0 {
		perRow = len(images)
	}
	for i, img := range images {
		if len(img) != rows*cols {
			return nil, fmt.Errorf("image %d has %d pixels, want %d", i, len(img), rows*cols)
		}
	}

	gridRows := (len(images) + perRow - 1) / perRow
	out := image.NewGray(image.Rect(0, 0, perRow*cols, gridRows*rows))

	for i, img := range images {
		originX := (i % perRow) * cols
		originY := (i / perRow) * rows
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				v := img[r*cols+c]
				if v < 0 {
					v = 0
				} else if v > 1 {
					v = 1
				}
				out.SetGray(originX+c, originY+r, color.Gray{Y: uint8(v*255.0 + 0.5)})
			}
		}
	}
	return out, nil
}

// SaveImageGrid tiles the batch and writes it as PNG.
func SaveImageGrid(path string, images [][]float32, rows, cols, perRow int) error {
	grid, err := GridImage(images, rows, cols, perRow)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, grid); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
