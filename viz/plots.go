package viz

import (
	"errors"
	"image/color"
	"math"

	"github.com/Noofbiz/cvae/train"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// SaveLossCurves writes a PNG with the training loss (blue) and
// validation loss (red) per epoch.
func SaveLossCurves(path string, results []train.EpochResult) error {
	if len(results) == 0 {
		return errors.New("no epoch results to plot")
	}

	tXY := make(plotter.XYs, len(results))
	vXY := make(plotter.XYs, len(results))
	for i, r := range results {
		tXY[i] = plotter.XY{X: float64(r.Epoch), Y: r.TrainLoss}
		vXY[i] = plotter.XY{X: float64(r.Epoch), Y: r.ValLoss}
	}

	p := plot.New()
	p.Title.Text = "Loss: training (blue), validation (red)"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"

	tl, err := plotter.NewLine(tXY)
	if err != nil {
		return err
	}
	tl.Color = color.RGBA{R: 20, G: 80, B: 200, A: 220}
	tl.Width = vg.Points(1.2)
	p.Add(tl)
	p.Legend.Add("train", tl)

	vl, err := plotter.NewLine(vXY)
	if err != nil {
		return err
	}
	vl.Color = color.RGBA{R: 200, G: 30, B: 30, A: 220}
	vl.Width = vg.Points(1.2)
	p.Add(vl)
	p.Legend.Add("validation", vl)

	p.Add(plotter.NewGrid())
	xmin, xmax, ymin, ymax := lossRange(append(append(plotter.XYs{}, tXY...), vXY...))
	p.X.Min = xmin
	p.X.Max = xmax
	p.Y.Min = ymin
	p.Y.Max = ymax

	return p.Save(8*vg.Inch, 6*vg.Inch, path)
}

// lossRange computes padded min/max for X and Y for a set of points.
func lossRange(xs plotter.XYs) (xmin, xmax, ymin, ymax float64) {
	if len(xs) == 0 {
		return -1, 1, -1, 1
	}
	xmin = math.Inf(1)
	xmax = math.Inf(-1)
	ymin = math.Inf(1)
	ymax = math.Inf(-1)
	for _, p := range xs {
		if p.X < xmin {
			xmin = p.X
		}
		if p.X > xmax {
			xmax = p.X
		}
		if p.Y < ymin {
			ymin = p.Y
		}
		if p.Y > ymax {
			ymax = p.Y
		}
	}
	padx := (xmax - xmin) * 0.06
	pady := (ymax - ymin) * 0.06
	if padx == 0 {
		padx = 1.0
	}
	if pady == 0 {
		pady = 1.0
	}
	return xmin - padx, xmax + padx, ymin - pady, ymax + pady
}
