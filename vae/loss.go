package vae

import (
	"fmt"
	"math"
)

// bceEps keeps the reconstruction log terms finite when the sigmoid
// saturates.
const bceEps = 1e-7

// BCEKLD computes the summed binary-cross-entropy reconstruction term
// plus the KL divergence of the approximate posterior from the unit
// Gaussian, totalled over the batch:
//
//	BCE = -sum(x*log(xhat) + (1-x)*log(1-xhat))
//	KLD = -0.5 * sum(1 + logVar - mu^2 - exp(logVar))
//
// This is the loss whose gradient Model.Backward accumulates.
func BCEKLD(inputs, recons, mu, logVar [][]float32) (float64, error) {
	if len(recons) != len(inputs) || len(mu) != len(inputs) || len(logVar) != len(inputs) {
		return 0, fmt.Errorf("batch size mismatch: inputs=%d recons=%d mu=%d logVar=%d",
			len(inputs), len(recons), len(mu), len(logVar))
	}

	var total float64
	for e := range inputs {
		x := inputs[e]
		xhat := recons[e]
		if len(xhat) != len(x) {
			return 0, fmt.Errorf("reconstruction %d has dimension %d, want %d", e, len(xhat), len(x))
		}
		for i := range x {
			p := float64(xhat[i])
			if p < bceEps {
				p = bceEps
			} else if p > 1-bceEps {
				p = 1 - bceEps
			}
			total -= float64(x[i])*math.Log(p) + (1.0-float64(x[i]))*math.Log(1.0-p)
		}
		for i := range mu[e] {
			muI := float64(mu[e][i])
			lvI := float64(logVar[e][i])
			total -= 0.5 * (1.0 + lvI - muI*muI - math.Exp(lvI))
		}
	}
	return total, nil
}
