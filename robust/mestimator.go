// Package robust implements a redescending Tukey M-estimator that turns raw
// residual magnitudes into per-residual confidence weights.
package robust

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

const (
	// tukeyConstant is the standard 95%-efficiency Tukey biweight cutoff in
	// units of the residual scale.
	tukeyConstant = 4.6851
	// madToSigma converts a median absolute deviation into a standard
	// deviation estimate under a normal inlier distribution.
	madToSigma = 1.4826
	// nParams is the number of pose parameters the residuals constrain, used
	// in the finite-sample scale correction.
	nParams = 6
)

// Estimator computes Tukey biweight weights for a residual vector. The
// residual scale is re-estimated on every call from the median absolute
// deviation, floored at NoiseThreshold so that near-perfect data does not
// collapse the cutoff to zero. The scratch buffer is reused across calls,
// so an Estimator is not safe for concurrent use.
type Estimator struct {
	// NoiseThreshold is the minimum residual scale, in the same units as the
	// residuals. Callers working in normalized image-plane coordinates set
	// this from the camera focal length so it corresponds to a pixel count.
	NoiseThreshold float64

	normRes []float64
}

// Weights fills w with one weight in [0, 1] per residual. Residuals within
// the scale-dependent cutoff get the Tukey biweight (1-(r/c)²)²; residuals
// beyond it get 0. On iteration 0 the cutoff is doubled: before the pose has
// moved at all, large residuals may be pose error rather than outliers.
func (e *Estimator) Weights(residuals []float64, iter int, w []float64) error {
	n := len(residuals)
	if n == 0 {
		return errors.New("no residuals to weight")
	}
	if len(w) != n {
		return errors.Errorf("weight vector length %d does not match residual length %d", len(w), n)
	}

	med, err := stats.Median(residuals)
	if err != nil {
		return errors.Wrap(err, "cannot compute residual median")
	}
	if cap(e.normRes) < n {
		e.normRes = make([]float64, n)
	}
	normRes := e.normRes[:n]
	for i, r := range residuals {
		normRes[i] = math.Abs(r - med)
	}
	mad, err := stats.Median(normRes)
	if err != nil {
		return errors.Wrap(err, "cannot compute residual dispersion")
	}

	sigma := madToSigma * mad
	if n > nParams {
		sigma *= 1 + 5/float64(n-nParams)
	}
	if sigma < e.NoiseThreshold {
		sigma = e.NoiseThreshold
	}

	cutoff := tukeyConstant * sigma
	if iter == 0 {
		cutoff *= 2
	}
	for i, r := range normRes {
		if r >= cutoff {
			w[i] = 0
			continue
		}
		u := r / cutoff
		v := 1 - u*u
		w[i] = v * v
	}
	return nil
}
