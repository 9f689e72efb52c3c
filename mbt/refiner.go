package mbt

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/planarvision/mbtrack/robust"
	"github.com/planarvision/mbtrack/spatialmath"
	"github.com/planarvision/mbtrack/transform"
)

const (
	// svDampingRatio scales the damping added to each singular value of the
	// normal equations, relative to the largest one.
	svDampingRatio = 1e-12
	// degeneracyRatio is the smallest-to-largest singular value ratio below
	// which the system is rank deficient beyond what damping can stabilize.
	degeneracyRatio = 1e-12
)

// poseRefiner runs the iteratively reweighted least-squares loop that turns
// per-face residuals into an incremental pose update. Its numeric buffers
// are scratch space reused across iterations and frames; nothing in them is
// a correctness dependency between calls.
type poseRefiner struct {
	cfg       *Config
	estimator *robust.Estimator
	logger    golog.Logger

	res     []float64
	weights []float64
	wRes    []float64
	jac     *mat.Dense
	wJac    *mat.Dense
}

func newPoseRefiner(cfg *Config, cam *transform.PinholeCameraIntrinsics, logger golog.Logger) *poseRefiner {
	return &poseRefiner{
		cfg: cfg,
		// the robust threshold is configured in pixels; the residuals live
		// in normalized coordinates
		estimator: &robust.Estimator{NoiseThreshold: cfg.RobustThresholdPx / cam.Fx},
		logger:    logger,
	}
}

func (pr *poseRefiner) ensureCapacity(rows int) {
	if pr.jac != nil {
		if r, _ := pr.jac.Dims(); r == rows {
			return
		}
	}
	pr.res = make([]float64, rows)
	pr.weights = make([]float64, rows)
	pr.wRes = make([]float64, rows)
	pr.jac = mat.NewDense(rows, 6, nil)
	pr.wJac = mat.NewDense(rows, 6, nil)
}

// refine runs the refinement loop over the eligible faces starting from the
// incremental pose ctTc0 and returns the refined incremental pose together
// with the final weight vector (one weight per residual row, aligned with
// each face's recorded id order; consumed by outlier removal). ctTc0 is not
// mutated. The weight slice is scratch space valid until the next call.
func (pr *poseRefiner) refine(faces []*Face, ctTc0 *spatialmath.Pose) (*spatialmath.Pose, []float64, error) {
	rows := 0
	for _, f := range faces {
		f.buildOrder()
		rows += 2 * len(f.order)
	}
	if len(faces) == 0 || rows < 2*pr.cfg.MinTotalPoints {
		return nil, nil, errors.Wrapf(ErrInsufficientData,
			"%d correspondences on %d usable faces", rows/2, len(faces))
	}
	pr.ensureCapacity(rows)
	for i := range pr.weights {
		pr.weights[i] = 1
	}

	pose := ctTc0.Clone()
	normRes, normResPrev := 0.0, -1.0
	iter := 0
	for math.Abs(normRes-normResPrev) > pr.cfg.ConvergenceTol && iter < pr.cfg.MaxIterations {
		computeJ := iter == 0 || pr.cfg.RecomputeInteraction
		offset := 0
		for _, f := range faces {
			h, err := f.computeHomography(pose)
			if err != nil {
				return nil, nil, errors.Wrap(ErrDegenerateSystem, err.Error())
			}
			if err := f.interactionAndResidual(h, pose, pr.res, pr.jac, offset, computeJ); err != nil {
				return nil, nil, errors.Wrap(ErrDegenerateSystem, err.Error())
			}
			offset += 2 * len(f.order)
		}

		if err := pr.estimator.Weights(pr.res, iter, pr.weights); err != nil {
			return nil, nil, err
		}

		normResPrev = normRes
		normRes = 0
		for i := range pr.res {
			pr.wRes[i] = pr.res[i] * pr.weights[i]
			normRes += math.Abs(pr.wRes[i])
		}
		for i := 0; i < rows; i++ {
			w := pr.weights[i]
			for j := 0; j < 6; j++ {
				pr.wJac.Set(i, j, w*pr.jac.At(i, j))
			}
		}

		var jtj mat.Dense
		jtj.Mul(pr.wJac.T(), pr.wJac)
		var jtr mat.VecDense
		jtr.MulVec(pr.wJac.T(), mat.NewVecDense(rows, pr.wRes))

		v, err := solveNormalEquations(&jtj, &jtr, pr.cfg.Lambda)
		if err != nil {
			return nil, nil, err
		}

		pose = spatialmath.ExpMap(v).Inverse().Compose(pose)
		iter++
	}

	pr.logger.Debugw("pose refinement finished", "iterations", iter, "weighted_residual_sum", normRes)
	return pose, pr.weights, nil
}

// solveNormalEquations solves JᵀJ·x = −λ·JᵀR through a damped SVD
// pseudo-inverse. A zero or relatively negligible trailing singular value
// means the current face configuration cannot constrain all 6 pose
// parameters.
func solveNormalEquations(jtj *mat.Dense, jtr *mat.VecDense, lambda float64) ([]float64, error) {
	var svd mat.SVD
	if !svd.Factorize(jtj, mat.SVDFull) {
		return nil, errors.Wrap(ErrDegenerateSystem, "SVD factorization failed")
	}
	s := svd.Values(nil)
	if s[0] <= 0 {
		return nil, errors.Wrap(ErrDegenerateSystem, "normal equations are zero")
	}
	if s[len(s)-1] < degeneracyRatio*s[0] {
		return nil, errors.Wrapf(ErrDegenerateSystem,
			"singular value ratio %g", s[len(s)-1]/s[0])
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	damp := svDampingRatio * s[0]
	out := make([]float64, 6)
	for j := 0; j < 6; j++ {
		dot := 0.0
		for i := 0; i < 6; i++ {
			dot += u.At(i, j) * jtr.AtVec(i)
		}
		coef := dot / (s[j] + damp)
		for i := 0; i < 6; i++ {
			out[i] += v.At(i, j) * coef
		}
	}
	for i := range out {
		out[i] *= -lambda
	}
	return out, nil
}
