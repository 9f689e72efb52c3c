package mbt

import (
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/planarvision/mbtrack/spatialmath"
)

func r3vec(x, y, z float64) r3.Vector { return r3.Vector{X: x, Y: y, Z: z} }

// syntheticFace returns a tracked square face whose correspondences match
// the given incremental camera motion exactly (zero observation noise).
func syntheticFace(t *testing.T, gt *spatialmath.Pose, gridSize int) *Face {
	t.Helper()
	f, _ := squareFace(t)
	h, err := f.computeHomography(gt)
	test.That(t, err, test.ShouldBeNil)

	id := 0
	for i := 0; i < gridSize; i++ {
		for j := 0; j < gridSize; j++ {
			ref := r2.Point{
				X: -0.15 + 0.3*float64(i)/float64(gridSize-1),
				Y: -0.15 + 0.3*float64(j)/float64(gridSize-1),
			}
			f.refPoints[id] = ref
			f.curPoints[id] = h.Apply(ref)
			id++
		}
	}
	f.state = FaceTracked
	f.visible = true
	return f
}

// poseError returns the rotation angle and translation distance between two
// poses.
func poseError(a, b *spatialmath.Pose) (float64, float64) {
	diff := a.Inverse().Compose(b)
	rot := diff.Rotation()
	c := (rot.At(0, 0) + rot.At(1, 1) + rot.At(2, 2) - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c), diff.Translation().Norm()
}

func newTestRefiner(t *testing.T, cfg *Config) *poseRefiner {
	t.Helper()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return newPoseRefiner(cfg, testCam, golog.NewTestLogger(t))
}

func TestRefineStaysAtTruePose(t *testing.T) {
	gt := spatialmath.NewPoseFromAxisAngle(
		r3vec(0.3, 1, 0.1), 0.06, r3vec(0.01, -0.005, 0.02))
	f := syntheticFace(t, gt, 4)
	pr := newTestRefiner(t, nil)

	got, w, err := pr.refine([]*Face{f}, gt)
	test.That(t, err, test.ShouldBeNil)
	rotErr, trErr := poseError(got, gt)
	test.That(t, rotErr, test.ShouldBeLessThan, 1e-9)
	test.That(t, trErr, test.ShouldBeLessThan, 1e-9)
	for _, wi := range w {
		test.That(t, wi, test.ShouldBeGreaterThan, 0.5)
	}
}

func TestRefineConvergesFromIdentity(t *testing.T) {
	gt := spatialmath.NewPoseFromAxisAngle(
		r3vec(0, 1, 0), 0.05, r3vec(0.01, -0.005, 0.02))
	f := syntheticFace(t, gt, 4)
	pr := newTestRefiner(t, nil)

	got, _, err := pr.refine([]*Face{f}, spatialmath.NewZeroPose())
	test.That(t, err, test.ShouldBeNil)
	rotErr, trErr := poseError(got, gt)
	test.That(t, rotErr, test.ShouldBeLessThan, 1e-3)
	test.That(t, trErr, test.ShouldBeLessThan, 1e-3)
}

func TestRefineDoesNotMutateInput(t *testing.T) {
	gt := spatialmath.NewPoseFromAxisAngle(r3vec(1, 0, 0), 0.04, r3vec(0, 0, 0.01))
	f := syntheticFace(t, gt, 4)
	pr := newTestRefiner(t, nil)

	start := spatialmath.NewZeroPose()
	_, _, err := pr.refine([]*Face{f}, start)
	test.That(t, err, test.ShouldBeNil)
	rotErr, trErr := poseError(start, spatialmath.NewZeroPose())
	test.That(t, rotErr, test.ShouldAlmostEqual, 0)
	test.That(t, trErr, test.ShouldAlmostEqual, 0)
}

func TestRefineInsufficientData(t *testing.T) {
	f, _ := squareFace(t)
	f.state = FaceTracked
	f.refPoints[1] = r2.Point{X: 0.01}
	f.curPoints[1] = r2.Point{X: 0.01}

	pr := newTestRefiner(t, nil)
	_, _, err := pr.refine([]*Face{f}, spatialmath.NewZeroPose())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)

	_, _, err = pr.refine(nil, spatialmath.NewZeroPose())
	test.That(t, errors.Is(err, ErrInsufficientData), test.ShouldBeTrue)
}

// A face plane passing through the reference camera center cannot induce a
// homography; refine must surface that as a classified degeneracy.
func TestRefineDegeneratePlaneIsClassified(t *testing.T) {
	f, _ := squareFace(t)
	f.planeDist = 0
	f.state = FaceTracked
	for id := 0; id < 4; id++ {
		pt := r2.Point{X: 0.01 * float64(id), Y: -0.01 * float64(id)}
		f.refPoints[id] = pt
		f.curPoints[id] = pt
	}

	pr := newTestRefiner(t, nil)
	_, _, err := pr.refine([]*Face{f}, spatialmath.NewZeroPose())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrDegenerateSystem), test.ShouldBeTrue)
}

func TestSolveNormalEquationsDegenerate(t *testing.T) {
	jtr := mat.NewVecDense(6, []float64{1, 1, 1, 1, 1, 1})

	zero := mat.NewDense(6, 6, nil)
	_, err := solveNormalEquations(zero, jtr, 0.8)
	test.That(t, errors.Is(err, ErrDegenerateSystem), test.ShouldBeTrue)

	deficient := mat.NewDense(6, 6, nil)
	for i := 0; i < 5; i++ {
		deficient.Set(i, i, 1)
	}
	_, err = solveNormalEquations(deficient, jtr, 0.8)
	test.That(t, errors.Is(err, ErrDegenerateSystem), test.ShouldBeTrue)
}

func TestSolveNormalEquationsWellConditioned(t *testing.T) {
	jtj := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		jtj.Set(i, i, float64(i+1))
	}
	jtr := mat.NewVecDense(6, []float64{1, 2, 3, 4, 5, 6})
	v, err := solveNormalEquations(jtj, jtr, 1.0)
	test.That(t, err, test.ShouldBeNil)
	// diagonal system: v_i = -jtr_i / jtj_ii = -1
	for i := 0; i < 6; i++ {
		test.That(t, v[i], test.ShouldAlmostEqual, -1, 1e-9)
	}
}
