package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestNewPose(t *testing.T) {
	rot := eye(3)
	p, err := NewPose(rot, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Translation(), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})

	// a non-orthonormal rotation block is rejected
	bad := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, 2, 0,
		0, 0, 1,
	})
	_, err = NewPose(bad, r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestComposeInverse(t *testing.T) {
	p := NewPoseFromAxisAngle(r3.Vector{X: 1, Y: 2, Z: -1}, 0.7, r3.Vector{X: 0.3, Y: -0.2, Z: 1.5})
	q := NewPoseFromAxisAngle(r3.Vector{Z: 1}, -1.1, r3.Vector{X: -1, Z: 0.4})

	id := p.Compose(p.Inverse())
	test.That(t, id.OrthonormalityError(), test.ShouldBeLessThan, 1e-12)
	test.That(t, id.Translation().Norm(), test.ShouldBeLessThan, 1e-12)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			test.That(t, id.Rotation().At(i, j), test.ShouldAlmostEqual, want, 1e-12)
		}
	}

	// composition is applied right to left
	v := r3.Vector{X: 0.1, Y: 0.2, Z: 0.3}
	got := p.Compose(q).Transform(v)
	want := p.Transform(q.Transform(v))
	test.That(t, got.X, test.ShouldAlmostEqual, want.X, 1e-12)
	test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, 1e-12)
	test.That(t, got.Z, test.ShouldAlmostEqual, want.Z, 1e-12)
}

func TestTransform(t *testing.T) {
	// 90 degrees about Z maps x onto y
	p := NewPoseFromAxisAngle(r3.Vector{Z: 1}, math.Pi/2, r3.Vector{})
	got := p.Transform(r3.Vector{X: 1})
	test.That(t, got.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, got.Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, got.Z, test.ShouldAlmostEqual, 0, 1e-12)
}

func TestExpMapRotationMatchesAxisAngle(t *testing.T) {
	theta := 0.42
	got := ExpMap([]float64{0, 0, 0, theta, 0, 0})
	want := NewPoseFromAxisAngle(r3.Vector{X: 1}, theta, r3.Vector{})
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, got.Rotation().At(i, j), test.ShouldAlmostEqual, want.Rotation().At(i, j), 1e-12)
		}
	}
	test.That(t, got.Translation().Norm(), test.ShouldAlmostEqual, 0)
}

func TestExpMapPureTranslation(t *testing.T) {
	got := ExpMap([]float64{0.1, -0.2, 0.3, 0, 0, 0})
	test.That(t, got.OrthonormalityError(), test.ShouldBeLessThan, 1e-12)
	test.That(t, got.Translation().X, test.ShouldAlmostEqual, 0.1)
	test.That(t, got.Translation().Y, test.ShouldAlmostEqual, -0.2)
	test.That(t, got.Translation().Z, test.ShouldAlmostEqual, 0.3)
}

func TestExpMapStaysRigid(t *testing.T) {
	twists := [][]float64{
		{0.01, 0.02, -0.03, 0.5, -0.4, 0.3},
		{0, 0, 0, 1e-10, 0, 0}, // small-angle branch
		{1, 2, 3, 0, 0, 2.9},
	}
	for _, v := range twists {
		p := ExpMap(v)
		test.That(t, p.OrthonormalityError(), test.ShouldBeLessThan, 1e-9)
	}
}

func TestExpMapInverseComposesToIdentity(t *testing.T) {
	v := []float64{0.05, -0.02, 0.01, 0.2, 0.1, -0.3}
	p := ExpMap(v)
	id := p.Inverse().Compose(p)
	test.That(t, id.Translation().Norm(), test.ShouldBeLessThan, 1e-12)
	test.That(t, id.OrthonormalityError(), test.ShouldBeLessThan, 1e-12)
	test.That(t, id.Rotation().At(0, 0), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, id.Rotation().At(1, 1), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, id.Rotation().At(2, 2), test.ShouldAlmostEqual, 1, 1e-12)
}
