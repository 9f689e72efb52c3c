package transform

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/planarvision/mbtrack/spatialmath"
)

func TestHomographyApply(t *testing.T) {
	// identity
	h := Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	pt := h.Apply(r2.Point{X: 0.3, Y: -0.2})
	test.That(t, pt.X, test.ShouldAlmostEqual, 0.3)
	test.That(t, pt.Y, test.ShouldAlmostEqual, -0.2)

	// pure projective scaling dehomogenizes
	h = Homography{{2, 0, 0}, {0, 2, 0}, {0, 0, 2}}
	pt = h.Apply(r2.Point{X: 0.3, Y: -0.2})
	test.That(t, pt.X, test.ShouldAlmostEqual, 0.3)
	test.That(t, pt.Y, test.ShouldAlmostEqual, -0.2)
}

func TestHomographyFromPoseIdentity(t *testing.T) {
	h, err := HomographyFromPose(spatialmath.NewZeroPose(), r3.Vector{Z: 1}, 1)
	test.That(t, err, test.ShouldBeNil)
	pt := h.Apply(r2.Point{X: 0.1, Y: 0.2})
	test.That(t, pt.X, test.ShouldAlmostEqual, 0.1)
	test.That(t, pt.Y, test.ShouldAlmostEqual, 0.2)

	_, err = HomographyFromPose(spatialmath.NewZeroPose(), r3.Vector{Z: 1}, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

// The plane-induced homography must map the reference projection of any point
// on the plane to its projection under the rigid motion.
func TestHomographyFromPoseMapsPlanePoints(t *testing.T) {
	// plane z=1 in the reference camera frame
	normal := r3.Vector{Z: 1}
	dist := 1.0
	motion := spatialmath.NewPoseFromAxisAngle(
		r3.Vector{X: 0.2, Y: 1, Z: -0.1}, 0.15, r3.Vector{X: 0.03, Y: -0.01, Z: 0.05})

	h, err := HomographyFromPose(motion, normal, dist)
	test.That(t, err, test.ShouldBeNil)

	pts := []r3.Vector{
		{X: 0.1, Y: 0.2, Z: 1},
		{X: -0.3, Y: 0.05, Z: 1},
		{X: 0, Y: 0, Z: 1},
	}
	for _, p := range pts {
		ref := r2.Point{X: p.X / p.Z, Y: p.Y / p.Z}
		moved := motion.Transform(p)
		want := r2.Point{X: moved.X / moved.Z, Y: moved.Y / moved.Z}
		got := h.Apply(ref)
		test.That(t, got.X, test.ShouldAlmostEqual, want.X, 1e-12)
		test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, 1e-12)
	}
}

func TestPixelHomography(t *testing.T) {
	motion := spatialmath.NewPoseFromAxisAngle(r3.Vector{Y: 1}, 0.1, r3.Vector{X: 0.02})
	h, err := HomographyFromPose(motion, r3.Vector{Z: 1}, 1)
	test.That(t, err, test.ShouldBeNil)
	g, err := PixelHomography(h, testIntrinsics)
	test.That(t, err, test.ShouldBeNil)

	// applying G in pixel space matches convert-apply-convert
	px := r2.Point{X: 350, Y: 210}
	want := testIntrinsics.MeterToPixel(h.Apply(testIntrinsics.PixelToMeter(px)))
	got := g.Apply(px)
	test.That(t, got.X, test.ShouldAlmostEqual, want.X, 1e-9)
	test.That(t, got.Y, test.ShouldAlmostEqual, want.Y, 1e-9)
}
