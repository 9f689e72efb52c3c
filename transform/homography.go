package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/planarvision/mbtrack/spatialmath"
)

// Homography is a 3x3 matrix used to transform a plane from the perspective
// of a 2D camera to the perspective of another 2D camera. Indices are
// [row][column].
type Homography [3][3]float64

// At returns the entry at the given row and column.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply transforms a 2D point by the homography, dehomogenizing the result.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// HomographyFromPose builds the Euclidean homography induced by the plane
// (normal, dist) of the reference camera frame under the rigid motion pose
// (reference camera to current camera): H = R + (t·Nᵀ)/d. It operates on
// normalized image-plane coordinates. The plane must not pass through the
// reference camera center (dist != 0).
func HomographyFromPose(pose *spatialmath.Pose, normal r3.Vector, dist float64) (*Homography, error) {
	if dist == 0 {
		return nil, errors.New("plane passes through the reference camera center")
	}
	rot := pose.Rotation()
	t := pose.Translation()
	tv := [3]float64{t.X, t.Y, t.Z}
	nv := [3]float64{normal.X, normal.Y, normal.Z}
	var h Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			h[i][j] = rot.At(i, j) + tv[i]*nv[j]/dist
		}
	}
	return &h, nil
}

// PixelHomography conjugates a normalized-coordinate homography by the camera
// matrix, G = K·H·K⁻¹, so it can be applied to pixel coordinates directly.
func PixelHomography(h *Homography, params *PinholeCameraIntrinsics) (*Homography, error) {
	k := params.GetCameraMatrix()
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, errors.Wrap(err, "camera matrix is not invertible")
	}
	hm := mat.NewDense(3, 3, []float64{
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2],
	})
	var g mat.Dense
	g.Mul(k, hm)
	g.Mul(&g, &kInv)
	var out Homography
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = g.At(i, j)
		}
	}
	return &out, nil
}
