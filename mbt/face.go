package mbt

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/planarvision/mbtrack/spatialmath"
	"github.com/planarvision/mbtrack/transform"
)

// FaceState is the per-frame tracking state of a face.
type FaceState int

const (
	// FaceUntracked means the face contributes nothing this frame.
	FaceUntracked FaceState = iota
	// FaceTracked means the face is tracked and has enough correspondences
	// to contribute residual rows.
	FaceTracked
	// FaceTrackedLowConfidence means the face is still tracked but holds too
	// few correspondences to constrain the pose; it is flagged and excluded
	// from the optimization until re-initialization refreshes it.
	FaceTrackedLowConfidence
)

// Face is a planar polygon of the tracked model: its ordered object-frame
// corner points, unit normal, lifecycle flags, and the correspondence set
// currently observed on it. All faces share identical behavior parameterized
// by this data; there is no per-face subtype.
type Face struct {
	points []r3.Vector
	normal r3.Vector

	state   FaceState
	visible bool

	// refPoints holds the normalized positions recorded at the last
	// initialization; curPoints the positions reported for the current
	// frame. Both are keyed by the external tracker's stable ids.
	refPoints map[int]r2.Point
	curPoints map[int]r2.Point
	// order is the sorted id sequence used for the last system build. Map
	// iteration is randomized, but residual rows must stay aligned with the
	// weight vector across iterations and into outlier removal.
	order []int

	// Plane parameters n·X = d in the camera frame of the last
	// initialization anchor.
	planeNormal r3.Vector
	planeDist   float64
}

// NewFace creates a face from at least 3 ordered object-frame corner points
// and its outward normal (normalized internally).
func NewFace(points []r3.Vector, normal r3.Vector) (*Face, error) {
	if len(points) < 3 {
		return nil, errors.Errorf("a face needs at least 3 points, got %d", len(points))
	}
	if normal.Norm() == 0 {
		return nil, errors.New("face normal must be non-zero")
	}
	pts := make([]r3.Vector, len(points))
	copy(pts, points)
	return &Face{
		points:    pts,
		normal:    normal.Normalize(),
		refPoints: map[int]r2.Point{},
		curPoints: map[int]r2.Point{},
	}, nil
}

// State returns the face's current lifecycle state.
func (f *Face) State() FaceState { return f.state }

// IsVisible reports whether the face passed the last visibility test.
func (f *Face) IsVisible() bool { return f.visible }

// NumPoints returns the size of the current correspondence set, the single
// source of truth for how many residual rows the face contributes.
func (f *Face) NumPoints() int { return len(f.curPoints) }

// hasEnoughPoints reports whether the face can contribute residual rows.
func (f *Face) hasEnoughPoints(minPoints int) bool {
	return len(f.curPoints) >= minPoints
}

// anchorPlane records the face's supporting plane in the camera frame of the
// given anchor pose.
func (f *Face) anchorPlane(c0Mo *spatialmath.Pose) {
	f.planeNormal = c0Mo.TransformDirection(f.normal)
	p0 := c0Mo.Transform(f.points[0])
	f.planeDist = f.planeNormal.Dot(p0)
}

// seed replaces the face's correspondence set with the detected points whose
// pixel position lies inside the projected polygon roi. Positions are stored
// in normalized coordinates. The previous set is discarded entirely; stale
// ids never survive an initialization.
func (f *Face) seed(detected map[int]r2.Point, roi []r2.Point, cam *transform.PinholeCameraIntrinsics) {
	f.refPoints = map[int]r2.Point{}
	f.curPoints = map[int]r2.Point{}
	f.order = nil
	for id, px := range detected {
		if !pointInPolygon(px, roi) {
			continue
		}
		m := cam.PixelToMeter(px)
		f.refPoints[id] = m
		f.curPoints[id] = m
	}
}

// clearCorrespondences drops the whole correspondence set.
func (f *Face) clearCorrespondences() {
	f.refPoints = map[int]r2.Point{}
	f.curPoints = map[int]r2.Point{}
	f.order = nil
}

// advance intersects the current correspondence set with the tracker's
// report for this frame. Ids not reported are lost and dropped until the
// next re-initialization.
func (f *Face) advance(reported map[int]r2.Point, cam *transform.PinholeCameraIntrinsics) {
	for id := range f.curPoints {
		px, ok := reported[id]
		if !ok {
			delete(f.curPoints, id)
			continue
		}
		f.curPoints[id] = cam.PixelToMeter(px)
	}
}

// buildOrder snapshots the sorted id order for the next system build.
func (f *Face) buildOrder() {
	f.order = f.order[:0]
	for id := range f.curPoints {
		f.order = append(f.order, id)
	}
	sort.Ints(f.order)
}

// computeHomography returns the plane-induced homography mapping the face's
// reference normalized positions to predicted current positions under the
// incremental pose ctTc0.
func (f *Face) computeHomography(ctTc0 *spatialmath.Pose) (*transform.Homography, error) {
	return transform.HomographyFromPose(ctTc0, f.planeNormal, f.planeDist)
}

// interactionAndResidual fills rows [offset, offset+2n) of the residual
// vector with predicted−observed normalized displacements, and, when
// computeJ is set, the matching 2x6 interaction blocks of jac. The depth of
// each point comes from the face plane expressed in the current camera
// frame.
func (f *Face) interactionAndResidual(
	h *transform.Homography,
	ctTc0 *spatialmath.Pose,
	res []float64,
	jac *mat.Dense,
	offset int,
	computeJ bool,
) error {
	// plane in the current camera frame: n = R·n0, d = d0 + n·t
	n := ctTc0.TransformDirection(f.planeNormal)
	d := f.planeDist + n.Dot(ctTc0.Translation())
	if d == 0 {
		return errors.New("face plane passes through the camera center")
	}

	for k, id := range f.order {
		cur, ok := f.curPoints[id]
		if !ok {
			return errors.Errorf("correspondence %d vanished between build and evaluation", id)
		}
		ref := f.refPoints[id]
		pred := h.Apply(ref)

		row := offset + 2*k
		res[row] = pred.X - cur.X
		res[row+1] = pred.Y - cur.Y

		if !computeJ {
			continue
		}
		x, y := cur.X, cur.Y
		invZ := (n.X*x + n.Y*y + n.Z) / d
		jac.Set(row, 0, -invZ)
		jac.Set(row, 1, 0)
		jac.Set(row, 2, x*invZ)
		jac.Set(row, 3, x*y)
		jac.Set(row, 4, -(1 + x*x))
		jac.Set(row, 5, y)

		jac.Set(row+1, 0, 0)
		jac.Set(row+1, 1, -invZ)
		jac.Set(row+1, 2, y*invZ)
		jac.Set(row+1, 3, 1+y*y)
		jac.Set(row+1, 4, -x*y)
		jac.Set(row+1, 5, -x)
	}
	return nil
}

// removeOutliers permanently drops correspondences whose final robust weight
// (averaged over both coordinates) falls below threshold. It walks the id
// order recorded at the last system build, so repeated calls with the same
// weight vector remove the same set.
func (f *Face) removeOutliers(w []float64, offset int, threshold float64) {
	for k, id := range f.order {
		avg := (w[offset+2*k] + w[offset+2*k+1]) / 2
		if avg < threshold {
			delete(f.curPoints, id)
			delete(f.refPoints, id)
		}
	}
}

// visibleAt reports whether the face faces the camera at the given pose: the
// angle between the outward normal and the direction from the face center to
// the camera must be below maxAngle, and the face must lie in front of the
// camera. The caller supplies the appear or disappear angle.
func (f *Face) visibleAt(cMo *spatialmath.Pose, maxAngle float64) bool {
	n := cMo.TransformDirection(f.normal)
	center := r3.Vector{}
	for _, p := range f.points {
		center = center.Add(cMo.Transform(p))
	}
	center = center.Mul(1 / float64(len(f.points)))
	if center.Z <= 0 {
		return false
	}
	toCamera := center.Mul(-1).Normalize()
	cos := n.Dot(toCamera)
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return math.Acos(cos) < maxAngle
}

// projectPolygon projects the face corners at the given pose into pixel
// coordinates. Corners behind the camera make the face unusable.
func (f *Face) projectPolygon(cMo *spatialmath.Pose, cam *transform.PinholeCameraIntrinsics) ([]r2.Point, error) {
	out := make([]r2.Point, len(f.points))
	for i, p := range f.points {
		c := cMo.Transform(p)
		if c.Z <= 0 {
			return nil, errors.Errorf("face corner %d is behind the camera", i)
		}
		out[i] = cam.MeterToPixel(r2.Point{X: c.X / c.Z, Y: c.Y / c.Z})
	}
	return out, nil
}

// pointInPolygon reports whether pt lies inside the polygon by ray casting.
func pointInPolygon(pt r2.Point, poly []r2.Point) bool {
	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		pi, pj := poly[i], poly[j]
		if (pi.Y > pt.Y) != (pj.Y > pt.Y) &&
			pt.X < (pj.X-pi.X)*(pt.Y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			inside = !inside
		}
		j = i
	}
	return inside
}

// roiInsideImage reports whether every projected corner lies inside the
// image bounds.
func roiInsideImage(roi []r2.Point, width, height int) bool {
	for _, p := range roi {
		if p.X < 0 || p.Y < 0 || p.X >= float64(width) || p.Y >= float64(height) {
			return false
		}
	}
	return true
}
