// Package mbt implements the per-frame pose refinement engine of a
// model-based visual tracker. Point correspondences tracked across frames
// and grouped by the planar faces of a known 3D model drive a robust
// iteratively reweighted least-squares refinement of the rigid object pose.
package mbt

import (
	"image"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/planarvision/mbtrack/spatialmath"
	"github.com/planarvision/mbtrack/transform"
)

// PointTracker is the external 2D point tracker the engine consumes. Track
// reports the current position of every point it still follows, keyed by a
// stable identifier; identifiers persist across consecutive Track calls
// until a point is lost or Initialize is called again. Initialize detects a
// fresh point set inside the non-zero region of the mask.
type PointTracker interface {
	Track(img image.Image) (map[int]r2.Point, error)
	Initialize(img image.Image, mask *image.Gray) (map[int]r2.Point, error)
}

// Tracker owns the face set, the pose anchor, and the per-frame lifecycle:
// pre-tracking (feed the frame to the point tracker, harvest per-face
// correspondences), refinement, post-tracking (outlier removal, visibility
// update), and re-initialization. One frame is processed per Track call,
// synchronously; faces and the pose anchor are mutated only inside that
// call, never concurrently.
type Tracker struct {
	cfg    *Config
	cam    *transform.PinholeCameraIntrinsics
	points PointTracker
	faces  []*Face
	logger golog.Logger

	refiner *poseRefiner

	cMo         *spatialmath.Pose // object to camera, current frame
	c0Mo        *spatialmath.Pose // object to camera at the last initialization
	ctTc0       *spatialmath.Pose // camera motion accumulated since the anchor
	initialized bool
}

// NewTracker creates a tracker from camera intrinsics, the external point
// tracker, and a configuration (nil for defaults). Faces are added with
// AddFace before the first Init.
func NewTracker(
	cam *transform.PinholeCameraIntrinsics,
	points PointTracker,
	cfg *Config,
	logger golog.Logger,
) (*Tracker, error) {
	if points == nil {
		return nil, errors.Wrap(ErrNotInitialized, "no point tracker supplied")
	}
	if err := cam.CheckValid(); err != nil {
		return nil, errors.Wrap(ErrNotInitialized, err.Error())
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		cfg:     cfg,
		cam:     cam,
		points:  points,
		logger:  logger,
		refiner: newPoseRefiner(cfg, cam, logger),
		cMo:     spatialmath.NewZeroPose(),
		c0Mo:    spatialmath.NewZeroPose(),
		ctTc0:   spatialmath.NewZeroPose(),
	}, nil
}

// AddFace registers a planar model face from its ordered object-frame corner
// points and outward normal. Faces are created once at model load.
func (t *Tracker) AddFace(corners []r3.Vector, normal r3.Vector) error {
	f, err := NewFace(corners, normal)
	if err != nil {
		return err
	}
	t.faces = append(t.faces, f)
	return nil
}

// Faces returns the registered faces.
func (t *Tracker) Faces() []*Face { return t.faces }

// Pose returns a copy of the current object pose estimate.
func (t *Tracker) Pose() *spatialmath.Pose { return t.cMo.Clone() }

// SetPose overrides the current pose estimate, e.g. from an external
// detector, bypassing incremental tracking. The accumulated motion is
// re-derived from the existing anchor so predictions stay consistent with
// the correspondences seeded there.
func (t *Tracker) SetPose(pose *spatialmath.Pose) {
	t.cMo = pose.Clone()
	t.ctTc0 = t.cMo.Compose(t.c0Mo.Inverse())
}

// Init establishes the first pose anchor and seeds correspondences for all
// currently visible faces. The current pose (identity unless SetPose was
// called) becomes the anchor. It fails if the model has no faces.
func (t *Tracker) Init(img image.Image) error {
	if len(t.faces) == 0 {
		return errors.Wrap(ErrNotInitialized, "model has no faces")
	}
	if err := t.reinitialize(img); err != nil {
		return err
	}
	t.initialized = true
	return nil
}

// reinitialize resets the pose anchor to the current pose, re-runs the point
// tracker's detection against a mask of all visible faces, and reassigns
// fresh correspondences per face.
func (t *Tracker) reinitialize(img image.Image) error {
	t.c0Mo = t.cMo.Clone()
	t.ctTc0 = spatialmath.NewZeroPose()

	polys := make([][]r2.Point, len(t.faces))
	for i, f := range t.faces {
		f.anchorPlane(t.c0Mo)
		f.visible = f.visibleAt(t.c0Mo, t.cfg.AngleAppears)
		if !f.visible {
			f.state = FaceUntracked
			f.clearCorrespondences()
			continue
		}
		roi, err := f.projectPolygon(t.c0Mo, t.cam)
		if err != nil || !roiInsideImage(roi, t.cam.Width, t.cam.Height) {
			// partially out of view; leave it untracked until it comes back
			f.state = FaceUntracked
			f.clearCorrespondences()
			continue
		}
		polys[i] = roi
	}

	mask := buildVisibilityMask(t.cam.Width, t.cam.Height, polys, t.cfg.MaskBorder)
	detected, err := t.points.Initialize(img, mask)
	if err != nil {
		return errors.Wrap(err, "point tracker initialization failed")
	}

	for i, f := range t.faces {
		if polys[i] == nil {
			continue
		}
		f.seed(detected, polys[i], t.cam)
		if f.hasEnoughPoints(t.cfg.MinPointsPerFace) {
			f.state = FaceTracked
		} else {
			f.state = FaceTrackedLowConfidence
		}
	}
	t.logger.Debugw("tracker reinitialized", "detected_points", len(detected))
	return nil
}

// Track runs the full per-frame lifecycle and returns the refined pose. On
// any error the stored pose is left untouched so the caller can choose to
// coast on it, re-Init, or abandon the session.
func (t *Tracker) Track(img image.Image) (*spatialmath.Pose, error) {
	if !t.initialized {
		return nil, errors.Wrap(ErrNotInitialized, "Init must run before Track")
	}

	eligible, total, err := t.preTracking(img)
	if err != nil {
		return nil, err
	}
	if total < t.cfg.MinTotalPoints || len(eligible) == 0 {
		return nil, errors.Wrapf(ErrInsufficientData,
			"%d correspondences on %d usable faces", total, len(eligible))
	}

	ctTc0, w, err := t.refiner.refine(eligible, t.ctTc0)
	if err != nil {
		return nil, err
	}
	t.ctTc0 = ctTc0
	t.cMo = t.ctTc0.Compose(t.c0Mo)

	if t.postTracking(eligible, w) {
		if err := t.reinitialize(img); err != nil {
			return nil, err
		}
	}
	return t.cMo.Clone(), nil
}

// preTracking feeds the frame to the external point tracker and intersects
// every tracked face's correspondence set with the reported identifiers. It
// returns the faces eligible for this frame's optimization and the total
// correspondence count across them.
func (t *Tracker) preTracking(img image.Image) ([]*Face, int, error) {
	reported, err := t.points.Track(img)
	if err != nil {
		return nil, 0, errors.Wrap(err, "point tracker failed")
	}
	var eligible []*Face
	total := 0
	for _, f := range t.faces {
		if f.state == FaceUntracked {
			continue
		}
		f.advance(reported, t.cam)
		if f.hasEnoughPoints(t.cfg.MinPointsPerFace) {
			f.state = FaceTracked
			eligible = append(eligible, f)
			total += f.NumPoints()
		} else {
			f.state = FaceTrackedLowConfidence
		}
	}
	return eligible, total, nil
}

// postTracking removes outliers using the refinement's final weights and
// recomputes visibility for every face at the new pose, with hysteresis.
// It reports whether re-initialization is required: a face came (back) into
// view, or the usable correspondence count collapsed.
func (t *Tracker) postTracking(eligible []*Face, w []float64) bool {
	offset := 0
	for _, f := range eligible {
		f.removeOutliers(w, offset, t.cfg.OutlierThreshold)
		offset += 2 * len(f.order)
	}

	reinit := false
	for _, f := range t.faces {
		angle := t.cfg.AngleAppears
		if f.visible {
			angle = t.cfg.AngleDisappears
		}
		nowVisible := f.visibleAt(t.cMo, angle)
		// trigger on the edge only: a face that stays visible but could not
		// be seeded (e.g. partially out of the image) must not force a
		// detector re-init on every frame
		if nowVisible && !f.visible {
			reinit = true
		}
		if !nowVisible {
			f.state = FaceUntracked
		}
		f.visible = nowVisible
	}

	total := 0
	for _, f := range t.faces {
		if f.state != FaceUntracked {
			total += f.NumPoints()
		}
	}
	if total < t.cfg.ReinitPointFloor {
		t.logger.Debugw("usable correspondences collapsed", "remaining", total)
		reinit = true
	}
	return reinit
}

// CheckQuality reports whether enough points survive across tracked faces
// for the pose to be trustworthy. Callers gate downstream consumers on it
// after a successful Track.
func (t *Tracker) CheckQuality() error {
	total := 0
	for _, f := range t.faces {
		if f.state != FaceUntracked {
			total += f.NumPoints()
		}
	}
	if total < t.cfg.ReinitPointFloor {
		return errors.Wrapf(ErrInsufficientData,
			"only %d points tracked, need %d for a reliable pose", total, t.cfg.ReinitPointFloor)
	}
	return nil
}
