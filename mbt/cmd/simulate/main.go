// Simulates tracking a single square face under a slow rotation and prints
// the recovered pose error per frame.
package main

import (
	"image"
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"github.com/planarvision/mbtrack/mbt"
	"github.com/planarvision/mbtrack/spatialmath"
	"github.com/planarvision/mbtrack/transform"
)

var logger = golog.NewLogger("mbt-simulate")

// syntheticTracker plays the role of the external 2D point tracker: it
// projects a fixed grid of object-frame points at a scripted ground-truth
// pose.
type syntheticTracker struct {
	cam    *transform.PinholeCameraIntrinsics
	points map[int]r3.Vector
	pose   *spatialmath.Pose
}

func (s *syntheticTracker) project() map[int]r2.Point {
	out := make(map[int]r2.Point, len(s.points))
	for id, p := range s.points {
		c := s.pose.Transform(p)
		if c.Z <= 0 {
			continue
		}
		out[id] = s.cam.MeterToPixel(r2.Point{X: c.X / c.Z, Y: c.Y / c.Z})
	}
	return out
}

func (s *syntheticTracker) Track(_ image.Image) (map[int]r2.Point, error) {
	return s.project(), nil
}

func (s *syntheticTracker) Initialize(_ image.Image, mask *image.Gray) (map[int]r2.Point, error) {
	detected := map[int]r2.Point{}
	for id, px := range s.project() {
		x, y := int(px.X), int(px.Y)
		if image.Pt(x, y).In(mask.Bounds()) && mask.GrayAt(x, y).Y > 0 {
			detected[id] = px
		}
	}
	return detected, nil
}

func main() {
	cam := &transform.PinholeCameraIntrinsics{
		Width: 640, Height: 480,
		Fx: 600, Fy: 600, Ppx: 320, Ppy: 240,
	}

	// a 20cm square face half a meter in front of the camera
	corners := []r3.Vector{
		{X: -0.1, Y: -0.1}, {X: 0.1, Y: -0.1}, {X: 0.1, Y: 0.1}, {X: -0.1, Y: 0.1},
	}
	normal := r3.Vector{Z: -1}

	grid := map[int]r3.Vector{}
	id := 0
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			grid[id] = r3.Vector{
				X: -0.08 + 0.032*float64(i),
				Y: -0.08 + 0.032*float64(j),
			}
			id++
		}
	}

	start := spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 1}, 0, r3.Vector{Z: 0.5})
	synth := &syntheticTracker{cam: cam, points: grid, pose: start.Clone()}

	tracker, err := mbt.NewTracker(cam, synth, nil, logger)
	if err != nil {
		logger.Fatal(err)
	}
	if err := tracker.AddFace(corners, normal); err != nil {
		logger.Fatal(err)
	}

	tracker.SetPose(start)
	frame := image.NewGray(image.Rect(0, 0, cam.Width, cam.Height))
	if err := tracker.Init(frame); err != nil {
		logger.Fatal(err)
	}

	const stepDeg = 0.5
	for k := 1; k <= 30; k++ {
		angle := stepDeg * float64(k) * math.Pi / 180
		objectRot := spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 1}, angle, r3.Vector{})
		synth.pose = start.Compose(objectRot)

		got, err := tracker.Track(frame)
		if err != nil {
			logger.Fatalw("tracking failed", "frame", k, "error", err)
		}
		diff := got.Inverse().Compose(synth.pose)
		logger.Infow("frame tracked",
			"frame", k,
			"rotation_deg", stepDeg*float64(k),
			"rotation_error_rad", rotationAngle(diff),
			"translation_error_m", diff.Translation().Norm(),
		)
	}
}

// rotationAngle returns the rotation magnitude of a pose.
func rotationAngle(p *spatialmath.Pose) float64 {
	rot := p.Rotation()
	c := (rot.At(0, 0) + rot.At(1, 1) + rot.At(2, 2) - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c)
}
