package mbt

import (
	"encoding/json"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Config holds the tracker parameters. Zero values are filled in by
// DefaultConfig; load from JSON with LoadConfigFromJSONFile.
type Config struct {
	// MaxIterations bounds the pose refinement loop per frame.
	MaxIterations int `json:"max_iterations"`
	// Lambda is the gain applied to each pose increment.
	Lambda float64 `json:"lambda"`
	// ConvergenceTol stops the refinement when the weighted residual sum
	// changes by less than this between iterations.
	ConvergenceTol float64 `json:"convergence_tol"`
	// OutlierThreshold drops a correspondence permanently when its final
	// robust weight falls below it.
	OutlierThreshold float64 `json:"outlier_threshold"`
	// AngleAppears is the maximum angle, in radians, between a face normal
	// and the direction to the camera for a hidden face to become visible.
	AngleAppears float64 `json:"angle_appears_rad"`
	// AngleDisappears is the angle past which a visible face becomes
	// occluded. Keeping it above AngleAppears gives the visibility test
	// hysteresis so faces do not flicker at the boundary.
	AngleDisappears float64 `json:"angle_disappears_rad"`
	// MinPointsPerFace excludes a face from the optimization (without
	// untracking it) when it holds fewer correspondences.
	MinPointsPerFace int `json:"min_points_per_face"`
	// MinTotalPoints fails the frame when fewer correspondences remain in
	// total across all usable faces.
	MinTotalPoints int `json:"min_total_points"`
	// ReinitPointFloor triggers re-initialization when the total usable
	// correspondence count collapses below it.
	ReinitPointFloor int `json:"reinit_point_floor"`
	// MaskBorder insets each face polygon, in pixels, in the detection mask
	// handed to the external point tracker.
	MaskBorder int `json:"mask_border_px"`
	// RecomputeInteraction rebuilds the interaction matrix on every
	// refinement iteration instead of only the first. Small pose
	// perturbations leave it approximately stable, so this defaults to off.
	RecomputeInteraction bool `json:"recompute_interaction"`
	// RobustThresholdPx is the noise floor of the robust estimator scale,
	// in pixels; it is converted to normalized units with the camera focal
	// length.
	RobustThresholdPx float64 `json:"robust_threshold_px"`
}

// DefaultConfig returns the tracker parameters used when none are configured.
func DefaultConfig() *Config {
	return &Config{
		MaxIterations:     200,
		Lambda:            0.8,
		ConvergenceTol:    1e-8,
		OutlierThreshold:  0.5,
		AngleAppears:      70 * math.Pi / 180,
		AngleDisappears:   80 * math.Pi / 180,
		MinPointsPerFace:  4,
		MinTotalPoints:    4,
		ReinitPointFloor:  10,
		MaskBorder:        10,
		RobustThresholdPx: 2,
	}
}

// Validate checks the configuration for values that would break the
// refinement loop.
func (c *Config) Validate() error {
	var err error
	if c.MaxIterations <= 0 {
		err = multierr.Append(err, errors.Errorf("max_iterations must be positive, got %d", c.MaxIterations))
	}
	if c.Lambda <= 0 || c.Lambda > 1 {
		err = multierr.Append(err, errors.Errorf("lambda must be in (0, 1], got %v", c.Lambda))
	}
	if c.ConvergenceTol <= 0 {
		err = multierr.Append(err, errors.Errorf("convergence_tol must be positive, got %v", c.ConvergenceTol))
	}
	if c.OutlierThreshold < 0 || c.OutlierThreshold > 1 {
		err = multierr.Append(err, errors.Errorf("outlier_threshold must be in [0, 1], got %v", c.OutlierThreshold))
	}
	if c.AngleAppears <= 0 || c.AngleAppears > math.Pi/2 {
		err = multierr.Append(err, errors.Errorf("angle_appears_rad must be in (0, pi/2], got %v", c.AngleAppears))
	}
	if c.AngleDisappears < c.AngleAppears {
		err = multierr.Append(err, errors.Errorf(
			"angle_disappears_rad (%v) must not be below angle_appears_rad (%v)", c.AngleDisappears, c.AngleAppears))
	}
	if c.MinPointsPerFace < 4 {
		err = multierr.Append(err, errors.Errorf("min_points_per_face must be at least 4, got %d", c.MinPointsPerFace))
	}
	if c.MinTotalPoints < 4 {
		err = multierr.Append(err, errors.Errorf("min_total_points must be at least 4, got %d", c.MinTotalPoints))
	}
	if c.MaskBorder < 0 {
		err = multierr.Append(err, errors.Errorf("mask_border_px must not be negative, got %d", c.MaskBorder))
	}
	if c.RobustThresholdPx <= 0 {
		err = multierr.Append(err, errors.Errorf("robust_threshold_px must be positive, got %v", c.RobustThresholdPx))
	}
	return err
}

// LoadConfigFromJSONFile loads a tracker configuration from a JSON file.
func LoadConfigFromJSONFile(path string) (*Config, error) {
	//nolint:gosec
	configFile, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(configFile.Close)
	byteValue, err := io.ReadAll(configFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	config := DefaultConfig()
	if err := json.Unmarshal(byteValue, config); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
