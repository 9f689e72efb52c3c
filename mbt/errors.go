package mbt

import "github.com/pkg/errors"

// Error kinds surfaced by Init and Track. None are retried internally;
// recovery (re-init, coasting on the last pose) is the caller's decision.
var (
	// ErrNotInitialized is returned when the camera, the model faces, or the
	// first pose anchor are missing before use.
	ErrNotInitialized = errors.New("camera or model parameters are not initialized")

	// ErrInsufficientData is returned when fewer correspondences than the
	// minimum needed for a determined solve remain.
	ErrInsufficientData = errors.New("not enough correspondences to constrain the pose")

	// ErrDegenerateSystem is returned when the normal equations are rank
	// deficient beyond what regularization can stabilize, e.g. too few
	// non-coplanar faces to constrain all 6 pose parameters.
	ErrDegenerateSystem = errors.New("pose normal equations are rank deficient")
)
