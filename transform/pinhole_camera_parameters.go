// Package transform provides the pinhole camera model and the plane-induced
// homography used to predict tracked point motion under a pose change.
package transform

import (
	"encoding/json"
	"io"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is when a camera does not have intrinsic parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// PinholeCameraIntrinsics holds the parameters of a perspective projection
// from metric image-plane coordinates to pixels.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return errors.Wrap(ErrNoIntrinsics, "intrinsics do not exist")
	}
	var err error
	if params.Width <= 0 || params.Height <= 0 {
		err = multierr.Append(err, errors.Errorf("invalid size (%d, %d)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		err = multierr.Append(err, errors.Errorf("invalid focal length Fx = %v", params.Fx))
	}
	if params.Fy <= 0 {
		err = multierr.Append(err, errors.Errorf("invalid focal length Fy = %v", params.Fy))
	}
	if params.Ppx < 0 {
		err = multierr.Append(err, errors.Errorf("invalid principal point Ppx = %v", params.Ppx))
	}
	if params.Ppy < 0 {
		err = multierr.Append(err, errors.Errorf("invalid principal point Ppy = %v", params.Ppy))
	}
	if err != nil {
		return multierr.Append(ErrNoIntrinsics, err)
	}
	return nil
}

// NewPinholeCameraIntrinsicsFromJSONFile takes in a file path to a JSON and
// turns it into PinholeCameraIntrinsics.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	intrinsics := &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	return intrinsics, nil
}

// PixelToMeter converts a pixel coordinate into normalized metric image-plane
// coordinates (x = X/Z, y = Y/Z). No rounding is applied; tracked points are
// subpixel.
func (params *PinholeCameraIntrinsics) PixelToMeter(pt r2.Point) r2.Point {
	return r2.Point{
		X: (pt.X - params.Ppx) / params.Fx,
		Y: (pt.Y - params.Ppy) / params.Fy,
	}
}

// MeterToPixel converts normalized metric image-plane coordinates into a
// pixel coordinate.
func (params *PinholeCameraIntrinsics) MeterToPixel(pt r2.Point) r2.Point {
	return r2.Point{
		X: pt.X*params.Fx + params.Ppx,
		Y: pt.Y*params.Fy + params.Ppy,
	}
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}
