// Package spatialmath provides rigid 3D transforms between object and camera
// frames, represented as 4x4 homogeneous matrices over gonum dense matrices.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// orthoTol is the maximum deviation from orthonormality tolerated in a
// rotation block before a pose is rejected as not rigid.
const orthoTol = 1e-9

// Pose is a rigid transform: an orthonormal 3x3 rotation block and a
// translation stored as a 4x4 homogeneous matrix. Poses compose
// multiplicatively; they are never added.
type Pose struct {
	m *mat.Dense
}

// NewZeroPose returns the identity transform.
func NewZeroPose() *Pose {
	return &Pose{m: eye(4)}
}

// NewPose creates a pose from a 3x3 rotation matrix and a translation vector.
// The rotation block must be orthonormal.
func NewPose(rot *mat.Dense, t r3.Vector) (*Pose, error) {
	r, c := rot.Dims()
	if r != 3 || c != 3 {
		return nil, errors.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	p := &Pose{m: eye(4)}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			p.m.Set(i, j, rot.At(i, j))
		}
	}
	p.m.Set(0, 3, t.X)
	p.m.Set(1, 3, t.Y)
	p.m.Set(2, 3, t.Z)
	if e := p.OrthonormalityError(); e > orthoTol {
		return nil, errors.Errorf("rotation block is not orthonormal (error %g)", e)
	}
	return p, nil
}

// NewPoseFromAxisAngle creates a pose rotating by theta radians about the
// given axis (normalized internally), then translating by t.
func NewPoseFromAxisAngle(axis r3.Vector, theta float64, t r3.Vector) *Pose {
	u := axis.Normalize()
	rot := rodrigues(r3.Vector{X: u.X * theta, Y: u.Y * theta, Z: u.Z * theta})
	p := &Pose{m: eye(4)}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			p.m.Set(i, j, rot.At(i, j))
		}
	}
	p.m.Set(0, 3, t.X)
	p.m.Set(1, 3, t.Y)
	p.m.Set(2, 3, t.Z)
	return p
}

// Compose returns the pose p*q, i.e. q applied first, then p.
func (p *Pose) Compose(q *Pose) *Pose {
	out := mat.NewDense(4, 4, nil)
	out.Mul(p.m, q.m)
	return &Pose{m: out}
}

// Inverse returns the inverse transform, computed as (Rᵀ, -Rᵀt).
func (p *Pose) Inverse() *Pose {
	out := eye(4)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, p.m.At(j, i))
		}
	}
	t := p.Translation()
	for i := 0; i < 3; i++ {
		out.Set(i, 3, -(out.At(i, 0)*t.X + out.At(i, 1)*t.Y + out.At(i, 2)*t.Z))
	}
	return &Pose{m: out}
}

// Transform applies the pose to a 3D point.
func (p *Pose) Transform(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: p.m.At(0, 0)*v.X + p.m.At(0, 1)*v.Y + p.m.At(0, 2)*v.Z + p.m.At(0, 3),
		Y: p.m.At(1, 0)*v.X + p.m.At(1, 1)*v.Y + p.m.At(1, 2)*v.Z + p.m.At(1, 3),
		Z: p.m.At(2, 0)*v.X + p.m.At(2, 1)*v.Y + p.m.At(2, 2)*v.Z + p.m.At(2, 3),
	}
}

// TransformDirection applies only the rotation block to a direction vector.
func (p *Pose) TransformDirection(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: p.m.At(0, 0)*v.X + p.m.At(0, 1)*v.Y + p.m.At(0, 2)*v.Z,
		Y: p.m.At(1, 0)*v.X + p.m.At(1, 1)*v.Y + p.m.At(1, 2)*v.Z,
		Z: p.m.At(2, 0)*v.X + p.m.At(2, 1)*v.Y + p.m.At(2, 2)*v.Z,
	}
}

// Rotation returns a copy of the 3x3 rotation block.
func (p *Pose) Rotation() *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, p.m.At(i, j))
		}
	}
	return out
}

// Translation returns the translation component.
func (p *Pose) Translation() r3.Vector {
	return r3.Vector{X: p.m.At(0, 3), Y: p.m.At(1, 3), Z: p.m.At(2, 3)}
}

// Clone returns a deep copy of the pose.
func (p *Pose) Clone() *Pose {
	return &Pose{m: mat.DenseCopyOf(p.m)}
}

// OrthonormalityError reports the largest absolute deviation of RᵀR from the
// identity, a cheap rigidity check.
func (p *Pose) OrthonormalityError() float64 {
	rot := p.Rotation()
	var rtr mat.Dense
	rtr.Mul(rot.T(), rot)
	e := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if d := math.Abs(rtr.At(i, j) - want); d > e {
				e = d
			}
		}
	}
	return e
}

// eye creates an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// skew returns the cross-product matrix of v.
func skew(v r3.Vector) *mat.Dense {
	s := mat.NewDense(3, 3, nil)
	s.Set(0, 1, -v.Z)
	s.Set(0, 2, v.Y)
	s.Set(1, 0, v.Z)
	s.Set(1, 2, -v.X)
	s.Set(2, 0, -v.Y)
	s.Set(2, 1, v.X)
	return s
}
