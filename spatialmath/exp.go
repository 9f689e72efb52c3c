package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// smallAngle is the rotation magnitude below which the exponential map
// switches to its series expansion.
const smallAngle = 1e-8

// rodrigues converts a rotation vector (axis scaled by angle) into a 3x3
// rotation matrix: R = I + sin(θ)/θ [ω]ₓ + (1-cos(θ))/θ² [ω]ₓ².
func rodrigues(omega r3.Vector) *mat.Dense {
	theta := omega.Norm()
	rot := eye(3)
	if theta < smallAngle {
		s := skew(omega)
		rot.Add(rot, s)
		return rot
	}
	s := skew(omega)
	var s2 mat.Dense
	s2.Mul(s, s)
	var term mat.Dense
	term.Scale(math.Sin(theta)/theta, s)
	rot.Add(rot, &term)
	term.Scale((1-math.Cos(theta))/(theta*theta), &s2)
	rot.Add(rot, &term)
	return rot
}

// ExpMap maps a 6-vector twist (vx, vy, vz, wx, wy, wz) to the rigid
// transform exp([v]). The translation part uses the closed-form left
// Jacobian t = V·u with
// V = I + (1-cos θ)/θ² [ω]ₓ + (θ-sin θ)/θ³ [ω]ₓ².
func ExpMap(v []float64) *Pose {
	u := r3.Vector{X: v[0], Y: v[1], Z: v[2]}
	omega := r3.Vector{X: v[3], Y: v[4], Z: v[5]}
	theta := omega.Norm()

	rot := rodrigues(omega)

	vmat := eye(3)
	if theta >= smallAngle {
		s := skew(omega)
		var s2 mat.Dense
		s2.Mul(s, s)
		var term mat.Dense
		term.Scale((1-math.Cos(theta))/(theta*theta), s)
		vmat.Add(vmat, &term)
		term.Scale((theta-math.Sin(theta))/(theta*theta*theta), &s2)
		vmat.Add(vmat, &term)
	} else {
		// first-order series, enough below smallAngle
		s := skew(omega)
		var term mat.Dense
		term.Scale(0.5, s)
		vmat.Add(vmat, &term)
	}

	t := r3.Vector{
		X: vmat.At(0, 0)*u.X + vmat.At(0, 1)*u.Y + vmat.At(0, 2)*u.Z,
		Y: vmat.At(1, 0)*u.X + vmat.At(1, 1)*u.Y + vmat.At(1, 2)*u.Z,
		Z: vmat.At(2, 0)*u.X + vmat.At(2, 1)*u.Y + vmat.At(2, 2)*u.Z,
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
	return p
}
