// Package ik solves two-bone inverse kinematics chains in closed form.
//
// A chain is shoulder -> elbow -> hand. Given the shoulder's world position,
// a world-space target for the hand, and a pole vector that picks the bend
// plane, Solve returns local rotations for the shoulder and elbow joints.
// There is no iteration and no convergence concern: unreachable targets are
// clamped to the edge of the reachable annulus, never rejected.
package ik

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// reachEpsilon keeps the triangle solvable at the limits of extension.
	reachEpsilon = 1e-4
	// degenerateNorm2 is the squared-norm floor below which a projected
	// pole vector is treated as parallel to the target direction.
	degenerateNorm2 = 1e-6
)

// Chain describes one arm's fixed geometry.
type Chain struct {
	UpperLen   float64 // shoulder to elbow
	ForearmLen float64 // elbow to hand
	// RestDir is the direction each bone points in its own local space
	// when the joint rotation is identity. Rigs built here hang arms
	// straight down, so the usual value is {0, -1, 0}.
	RestDir r3.Vec
}

// Solution is the solver output for one tick.
type Solution struct {
	ShoulderLocal quat.Number
	ElbowLocal    quat.Number
	// Elbow is the computed elbow position in world space. The renderer
	// does not need it; tests and debug overlays do.
	Elbow r3.Vec
}

// Solve computes joint rotations placing the hand at target. parentRot is
// the shoulder's parent world rotation (the torso), which changes every
// tick as the rig sways, so callers must not cache solutions.
func Solve(chain Chain, shoulder, target, pole r3.Vec, parentRot quat.Number) Solution {
	minReach := math.Abs(chain.UpperLen-chain.ForearmLen) + reachEpsilon
	maxReach := chain.UpperLen + chain.ForearmLen - reachEpsilon

	delta := r3.Sub(target, shoulder)
	dist := r3.Norm(delta)

	var dir r3.Vec
	if dist < reachEpsilon {
		// Target on top of the shoulder: point the chain down.
		dir = r3.Vec{Y: -1}
	} else {
		dir = r3.Scale(1/dist, delta)
	}
	if dist < minReach {
		dist = minReach
	} else if dist > maxReach {
		dist = maxReach
	}

	// Law of cosines over the (upper, forearm, dist) triangle gives the
	// shoulder bend away from the target direction.
	cosBend := (chain.UpperLen*chain.UpperLen + dist*dist - chain.ForearmLen*chain.ForearmLen) /
		(2 * chain.UpperLen * dist)
	cosBend = clamp(cosBend, -1, 1)
	bend := math.Acos(cosBend)

	bendDir := bendPlaneDir(dir, pole)

	// Rotate dir toward the bend-plane direction by the bend angle to get
	// the shoulder->elbow direction.
	upperDir := r3.Add(
		r3.Scale(math.Cos(bend), dir),
		r3.Scale(math.Sin(bend), bendDir),
	)
	elbow := r3.Add(shoulder, r3.Scale(chain.UpperLen, upperDir))

	clampedTarget := r3.Add(shoulder, r3.Scale(dist, dir))
	foreDelta := r3.Sub(clampedTarget, elbow)
	foreDir := foreDelta
	if n := r3.Norm(foreDelta); n > reachEpsilon {
		foreDir = r3.Scale(1/n, foreDelta)
	} else {
		foreDir = upperDir
	}

	shoulderWorld := RotationBetween(chain.RestDir, upperDir)
	elbowWorld := RotationBetween(chain.RestDir, foreDir)

	return Solution{
		ShoulderLocal: localize(parentRot, shoulderWorld),
		ElbowLocal:    localize(shoulderWorld, elbowWorld),
		Elbow:         elbow,
	}
}

// bendPlaneDir returns the unit in-plane direction the elbow bends toward:
// the pole vector with its component along dir removed. Degenerate poles
// fall back to world-up, or world-right when the target itself is vertical.
func bendPlaneDir(dir, pole r3.Vec) r3.Vec {
	proj := r3.Sub(pole, r3.Scale(r3.Dot(pole, dir), dir))
	if r3.Norm2(proj) < degenerateNorm2 {
		up := r3.Vec{Y: 1}
		if math.Abs(r3.Dot(dir, up)) > 0.999 {
			up = r3.Vec{X: 1}
		}
		proj = r3.Sub(up, r3.Scale(r3.Dot(up, dir), dir))
	}
	return r3.Scale(1/r3.Norm(proj), proj)
}

// RotationBetween returns the quaternion mapping unit vector a onto unit
// vector b along the shortest arc. Anti-parallel inputs rotate half a turn
// about an arbitrary perpendicular.
func RotationBetween(a, b r3.Vec) quat.Number {
	d := r3.Dot(a, b)
	if d > 1-1e-9 {
		return quat.Number{Real: 1}
	}
	if d < -1+1e-9 {
		perp := r3.Cross(a, r3.Vec{X: 1})
		if r3.Norm2(perp) < degenerateNorm2 {
			perp = r3.Cross(a, r3.Vec{Y: 1})
		}
		perp = r3.Scale(1/r3.Norm(perp), perp)
		return quat.Number{Imag: perp.X, Jmag: perp.Y, Kmag: perp.Z}
	}
	axis := r3.Cross(a, b)
	half := math.Sqrt(2 * (1 + d))
	return quat.Number{
		Real: half / 2,
		Imag: axis.X / half,
		Jmag: axis.Y / half,
		Kmag: axis.Z / half,
	}
}

// Rotate applies rotation q to vector v.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	return r3.Rotation(q).Rotate(v)
}

// localize divides out the parent world rotation: local = parent^-1 * world.
func localize(parent, world quat.Number) quat.Number {
	return quat.Mul(quat.Conj(parent), world)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
