package ik

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

var testChain = Chain{
	UpperLen:   0.30,
	ForearmLen: 0.26,
	RestDir:    r3.Vec{Y: -1},
}

// handFromSolution reconstructs world bone endpoints from the returned
// local rotations, the same way a rig consumer would.
func handFromSolution(sol Solution, shoulder r3.Vec, parentRot quat.Number) (elbow, hand r3.Vec) {
	shoulderWorld := quat.Mul(parentRot, sol.ShoulderLocal)
	elbowWorld := quat.Mul(shoulderWorld, sol.ElbowLocal)
	elbow = r3.Add(shoulder, r3.Scale(testChain.UpperLen, Rotate(shoulderWorld, testChain.RestDir)))
	hand = r3.Add(elbow, r3.Scale(testChain.ForearmLen, Rotate(elbowWorld, testChain.RestDir)))
	return elbow, hand
}

func TestSegmentLengthsHoldAcrossReach(t *testing.T) {
	shoulder := r3.Vec{X: 0.2, Y: 1.4, Z: 0}
	pole := r3.Vec{Y: -1, Z: 0.4}
	identity := quat.Number{Real: 1}

	minReach := math.Abs(testChain.UpperLen - testChain.ForearmLen)
	maxReach := testChain.UpperLen + testChain.ForearmLen

	for frac := 0.0; frac <= 1.0; frac += 0.05 {
		dist := minReach + frac*(maxReach-minReach)
		target := r3.Add(shoulder, r3.Vec{X: dist * 0.6, Y: -dist * 0.64, Z: dist * 0.48})

		sol := Solve(testChain, shoulder, target, pole, identity)

		upper := r3.Norm(r3.Sub(sol.Elbow, shoulder))
		if math.Abs(upper-testChain.UpperLen) > 1e-6 {
			t.Fatalf("dist %.3f: upper segment %.6f, want %.6f", dist, upper, testChain.UpperLen)
		}

		elbow, hand := handFromSolution(sol, shoulder, identity)
		if d := r3.Norm(r3.Sub(elbow, sol.Elbow)); d > 1e-6 {
			t.Fatalf("dist %.3f: reconstructed elbow off by %.6f", dist, d)
		}
		fore := r3.Norm(r3.Sub(hand, elbow))
		if math.Abs(fore-testChain.ForearmLen) > 1e-6 {
			t.Fatalf("dist %.3f: forearm segment %.6f, want %.6f", dist, fore, testChain.ForearmLen)
		}
	}
}

func TestUnreachableTargetClampsToMaxReach(t *testing.T) {
	shoulder := r3.Vec{Y: 1.4}
	pole := r3.Vec{Z: 1}
	identity := quat.Number{Real: 1}
	dir := r3.Vec{X: 0.6, Y: -0.8}

	maxReach := testChain.UpperLen + testChain.ForearmLen
	far := Solve(testChain, shoulder, r3.Add(shoulder, r3.Scale(10*maxReach, dir)), pole, identity)
	edge := Solve(testChain, shoulder, r3.Add(shoulder, r3.Scale(maxReach, dir)), pole, identity)

	if d := r3.Norm(r3.Sub(far.Elbow, edge.Elbow)); d > 1e-6 {
		t.Errorf("clamped solution elbow differs from max-reach solution by %.6f", d)
	}

	_, farHand := handFromSolution(far, shoulder, identity)
	_, edgeHand := handFromSolution(edge, shoulder, identity)
	if d := r3.Norm(r3.Sub(farHand, edgeHand)); d > 1e-6 {
		t.Errorf("clamped solution hand differs from max-reach solution by %.6f", d)
	}
}

func TestHandReachesReachableTarget(t *testing.T) {
	shoulder := r3.Vec{X: -0.2, Y: 1.4}
	pole := r3.Vec{Y: -0.5, Z: 0.8}
	identity := quat.Number{Real: 1}
	target := r3.Add(shoulder, r3.Vec{X: 0.1, Y: -0.3, Z: 0.25})

	sol := Solve(testChain, shoulder, target, pole, identity)
	_, hand := handFromSolution(sol, shoulder, identity)
	if d := r3.Norm(r3.Sub(hand, target)); d > 1e-6 {
		t.Errorf("hand missed target by %.6f", d)
	}
}

func TestDegeneratePoleStillSolves(t *testing.T) {
	shoulder := r3.Vec{Y: 1.4}
	identity := quat.Number{Real: 1}

	cases := []struct {
		name   string
		target r3.Vec
		pole   r3.Vec
	}{
		{"pole parallel to target dir", r3.Add(shoulder, r3.Vec{X: 0.4}), r3.Vec{X: 1}},
		{"vertical target, vertical pole", r3.Add(shoulder, r3.Vec{Y: -0.4}), r3.Vec{Y: -1}},
		{"zero pole", r3.Add(shoulder, r3.Vec{Z: 0.4}), r3.Vec{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sol := Solve(testChain, shoulder, tc.target, tc.pole, identity)
			_, hand := handFromSolution(sol, shoulder, identity)
			for _, v := range []float64{hand.X, hand.Y, hand.Z} {
				if math.IsNaN(v) {
					t.Fatal("solver produced NaN for degenerate pole")
				}
			}
			if d := r3.Norm(r3.Sub(hand, tc.target)); d > 1e-6 {
				t.Errorf("hand missed target by %.6f", d)
			}
		})
	}
}

func TestParentRotationDividedOut(t *testing.T) {
	shoulder := r3.Vec{Y: 1.4}
	pole := r3.Vec{Z: 1}
	target := r3.Add(shoulder, r3.Vec{X: 0.2, Y: -0.3, Z: 0.1})

	// A swaying torso: rotated parent must still place the hand on target
	// when the consumer composes parent * local.
	parent := quat.Number(r3.NewRotation(0.3, r3.Vec{Z: 1}))
	sol := Solve(testChain, shoulder, target, pole, parent)
	_, hand := handFromSolution(sol, shoulder, parent)
	if d := r3.Norm(r3.Sub(hand, target)); d > 1e-6 {
		t.Errorf("hand missed target by %.6f with rotated parent", d)
	}
}

func TestRotationBetweenAntiParallel(t *testing.T) {
	a := r3.Vec{Y: -1}
	b := r3.Vec{Y: 1}
	q := RotationBetween(a, b)
	got := Rotate(q, a)
	if d := r3.Norm(r3.Sub(got, b)); d > 1e-9 {
		t.Errorf("anti-parallel rotation off by %.9f", d)
	}
}
