package rig

import (
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hware/marionette/internal/config"
	"github.com/hware/marionette/internal/typing"
)

func TestFromConfigGeometry(t *testing.T) {
	cfg := config.Default()
	d := FromConfig(cfg)

	left, parent := d.ArmRoot(typing.LeftHand)
	if left != cfg.Arms.LeftShoulder.Vec() {
		t.Errorf("left shoulder %v, want %v", left, cfg.Arms.LeftShoulder.Vec())
	}
	if parent != (quat.Number{Real: 1}) {
		t.Errorf("parent rotation %v, want identity", parent)
	}

	chain := d.Chain(typing.RightHand)
	if chain.UpperLen != cfg.Arms.UpperLen || chain.ForearmLen != cfg.Arms.ForearmLen {
		t.Errorf("chain %+v does not match configured arm lengths", chain)
	}

	if _, ok := d.KeyPosition('g'); !ok {
		t.Error("configured layout missing g")
	}
	if _, ok := d.KeyPosition('ß'); ok {
		t.Error("rig reports a key the layout does not have")
	}
}

func TestPoseRoundTrips(t *testing.T) {
	d := FromConfig(config.Default())

	q := quat.Number{Real: 0.9, Imag: 0.1}
	d.SetArmRotation(typing.LeftHand, q, quat.Number{Real: 1})

	if got := d.ArmPose(typing.LeftHand).ShoulderLocal; got != q {
		t.Errorf("pose %v, want %v", got, q)
	}
	if got := d.ArmPose(typing.RightHand).ShoulderLocal; got != (quat.Number{Real: 1}) {
		t.Errorf("other arm's pose changed: %v", got)
	}
}

func TestPointerAndKeys(t *testing.T) {
	d := FromConfig(config.Default())

	p := r3.Vec{X: 0.3, Y: 1.0, Z: 0.2}
	d.SetPointerPosition(p)
	if d.PointerPosition() != p {
		t.Errorf("pointer %v, want %v", d.PointerPosition(), p)
	}

	d.PressKey('a')
	d.PressKey('b')
	if d.KeyPresses() != 2 || d.LastKey() != 'b' {
		t.Errorf("presses=%d last=%q, want 2 and b", d.KeyPresses(), d.LastKey())
	}
}
