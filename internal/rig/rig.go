// Package rig provides the default desk-mounted skeleton built from
// configuration: a keyboard layout, two arms, and a pointer. Renderers read
// its pose; the animation core drives it.
package rig

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hware/marionette/internal/config"
	"github.com/hware/marionette/internal/ik"
	"github.com/hware/marionette/internal/typing"
)

// Pose is one arm's current local rotations.
type Pose struct {
	ShoulderLocal quat.Number
	ElbowLocal    quat.Number
}

// Desk implements the rig surface the animation core expects. All methods
// are called from the logic goroutine.
type Desk struct {
	chain     ik.Chain
	shoulders [2]r3.Vec
	poles     [2]r3.Vec
	keys      map[rune]r3.Vec

	poses   [2]Pose
	pointer r3.Vec

	keyPresses int
	lastKey    rune
}

func FromConfig(cfg config.Config) *Desk {
	d := &Desk{
		chain: ik.Chain{
			UpperLen:   cfg.Arms.UpperLen,
			ForearmLen: cfg.Arms.ForearmLen,
			RestDir:    r3.Vec{Y: -1},
		},
		keys:    cfg.Keyboard.KeyPositions(),
		pointer: r3.Vec{X: 0.25, Y: cfg.Keyboard.Origin.Y, Z: cfg.Keyboard.Origin.Z},
	}
	d.shoulders[typing.LeftHand] = cfg.Arms.LeftShoulder.Vec()
	d.shoulders[typing.RightHand] = cfg.Arms.RightShoulder.Vec()
	d.poles[typing.LeftHand] = cfg.Arms.LeftPole.Vec()
	d.poles[typing.RightHand] = cfg.Arms.RightPole.Vec()
	for i := range d.poses {
		d.poses[i] = Pose{ShoulderLocal: quat.Number{Real: 1}, ElbowLocal: quat.Number{Real: 1}}
	}
	return d
}

func (d *Desk) ArmRoot(hand typing.Hand) (r3.Vec, quat.Number) {
	return d.shoulders[hand], quat.Number{Real: 1}
}

func (d *Desk) Chain(typing.Hand) ik.Chain { return d.chain }

func (d *Desk) Pole(hand typing.Hand) r3.Vec { return d.poles[hand] }

func (d *Desk) SetArmRotation(hand typing.Hand, shoulderLocal, elbowLocal quat.Number) {
	d.poses[hand] = Pose{ShoulderLocal: shoulderLocal, ElbowLocal: elbowLocal}
}

// ArmPose returns the rotations the solver last applied, for renderers.
func (d *Desk) ArmPose(hand typing.Hand) Pose { return d.poses[hand] }

func (d *Desk) KeyPosition(ch rune) (r3.Vec, bool) {
	pos, ok := d.keys[ch]
	return pos, ok
}

func (d *Desk) PointerPosition() r3.Vec     { return d.pointer }
func (d *Desk) SetPointerPosition(p r3.Vec) { d.pointer = p }

func (d *Desk) PressKey(ch rune) {
	d.keyPresses++
	d.lastKey = ch
}

// KeyPresses reports how many keys have been depressed since start.
func (d *Desk) KeyPresses() int { return d.keyPresses }

// LastKey returns the most recently depressed key, zero if none yet.
func (d *Desk) LastKey() rune { return d.lastKey }
