// Package typing turns queued characters into continuous two-arm keystroke
// motion. Each hand owns a FIFO of pending characters and at most one
// in-flight keypress moving through hover, press and lift phases. Phase
// advancement is distance-based, not timed, so a keystroke always completes
// no matter how uneven the frame rate is.
package typing

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hware/marionette/internal/ik"
	"github.com/hware/marionette/internal/logging"
)

// Hand selects one of the avatar's arms.
type Hand int

const (
	LeftHand Hand = iota
	RightHand
	handCount
)

func (h Hand) String() string {
	if h == LeftHand {
		return "left"
	}
	return "right"
}

// Rig is the renderer-owned skeleton surface the controller drives. The
// rig keeps moving underneath us (breathing, idle sway), which is why the
// arm root is re-read and the IK re-solved every tick.
type Rig interface {
	// ArmRoot returns the shoulder world position and the parent world
	// rotation for one arm.
	ArmRoot(hand Hand) (r3.Vec, quat.Number)
	Chain(hand Hand) ik.Chain
	Pole(hand Hand) r3.Vec
	SetArmRotation(hand Hand, shoulderLocal, elbowLocal quat.Number)
	// KeyPosition returns the world position of a key top, or false if the
	// keyboard has no such key.
	KeyPosition(ch rune) (r3.Vec, bool)
}

type phase int

const (
	phaseHover phase = iota
	phasePress
	phaseLift
)

type keypress struct {
	ch     rune
	keyPos r3.Vec
	phase  phase
}

type armState struct {
	current r3.Vec
	goal    r3.Vec
	rest    r3.Vec
	locked  bool
	queue   []rune
	active  *keypress
}

// Tuning holds the motion constants, in world units and seconds.
type Tuning struct {
	Speed           float64 // hand travel speed
	HoverOffset     r3.Vec  // offset above a key while aiming
	PressOffset     r3.Vec  // offset at the bottom of a press
	ArriveThreshold float64 // distance at which a phase goal counts as reached
}

func DefaultTuning() Tuning {
	return Tuning{
		Speed:           1.6,
		HoverOffset:     r3.Vec{Y: 0.055},
		PressOffset:     r3.Vec{Y: 0.008},
		ArriveThreshold: 0.005,
	}
}

// Controller owns both arms' typing motion. Single-writer: all methods must
// be called from the logic tick goroutine.
type Controller struct {
	rig    Rig
	tuning Tuning
	arms   [handCount]armState

	// onKeyPress fires at the single moment a keystroke becomes externally
	// visible: the bottom of the press phase.
	onKeyPress func(ch rune)
}

func New(rig Rig, tuning Tuning, leftRest, rightRest r3.Vec, onKeyPress func(ch rune)) *Controller {
	c := &Controller{rig: rig, tuning: tuning, onKeyPress: onKeyPress}
	c.arms[LeftHand] = armState{current: leftRest, goal: leftRest, rest: leftRest}
	c.arms[RightHand] = armState{current: rightRest, goal: rightRest, rest: rightRest}
	return c
}

// Enqueue adds one character to the queue of whichever hand covers its key.
// Unknown characters aim at the space key instead of being dropped, so hand
// motion stays continuous on encoding surprises; if even space is missing
// from the rig the character is discarded.
func (c *Controller) Enqueue(ch rune) {
	pos, ok := c.rig.KeyPosition(ch)
	if !ok {
		pos, ok = c.rig.KeyPosition(' ')
		if !ok {
			return
		}
	}
	hand := RightHand
	if pos.X < 0 {
		hand = LeftHand
	}
	c.arms[hand].queue = append(c.arms[hand].queue, ch)
}

// Lock claims a hand for an external driver. A locked hand finishes any
// in-flight keypress but starts no new ones; its queue stalls as a whole
// until Unlock. Callers are responsible for eventually unlocking.
func (c *Controller) Lock(hand Hand)   { c.arms[hand].locked = true }
func (c *Controller) Unlock(hand Hand) { c.arms[hand].locked = false }

func (c *Controller) IsLocked(hand Hand) bool { return c.arms[hand].locked }

// SetGoal points a hand at an arbitrary world position. Used by the
// interaction choreography while it holds the hand's lock.
func (c *Controller) SetGoal(hand Hand, pos r3.Vec) { c.arms[hand].goal = pos }

// HandPosition returns a hand's current interpolated position.
func (c *Controller) HandPosition(hand Hand) r3.Vec { return c.arms[hand].current }

// QueuedCount reports pending plus in-flight keystrokes across both hands.
func (c *Controller) QueuedCount() int {
	n := 0
	for h := range c.arms {
		n += len(c.arms[h].queue)
		if c.arms[h].active != nil {
			n++
		}
	}
	return n
}

// Idle reports whether no keystroke is pending or in flight on either hand.
func (c *Controller) Idle() bool { return c.QueuedCount() == 0 }

// ClearQueue discards all pending and in-flight keystrokes without firing
// callbacks. Safe to call at any time; idempotent.
func (c *Controller) ClearQueue() {
	for h := range c.arms {
		arm := &c.arms[h]
		arm.queue = nil
		arm.active = nil
		if !arm.locked {
			arm.goal = arm.rest
		}
	}
}

// Tick advances both arms: interpolation toward goals, keypress phase
// transitions, and a fresh IK solve applied to the rig.
func (c *Controller) Tick(dt float64) {
	for h := Hand(0); h < handCount; h++ {
		arm := &c.arms[h]

		c.step(arm, dt)

		if arm.active == nil && !arm.locked {
			if len(arm.queue) > 0 {
				c.startKeypress(arm)
			} else {
				arm.goal = arm.rest
			}
		}
		if arm.active != nil {
			c.advancePhase(arm)
		}

		c.applyIK(h, arm)
	}
}

// step moves the hand toward its goal at fixed speed, clamping overshoot.
func (c *Controller) step(arm *armState, dt float64) {
	delta := r3.Sub(arm.goal, arm.current)
	dist := r3.Norm(delta)
	if dist == 0 {
		return
	}
	travel := c.tuning.Speed * dt
	if travel >= dist {
		arm.current = arm.goal
		return
	}
	arm.current = r3.Add(arm.current, r3.Scale(travel/dist, delta))
}

func (c *Controller) startKeypress(arm *armState) {
	for len(arm.queue) > 0 {
		ch := arm.queue[0]
		arm.queue = arm.queue[1:]
		pos, ok := c.rig.KeyPosition(ch)
		if !ok {
			pos, ok = c.rig.KeyPosition(' ')
			if !ok {
				continue
			}
		}
		arm.active = &keypress{ch: ch, keyPos: pos, phase: phaseHover}
		arm.goal = r3.Add(pos, c.tuning.HoverOffset)
		logging.Debug("typing", "keypress %q started", ch)
		return
	}
}

func (c *Controller) advancePhase(arm *armState) {
	if r3.Norm(r3.Sub(arm.goal, arm.current)) > c.tuning.ArriveThreshold {
		return
	}
	switch arm.active.phase {
	case phaseHover:
		arm.active.phase = phasePress
		arm.goal = r3.Add(arm.active.keyPos, c.tuning.PressOffset)
	case phasePress:
		if c.onKeyPress != nil {
			c.onKeyPress(arm.active.ch)
		}
		arm.active.phase = phaseLift
		arm.goal = r3.Add(arm.active.keyPos, c.tuning.HoverOffset)
	case phaseLift:
		arm.active = nil
		if len(arm.queue) == 0 {
			arm.goal = arm.rest
		}
	}
}

func (c *Controller) applyIK(h Hand, arm *armState) {
	shoulder, parentRot := c.rig.ArmRoot(h)
	sol := ik.Solve(c.rig.Chain(h), shoulder, arm.current, c.rig.Pole(h), parentRot)
	c.rig.SetArmRotation(h, sol.ShoulderLocal, sol.ElbowLocal)
}
