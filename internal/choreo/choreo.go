// Package choreo runs short scripted arm interactions that are not typing:
// grabbing the pointing device, nudging it, tapping a couple of incidental
// keys, and letting go. A sequence is a step-indexed state machine advanced
// by the logic tick, so pausing the scheduler freezes it mid-step and
// resuming continues deterministically.
//
// Sequences claim an arm through the typing controller's lock and the
// global typing mode through the gate callbacks; they never run while any
// other animation driver owns the arms.
package choreo

import (
	"log"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hware/marionette/internal/typing"
)

// Pointer is the shared desk object a sequence drags around.
type Pointer interface {
	PointerPosition() r3.Vec
	SetPointerPosition(r3.Vec)
}

// Gate guards the global typing mode. TryBegin must atomically check that
// no other driver owns the arms and claim them; End returns ownership.
type Gate struct {
	TryBegin func() bool
	End      func()
}

type step struct {
	name     string
	duration float64
	begin    func()
	update   func(frac float64)
}

// Choreographer drives at most one sequence at a time.
type Choreographer struct {
	typist  *typing.Controller
	pointer Pointer
	gate    Gate
	rng     *rand.Rand

	// incidentalKeys is the pool the free hand taps from mid-sequence.
	incidentalKeys []rune

	steps   []step
	idx     int
	elapsed float64
	hand    typing.Hand
}

func New(typist *typing.Controller, pointer Pointer, gate Gate, rng *rand.Rand) *Choreographer {
	return &Choreographer{
		typist:         typist,
		pointer:        pointer,
		gate:           gate,
		rng:            rng,
		incidentalKeys: []rune("asd"),
	}
}

// Active reports whether a sequence is running.
func (c *Choreographer) Active() bool { return len(c.steps) > 0 }

// RunPointerFidget starts the grab-nudge-tap-release sequence with the
// right hand. Returns false without side effects when another driver owns
// the arms or a sequence is already running.
func (c *Choreographer) RunPointerFidget() bool {
	if c.Active() {
		return false
	}
	if c.gate.TryBegin != nil && !c.gate.TryBegin() {
		return false
	}
	c.hand = typing.RightHand
	c.typist.Lock(c.hand)

	const gripHeight = 0.02
	grip := r3.Vec{Y: gripHeight}
	var dragFrom, dragTo r3.Vec

	c.steps = []step{
		{
			name:     "reach",
			duration: 0.35,
			begin: func() {
				c.typist.SetGoal(c.hand, r3.Add(c.pointer.PointerPosition(), grip))
			},
		},
		{
			name:     "drag",
			duration: 0.5,
			begin: func() {
				dragFrom = c.pointer.PointerPosition()
				dragTo = r3.Add(dragFrom, r3.Vec{
					X: (c.rng.Float64() - 0.5) * 0.10,
					Z: (c.rng.Float64() - 0.5) * 0.10,
				})
			},
			update: func(frac float64) {
				pos := r3.Add(dragFrom, r3.Scale(frac, r3.Sub(dragTo, dragFrom)))
				c.pointer.SetPointerPosition(pos)
				c.typist.SetGoal(c.hand, r3.Add(pos, grip))
			},
		},
		{
			name:     "tap",
			duration: 0.6,
			begin: func() {
				for i := 0; i < 2; i++ {
					c.typist.Enqueue(c.incidentalKeys[c.rng.Intn(len(c.incidentalKeys))])
				}
			},
		},
		{
			name:     "release",
			duration: 0.25,
		},
	}
	c.idx = 0
	c.elapsed = 0
	log.Printf("[choreo] pointer fidget started")
	c.steps[0].begin()
	return true
}

// Tick advances the running sequence. No-op when idle.
func (c *Choreographer) Tick(dt float64) {
	if !c.Active() {
		return
	}
	c.elapsed += dt
	cur := &c.steps[c.idx]
	frac := 1.0
	if cur.duration > 0 {
		frac = c.elapsed / cur.duration
		if frac > 1 {
			frac = 1
		}
	}
	if cur.update != nil {
		cur.update(frac)
	}
	if c.elapsed < cur.duration {
		return
	}

	c.idx++
	c.elapsed = 0
	if c.idx >= len(c.steps) {
		c.finish()
		return
	}
	if next := &c.steps[c.idx]; next.begin != nil {
		next.begin()
	}
}

// Stop cancels the running sequence immediately, releasing the arm lock
// and the typing mode. Safe to call at any time; idempotent.
func (c *Choreographer) Stop() {
	if !c.Active() {
		return
	}
	c.finish()
}

func (c *Choreographer) finish() {
	c.steps = nil
	c.idx = 0
	c.elapsed = 0
	c.typist.Unlock(c.hand)
	if c.gate.End != nil {
		c.gate.End()
	}
	log.Printf("[choreo] pointer fidget finished")
}
