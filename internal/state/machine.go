// Package state holds the avatar's activity state machine. It decides what
// high-level behavior the avatar is in and absorbs bursts of incoming
// transitions without visually snapping: transitions that arrive mid-typing
// are deferred and replayed in order, with a minimum on-screen dwell per
// state so the viewer can register each one.
//
// The machine is driven entirely by the logic tick. It keeps no wall-clock
// timers, so a paused scheduler pauses it deterministically.
package state

import "log"

// Activity is the avatar's current high-level behavior mode.
type Activity string

const (
	Idle          Activity = "idle"
	Waking        Activity = "waking"
	CheckMessages Activity = "check_messages"
	Thinking      Activity = "thinking"
	Terminal      Activity = "terminal"
	Editing       Activity = "editing"
	ReadFile      Activity = "read_file"
	ReadImage     Activity = "read_image"
	SendMessage   Activity = "send_message"
	Done          Activity = "done"
)

// Data carries the per-state payload a transition animates from.
type Data struct {
	Command  string
	FilePath string
	OldText  string
	NewText  string
	Message  string
}

type pendingTransition struct {
	to   Activity
	data Data
}

// Hooks connects the machine to its collaborators. All fields are optional;
// nil hooks are skipped.
type Hooks struct {
	// TypingActive reports whether a blocking typing session is running.
	TypingActive func() bool
	// RushTyping accelerates the remaining keystrokes of the active session.
	RushTyping func()
	// AbortTyping cancels the active session without committing it.
	AbortTyping func()
	// OnEnter fires after the machine settles into a new state.
	OnEnter func(Activity, Data)
	// ClearOverlay removes any on-screen overlay.
	ClearOverlay func()
}

// Timing is expressed in seconds on the logic clock.
type Timing struct {
	ThinkingDwell float64 // minimum hold for a replayed thinking state
	DefaultDwell  float64 // minimum hold for other replayed states
	DoneDelay     float64 // done auto-advances to idle after this
}

// DefaultTiming matches the cadence the avatar was tuned at.
func DefaultTiming() Timing {
	return Timing{ThinkingDwell: 1.2, DefaultDwell: 0.45, DoneDelay: 2.5}
}

// Machine is single-writer: Transition and Tick must be called from the
// logic tick goroutine only.
type Machine struct {
	current Activity
	pending []pendingTransition
	hooks   Hooks
	timing  Timing

	dwellLeft float64 // gate before the next deferred replay
	doneLeft  float64 // countdown for done -> idle; <= 0 means inactive
}

func New(hooks Hooks, timing Timing) *Machine {
	return &Machine{current: Idle, hooks: hooks, timing: timing}
}

// Current returns the state the avatar is showing right now.
func (m *Machine) Current() Activity {
	return m.current
}

// PendingCount reports how many transitions are queued behind typing.
func (m *Machine) PendingCount() int {
	return len(m.pending)
}

// Transition requests a move to a new state. While a typing session is
// active every transition except send_message is deferred and the session
// is rushed; waking is the exception and always wins immediately, dropping
// whatever was queued.
func (m *Machine) Transition(to Activity, data Data) {
	if to == Waking {
		if len(m.pending) > 0 {
			log.Printf("[state] waking: dropping %d pending transitions", len(m.pending))
		}
		m.pending = nil
		if m.typingActive() {
			if m.hooks.AbortTyping != nil {
				m.hooks.AbortTyping()
			}
		}
		m.apply(to, data)
		return
	}

	if m.typingActive() && to != SendMessage {
		m.pending = append(m.pending, pendingTransition{to: to, data: data})
		if m.hooks.RushTyping != nil {
			m.hooks.RushTyping()
		}
		log.Printf("[state] deferred %s behind typing (%d pending)", to, len(m.pending))
		return
	}

	m.apply(to, data)
}

// Tick advances dwell and done countdowns and replays deferred transitions
// once typing has finished and the previous state has been held long
// enough.
func (m *Machine) Tick(dt float64) {
	if m.doneLeft > 0 {
		m.doneLeft -= dt
		if m.doneLeft <= 0 && m.current == Done {
			m.apply(Idle, Data{})
		}
	}

	if m.dwellLeft > 0 {
		m.dwellLeft -= dt
	}
	if len(m.pending) > 0 && m.dwellLeft <= 0 && !m.typingActive() {
		next := m.pending[0]
		m.pending = m.pending[1:]
		m.apply(next.to, next.data)
	}
}

func (m *Machine) apply(to Activity, data Data) {
	// Any transition cancels a running done -> idle countdown.
	m.doneLeft = 0

	if isOverlay(m.current) && !isOverlay(to) {
		if m.hooks.ClearOverlay != nil {
			m.hooks.ClearOverlay()
		}
	}

	m.current = to
	m.dwellLeft = m.dwellFor(to)
	if to == Done {
		m.doneLeft = m.timing.DoneDelay
	}

	log.Printf("[state] -> %s", to)
	if m.hooks.OnEnter != nil {
		m.hooks.OnEnter(to, data)
	}
}

func (m *Machine) typingActive() bool {
	return m.hooks.TypingActive != nil && m.hooks.TypingActive()
}

func (m *Machine) dwellFor(a Activity) float64 {
	if a == Thinking {
		return m.timing.ThinkingDwell
	}
	return m.timing.DefaultDwell
}

// isOverlay reports whether a state keeps an overlay on screen. Moving
// between two overlay states must not clear, or the overlay flickers when
// one overlay-producing action follows another.
func isOverlay(a Activity) bool {
	return a == Editing || a == ReadFile || a == Terminal
}
