// Package puppet is the composition root of the animation core. It wires
// the event classifier, activity state machine, chat manager, typing
// controller and choreographer together, owns the global typing mode, and
// exposes the two entry points the outside world gets: ProcessEvent for
// raw activity records and Tick for the fixed-rate logic clock.
package puppet

import (
	"log"
	"math/rand"
	"path"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hware/marionette/internal/chat"
	"github.com/hware/marionette/internal/choreo"
	"github.com/hware/marionette/internal/events"
	"github.com/hware/marionette/internal/ik"
	"github.com/hware/marionette/internal/logging"
	"github.com/hware/marionette/internal/state"
	"github.com/hware/marionette/internal/typing"
)

// Rig is everything the core needs from the renderer-owned skeleton: the
// typing controller's arm surface, the choreography's pointer object, and
// the rig's own key-depress visual.
type Rig interface {
	typing.Rig
	choreo.Pointer
	PressKey(ch rune)
}

// Overlay is the on-screen display sink. Purely write-only; the core never
// reads anything back.
type Overlay interface {
	ShowDiff(filePath, oldText, newText string)
	ShowFile(filePath string)
	ShowTerminal(command string)
	ClearOverlay()
	SetMessages(channelID string, msgs []chat.Message)
	StartTyping()
	TypeChar(ch rune)
	FinishTyping()
}

// Camera animates to numbered presets. The mapping from activity states to
// presets is configuration; the core only ever says "go to preset N".
type Camera interface {
	AnimateTo(preset int)
}

// Config collects wiring and tuning for a Puppet.
type Config struct {
	Author    string
	ChannelID string

	StateTiming state.Timing
	ChatTiming  chat.Timing
	Tuning      typing.Tuning

	LeftRest  r3.Vec
	RightRest r3.Vec

	// BusyKeyInterval is the mean seconds between random busy keystrokes
	// while a terminal or editing state holds the arms.
	BusyKeyInterval float64
	// FidgetInterval is the mean idle seconds before a pointer fidget.
	FidgetInterval float64

	// CameraPresets maps activity states to camera preset indices. States
	// missing from the map leave the camera alone.
	CameraPresets map[state.Activity]int

	Seed int64

	// OnCommit and OnTransition let the embedder observe committed
	// messages and state changes (journal, relay). Optional.
	OnCommit     func(channelID string, msg chat.Message)
	OnTransition func(state.Activity, state.Data)
}

// DefaultCameraPresets frames the desk for work states, the monitor for
// reading, and the room for everything else.
func DefaultCameraPresets() map[state.Activity]int {
	return map[state.Activity]int{
		state.Idle:          0,
		state.Waking:        0,
		state.Done:          0,
		state.Thinking:      1,
		state.Terminal:      2,
		state.Editing:       2,
		state.ReadFile:      3,
		state.ReadImage:     3,
		state.CheckMessages: 4,
		state.SendMessage:   4,
	}
}

// Puppet is single-writer: ProcessEvent and Tick must both be called from
// the logic goroutine. Snapshot is safe from the render side because it
// copies plain values that only change inside Tick.
type Puppet struct {
	cfg     Config
	rig     Rig
	overlay Overlay
	camera  Camera

	machine *state.Machine
	chat    *chat.Manager
	typist  *typing.Controller
	fidget  *choreo.Choreographer
	rng     *rand.Rand

	mode Mode

	// pendingMessage holds an extracted send_message payload between the
	// tool_use that announced it and the tool_result that confirms it.
	pendingMessage string
	pendingArmed   bool

	busyLeft   float64
	fidgetLeft float64
}

const busyKeys = "asdfghjkl;qwertyuiop"

func New(cfg Config, rig Rig, overlay Overlay, camera Camera) *Puppet {
	if cfg.BusyKeyInterval <= 0 {
		cfg.BusyKeyInterval = 0.22
	}
	if cfg.FidgetInterval <= 0 {
		cfg.FidgetInterval = 14
	}
	if cfg.CameraPresets == nil {
		cfg.CameraPresets = DefaultCameraPresets()
	}
	if cfg.StateTiming == (state.Timing{}) {
		cfg.StateTiming = state.DefaultTiming()
	}
	if cfg.ChatTiming == (chat.Timing{}) {
		cfg.ChatTiming = chat.DefaultTiming()
	}
	if cfg.Tuning == (typing.Tuning{}) {
		cfg.Tuning = typing.DefaultTuning()
	}

	p := &Puppet{cfg: cfg, rig: rig, overlay: overlay, camera: camera}
	p.rng = rand.New(rand.NewSource(cfg.Seed))

	p.typist = typing.New(rig, cfg.Tuning, cfg.LeftRest, cfg.RightRest, p.onKeyPress)

	p.chat = chat.NewManager(cfg.Author, cfg.ChatTiming, chat.Hooks{
		OnStart:  p.onTypingStart,
		OnChar:   p.onChar,
		OnEnd:    p.onTypingEnd,
		OnCommit: p.onCommit,
	})
	p.chat.SetChannel(cfg.ChannelID)

	p.machine = state.New(state.Hooks{
		TypingActive: p.chat.Active,
		RushTyping:   p.chat.Rush,
		AbortTyping:  p.abortTyping,
		OnEnter:      p.enterState,
		ClearOverlay: overlay.ClearOverlay,
	}, cfg.StateTiming)

	p.fidget = choreo.New(p.typist, rig, choreo.Gate{
		TryBegin: func() bool { return p.tryClaim(ModeBurst) },
		End:      func() { p.release(ModeBurst) },
	}, p.rng)

	p.fidgetLeft = p.jitter(cfg.FidgetInterval)
	return p
}

// Chat exposes the message store for feeding received history.
func (p *Puppet) Chat() *chat.Manager { return p.chat }

// State returns the activity state the avatar is currently showing.
func (p *Puppet) State() state.Activity { return p.machine.Current() }

// Mode returns the current arm owner.
func (p *Puppet) Mode() Mode { return p.mode }

// ProcessEvent is the sole entry point for raw activity records. Records
// that classify to unknown are dropped silently.
func (p *Puppet) ProcessEvent(raw events.RawEvent) {
	p.handle(events.Classify(raw))
}

// ProcessEventJSON classifies one stream-json line and processes it.
func (p *Puppet) ProcessEventJSON(line []byte) {
	p.handle(events.ClassifyJSON(line))
}

func (p *Puppet) handle(ev events.Classified) {
	logging.Debug("puppet", "event %s %s tool=%s", ev.Kind, ev.Subtype, ev.ToolName)

	switch ev.Kind {
	case events.KindUnknown:
		return

	case events.KindSystem:
		if ev.Subtype == "init" {
			p.machine.Transition(state.Waking, state.Data{})
		}

	case events.KindThinking:
		p.machine.Transition(state.Thinking, state.Data{})

	case events.KindToolUse:
		p.handleToolUse(ev)

	case events.KindToolResult:
		if p.pendingArmed {
			armedText := p.pendingMessage
			p.pendingArmed = false
			if !ev.IsError {
				p.machine.Transition(state.SendMessage, state.Data{Message: armedText})
			}
		}

	case events.KindResult:
		p.machine.Transition(state.Done, state.Data{})
	}
}

func (p *Puppet) handleToolUse(ev events.Classified) {
	switch ev.Subtype {
	case events.SubtypeCheckMessages:
		p.machine.Transition(state.CheckMessages, state.Data{})
		return
	case events.SubtypeSendMessage:
		if ev.HasMessage {
			p.pendingMessage = ev.MessageContent
			p.pendingArmed = true
		}
		// The send itself animates once the matching tool_result lands;
		// until then the avatar keeps its current posture.
		return
	}

	switch ev.ToolName {
	case "Bash", "bash", "Shell":
		p.machine.Transition(state.Terminal, state.Data{Command: ev.Command})
	case "Edit", "MultiEdit", "NotebookEdit":
		p.machine.Transition(state.Editing, state.Data{
			FilePath: ev.FilePath, OldText: ev.OldText, NewText: ev.NewText,
		})
	case "Write":
		p.machine.Transition(state.Editing, state.Data{
			FilePath: ev.FilePath, NewText: ev.NewText,
		})
	case "Read":
		if isImagePath(ev.FilePath) {
			p.machine.Transition(state.ReadImage, state.Data{FilePath: ev.FilePath})
		} else {
			p.machine.Transition(state.ReadFile, state.Data{FilePath: ev.FilePath})
		}
	}
}

// ReceiveMessages feeds a batch of channel history into the store and
// refreshes the message overlay.
func (p *Puppet) ReceiveMessages(channelID string, msgs []chat.Message, initialLoad bool) {
	if p.chat.ReceiveMessages(channelID, msgs, initialLoad) > 0 {
		p.overlay.SetMessages(channelID, p.chat.Messages(channelID))
	}
}

// Tick advances one logic step. Must be called at a fixed rate.
func (p *Puppet) Tick(dt float64) {
	p.machine.Tick(dt)
	p.chat.Tick(dt)
	p.fidget.Tick(dt)
	p.tickBusy(dt)
	p.tickFidget(dt)
	p.typist.Tick(dt)
}

// Snapshot is what the render side reads. Plain values only.
type Snapshot struct {
	State   string `json:"state"`
	Mode    string `json:"mode"`
	Left    r3.Vec `json:"left_hand"`
	Right   r3.Vec `json:"right_hand"`
	Pointer r3.Vec `json:"pointer"`
	Queued  int    `json:"queued_keystrokes"`
}

func (p *Puppet) Snapshot() Snapshot {
	return Snapshot{
		State:   string(p.machine.Current()),
		Mode:    p.mode.String(),
		Left:    p.typist.HandPosition(typing.LeftHand),
		Right:   p.typist.HandPosition(typing.RightHand),
		Pointer: p.rig.PointerPosition(),
		Queued:  p.typist.QueuedCount(),
	}
}

// --- state side effects ---

func (p *Puppet) enterState(to state.Activity, data state.Data) {
	switch to {
	case state.Terminal:
		p.overlay.ShowTerminal(data.Command)
		p.startBusy()
	case state.Editing:
		p.overlay.ShowDiff(data.FilePath, data.OldText, data.NewText)
		p.startBusy()
	case state.ReadFile, state.ReadImage:
		p.overlay.ShowFile(data.FilePath)
		p.stopBusy()
	case state.SendMessage:
		p.stopBusy()
		p.fidget.Stop()
		p.startMessageTyping(data.Message)
	default:
		p.stopBusy()
	}

	if preset, ok := p.cfg.CameraPresets[to]; ok {
		p.camera.AnimateTo(preset)
	}
	if p.cfg.OnTransition != nil {
		p.cfg.OnTransition(to, data)
	}
}

func (p *Puppet) startMessageTyping(text string) {
	if text == "" {
		return
	}
	if !p.tryClaim(ModeMessage) {
		log.Printf("[puppet] arms owned by %s, message not animated", p.mode)
		return
	}
	if !p.chat.TypeMessage(text) {
		p.release(ModeMessage)
	}
}

// --- typing session hooks ---

func (p *Puppet) onTypingStart() {
	p.overlay.StartTyping()
}

func (p *Puppet) onTypingEnd() {
	p.overlay.FinishTyping()
	p.release(ModeMessage)
}

func (p *Puppet) onCommit(channelID string, msg chat.Message) {
	p.overlay.SetMessages(channelID, p.chat.Messages(channelID))
	if p.cfg.OnCommit != nil {
		p.cfg.OnCommit(channelID, msg)
	}
}

// onChar advances both surfaces for one character: the overlay compose box
// follows the chat cadence, the finger follows a beat behind.
func (p *Puppet) onChar(ch rune) {
	p.overlay.TypeChar(ch)
	p.typist.Enqueue(ch)
}

func (p *Puppet) onKeyPress(ch rune) {
	p.rig.PressKey(ch)
}

func (p *Puppet) abortTyping() {
	p.chat.Abort()
	p.typist.ClearQueue()
}

// --- mode ownership ---

func (p *Puppet) tryClaim(m Mode) bool {
	if p.mode != ModeNone {
		return false
	}
	p.mode = m
	return true
}

func (p *Puppet) release(m Mode) {
	if p.mode == m {
		p.mode = ModeNone
	}
}

// --- busy typing (ModeRandom) ---

func (p *Puppet) startBusy() {
	if p.mode == ModeRandom {
		return
	}
	if !p.tryClaim(ModeRandom) {
		return
	}
	p.busyLeft = p.jitter(p.cfg.BusyKeyInterval)
}

func (p *Puppet) stopBusy() {
	if p.mode != ModeRandom {
		return
	}
	p.release(ModeRandom)
	p.typist.ClearQueue()
}

func (p *Puppet) tickBusy(dt float64) {
	if p.mode != ModeRandom {
		return
	}
	p.busyLeft -= dt
	if p.busyLeft > 0 {
		return
	}
	p.busyLeft = p.jitter(p.cfg.BusyKeyInterval)
	p.typist.Enqueue(rune(busyKeys[p.rng.Intn(len(busyKeys))]))
}

// --- idle fidget ---

func (p *Puppet) tickFidget(dt float64) {
	if p.machine.Current() != state.Idle || p.mode != ModeNone {
		p.fidgetLeft = p.jitter(p.cfg.FidgetInterval)
		return
	}
	p.fidgetLeft -= dt
	if p.fidgetLeft > 0 {
		return
	}
	p.fidgetLeft = p.jitter(p.cfg.FidgetInterval)
	p.fidget.RunPointerFidget()
}

func (p *Puppet) jitter(mean float64) float64 {
	return mean * (0.6 + 0.8*p.rng.Float64())
}

func isImagePath(filePath string) bool {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
		return true
	}
	return false
}

// Chains returns the arm geometry the rig reported, for consumers that
// want to mirror the skeleton (debug overlays, state feeds).
func (p *Puppet) Chains() (left, right ik.Chain) {
	return p.rig.Chain(typing.LeftHand), p.rig.Chain(typing.RightHand)
}
