package puppet

import (
	"strings"
	"testing"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/hware/marionette/internal/chat"
	"github.com/hware/marionette/internal/ik"
	"github.com/hware/marionette/internal/state"
	"github.com/hware/marionette/internal/typing"
)

// deskRig is a full desk: keyboard keys, a pointer, and recorded key
// depressions.
type deskRig struct {
	keys    map[rune]r3.Vec
	pointer r3.Vec
	pressed []rune
}

func newDeskRig() *deskRig {
	keys := map[rune]r3.Vec{' ': {X: 0.01, Y: 1.0, Z: 0.34}}
	for i, ch := range "qwert" {
		keys[ch] = r3.Vec{X: -0.14 + 0.02*float64(i), Y: 1.0, Z: 0.30}
	}
	for i, ch := range "yuiophjkl" {
		keys[ch] = r3.Vec{X: 0.04 + 0.02*float64(i%5), Y: 1.0, Z: 0.30 + 0.02*float64(i/5)}
	}
	for i, ch := range "asdfg" {
		keys[ch] = r3.Vec{X: -0.14 + 0.02*float64(i), Y: 1.0, Z: 0.32}
	}
	return &deskRig{keys: keys, pointer: r3.Vec{X: 0.25, Y: 1.0, Z: 0.30}}
}

func (d *deskRig) ArmRoot(hand typing.Hand) (r3.Vec, quat.Number) {
	x := 0.2
	if hand == typing.LeftHand {
		x = -0.2
	}
	return r3.Vec{X: x, Y: 1.4}, quat.Number{Real: 1}
}

func (d *deskRig) Chain(typing.Hand) ik.Chain {
	return ik.Chain{UpperLen: 0.3, ForearmLen: 0.26, RestDir: r3.Vec{Y: -1}}
}

func (d *deskRig) Pole(hand typing.Hand) r3.Vec {
	if hand == typing.LeftHand {
		return r3.Vec{X: -0.4, Y: -0.6, Z: 0.4}
	}
	return r3.Vec{X: 0.4, Y: -0.6, Z: 0.4}
}

func (d *deskRig) SetArmRotation(typing.Hand, quat.Number, quat.Number) {}

func (d *deskRig) KeyPosition(ch rune) (r3.Vec, bool) {
	pos, ok := d.keys[ch]
	return pos, ok
}

func (d *deskRig) PointerPosition() r3.Vec     { return d.pointer }
func (d *deskRig) SetPointerPosition(p r3.Vec) { d.pointer = p }
func (d *deskRig) PressKey(ch rune)            { d.pressed = append(d.pressed, ch) }

// recordOverlay captures every display call.
type recordOverlay struct {
	terminal  []string
	diffs     []string
	files     []string
	cleared   int
	messages  map[string][]chat.Message
	started   int
	finished  int
	typed     []rune
}

func newRecordOverlay() *recordOverlay {
	return &recordOverlay{messages: map[string][]chat.Message{}}
}

func (o *recordOverlay) ShowDiff(filePath, oldText, newText string) {
	o.diffs = append(o.diffs, filePath)
}
func (o *recordOverlay) ShowFile(filePath string)   { o.files = append(o.files, filePath) }
func (o *recordOverlay) ShowTerminal(command string) { o.terminal = append(o.terminal, command) }
func (o *recordOverlay) ClearOverlay()               { o.cleared++ }
func (o *recordOverlay) SetMessages(channelID string, msgs []chat.Message) {
	o.messages[channelID] = msgs
}
func (o *recordOverlay) StartTyping()     { o.started++ }
func (o *recordOverlay) TypeChar(ch rune) { o.typed = append(o.typed, ch) }
func (o *recordOverlay) FinishTyping()    { o.finished++ }

type recordCamera struct{ presets []int }

func (c *recordCamera) AnimateTo(preset int) { c.presets = append(c.presets, preset) }

func newTestPuppet() (*Puppet, *deskRig, *recordOverlay, *recordCamera) {
	rig := newDeskRig()
	overlay := newRecordOverlay()
	camera := &recordCamera{}
	p := New(Config{
		Author:    "agent",
		ChannelID: "channel-1",
		LeftRest:  r3.Vec{X: -0.15, Y: 1.1, Z: 0.25},
		RightRest: r3.Vec{X: 0.15, Y: 1.1, Z: 0.25},
		// Long fidget interval keeps idle choreography out of these tests.
		FidgetInterval: 1e6,
		Seed:           1,
	}, rig, overlay, camera)
	return p, rig, overlay, camera
}

func tick(p *Puppet, seconds float64) {
	const dt = 1.0 / 60
	for t := 0.0; t < seconds; t += dt {
		p.Tick(dt)
	}
}

func TestSendMessageEndToEnd(t *testing.T) {
	p, _, overlay, _ := newTestPuppet()

	p.ProcessEventJSON([]byte(`{"type":"system","subtype":"init"}`))
	if p.State() != state.Waking {
		t.Fatalf("state %s after init, want waking", p.State())
	}

	cmd := `curl -s -X POST http://localhost:8080/send_message -d content="hi"`
	p.ProcessEventJSON([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"` +
		strings.ReplaceAll(cmd, `"`, `\"`) + `"}}]}}`))
	if p.State() != state.Waking {
		t.Fatalf("send_message tool_use moved state to %s before its result arrived", p.State())
	}

	p.ProcessEventJSON([]byte(`{"type":"user","message":{"content":[{"type":"tool_result","content":"ok","is_error":false}]}}`))
	if p.State() != state.SendMessage {
		t.Fatalf("state %s after successful result, want send_message", p.State())
	}
	if p.Mode() != ModeMessage {
		t.Fatalf("mode %s during message typing, want message", p.Mode())
	}

	tick(p, 8)

	msgs := p.Chat().Messages("channel-1")
	if len(msgs) != 1 {
		t.Fatalf("channel log holds %d messages, want 1", len(msgs))
	}
	if msgs[0].Author != "agent" || msgs[0].Content != "hi" {
		t.Errorf("committed {%q %q}, want {agent hi}", msgs[0].Author, msgs[0].Content)
	}
	if string(overlay.typed) != "hi" {
		t.Errorf("overlay saw %q typed, want %q", string(overlay.typed), "hi")
	}
	if overlay.started != 1 || overlay.finished != 1 {
		t.Errorf("typing session started %d / finished %d times, want 1/1", overlay.started, overlay.finished)
	}
	if got := overlay.messages["channel-1"]; len(got) != 1 {
		t.Errorf("overlay message list holds %d, want 1", len(got))
	}
	if p.Mode() != ModeNone {
		t.Errorf("mode %s after commit, want none", p.Mode())
	}
}

func TestFailedSendResultDoesNotType(t *testing.T) {
	p, _, overlay, _ := newTestPuppet()

	p.ProcessEventJSON([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"send_message content=\"hi\""}}]}}`))
	p.ProcessEventJSON([]byte(`{"type":"user","message":{"content":[{"type":"tool_result","content":"timeout","is_error":true}]}}`))

	tick(p, 4)
	if p.State() == state.SendMessage {
		t.Errorf("errored result still entered send_message")
	}
	if len(p.Chat().Messages("channel-1")) != 0 {
		t.Errorf("errored send still committed a message")
	}
	if overlay.started != 0 {
		t.Errorf("typing session started despite errored result")
	}

	// The armed payload must not leak into an unrelated later result.
	p.ProcessEventJSON([]byte(`{"type":"user","message":{"content":[{"type":"tool_result","content":"ok","is_error":false}]}}`))
	tick(p, 4)
	if len(p.Chat().Messages("channel-1")) != 0 {
		t.Errorf("stale payload committed on a later unrelated result")
	}
}

func TestToolEventsDriveOverlayAndCamera(t *testing.T) {
	p, _, overlay, camera := newTestPuppet()

	p.ProcessEventJSON([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"ls -la"}}]}}`))
	if p.State() != state.Terminal {
		t.Fatalf("state %s, want terminal", p.State())
	}
	if len(overlay.terminal) != 1 || overlay.terminal[0] != "ls -la" {
		t.Errorf("terminal overlay got %v", overlay.terminal)
	}

	p.ProcessEventJSON([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{"file_path":"main.go","old_string":"a","new_string":"b"}}]}}`))
	if p.State() != state.Editing {
		t.Fatalf("state %s, want editing", p.State())
	}
	if overlay.cleared != 0 {
		t.Errorf("overlay cleared moving terminal -> editing; both keep an overlay up")
	}

	p.ProcessEventJSON([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"considering"}]}}`))
	if p.State() != state.Thinking {
		t.Fatalf("state %s, want thinking", p.State())
	}
	if overlay.cleared != 1 {
		t.Errorf("overlay cleared %d times leaving editing, want 1", overlay.cleared)
	}

	if len(camera.presets) != 3 {
		t.Errorf("camera moved %d times, want once per state change", len(camera.presets))
	}
}

func TestReadEventSplitsOnImageExtension(t *testing.T) {
	p, _, _, _ := newTestPuppet()

	p.ProcessEventJSON([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"shot.PNG"}}]}}`))
	if p.State() != state.ReadImage {
		t.Errorf("state %s for image read, want read_image", p.State())
	}
	p.ProcessEventJSON([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read","input":{"file_path":"notes.md"}}]}}`))
	if p.State() != state.ReadFile {
		t.Errorf("state %s for text read, want read_file", p.State())
	}
}

func TestBusyTypingOwnsArmsOnlyDuringWork(t *testing.T) {
	p, rig, _, _ := newTestPuppet()

	p.ProcessEventJSON([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"make build"}}]}}`))
	if p.Mode() != ModeRandom {
		t.Fatalf("mode %s in terminal, want random", p.Mode())
	}
	tick(p, 5)
	if len(rig.pressed) == 0 {
		t.Errorf("no busy keystrokes after five seconds in terminal")
	}

	p.ProcessEventJSON([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"hm"}]}}`))
	if p.Mode() != ModeNone {
		t.Errorf("mode %s after leaving terminal, want none", p.Mode())
	}
	if p.Snapshot().Queued != 0 {
		t.Errorf("%d busy keystrokes survived leaving terminal", p.Snapshot().Queued)
	}
}

func TestWakingAbortsActiveMessage(t *testing.T) {
	p, _, overlay, _ := newTestPuppet()

	p.ProcessEventJSON([]byte(`{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Bash","input":{"command":"send_message content=\"a long goodbye\""}}]}}`))
	p.ProcessEventJSON([]byte(`{"type":"user","message":{"content":[{"type":"tool_result","content":"ok","is_error":false}]}}`))
	tick(p, 0.1) // a character or two

	p.ProcessEventJSON([]byte(`{"type":"system","subtype":"init"}`))
	if p.State() != state.Waking {
		t.Fatalf("state %s after restart, want waking", p.State())
	}
	if p.Mode() != ModeNone {
		t.Errorf("mode %s after abort, want none", p.Mode())
	}
	tick(p, 6)
	if len(p.Chat().Messages("channel-1")) != 0 {
		t.Errorf("aborted message still committed")
	}
	if overlay.finished != 1 {
		t.Errorf("typing session finished %d times, want exactly 1 from the abort", overlay.finished)
	}
}

func TestResultAdvancesToDoneThenIdle(t *testing.T) {
	p, _, _, _ := newTestPuppet()

	p.ProcessEventJSON([]byte(`{"type":"result","subtype":"success"}`))
	if p.State() != state.Done {
		t.Fatalf("state %s, want done", p.State())
	}
	tick(p, 3)
	if p.State() != state.Idle {
		t.Errorf("state %s after done delay, want idle", p.State())
	}
}

func TestUnknownEventsAreIgnored(t *testing.T) {
	p, _, _, _ := newTestPuppet()

	p.ProcessEventJSON([]byte(`{{{not json`))
	p.ProcessEventJSON([]byte(`{"type":"mystery"}`))
	p.ProcessEventJSON([]byte(`{"type":"assistant","message":{"content":42}}`))
	if p.State() != state.Idle {
		t.Errorf("state %s after garbage, want idle", p.State())
	}
}

type countRenderer struct {
	frames []Snapshot
}

func (r *countRenderer) Render(s Snapshot) { r.frames = append(r.frames, s) }

func TestSchedulerRendersAfterLogic(t *testing.T) {
	p, _, _, _ := newTestPuppet()
	r := &countRenderer{}
	s := NewScheduler(p, r, 60, 30)

	p.ProcessEventJSON([]byte(`{"type":"assistant","message":{"content":[{"type":"text","text":"hm"}]}}`))
	for i := 0; i < 60; i++ {
		s.Step()
	}
	if len(r.frames) == 0 {
		t.Fatal("no frames rendered")
	}
	if got := len(r.frames); got < 28 || got > 32 {
		t.Errorf("%d frames over one second at 30 Hz render", got)
	}
	if r.frames[0].State != string(state.Thinking) {
		t.Errorf("first frame shows %s; logic must run before render", r.frames[0].State)
	}
}

func TestSchedulerPauseStopsFramesNotLogic(t *testing.T) {
	p, _, _, _ := newTestPuppet()
	r := &countRenderer{}
	s := NewScheduler(p, r, 60, 30)

	p.ProcessEventJSON([]byte(`{"type":"result","subtype":"success"}`))
	s.PauseRender(true)
	for i := 0; i < 240; i++ { // four seconds, past the done delay
		s.Step()
	}
	if len(r.frames) != 0 {
		t.Errorf("%d frames rendered while paused", len(r.frames))
	}
	if p.State() != state.Idle {
		t.Errorf("state %s; logic stalled while render was paused", p.State())
	}
}
