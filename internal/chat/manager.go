// Package chat owns per-channel message history and the single active
// typing session. A session feeds characters to the typing animation at a
// fixed cadence; it can be rushed (delays shrink, text is never truncated)
// or aborted (nothing is committed). At most one session exists at a time.
package chat

import (
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxChannelMessages caps each channel log; oldest entries are evicted.
const maxChannelMessages = 50

// maxMessageLen mirrors the platform's hard message limit. Longer texts
// are clamped before the session starts rather than rejected.
const maxMessageLen = 2000

// Message is one chat message as the avatar knows it.
type Message struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// channelLog is a deduplicating ordered set of messages for one channel.
// Created lazily on first reference, never destroyed within a session.
type channelLog struct {
	messages []Message
	seen     map[string]bool
}

func newChannelLog() *channelLog {
	return &channelLog{seen: make(map[string]bool)}
}

func (l *channelLog) add(msg Message) bool {
	if msg.ID != "" && l.seen[msg.ID] {
		return false
	}
	if msg.ID != "" {
		l.seen[msg.ID] = true
	}
	l.messages = append(l.messages, msg)
	for len(l.messages) > maxChannelMessages {
		evicted := l.messages[0]
		l.messages = l.messages[1:]
		delete(l.seen, evicted.ID)
	}
	return true
}

type session struct {
	text     []rune
	index    int
	rushed   bool
	wait     float64 // seconds until the next character (logic clock)
	trailing bool    // all characters emitted, waiting out the commit delay
}

// Timing is in seconds on the logic clock.
type Timing struct {
	CharDelay float64 // nominal inter-character delay
	RushDelay float64 // delay once the session has been rushed
}

func DefaultTiming() Timing {
	return Timing{CharDelay: 0.07, RushDelay: 0.018}
}

// Hooks wires a Manager to the animation side. All optional.
type Hooks struct {
	OnStart  func()                          // session begins
	OnChar   func(ch rune)                   // one character becomes due
	OnEnd    func()                          // session over (commit or abort)
	OnCommit func(channelID string, m Message) // message entered the log
}

// Manager is single-writer: all methods must be called from the logic tick
// goroutine.
type Manager struct {
	author   string
	channels map[string]*channelLog
	channel  string
	sess     *session
	timing   Timing
	hooks    Hooks

	initialLoad bool
}

func NewManager(author string, timing Timing, hooks Hooks) *Manager {
	if author == "" {
		author = "agent"
	}
	return &Manager{
		author:      author,
		channels:    make(map[string]*channelLog),
		timing:      timing,
		hooks:       hooks,
		initialLoad: true,
	}
}

// SetChannel selects the channel typed messages commit to.
func (m *Manager) SetChannel(id string) { m.channel = id }

func (m *Manager) Channel() string { return m.channel }

// Messages returns a copy of one channel's log.
func (m *Manager) Messages(channelID string) []Message {
	l, ok := m.channels[channelID]
	if !ok {
		return nil
	}
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// ReceiveMessages merges a batch into a channel's log, ignoring duplicates
// and messages the avatar itself authored or that look like bot commands.
// Returns how many messages were actually new.
func (m *Manager) ReceiveMessages(channelID string, msgs []Message, initialLoad bool) int {
	l, ok := m.channels[channelID]
	if !ok {
		l = newChannelLog()
		m.channels[channelID] = l
	}
	added := 0
	for _, msg := range msgs {
		if strings.EqualFold(msg.Author, m.author) {
			continue
		}
		if strings.HasPrefix(msg.Content, "!") || strings.HasPrefix(msg.Content, "-") {
			continue
		}
		if l.add(msg) {
			added++
		}
	}
	if added > 0 {
		log.Printf("[chat] channel %s: %d new messages (initial=%v)", channelID, added, initialLoad)
	}
	return added
}

// IsInitialLoad is true only until the very first typing session completes,
// so historical replay never falls back to animated typing.
func (m *Manager) IsInitialLoad() bool { return m.initialLoad }

// Active reports whether a typing session is in progress.
func (m *Manager) Active() bool { return m.sess != nil }

// TypeMessage starts a session typing text. Refuses (returning false) when
// a session is already active.
func (m *Manager) TypeMessage(text string) bool {
	if m.sess != nil {
		log.Printf("[chat] typeMessage refused: session already active")
		return false
	}
	runes := []rune(text)
	if len(runes) > maxMessageLen {
		runes = runes[:maxMessageLen]
	}
	m.sess = &session{text: runes, wait: m.timing.CharDelay}
	if m.hooks.OnStart != nil {
		m.hooks.OnStart()
	}
	return true
}

// Abort cancels the active session without committing anything. No-op when
// no session is active; the end callback fires exactly once per session.
func (m *Manager) Abort() {
	if m.sess == nil {
		return
	}
	m.sess = nil
	log.Printf("[chat] typing aborted")
	if m.hooks.OnEnd != nil {
		m.hooks.OnEnd()
	}
}

// Rush shortens the remaining inter-character delays of the active session.
// The rendered text is never skipped or truncated.
func (m *Manager) Rush() {
	if m.sess == nil || m.sess.rushed {
		return
	}
	m.sess.rushed = true
	if m.sess.wait > m.timing.RushDelay {
		m.sess.wait = m.timing.RushDelay
	}
	log.Printf("[chat] typing rushed")
}

// Tick advances the active session on the logic clock.
func (m *Manager) Tick(dt float64) {
	s := m.sess
	if s == nil {
		return
	}
	s.wait -= dt
	for s.wait <= 0 {
		if s.index < len(s.text) {
			ch := s.text[s.index]
			s.index++
			if m.hooks.OnChar != nil {
				m.hooks.OnChar(ch)
			}
			// The abort flag may have been raised by the char callback.
			if m.sess != s {
				return
			}
			s.wait += m.delay(s)
			if s.index == len(s.text) {
				s.trailing = true
			}
			continue
		}
		if s.trailing {
			m.commit(string(s.text))
			return
		}
		// Empty message: commit immediately.
		m.commit(string(s.text))
		return
	}
}

func (m *Manager) delay(s *session) float64 {
	if s.rushed {
		return m.timing.RushDelay
	}
	return m.timing.CharDelay
}

func (m *Manager) commit(text string) {
	m.sess = nil
	m.initialLoad = false

	msg := Message{
		ID:        uuid.NewString(),
		Author:    m.author,
		Content:   text,
		Timestamp: time.Now(),
	}
	l, ok := m.channels[m.channel]
	if !ok {
		l = newChannelLog()
		m.channels[m.channel] = l
	}
	l.add(msg)
	log.Printf("[chat] committed %d chars to channel %s", len(text), m.channel)

	if m.hooks.OnCommit != nil {
		m.hooks.OnCommit(m.channel, msg)
	}
	if m.hooks.OnEnd != nil {
		m.hooks.OnEnd()
	}
}
