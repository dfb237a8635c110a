// Package relay bridges the avatar's chat to a real Discord channel:
// messages the avatar commits get mirrored out, and messages humans post
// come back as batches the logic loop feeds into the chat store.
package relay

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hware/marionette/internal/chat"
)

// sender is the slice of discordgo the relay needs.
type sender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Config holds connection settings.
type Config struct {
	Token     string
	ChannelID string
	// PollInterval controls how often the outbound queue drains.
	PollInterval time.Duration
}

// Relay is connected when a token was configured; without one every method
// is a no-op so the avatar runs standalone.
type Relay struct {
	session   *discordgo.Session
	send      sender
	channelID string

	mu       sync.Mutex
	outbound []chat.Message

	inbound chan []chat.Message

	pollInterval time.Duration
	stopChan     chan struct{}
	stopOnce     sync.Once
}

// New creates a relay. An empty token returns (nil, nil): disabled.
func New(cfg Config) (*Relay, error) {
	if cfg.Token == "" {
		return nil, nil
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}

	r := &Relay{
		session:      session,
		send:         session,
		channelID:    cfg.ChannelID,
		inbound:      make(chan []chat.Message, 64),
		pollInterval: cfg.PollInterval,
		stopChan:     make(chan struct{}),
	}
	session.AddHandler(r.handleMessage)
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	return r, nil
}

// Start connects and begins draining the outbound queue.
func (r *Relay) Start() error {
	if r == nil {
		return nil
	}
	if err := r.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	log.Printf("[relay] connected as %s", r.session.State.User.Username)
	go r.pollLoop()
	return nil
}

// Stop disconnects. Safe to call twice and on a nil relay.
func (r *Relay) Stop() error {
	if r == nil {
		return nil
	}
	r.stopOnce.Do(func() { close(r.stopChan) })
	return r.session.Close()
}

// Mirror queues one committed message for sending. Never blocks; called
// from the logic goroutine.
func (r *Relay) Mirror(msg chat.Message) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.outbound = append(r.outbound, msg)
	r.mu.Unlock()
}

// Inbound delivers batches of human messages. The logic loop drains this
// between ticks.
func (r *Relay) Inbound() <-chan []chat.Message {
	if r == nil {
		return nil
	}
	return r.inbound
}

func (r *Relay) pollLoop() {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.drainOutbound()
		}
	}
}

func (r *Relay) drainOutbound() {
	r.mu.Lock()
	pending := r.outbound
	r.outbound = nil
	r.mu.Unlock()

	for i, msg := range pending {
		if _, err := r.send.ChannelMessageSend(r.channelID, msg.Content); err != nil {
			log.Printf("[relay] failed to mirror message %s: %v", msg.ID, err)
			// Requeue the unsent tail at the front so ordering survives a
			// transient failure.
			r.mu.Lock()
			r.outbound = append(append([]chat.Message{}, pending[i:]...), r.outbound...)
			r.mu.Unlock()
			return
		}
	}
}

func (r *Relay) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if r.channelID != "" && m.ChannelID != r.channelID {
		return
	}

	batch := []chat.Message{{
		ID:        m.ID,
		Author:    m.Author.Username,
		Content:   m.Content,
		Timestamp: time.Now(),
	}}
	select {
	case r.inbound <- batch:
	default:
		log.Printf("[relay] inbound buffer full, dropping message %s", m.ID)
	}
}
