package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hware/marionette/internal/chat"
	"github.com/hware/marionette/internal/config"
	"github.com/hware/marionette/internal/feed"
	"github.com/hware/marionette/internal/journal"
	"github.com/hware/marionette/internal/puppet"
	"github.com/hware/marionette/internal/relay"
	"github.com/hware/marionette/internal/rig"
	"github.com/hware/marionette/internal/state"
	"github.com/hware/marionette/internal/statefeed"
)

func main() {
	log.Println("marionette - agent activity avatar")
	log.Println("==================================")

	// Load .env file (optional - won't error if missing)
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, using environment variables")
	} else {
		log.Println("[config] Loaded .env file")
	}

	configPath := flag.String("config", os.Getenv("MARIONETTE_CONFIG"), "path to yaml config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if v := os.Getenv("STATE_PATH"); v != "" {
		cfg.StatePath = v
	}
	discordToken := os.Getenv("DISCORD_TOKEN")

	os.MkdirAll(cfg.StatePath, 0755)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jrnl, err := journal.Open(ctx, filepath.Join(cfg.StatePath, "journal.db"))
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer jrnl.Close()

	discordChannel := cfg.Discord.ChannelID
	if discordChannel == "" {
		discordChannel = os.Getenv("DISCORD_CHANNEL_ID")
	}
	rel, err := relay.New(relay.Config{
		Token:     discordToken,
		ChannelID: discordChannel,
	})
	if err != nil {
		log.Fatalf("Failed to create Discord relay: %v", err)
	}
	if rel != nil {
		if err := rel.Start(); err != nil {
			log.Fatalf("Failed to start Discord relay: %v", err)
		}
		defer rel.Stop()
	} else {
		log.Println("[main] No DISCORD_TOKEN, running without the Discord relay")
	}

	desk := rig.FromConfig(cfg)
	overlay := &logOverlay{}
	camera := &logCamera{}

	pup := puppet.New(puppet.Config{
		Author:    cfg.Author,
		ChannelID: cfg.ChannelID,
		StateTiming: state.Timing{
			ThinkingDwell: cfg.Timing.ThinkingDwell,
			DefaultDwell:  cfg.Timing.DefaultDwell,
			DoneDelay:     cfg.Timing.DoneDelay,
		},
		ChatTiming: chat.Timing{
			CharDelay: cfg.Timing.CharDelay,
			RushDelay: cfg.Timing.RushDelay,
		},
		LeftRest:      cfg.Arms.LeftRest.Vec(),
		RightRest:     cfg.Arms.RightRest.Vec(),
		CameraPresets: cameraPresets(cfg),
		Seed:          time.Now().UnixNano(),
		OnCommit: func(channelID string, msg chat.Message) {
			if err := jrnl.RecordMessage(ctx, channelID, msg); err != nil {
				log.Printf("[main] journal message: %v", err)
			}
			rel.Mirror(msg)
		},
		OnTransition: func(to state.Activity, data state.Data) {
			if err := jrnl.RecordTransition(ctx, to, data); err != nil {
				log.Printf("[main] journal transition: %v", err)
			}
		},
	}, desk, overlay, camera)

	// Replay the journal tail so the overlay has history before any new
	// messages arrive.
	if history, err := jrnl.RecentMessages(ctx, cfg.ChannelID, 50); err != nil {
		log.Printf("[main] journal history: %v", err)
	} else if len(history) > 0 {
		pup.ReceiveMessages(cfg.ChannelID, history, true)
	}

	src := feed.NewSource(256)
	go func() {
		if err := src.ReadFrom(os.Stdin); err != nil {
			log.Printf("[main] stdin feed: %v", err)
		}
	}()
	feedSrv := feed.NewServer(src)
	go func() {
		if err := feedSrv.ListenAndServe(ctx, cfg.EventFeed.Listen); err != nil {
			log.Printf("[main] %v", err)
		}
	}()

	hub := statefeed.NewHub()
	go func() {
		if err := hub.ListenAndServe(ctx, cfg.StateFeed.Listen); err != nil {
			log.Printf("[main] %v", err)
		}
	}()

	sched := puppet.NewScheduler(pup, hubRenderer{hub}, cfg.LogicHz, cfg.RenderHz)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Println("[main] All subsystems started. Press Ctrl+C to stop.")

	ticker := time.NewTicker(time.Second / time.Duration(cfg.LogicHz))
	defer ticker.Stop()

	inbound := rel.Inbound()
	for {
		select {
		case <-sigChan:
			log.Println("[main] Shutting down...")
			cancel()
			log.Println("[main] Goodbye!")
			return

		case <-ticker.C:
			drainInputs(pup, src, inbound, cfg.ChannelID)
			sched.Step()
		}
	}
}

// drainInputs hands every queued record to the puppet before the tick, so
// all mutation happens on this goroutine.
func drainInputs(pup *puppet.Puppet, src *feed.Source, inbound <-chan []chat.Message, channelID string) {
	for {
		select {
		case line := <-src.Lines():
			pup.ProcessEventJSON(line)
		case batch := <-inbound:
			pup.ReceiveMessages(channelID, batch, pup.Chat().IsInitialLoad())
		default:
			return
		}
	}
}

func cameraPresets(cfg config.Config) map[state.Activity]int {
	if len(cfg.CameraPresets) == 0 {
		return nil
	}
	presets := make(map[state.Activity]int, len(cfg.CameraPresets))
	for name, idx := range cfg.CameraPresets {
		presets[state.Activity(name)] = idx
	}
	return presets
}

// logOverlay narrates display calls; a real renderer replaces it.
type logOverlay struct{}

func (logOverlay) ShowDiff(filePath, oldText, newText string) {
	log.Printf("[overlay] diff %s (%d -> %d bytes)", filePath, len(oldText), len(newText))
}
func (logOverlay) ShowFile(filePath string)    { log.Printf("[overlay] file %s", filePath) }
func (logOverlay) ShowTerminal(command string) { log.Printf("[overlay] terminal %q", command) }
func (logOverlay) ClearOverlay()               { log.Printf("[overlay] clear") }
func (logOverlay) SetMessages(channelID string, msgs []chat.Message) {
	log.Printf("[overlay] channel %s: %d messages", channelID, len(msgs))
}
func (logOverlay) StartTyping()  { log.Printf("[overlay] typing...") }
func (logOverlay) TypeChar(rune) {}
func (logOverlay) FinishTyping() { log.Printf("[overlay] typing done") }

type logCamera struct{}

func (logCamera) AnimateTo(preset int) { log.Printf("[camera] preset %d", preset) }

// hubRenderer forwards frames to websocket viewers.
type hubRenderer struct{ hub *statefeed.Hub }

func (r hubRenderer) Render(s puppet.Snapshot) { r.hub.Broadcast(s) }
