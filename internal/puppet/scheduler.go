package puppet

import (
	"context"
	"log"
	"time"
)

// Renderer consumes snapshots at display cadence.
type Renderer interface {
	Render(Snapshot)
}

// Scheduler drives the fixed-rate logic clock and the render cadence from
// one goroutine, so logic always advances before the frame that shows it.
// Rendering can be paused (window hidden, headless runs) without stalling
// logic; timers and typing keep advancing.
type Scheduler struct {
	puppet   *Puppet
	renderer Renderer

	logicHz  int
	renderHz int

	renderPaused bool
	renderAccum  float64
}

func NewScheduler(p *Puppet, r Renderer, logicHz, renderHz int) *Scheduler {
	if logicHz <= 0 {
		logicHz = 30
	}
	if renderHz <= 0 {
		renderHz = logicHz
	}
	if renderHz > logicHz {
		renderHz = logicHz
	}
	return &Scheduler{puppet: p, renderer: r, logicHz: logicHz, renderHz: renderHz}
}

// PauseRender stops frames without stopping logic.
func (s *Scheduler) PauseRender(paused bool) { s.renderPaused = paused }

// Step advances one logic tick and renders when a frame is due. Exposed so
// embedders with their own loop (or tests) can drive the clock directly.
func (s *Scheduler) Step() {
	dt := 1.0 / float64(s.logicHz)
	s.puppet.Tick(dt)

	if s.renderPaused || s.renderer == nil {
		return
	}
	s.renderAccum += dt
	frame := 1.0 / float64(s.renderHz)
	if s.renderAccum >= frame {
		s.renderAccum -= frame
		s.renderer.Render(s.puppet.Snapshot())
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	interval := time.Second / time.Duration(s.logicHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[scheduler] running at %d Hz logic, %d Hz render", s.logicHz, s.renderHz)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[scheduler] stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			s.Step()
		}
	}
}
