// Package feed delivers raw stream-json records to the logic loop. Records
// arrive either from a process pipe (the agent CLI's stdout) or over a
// websocket when the agent runs on another machine. Both paths converge on
// one bounded channel the logic goroutine drains between ticks, so the
// animation core itself never sees a second goroutine.
package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/hware/marionette/internal/logging"
)

// Source is the bounded handoff between transport goroutines and the logic
// loop. Push never blocks; when the logic loop falls behind, the newest
// records are dropped and counted.
type Source struct {
	lines   chan []byte
	dropped chan struct{}
}

func NewSource(buffer int) *Source {
	if buffer <= 0 {
		buffer = 256
	}
	return &Source{
		lines:   make(chan []byte, buffer),
		dropped: make(chan struct{}, 1),
	}
}

// Lines is the channel the logic loop drains.
func (s *Source) Lines() <-chan []byte { return s.lines }

// Push offers one record. Returns false when the buffer is full and the
// record was dropped.
func (s *Source) Push(line []byte) bool {
	if len(line) == 0 {
		return true
	}
	cp := make([]byte, len(line))
	copy(cp, line)
	logging.Debug("feed", "record: %s", logging.Truncate(string(line), 120))
	select {
	case s.lines <- cp:
		return true
	default:
		select {
		case s.dropped <- struct{}{}:
			log.Printf("[feed] buffer full, dropping records")
		default:
		}
		return false
	}
}

// ReadFrom scans newline-delimited records from r until EOF. Lines up to
// one megabyte are accepted; the agent CLI can emit very large tool results
// on a single line.
func (s *Source) ReadFrom(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		s.Push(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("feed scanner: %w", err)
	}
	return nil
}

// Server accepts websocket connections that stream one record per text
// frame into the source.
type Server struct {
	src *Source
}

func NewServer(src *Source) *Server {
	return &Server{src: src}
}

func (srv *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("[feed] websocket accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	conn.SetReadLimit(1024 * 1024)
	log.Printf("[feed] event stream connected from %s", r.RemoteAddr)

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Printf("[feed] event stream closed: %v", err)
			}
			return
		}
		srv.src.Push(data)
	}
}

// ListenAndServe runs a feed endpoint at /events until the context ends.
func (srv *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", srv.HandleWebSocket)

	httpSrv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = httpSrv.Close()
	}()

	log.Printf("[feed] listening on %s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("feed server: %w", err)
	}
	return nil
}
