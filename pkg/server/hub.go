package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// hub tracks the set of watch subscribers and fans each snapshot out to them.
// Subscribers that cannot keep up only ever miss intermediate snapshots; the
// latest one is always delivered.
type hub struct {
	log  *slog.Logger
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func newHub(log *slog.Logger) *hub {
	return &hub{log: log, subs: make(map[*subscriber]struct{})}
}

func (h *hub) register(conn *websocket.Conn) *subscriber {
	sub := &subscriber{hub: h, conn: conn, send: make(chan []byte, 1)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	h.log.Info("watch subscriber connected", "remote", conn.RemoteAddr())
	return sub
}

func (h *hub) unregister(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
	h.log.Info("watch subscriber disconnected", "remote", sub.conn.RemoteAddr())
}

func (h *hub) broadcast(snapshot []byte) {
	h.mu.Lock()
	for sub := range h.subs {
		sub.offerLocked(snapshot)
	}
	h.mu.Unlock()
}

type subscriber struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
}

// offer queues a snapshot for delivery, replacing any undelivered one.
func (s *subscriber) offer(snapshot []byte) {
	s.hub.mu.Lock()
	if _, ok := s.hub.subs[s]; ok {
		s.offerLocked(snapshot)
	}
	s.hub.mu.Unlock()
}

func (s *subscriber) offerLocked(snapshot []byte) {
	for {
		select {
		case s.send <- snapshot:
			return
		default:
		}
		select {
		case <-s.send:
		default:
		}
	}
}

// run pumps queued snapshots onto the connection and drains inbound frames to
// notice the peer going away. It blocks until the connection is done.
func (s *subscriber) run() {
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			if _, _, err := s.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snapshot, ok := <-s.send:
			if !ok {
				_ = s.conn.Close()
				<-done
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
				s.hub.unregister(s)
				_ = s.conn.Close()
				<-done
				// drain anything queued between the failed write
				// and the unregister
				for range s.send {
				}
				return
			}
		case <-done:
			s.hub.unregister(s)
			_ = s.conn.Close()
			for range s.send {
			}
			return
		}
	}
}
