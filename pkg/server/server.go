package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/astromechza/geochat/pkg/anchor"
)

// Server is the shared anchor store: an in-memory mapping written through to
// sqlite, with a websocket hub pushing a full snapshot to every subscriber
// after each change. All mutations happen under one lock, which is what makes
// message appends atomic for concurrent clients.
type Server struct {
	database *sql.DB
	log      *slog.Logger
	hub      *hub

	mu      sync.RWMutex
	anchors map[string]anchor.Anchor
}

func New(database *sql.DB, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		database: database,
		log:      log,
		hub:      newHub(log),
		anchors:  make(map[string]anchor.Anchor),
	}
	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// init creates the schema if needed and loads every stored record into
// memory. Rows that no longer decode are skipped rather than wedging boot.
func (s *Server) init() error {
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS anchors (
    	id text not null primary key,
        record text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	rows, err := s.database.Query(`SELECT id, record FROM anchors`)
	if err != nil {
		return fmt.Errorf("failed to query anchors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, record string
		if err := rows.Scan(&id, &record); err != nil {
			return fmt.Errorf("failed to scan: %w", err)
		}
		var a anchor.Anchor
		if err := json.Unmarshal([]byte(record), &a); err != nil {
			s.log.Warn("skipping malformed anchor row", "id", id, "err", err)
			continue
		}
		a.ID = id
		s.anchors[id] = a
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read anchors: %w", err)
	}
	s.log.Info("loaded anchors", "count", len(s.anchors))
	return nil
}

// Router builds the HTTP surface with request logging on every route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			s.log.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	r.Methods(http.MethodGet).Path("/anchors").HandlerFunc(s.getAnchors)
	r.Methods(http.MethodGet).Path("/anchors/watch").HandlerFunc(s.watchAnchors)
	r.Methods(http.MethodPost).Path("/anchors").HandlerFunc(s.createAnchor)
	r.Methods(http.MethodPut).Path("/anchors/{id}").HandlerFunc(s.putAnchor)
	r.Methods(http.MethodPost).Path("/anchors/{id}/messages").HandlerFunc(s.appendMessage)
	return r
}

func (s *Server) getAnchors(writer http.ResponseWriter, request *http.Request) {
	s.mu.RLock()
	body, err := json.Marshal(s.anchors)
	s.mu.RUnlock()
	if err != nil {
		s.log.Error("failed to marshal snapshot", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	if _, err := writer.Write(body); err != nil {
		s.log.Error("failed to write out", "err", err)
	}
}

func (s *Server) createAnchor(writer http.ResponseWriter, request *http.Request) {
	var a anchor.Anchor
	if err := json.NewDecoder(request.Body).Decode(&a); err != nil {
		writeError(writer, http.StatusBadRequest, fmt.Sprintf("failed to decode body: %v", err))
		return
	}
	if err := validateAnchor(a); err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	if len(a.Messages) == 0 {
		writeError(writer, http.StatusBadRequest, "an anchor must be created with at least one message")
		return
	}

	a.ID = uuid.NewString()

	s.mu.Lock()
	if err := s.persistLocked(request, a); err != nil {
		s.mu.Unlock()
		s.log.Error("failed to persist anchor", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.anchors[a.ID] = a
	s.broadcastLocked()
	s.mu.Unlock()

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(writer).Encode(map[string]string{"id": a.ID}); err != nil {
		s.log.Error("failed to encode response", "err", err)
	}
}

func (s *Server) putAnchor(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["id"]
	var a anchor.Anchor
	if err := json.NewDecoder(request.Body).Decode(&a); err != nil {
		writeError(writer, http.StatusBadRequest, fmt.Sprintf("failed to decode body: %v", err))
		return
	}
	if err := validateAnchor(a); err != nil {
		writeError(writer, http.StatusBadRequest, err.Error())
		return
	}
	a.ID = id

	s.mu.Lock()
	if err := s.persistLocked(request, a); err != nil {
		s.mu.Unlock()
		s.log.Error("failed to persist anchor", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.anchors[id] = a
	s.broadcastLocked()
	s.mu.Unlock()

	writer.WriteHeader(http.StatusNoContent)
}

func (s *Server) appendMessage(writer http.ResponseWriter, request *http.Request) {
	id := mux.Vars(request)["id"]
	var m anchor.Message
	if err := json.NewDecoder(request.Body).Decode(&m); err != nil {
		writeError(writer, http.StatusBadRequest, fmt.Sprintf("failed to decode body: %v", err))
		return
	}
	if m.Text == "" {
		writeError(writer, http.StatusBadRequest, "message has no content")
		return
	}

	s.mu.Lock()
	existing, ok := s.anchors[id]
	if !ok {
		s.mu.Unlock()
		writeError(writer, http.StatusNotFound, "anchor not found")
		return
	}
	updated := existing.Clone()
	updated.Messages = append(updated.Messages, m)
	if err := s.persistLocked(request, updated); err != nil {
		s.mu.Unlock()
		s.log.Error("failed to persist anchor", "err", err)
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.anchors[id] = updated
	s.broadcastLocked()
	s.mu.Unlock()

	writer.WriteHeader(http.StatusNoContent)
}

// persistLocked writes one record through to sqlite. Callers must hold the
// write lock.
func (s *Server) persistLocked(request *http.Request, a anchor.Anchor) error {
	record, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if _, err := s.database.ExecContext(
		request.Context(), `INSERT OR REPLACE INTO anchors (id, record) VALUES (?, ?)`,
		a.ID, string(record),
	); err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// broadcastLocked pushes the current snapshot to every watch subscriber.
func (s *Server) broadcastLocked() {
	body, err := json.Marshal(s.anchors)
	if err != nil {
		s.log.Error("failed to marshal snapshot for broadcast", "err", err)
		return
	}
	s.hub.broadcast(body)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (s *Server) watchAnchors(writer http.ResponseWriter, request *http.Request) {
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		s.log.Error("failed to upgrade", "err", err)
		return
	}

	// register and seed under the read lock so a concurrent mutation's
	// broadcast cannot be overwritten by this older initial snapshot
	s.mu.RLock()
	body, err := json.Marshal(s.anchors)
	if err != nil {
		s.mu.RUnlock()
		s.log.Error("failed to marshal snapshot", "err", err)
		_ = conn.Close()
		return
	}
	sub := s.hub.register(conn)
	sub.offer(body)
	s.mu.RUnlock()

	sub.run()
}

func validateAnchor(a anchor.Anchor) error {
	if !anchor.ValidCoordinate(a.Latitude, a.Longitude) {
		return fmt.Errorf("invalid coordinate: %v, %v", a.Latitude, a.Longitude)
	}
	for _, m := range a.Messages {
		if m.Text == "" {
			return fmt.Errorf("message has no content")
		}
	}
	return nil
}

func writeError(writer http.ResponseWriter, status int, message string) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(map[string]string{"error": message})
}
