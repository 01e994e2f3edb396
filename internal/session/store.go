package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bailey0002/viseme-sync/internal/blendshape"
)

// Status describes the lifecycle state of a session
type Status string

// Session lifecycle states. A session starts pending and transitions exactly
// once to ready or errored; terminal states never change.
const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusErrored Status = "errored"
)

// Store errors
var (
	// ErrNotFound is returned when the session id is not in the store.
	ErrNotFound = errors.New("session not found")

	// ErrTerminal is returned when a ready/errored session is written again.
	ErrTerminal = errors.New("session already in terminal state")
)

// Session is the stored result of processing one audio submission. Frames are
// immutable once the session is ready, so snapshots may share the slice.
type Session struct {
	ID        string             `json:"session_id"`
	CreatedAt time.Time          `json:"created_at"`
	Status    Status             `json:"status"`
	Frames    []blendshape.Frame `json:"-"`
	Err       string             `json:"error,omitempty"`
}

// Info is a frame-free session summary for monitoring endpoints
type Info struct {
	ID              string    `json:"session_id"`
	CreatedAt       time.Time `json:"created_at"`
	Status          Status    `json:"status"`
	FrameCount      int       `json:"frame_count"`
	DurationSeconds float64   `json:"duration_seconds"`
	Err             string    `json:"error,omitempty"`
}

// idLength is the number of UUID characters kept for a session id.
const idLength = 8

// Store is an in-memory session registry safe for concurrent use
type Store struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewStore creates an empty session store
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Create allocates a fresh pending session and returns its id. It returns
// immediately; frames arrive later via SetReady or SetError.
func (s *Store) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	for {
		id = uuid.NewString()[:idLength]
		if _, exists := s.sessions[id]; !exists {
			break
		}
	}

	s.sessions[id] = &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Status:    StatusPending,
	}

	s.logger.Debug("Session created", slog.String("session_id", id))

	return id
}

// SetReady transitions a pending session to ready with its frame sequence.
// Writing to a terminal session returns ErrTerminal.
func (s *Store) SetReady(id string, frames []blendshape.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return fmt.Errorf("set ready %s: %w", id, ErrNotFound)
	}

	if session.Status != StatusPending {
		return fmt.Errorf("set ready %s (status %s): %w", id, session.Status, ErrTerminal)
	}

	session.Status = StatusReady
	session.Frames = frames

	s.logger.Debug("Session ready",
		slog.String("session_id", id),
		slog.Int("frame_count", len(frames)),
	)

	return nil
}

// SetError transitions a pending session to errored with a message.
// Writing to a terminal session returns ErrTerminal.
func (s *Store) SetError(id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[id]
	if !exists {
		return fmt.Errorf("set error %s: %w", id, ErrNotFound)
	}

	if session.Status != StatusPending {
		return fmt.Errorf("set error %s (status %s): %w", id, session.Status, ErrTerminal)
	}

	session.Status = StatusErrored
	session.Err = message

	s.logger.Debug("Session errored",
		slog.String("session_id", id),
		slog.String("error", message),
	)

	return nil
}

// Get returns a snapshot of the session, or ErrNotFound. The returned value
// shares the frame slice, which is safe because frames never change after the
// session turns ready.
func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return Session{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}

	return *session, nil
}

// Evict removes the session if present. Evicting a missing id is a no-op, so
// overlapping reaper firings are harmless.
func (s *Store) Evict(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[id]; !exists {
		return false
	}

	delete(s.sessions, id)

	s.logger.Debug("Session evicted", slog.String("session_id", id))

	return true
}

// Count returns the number of live sessions
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Snapshot returns frame-free summaries of all live sessions for monitoring
func (s *Store) Snapshot() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]Info, 0, len(s.sessions))
	for _, session := range s.sessions {
		infos = append(infos, Info{
			ID:              session.ID,
			CreatedAt:       session.CreatedAt,
			Status:          session.Status,
			FrameCount:      len(session.Frames),
			DurationSeconds: blendshape.Duration(session.Frames),
			Err:             session.Err,
		})
	}

	return infos
}
