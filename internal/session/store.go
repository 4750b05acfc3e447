// Package session holds the live, in-memory state of analysis sessions.
// The store is the only state shared between orchestrator goroutines and
// status readers; every access goes through its locked operations and
// readers only ever see deep-copy snapshots.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusDone      Status = "done"
	StatusError     Status = "error"
)

// IsTerminal reports whether a session in this status can still change.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError
}

var ErrSessionExists = errors.New("session already exists")

// Session is one analysis attempt. The store owns the canonical copy;
// everything handed out is a snapshot.
type Session struct {
	ID         string    `json:"session_id"`
	Filename   string    `json:"filename"`
	Status     Status    `json:"status"`
	Progress   float64   `json:"progress"`
	Cuts       []float64 `json:"cuts"`
	Duplicates []string  `json:"duplicates"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewID builds a session id from a wall-clock component and a random
// suffix, so concurrent uploads of identically named files never share
// a session.
func NewID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// Store is a concurrency-safe map of session id to session state.
// Sessions have no TTL: they live until Evict, Reset, or process
// restart.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Create registers a new pending session. It fails if the id is already
// present, which guards against accidental id reuse.
func (s *Store) Create(id, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	now := time.Now()
	s.sessions[id] = &Session{
		ID:        id,
		Filename:  filename,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Get returns a deep-copy snapshot of the session. A later mutation of
// the live session never changes a snapshot already handed out.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return snapshot(sess), true
}

// Latest resolves a logical filename to the most recently created
// session for it. Unknown filenames return ok=false, never an error.
func (s *Store) Latest(filename string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Session
	for _, sess := range s.sessions {
		if sess.Filename != filename {
			continue
		}
		if latest == nil || sess.CreatedAt.After(latest.CreatedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return Session{}, false
	}
	return snapshot(latest), true
}

// SetAnalyzing moves a pending session into the analyzing state.
func (s *Store) SetAnalyzing(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok && !sess.Status.IsTerminal() {
		sess.Status = StatusAnalyzing
		sess.UpdatedAt = time.Now()
	}
}

// AppendCut records one more cut timestamp, in detector order.
func (s *Store) AppendCut(id string, ts float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok && !sess.Status.IsTerminal() {
		sess.Cuts = append(sess.Cuts, ts)
		sess.UpdatedAt = time.Now()
	}
}

// SetProgress updates the progress fraction. Progress never decreases
// while a session is analyzing; stale or out-of-order updates are
// dropped.
func (s *Store) SetProgress(id string, progress float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status.IsTerminal() {
		return
	}
	if progress < sess.Progress {
		return
	}
	if progress > 1 {
		progress = 1
	}
	sess.Progress = progress
	sess.UpdatedAt = time.Now()
}

// AddDuplicates merges newly confirmed duplicate filenames into the
// session, so subscribers see them before the session turns terminal.
func (s *Store) AddDuplicates(id string, names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status.IsTerminal() {
		return
	}

	for _, name := range names {
		known := false
		for _, existing := range sess.Duplicates {
			if existing == name {
				known = true
				break
			}
		}
		if !known {
			sess.Duplicates = append(sess.Duplicates, name)
		}
	}
	sess.UpdatedAt = time.Now()
}

// Finish moves the session into a terminal state. Done forces progress
// to 1.0; terminal sessions never transition again.
func (s *Store) Finish(id string, status Status, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Status.IsTerminal() {
		return
	}

	sess.Status = status
	sess.Error = errMsg
	if status == StatusDone {
		sess.Progress = 1.0
	}
	sess.UpdatedAt = time.Now()
}

// Evict removes a session. Evicting an unknown id is a no-op.
func (s *Store) Evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Reset drops every session. Used by the administrative reset.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*Session)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// snapshot copies the session with fresh slices. Callers must hold at
// least a read lock.
func snapshot(sess *Session) Session {
	out := *sess
	out.Cuts = append([]float64(nil), sess.Cuts...)
	out.Duplicates = append([]string(nil), sess.Duplicates...)
	return out
}
