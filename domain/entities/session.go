package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle state of an annotation session
type SessionStatus string

const (
	// SessionStatusIdle is the state before the annotator has started dictating
	SessionStatusIdle SessionStatus = "idle"
	// SessionStatusConnecting means the speech channel is being negotiated
	SessionStatusConnecting SessionStatus = "connecting"
	// SessionStatusActive means speech events are flowing
	SessionStatusActive SessionStatus = "active"
	// SessionStatusClosed is terminal, no further events or edits are accepted
	SessionStatusClosed SessionStatus = "closed"
)

var (
	ErrSessionClosed     = errors.New("session is closed")
	ErrSessionNotStarted = errors.New("session has not been started")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrNoUnplacedDraft   = errors.New("no unplaced draft annotation")
	ErrRecordOutOfRange  = errors.New("annotation index out of range")
	ErrRecordPlaced      = errors.New("annotation is already placed")
)

// AnnotationSession holds everything one annotator produces against one
// manuscript page: the spoken classification records, their inferred
// connections, and the lifecycle state of the speech channel.
type AnnotationSession struct {
	ID          string             `json:"id" bson:"_id"`
	AnnotatorID string             `json:"annotator_id" bson:"annotator_id"`
	Manuscript  string             `json:"manuscript" bson:"manuscript"`
	Status      SessionStatus      `json:"status" bson:"status"`
	Records     []AnnotationRecord `json:"records" bson:"records"`
	Connections []Connection       `json:"connections" bson:"connections"`
	CreatedAt   time.Time          `json:"created_at" bson:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty" bson:"started_at,omitempty"`
	ClosedAt    *time.Time         `json:"closed_at,omitempty" bson:"closed_at,omitempty"`
	LastEventAt time.Time          `json:"last_event_at" bson:"last_event_at"`
}

// NewAnnotationSession creates an idle session for an annotator
func NewAnnotationSession(annotatorID string) *AnnotationSession {
	now := time.Now()
	return &AnnotationSession{
		ID:          uuid.New().String(),
		AnnotatorID: annotatorID,
		Status:      SessionStatusIdle,
		Records:     make([]AnnotationRecord, 0),
		Connections: make([]Connection, 0),
		CreatedAt:   now,
		LastEventAt: now,
	}
}

// Begin moves the session from idle to connecting and records which
// manuscript page is being annotated. Any leftover records are dropped
// so the session starts from an empty store.
func (s *AnnotationSession) Begin(manuscript string) error {
	if s.Status == SessionStatusClosed {
		return ErrSessionClosed
	}
	if s.Status != SessionStatusIdle {
		return ErrInvalidTransition
	}

	s.Status = SessionStatusConnecting
	s.Manuscript = manuscript
	s.Records = make([]AnnotationRecord, 0)
	s.Connections = make([]Connection, 0)
	s.Touch()
	return nil
}

// Activate moves the session from connecting to active once the speech
// channel is up.
func (s *AnnotationSession) Activate() error {
	if s.Status == SessionStatusClosed {
		return ErrSessionClosed
	}
	if s.Status != SessionStatusConnecting {
		return ErrInvalidTransition
	}

	now := time.Now()
	s.Status = SessionStatusActive
	s.StartedAt = &now
	s.Touch()
	return nil
}

// Close moves the session to its terminal state. Closing an already
// closed session is an error so callers notice double stops.
func (s *AnnotationSession) Close() error {
	if s.Status == SessionStatusClosed {
		return ErrSessionClosed
	}

	now := time.Now()
	s.Status = SessionStatusClosed
	s.ClosedAt = &now
	s.LastEventAt = now
	return nil
}

// IsClosed reports whether the session reached its terminal state
func (s *AnnotationSession) IsClosed() bool {
	return s.Status == SessionStatusClosed
}

// Accepting reports whether the session takes speech events and edits
func (s *AnnotationSession) Accepting() bool {
	return s.Status == SessionStatusConnecting || s.Status == SessionStatusActive
}

// Touch updates the last activity timestamp
func (s *AnnotationSession) Touch() {
	s.LastEventAt = time.Now()
}

// IdleFor reports whether the session has seen no activity for at
// least the given duration
func (s *AnnotationSession) IdleFor(d time.Duration) bool {
	return time.Since(s.LastEventAt) >= d
}

// AppendDraft appends an unplaced annotation record and returns its
// index in the record sequence. Indexes are stable for the lifetime of
// the session because records are never removed.
func (s *AnnotationSession) AppendDraft(record AnnotationRecord) (int, error) {
	if s.Status == SessionStatusClosed {
		return 0, ErrSessionClosed
	}
	if s.Status == SessionStatusIdle {
		return 0, ErrSessionNotStarted
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	s.Records = append(s.Records, record)
	s.Touch()
	return len(s.Records) - 1, nil
}

// PlaceBox anchors a record to a region of the manuscript. Index -1
// addresses the most recent unplaced draft. Re-placing an already
// anchored record overwrites its box, which is how resizes arrive.
func (s *AnnotationSession) PlaceBox(index int, box BoundingBox) (int, error) {
	if s.Status == SessionStatusClosed {
		return 0, ErrSessionClosed
	}
	if s.Status == SessionStatusIdle {
		return 0, ErrSessionNotStarted
	}

	if index == -1 {
		found := false
		for i := len(s.Records) - 1; i >= 0; i-- {
			if !s.Records[i].Placed() {
				index = i
				found = true
				break
			}
		}
		if !found {
			return 0, ErrNoUnplacedDraft
		}
	}
	if index < 0 || index >= len(s.Records) {
		return 0, ErrRecordOutOfRange
	}

	boxCopy := box
	s.Records[index].Box = &boxCopy
	s.Touch()
	return index, nil
}

// UpdateDraft corrects the category or label of a record that has not
// been placed yet. An empty category or label leaves that field
// unchanged, so either can be corrected on its own. Placed records are
// immutable apart from their box, so corrections have to happen before
// the region is marked.
func (s *AnnotationSession) UpdateDraft(index int, category Category, label string) error {
	if s.Status == SessionStatusClosed {
		return ErrSessionClosed
	}
	if s.Status == SessionStatusIdle {
		return ErrSessionNotStarted
	}

	if index < 0 || index >= len(s.Records) {
		return ErrRecordOutOfRange
	}
	if s.Records[index].Placed() {
		return ErrRecordPlaced
	}

	if category != "" {
		s.Records[index].Category = category
	}
	if label != "" {
		s.Records[index].Label = label
	}
	s.Touch()
	return nil
}

// SetConnections replaces the inferred connection set
func (s *AnnotationSession) SetConnections(connections []Connection) {
	if connections == nil {
		connections = make([]Connection, 0)
	}
	s.Connections = connections
}

// RecordsSnapshot returns a copy of the record sequence so inference
// can run without racing concurrent edits
func (s *AnnotationSession) RecordsSnapshot() []AnnotationRecord {
	snapshot := make([]AnnotationRecord, len(s.Records))
	copy(snapshot, s.Records)
	return snapshot
}

// Validate validates the session data
func (s *AnnotationSession) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if s.AnnotatorID == "" {
		return errors.New("annotator_id is required")
	}

	switch s.Status {
	case SessionStatusIdle, SessionStatusConnecting, SessionStatusActive, SessionStatusClosed:
		return nil
	default:
		return errors.New("invalid session status")
	}
}
