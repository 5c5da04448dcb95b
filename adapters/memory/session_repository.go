package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/sanktgall/neumascribe/domain/entities"
	"github.com/sanktgall/neumascribe/domain/repositories"
)

// SessionRepository is an in-memory implementation of SessionRepository.
// It backs deployments without MongoDB and keeps the usecase tests free
// of infrastructure.
type SessionRepository struct {
	mu         sync.RWMutex
	sessions   map[string]*entities.AnnotationSession
	annotators map[string][]string // annotator_id -> session ids, newest last
}

// NewSessionRepository creates a new in-memory session repository
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		sessions:   make(map[string]*entities.AnnotationSession),
		annotators: make(map[string][]string),
	}
}

// Create implements repositories.SessionRepository
func (m *SessionRepository) Create(ctx context.Context, session *entities.AnnotationSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return errors.New("session already exists")
	}

	m.sessions[session.ID] = cloneSession(session)
	m.annotators[session.AnnotatorID] = append(m.annotators[session.AnnotatorID], session.ID)
	return nil
}

// Update implements repositories.SessionRepository
func (m *SessionRepository) Update(ctx context.Context, session *entities.AnnotationSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; !exists {
		return repositories.ErrSessionNotFound
	}

	m.sessions[session.ID] = cloneSession(session)
	return nil
}

// GetByID implements repositories.SessionRepository
func (m *SessionRepository) GetByID(ctx context.Context, id string) (*entities.AnnotationSession, error) {
	if id == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	if !exists {
		return nil, repositories.ErrSessionNotFound
	}

	return cloneSession(session), nil
}

// GetByAnnotatorID implements repositories.SessionRepository
func (m *SessionRepository) GetByAnnotatorID(ctx context.Context, annotatorID string, limit int64) ([]*entities.AnnotationSession, error) {
	if annotatorID == "" {
		return nil, errors.New("annotator ID cannot be empty")
	}
	if limit <= 0 {
		limit = 20
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.annotators[annotatorID]
	result := make([]*entities.AnnotationSession, 0, limit)
	// Newest first, mirroring the MongoDB sort order
	for i := len(ids) - 1; i >= 0 && int64(len(result)) < limit; i-- {
		if session, exists := m.sessions[ids[i]]; exists {
			result = append(result, cloneSession(session))
		}
	}

	return result, nil
}

// cloneSession returns a deep copy so callers cannot mutate the stored
// state through shared slices
func cloneSession(session *entities.AnnotationSession) *entities.AnnotationSession {
	copied := *session

	copied.Records = make([]entities.AnnotationRecord, len(session.Records))
	copy(copied.Records, session.Records)
	for i, record := range session.Records {
		if record.Box != nil {
			box := *record.Box
			copied.Records[i].Box = &box
		}
	}

	copied.Connections = make([]entities.Connection, len(session.Connections))
	copy(copied.Connections, session.Connections)

	return &copied
}
