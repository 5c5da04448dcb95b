package repositories

import (
	"context"
	"errors"

	"github.com/sanktgall/neumascribe/domain/entities"
)

// ErrSessionNotFound is returned when a session id matches nothing.
var ErrSessionNotFound = errors.New("session not found")

// SessionRepository defines data access methods for archived
// annotation sessions
type SessionRepository interface {
	Create(ctx context.Context, session *entities.AnnotationSession) error
	Update(ctx context.Context, session *entities.AnnotationSession) error
	GetByID(ctx context.Context, id string) (*entities.AnnotationSession, error)
	GetByAnnotatorID(ctx context.Context, annotatorID string, limit int64) ([]*entities.AnnotationSession, error)
}
