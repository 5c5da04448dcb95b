package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/sanktgall/neumascribe/domain/entities"
	"github.com/sanktgall/neumascribe/domain/linking"
	"github.com/sanktgall/neumascribe/domain/repositories"
	"github.com/sanktgall/neumascribe/domain/speech"
)

// AnnotationService drives one annotation session through its life:
// it turns speech events into draft records, anchors records to the
// manuscript, keeps the connection set current, and archives the
// session when it closes. The service itself is stateless. All state
// lives on the session, so callers must serialize access to a given
// session.
type AnnotationService struct {
	archive repositories.SessionRepository
	logger  *zap.Logger
}

// NewAnnotationService creates a new annotation service
func NewAnnotationService(archive repositories.SessionRepository, logger *zap.Logger) *AnnotationService {
	return &AnnotationService{
		archive: archive,
		logger:  logger,
	}
}

// SpeechOutcome is what processing one speech event produced: the
// indexes of any new draft records and the acknowledgements that must
// travel back to the speech model.
type SpeechOutcome struct {
	DraftIndexes []int
	Acks         []speech.ClientEvent
}

// StartSession begins the session against a manuscript page
func (s *AnnotationService) StartSession(session *entities.AnnotationSession, manuscript string) error {
	if err := session.Begin(manuscript); err != nil {
		return err
	}

	s.logger.Info("Annotation session started",
		zap.String("session_id", session.ID),
		zap.String("annotator_id", session.AnnotatorID),
		zap.String("manuscript", manuscript),
	)
	return nil
}

// ActivateSession marks the speech channel as established
func (s *AnnotationService) ActivateSession(session *entities.AnnotationSession) error {
	if err := session.Activate(); err != nil {
		return err
	}

	s.logger.Info("Annotation session active",
		zap.String("session_id", session.ID),
	)
	return nil
}

// ProcessSpeechEvent handles one event from the speech channel. Every
// event counts as session activity. Only completed responses produce
// records, everything else passes through with an empty outcome.
func (s *AnnotationService) ProcessSpeechEvent(session *entities.AnnotationSession, event speech.ServerEvent) (*SpeechOutcome, error) {
	if session.IsClosed() {
		return nil, entities.ErrSessionClosed
	}
	if !session.Accepting() {
		return nil, entities.ErrSessionNotStarted
	}
	session.Touch()

	classifications := speech.ExtractClassifications(event)
	if len(classifications) == 0 {
		s.logger.Debug("Speech event passed through",
			zap.String("session_id", session.ID),
			zap.String("event_type", event.Type),
		)
	}

	outcome := &SpeechOutcome{}
	for _, classification := range classifications {
		index, err := session.AppendDraft(entities.AnnotationRecord{
			Category: classification.Category,
			Label:    classification.Label,
			CallID:   classification.CallID,
		})
		if err != nil {
			return nil, err
		}

		outcome.DraftIndexes = append(outcome.DraftIndexes, index)
		if classification.CallID != "" {
			outcome.Acks = append(outcome.Acks, speech.NewFunctionCallAck(classification.CallID))
		}

		s.logger.Info("Classification recorded",
			zap.String("session_id", session.ID),
			zap.Int("index", index),
			zap.String("category", string(classification.Category)),
			zap.String("label", classification.Label),
		)
	}

	return outcome, nil
}

// PlaceAnnotation anchors a record to the manuscript and recomputes
// the connection set. It returns the resolved record index and the
// fresh connections.
func (s *AnnotationService) PlaceAnnotation(session *entities.AnnotationSession, index int, box entities.BoundingBox) (int, []entities.Connection, error) {
	resolved, err := session.PlaceBox(index, box)
	if err != nil {
		return 0, nil, err
	}

	connections := s.relink(session)

	s.logger.Debug("Annotation placed",
		zap.String("session_id", session.ID),
		zap.Int("index", resolved),
		zap.Int("connections", len(connections)),
	)
	return resolved, connections, nil
}

// UpdateAnnotation corrects the category or label of an unplaced draft
// and recomputes the connection set. An empty category or label leaves
// that field of the draft unchanged; a whitespace-only label normalizes
// to empty and counts as unsent.
func (s *AnnotationService) UpdateAnnotation(session *entities.AnnotationSession, index int, category entities.Category, label string) ([]entities.Connection, error) {
	if err := session.UpdateDraft(index, category, speech.NormalizeLabel(label)); err != nil {
		return nil, err
	}

	connections := s.relink(session)

	s.logger.Debug("Annotation updated",
		zap.String("session_id", session.ID),
		zap.Int("index", index),
	)
	return connections, nil
}

// CloseSession closes the session and archives everything it holds.
// Archive failures are logged, not returned. A broken archive must not
// keep the annotator's session open.
func (s *AnnotationService) CloseSession(ctx context.Context, session *entities.AnnotationSession) error {
	if err := session.Close(); err != nil {
		return err
	}

	if err := s.archive.Create(ctx, session); err != nil {
		s.logger.Error("Failed to archive session",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}

	s.logger.Info("Annotation session closed",
		zap.String("session_id", session.ID),
		zap.Int("records", len(session.Records)),
		zap.Int("connections", len(session.Connections)),
	)
	return nil
}

// relink recomputes the full connection set from the current records
func (s *AnnotationService) relink(session *entities.AnnotationSession) []entities.Connection {
	connections := linking.Infer(session.RecordsSnapshot())
	session.SetConnections(connections)
	return connections
}
