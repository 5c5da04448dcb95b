package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/sanktgall/neumascribe/domain/entities"
	"github.com/sanktgall/neumascribe/domain/repositories"
)

// SessionRepository stores annotation sessions in MongoDB
type SessionRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewSessionRepository creates a new MongoDB session repository
func NewSessionRepository(db *mongo.Database, logger *zap.Logger) repositories.SessionRepository {
	collection := db.Collection("annotation_sessions")

	// Create indexes for better performance
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Index on annotator_id for the session listing
		annotatorIndex := mongo.IndexModel{
			Keys: bson.D{
				{Key: "annotator_id", Value: 1},
				{Key: "created_at", Value: -1},
			},
		}

		// Index on manuscript so a page's annotation history can be
		// pulled together later
		manuscriptIndex := mongo.IndexModel{
			Keys: bson.D{{Key: "manuscript", Value: 1}},
		}

		_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
			annotatorIndex,
			manuscriptIndex,
		})

		if err != nil {
			logger.Error("Failed to create session indexes", zap.Error(err))
		} else {
			logger.Info("Session indexes created successfully")
		}
	}()

	return &SessionRepository{
		collection: collection,
		logger:     logger,
	}
}

// Create implements repositories.SessionRepository
func (r *SessionRepository) Create(ctx context.Context, session *entities.AnnotationSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := session.Validate(); err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, session); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// Update implements repositories.SessionRepository
func (r *SessionRepository) Update(ctx context.Context, session *entities.AnnotationSession) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if session.ID == "" {
		return errors.New("session ID cannot be empty")
	}

	update := bson.M{
		"$set": bson.M{
			"manuscript":    session.Manuscript,
			"status":        session.Status,
			"records":       session.Records,
			"connections":   session.Connections,
			"started_at":    session.StartedAt,
			"closed_at":     session.ClosedAt,
			"last_event_at": session.LastEventAt,
		},
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": session.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if result.MatchedCount == 0 {
		return repositories.ErrSessionNotFound
	}

	return nil
}

// GetByID implements repositories.SessionRepository
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*entities.AnnotationSession, error) {
	if id == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	var session entities.AnnotationSession
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repositories.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}

	return &session, nil
}

// GetByAnnotatorID implements repositories.SessionRepository
func (r *SessionRepository) GetByAnnotatorID(ctx context.Context, annotatorID string, limit int64) ([]*entities.AnnotationSession, error) {
	if annotatorID == "" {
		return nil, errors.New("annotator ID cannot be empty")
	}
	if limit <= 0 {
		limit = 20
	}

	filter := bson.M{"annotator_id": annotatorID}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for annotator %s: %w", annotatorID, err)
	}
	defer cursor.Close(ctx)

	sessions := make([]*entities.AnnotationSession, 0)
	for cursor.Next(ctx) {
		var session entities.AnnotationSession
		if err := cursor.Decode(&session); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error while listing sessions: %w", err)
	}

	return sessions, nil
}
