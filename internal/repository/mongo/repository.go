package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Rrens/chat-gateway/internal/domain"
)

type sessionDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Title     string    `bson:"title"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d sessionDoc) toDomain() domain.Session {
	return domain.Session{
		ID:        d.ID,
		UserID:    d.UserID,
		Title:     d.Title,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type messageDoc struct {
	ID          string    `bson:"_id"`
	SessionID   string    `bson:"session_id"`
	Role        string    `bson:"role"`
	Content     string    `bson:"content"`
	Model       string    `bson:"model_used,omitempty"`
	CreditsUsed float64   `bson:"credits_used"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (d messageDoc) toDomain() domain.Message {
	return domain.Message{
		ID:          d.ID,
		SessionID:   d.SessionID,
		Role:        domain.MessageRole(d.Role),
		Content:     d.Content,
		Model:       d.Model,
		CreditsUsed: d.CreditsUsed,
		CreatedAt:   d.CreatedAt,
	}
}

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	sessions *mongo.Collection
	messages *mongo.Collection
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(d *DB) *SessionRepository {
	return &SessionRepository{
		sessions: d.db.Collection(sessionsCollection),
		messages: d.db.Collection(messagesCollection),
	}
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}

	_, err := r.sessions.InsertOne(ctx, sessionDoc{
		ID:        session.ID,
		UserID:    session.UserID,
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	var doc sessionDoc
	err := r.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s := doc.toDomain()
	return &s, nil
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID string, limit int, offset int) ([]domain.Session, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))

	cursor, err := r.sessions.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var docs []sessionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}

	sessions := make([]domain.Session, 0, len(docs))
	for _, doc := range docs {
		sessions = append(sessions, doc.toDomain())
	}
	return sessions, nil
}

// Delete removes the session and its messages
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.sessions.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if _, err := r.messages.DeleteMany(ctx, bson.M{"session_id": id}); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	return nil
}

// MessageRepository implements domain.MessageRepository
type MessageRepository struct {
	sessions *mongo.Collection
	messages *mongo.Collection
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(d *DB) *MessageRepository {
	return &MessageRepository{
		sessions: d.db.Collection(sessionsCollection),
		messages: d.db.Collection(messagesCollection),
	}
}

func (r *MessageRepository) Create(ctx context.Context, message *domain.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	_, err := r.messages.InsertOne(ctx, messageDoc{
		ID:          message.ID,
		SessionID:   message.SessionID,
		Role:        string(message.Role),
		Content:     message.Content,
		Model:       message.Model,
		CreditsUsed: message.CreditsUsed,
		CreatedAt:   message.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}

	_, err = r.sessions.UpdateOne(ctx,
		bson.M{"_id": message.SessionID},
		bson.M{"$set": bson.M{"updated_at": message.CreatedAt}},
	)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (r *MessageRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := r.messages.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	messages := make([]domain.Message, 0, len(docs))
	for _, doc := range docs {
		messages = append(messages, doc.toDomain())
	}
	return messages, nil
}
