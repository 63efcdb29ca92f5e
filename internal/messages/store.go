package messages

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindhaven/mindhaven-platform/pkg/logging"
)

// DB is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EmotionAnalyzer scores visitor-authored text. Implementations are
// swappable; the store only needs a label and a confidence in [0,1].
type EmotionAnalyzer interface {
	Analyze(text string) (emotion string, confidence float64)
}

// Store persists chat messages. Visitor-authored content is emotion-scored
// as a side effect of Persist; all other senders are stored without emotion
// fields.
type Store struct {
	db       DB
	analyzer EmotionAnalyzer
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewStore creates a message store.
func NewStore(db DB, analyzer EmotionAnalyzer, logger *logging.Logger) *Store {
	if db == nil {
		panic("messages: db is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		db:       db,
		analyzer: analyzer,
		logger:   logger,
		tracer:   otel.Tracer("mindhaven.internal.messages"),
	}
}

// Persist stores a message and returns the stored record. For visitor
// messages the emotion analyzer populates emotion and confidence before the
// insert; analyzer failures are non-fatal and leave the fields empty.
func (s *Store) Persist(ctx context.Context, sessionID uuid.UUID, visitorID *uuid.UUID, sender Role, content string) (Message, error) {
	ctx, span := s.tracer.Start(ctx, "messages.persist")
	defer span.End()

	msg := Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		VisitorID: visitorID,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	if sender == RoleVisitor && s.analyzer != nil {
		emotion, confidence := s.analyzer.Analyze(content)
		if emotion != "" {
			msg.Emotion = &emotion
			msg.Confidence = &confidence
			s.logger.Debug("emotion detected",
				"session_id", sessionID,
				"emotion", emotion,
				"confidence", confidence,
			)
		}
	}

	const query = `
		INSERT INTO chat_messages (id, session_id, visitor_id, sender, content, emotion, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.Exec(ctx, query,
		msg.ID, msg.SessionID, msg.VisitorID, string(msg.Sender), msg.Content,
		msg.Emotion, msg.Confidence, msg.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return Message{}, fmt.Errorf("messages: insert: %w", err)
	}
	return msg, nil
}

// PersistAssistant stores an assistant reply together with the reply
// confidence used by the session health check.
func (s *Store) PersistAssistant(ctx context.Context, sessionID uuid.UUID, content string, confidence float64) (Message, error) {
	ctx, span := s.tracer.Start(ctx, "messages.persist_assistant")
	defer span.End()

	msg := Message{
		ID:         uuid.New(),
		SessionID:  sessionID,
		Sender:     RoleAssistant,
		Content:    content,
		Confidence: &confidence,
		CreatedAt:  time.Now().UTC(),
	}

	const query = `
		INSERT INTO chat_messages (id, session_id, visitor_id, sender, content, emotion, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.Exec(ctx, query,
		msg.ID, msg.SessionID, msg.VisitorID, string(msg.Sender), msg.Content,
		msg.Emotion, msg.Confidence, msg.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return Message{}, fmt.Errorf("messages: insert assistant reply: %w", err)
	}
	return msg, nil
}

// History returns up to limit messages for a session in creation order.
func (s *Store) History(ctx context.Context, sessionID uuid.UUID, limit int) ([]Message, error) {
	ctx, span := s.tracer.Start(ctx, "messages.history")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT id, session_id, visitor_id, sender, content, emotion, confidence, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, sessionID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("messages: load history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var sender string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.VisitorID, &sender, &m.Content, &m.Emotion, &m.Confidence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("messages: scan history row: %w", err)
		}
		m.Sender = Role(sender)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messages: history rows: %w", err)
	}

	// Query returns newest first for the LIMIT; callers want oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Stats summarizes message activity for a session.
func (s *Store) Stats(ctx context.Context, sessionID uuid.UUID) (SessionStats, error) {
	ctx, span := s.tracer.Start(ctx, "messages.stats")
	defer span.End()

	const query = `
		SELECT COUNT(*), MIN(created_at), MAX(created_at)
		FROM chat_messages
		WHERE session_id = $1
	`
	var stats SessionStats
	if err := s.db.QueryRow(ctx, query, sessionID).Scan(&stats.MessageCount, &stats.StartTime, &stats.LatestTime); err != nil {
		span.RecordError(err)
		return SessionStats{}, fmt.Errorf("messages: stats: %w", err)
	}
	if stats.StartTime != nil && stats.LatestTime != nil {
		minutes := stats.LatestTime.Sub(*stats.StartTime).Minutes()
		stats.DurationMinutes = float64(int(minutes*100)) / 100
	}
	return stats, nil
}
