package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Chat message roles, mirroring the conversation roles persisted per session.
const (
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one persisted message in a session transcript.
type ChatMessage struct {
	ID         uuid.UUID  `json:"id"`
	SessionID  string     `json:"session_id"`
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	AnalysisID *uuid.UUID `json:"analysis_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AddUserMessage appends a user message to the session transcript.
func (s *Store) AddUserMessage(ctx context.Context, sessionID, content string) (uuid.UUID, error) {
	return s.addMessage(ctx, sessionID, ChatRoleUser, content, nil)
}

// AddAssistantMessage appends an assistant message with no linked analysis.
func (s *Store) AddAssistantMessage(ctx context.Context, sessionID, content string) (uuid.UUID, error) {
	return s.addMessage(ctx, sessionID, ChatRoleAssistant, content, nil)
}

// AddAssistantMessageWithAnalysis appends an assistant message linked to the
// analysis that produced it.
func (s *Store) AddAssistantMessageWithAnalysis(ctx context.Context, sessionID, content string, analysisID uuid.UUID) (uuid.UUID, error) {
	return s.addMessage(ctx, sessionID, ChatRoleAssistant, content, &analysisID)
}

func (s *Store) addMessage(ctx context.Context, sessionID, role, content string, analysisID *uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (session_id, role, content, analysis_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, sessionID, role, content, analysisID).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert chat message: %w", err)
	}
	return id, nil
}

// History returns the session transcript in chronological order, capped at
// limit messages (most recent kept).
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, role, content, analysis_id, created_at
		FROM (
			SELECT id, session_id, role, content, analysis_id, created_at
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	var messages []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.AnalysisID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteHistory removes a session's transcript.
func (s *Store) DeleteHistory(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chat_messages WHERE session_id = $1`, sessionID)
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
