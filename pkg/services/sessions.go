package services

import (
	"context"
	"fmt"

	"github.com/finsight-ai/finsight/pkg/session"
	"github.com/finsight-ai/finsight/pkg/store"
)

// GetSession returns the live in-memory session, or a SESSION_NOT_FOUND
// error when it is missing or expired.
func (s *AnalysisService) GetSession(id string) (*session.Session, error) {
	sess := s.sessions.Get(id)
	if sess == nil {
		return nil, newRequestError(CodeSessionNotFound,
			fmt.Sprintf("session %q not found or expired", id), nil)
	}
	return sess, nil
}

// DeleteSession removes the in-memory session and its persisted transcript.
func (s *AnalysisService) DeleteSession(ctx context.Context, id string) error {
	existed := s.sessions.Delete(id)
	if err := s.db.DeleteHistory(ctx, id); err != nil {
		return newRequestError(CodeAnalysisFailed, "failed to delete session history", err)
	}
	if !existed {
		return newRequestError(CodeSessionNotFound,
			fmt.Sprintf("session %q not found or expired", id), nil)
	}
	return nil
}

// SessionHistory returns the persisted transcript for a session.
func (s *AnalysisService) SessionHistory(ctx context.Context, id string, limit int) ([]store.ChatMessage, error) {
	messages, err := s.db.History(ctx, id, limit)
	if err != nil {
		return nil, newRequestError(CodeAnalysisFailed, "failed to load session history", err)
	}
	return messages, nil
}

// DatabaseHealthy reports persistence reachability for health checks.
func (s *AnalysisService) DatabaseHealthy(ctx context.Context) error {
	return s.db.Healthy(ctx)
}
