package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Authorize checks that the request's claimed identity lines up with the
// stored records: the conversation must belong to the visitor and the
// visitor's stored session must match the supplied token. Read-only; a
// mismatch is ErrUnauthorized and an unresolvable id is ErrNotFound.
func (s *Service) Authorize(ctx context.Context, conversationID, visitorID, sessionID string) error {
	conv, err := s.db.GetConversation(ctx, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("conversation lookup: %w", err)
	}
	if conv.VisitorID != visitorID {
		return ErrUnauthorized
	}

	visitor, err := s.db.GetVisitor(ctx, visitorID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("visitor lookup: %w", err)
	}
	if visitor.SessionID != sessionID {
		return ErrUnauthorized
	}
	return nil
}
