package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/embedchat/chatd/internal/db"
	"github.com/embedchat/chatd/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxListMessages caps one poll response so a widget that lost its cursor
// cannot pull an unbounded log in a single request.
const maxListMessages = 200

// Service is the single entry point for widget traffic: bootstrap on load,
// then poll/post against the message log. All durable state lives in the
// store; the service itself holds nothing across requests.
type Service struct {
	db     *db.Database
	logger *zap.Logger
}

func NewService(database *db.Database, logger *zap.Logger) *Service {
	return &Service{
		db:     database,
		logger: logger,
	}
}

type BootstrapInput struct {
	PropertyID  string
	SessionID   string
	CurrentPage string
	BrowserInfo string
	GCLID       string
	Greeting    string
}

type BootstrapResult struct {
	VisitorID      string
	ConversationID string
	Name           string
	Email          string
}

// Bootstrap resolves the session to a visitor, attaches the visitor to its
// open conversation (creating one if needed) and seeds the greeting on a
// fresh conversation. Called on every page load within a session; repeat
// calls land on the same visitor, conversation and greeting.
func (s *Service) Bootstrap(ctx context.Context, in BootstrapInput) (*BootstrapResult, error) {
	known, err := s.db.PropertyExists(ctx, in.PropertyID)
	if err != nil {
		return nil, fmt.Errorf("property lookup: %w", err)
	}
	if !known {
		return nil, ErrInvalidProperty
	}

	visitor := &models.Visitor{
		ID:          uuid.NewString(),
		PropertyID:  in.PropertyID,
		SessionID:   in.SessionID,
		CurrentPage: in.CurrentPage,
		BrowserInfo: in.BrowserInfo,
		GCLID:       in.GCLID,
	}
	if err := s.db.UpsertVisitor(ctx, visitor); err != nil {
		return nil, fmt.Errorf("resolve visitor: %w", err)
	}

	conv, err := s.db.ResolveConversation(ctx, in.PropertyID, visitor.ID)
	if errors.Is(err, db.ErrInvalidVisitor) {
		return nil, ErrInvalidVisitor
	}
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}

	if greeting := strings.TrimSpace(in.Greeting); greeting != "" {
		count, err := s.db.CountMessages(ctx, conv.ID)
		if err != nil {
			return nil, fmt.Errorf("count messages: %w", err)
		}
		if count == 0 {
			seeded, err := s.db.SeedGreeting(ctx, conv.ID, greeting)
			if err != nil {
				return nil, fmt.Errorf("seed greeting: %w", err)
			}
			if seeded {
				s.logger.Info("seeded greeting",
					zap.String("conversation_id", conv.ID),
					zap.String("visitor_id", visitor.ID))
			}
		}
	}

	return &BootstrapResult{
		VisitorID:      visitor.ID,
		ConversationID: conv.ID,
		Name:           visitor.Name,
		Email:          visitor.Email,
	}, nil
}

type AppendInput struct {
	ConversationID string
	VisitorID      string
	SessionID      string
	SenderType     string
	Content        string
}

// Append validates and authorizes the request, then appends the message to
// the conversation log and returns its sequence number.
func (s *Service) Append(ctx context.Context, in AppendInput) (*models.Message, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, ErrContentRequired
	}
	if in.SenderType != models.SenderVisitor && in.SenderType != models.SenderAgent {
		return nil, ErrInvalidSenderType
	}

	if err := s.Authorize(ctx, in.ConversationID, in.VisitorID, in.SessionID); err != nil {
		return nil, err
	}

	senderID := in.VisitorID
	if in.SenderType == models.SenderAgent {
		senderID = models.BotSenderID
	}

	msg := &models.Message{
		ID:             uuid.NewString(),
		ConversationID: in.ConversationID,
		SenderID:       senderID,
		SenderType:     in.SenderType,
		Content:        in.Content,
	}
	if err := s.db.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// ListSince returns the authorized conversation's messages with a sequence
// number greater than afterSeq, oldest first. The caller keeps the highest
// sequence number it has seen and passes it back as the cursor.
func (s *Service) ListSince(ctx context.Context, conversationID, visitorID, sessionID string, afterSeq int64) ([]models.Message, error) {
	if err := s.Authorize(ctx, conversationID, visitorID, sessionID); err != nil {
		return nil, err
	}
	msgs, err := s.db.ListMessagesSince(ctx, conversationID, afterSeq, maxListMessages)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}
