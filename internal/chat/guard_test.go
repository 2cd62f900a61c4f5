package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/embedchat/chatd/internal/chat"
	"github.com/embedchat/chatd/internal/models"
)

func TestAuthorizeRejectsWrongSession(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()

	boot, err := svc.Bootstrap(ctx, chat.BootstrapInput{PropertyID: "p1", SessionID: "s1", Greeting: "Hi!"})
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	err = svc.Authorize(ctx, boot.ConversationID, boot.VisitorID, "someone-elses-session")
	if !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	// A rejected append leaves the log untouched.
	_, err = svc.Append(ctx, chat.AppendInput{
		ConversationID: boot.ConversationID,
		VisitorID:      boot.VisitorID,
		SessionID:      "someone-elses-session",
		SenderType:     models.SenderVisitor,
		Content:        "let me in",
	})
	if !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized from Append, got %v", err)
	}
	count, err := database.CountMessages(ctx, boot.ConversationID)
	if err != nil {
		t.Fatalf("CountMessages failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected log unchanged at 1 message, got %d", count)
	}
}

func TestAuthorizeRejectsWrongVisitor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	boot, err := svc.Bootstrap(ctx, chat.BootstrapInput{PropertyID: "p1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	other, err := svc.Bootstrap(ctx, chat.BootstrapInput{PropertyID: "p1", SessionID: "s2"})
	if err != nil {
		t.Fatalf("second Bootstrap failed: %v", err)
	}

	err = svc.Authorize(ctx, boot.ConversationID, other.VisitorID, "s2")
	if !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for foreign visitor, got %v", err)
	}
}

func TestAuthorizeUnknownConversation(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Authorize(context.Background(), "no-such-conversation", "v1", "s1")
	if !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSinceRequiresAuthorization(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	boot, err := svc.Bootstrap(ctx, chat.BootstrapInput{PropertyID: "p1", SessionID: "s1", Greeting: "Hi!"})
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}

	_, err = svc.ListSince(ctx, boot.ConversationID, boot.VisitorID, "wrong-session", 0)
	if !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
