package models

import "time"

// Sender types for messages. Everything written into a conversation is
// attributed to either the visitor or the agent side (humans and the AI
// responder share the agent side; the AI uses the reserved BotSenderID).
const (
	SenderVisitor = "visitor"
	SenderAgent   = "agent"

	BotSenderID = "ai-bot"
)

// Conversation statuses. Transitions past "pending" are owned by the
// agent-assignment workflow; this service only creates and reads.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusClosed  = "closed"
)

type Property struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Visitor is the durable identity behind one widget session. At most one
// visitor exists per (property, session) pair.
type Visitor struct {
	ID          string    `json:"id"`
	PropertyID  string    `json:"property_id"`
	SessionID   string    `json:"session_id"`
	Name        string    `json:"name,omitempty"`
	Email       string    `json:"email,omitempty"`
	CurrentPage string    `json:"current_page,omitempty"`
	BrowserInfo string    `json:"browser_info,omitempty"`
	Location    string    `json:"location,omitempty"`
	GCLID       string    `json:"gclid,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Conversation binds a visitor to one support interaction. At most one
// non-closed conversation exists per (property, visitor).
type Conversation struct {
	ID         string    `json:"id"`
	PropertyID string    `json:"property_id"`
	VisitorID  string    `json:"visitor_id"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Message is one entry in a conversation's append-only log. SequenceNumber
// is unique per conversation and strictly increasing in insertion order.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderType     string    `json:"sender_type"`
	Content        string    `json:"content"`
	SequenceNumber int64     `json:"sequence_number"`
	CreatedAt      time.Time `json:"created_at"`
}
