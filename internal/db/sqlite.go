package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/embedchat/chatd/internal/models"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS properties (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS visitors (
    id TEXT PRIMARY KEY,
    property_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    email TEXT NOT NULL DEFAULT '',
    current_page TEXT NOT NULL DEFAULT '',
    browser_info TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    gclid TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (property_id, session_id),
    FOREIGN KEY (property_id) REFERENCES properties(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    property_id TEXT NOT NULL,
    visitor_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (property_id) REFERENCES properties(id) ON DELETE CASCADE,
    FOREIGN KEY (visitor_id) REFERENCES visitors(id) ON DELETE CASCADE
);

-- One open conversation per visitor, enforced by the store rather than by
-- application-level check-then-insert.
CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_open
    ON conversations(property_id, visitor_id) WHERE status != 'closed';

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    sender_id TEXT NOT NULL,
    sender_type TEXT NOT NULL,
    content TEXT NOT NULL,
    sequence_number INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (conversation_id, sequence_number),
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);`

// appendRetries bounds the retry loop when two writers race for the same
// sequence number and one hits the unique constraint.
const appendRetries = 5

// ErrInvalidVisitor reports a visitor id that does not exist or does not
// belong to the property it was presented with.
var ErrInvalidVisitor = errors.New("visitor does not belong to property")

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

// EnsureProperty registers a property id if it is not already known.
func (db *Database) EnsureProperty(ctx context.Context, id, name string) error {
	_, err := db.db.ExecContext(ctx,
		`INSERT INTO properties (id, name, created_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO NOTHING`, id, name)
	return err
}

func (db *Database) PropertyExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := db.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM properties WHERE id = ?)`, id).Scan(&exists)
	return exists, err
}

// UpsertVisitor resolves the visitor for (property_id, session_id). A new
// row is created on first contact; on repeat contact (page navigation,
// duplicate tab) the observed page/browser fields are refreshed and the
// stored row is returned with its profile fields intact. The upsert makes
// concurrent first contact collapse onto a single row.
//
// The caller fills ID with a candidate id; on conflict the stored id wins
// and is written back along with the preserved profile fields.
func (db *Database) UpsertVisitor(ctx context.Context, v *models.Visitor) error {
	query := `
        INSERT INTO visitors (id, property_id, session_id, current_page, browser_info, gclid, created_at)
        VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT(property_id, session_id) DO UPDATE SET
            current_page = excluded.current_page,
            browser_info = excluded.browser_info,
            gclid = CASE WHEN excluded.gclid != '' THEN excluded.gclid ELSE visitors.gclid END
        RETURNING id, name, email, current_page, browser_info, location, gclid, created_at`

	return db.db.QueryRowContext(ctx, query,
		v.ID, v.PropertyID, v.SessionID, v.CurrentPage, v.BrowserInfo, v.GCLID,
	).Scan(&v.ID, &v.Name, &v.Email, &v.CurrentPage, &v.BrowserInfo, &v.Location, &v.GCLID, &v.CreatedAt)
}

func (db *Database) GetVisitor(ctx context.Context, id string) (*models.Visitor, error) {
	query := `
        SELECT id, property_id, session_id, name, email, current_page, browser_info, location, gclid, created_at
        FROM visitors
        WHERE id = ?`

	v := &models.Visitor{}
	err := db.db.QueryRowContext(ctx, query, id).Scan(
		&v.ID, &v.PropertyID, &v.SessionID, &v.Name, &v.Email,
		&v.CurrentPage, &v.BrowserInfo, &v.Location, &v.GCLID, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// UpdateVisitorProfile fills in extracted profile fields. Empty arguments
// leave the stored value alone so a weak extraction never erases data.
func (db *Database) UpdateVisitorProfile(ctx context.Context, visitorID, name, email string) error {
	_, err := db.db.ExecContext(ctx, `
        UPDATE visitors SET
            name  = CASE WHEN ? != '' THEN ? ELSE name END,
            email = CASE WHEN ? != '' THEN ? ELSE email END
        WHERE id = ?`, name, name, email, email, visitorID)
	return err
}

// ResolveConversation returns the visitor's newest non-closed conversation,
// creating a pending one when none exists. When two requests race to create,
// the partial unique index rejects the loser, which then re-reads and
// returns the winner's row.
func (db *Database) ResolveConversation(ctx context.Context, propertyID, visitorID string) (*models.Conversation, error) {
	var ownerProperty string
	err := db.db.QueryRowContext(ctx,
		`SELECT property_id FROM visitors WHERE id = ?`, visitorID).Scan(&ownerProperty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidVisitor
	}
	if err != nil {
		return nil, err
	}
	if ownerProperty != propertyID {
		return nil, ErrInvalidVisitor
	}

	conv, err := db.getOpenConversation(ctx, propertyID, visitorID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	conv = &models.Conversation{
		ID:         uuid.NewString(),
		PropertyID: propertyID,
		VisitorID:  visitorID,
		Status:     models.StatusPending,
	}
	insertErr := db.db.QueryRowContext(ctx, `
        INSERT INTO conversations (id, property_id, visitor_id, status, created_at)
        VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
        RETURNING created_at`,
		conv.ID, conv.PropertyID, conv.VisitorID, conv.Status).Scan(&conv.CreatedAt)
	if insertErr == nil {
		return conv, nil
	}
	if isUniqueViolation(insertErr) {
		return db.getOpenConversation(ctx, propertyID, visitorID)
	}
	return nil, insertErr
}

func (db *Database) getOpenConversation(ctx context.Context, propertyID, visitorID string) (*models.Conversation, error) {
	query := `
        SELECT id, property_id, visitor_id, status, created_at
        FROM conversations
        WHERE property_id = ? AND visitor_id = ? AND status != 'closed'
        ORDER BY created_at DESC, rowid DESC
        LIMIT 1`

	conv := &models.Conversation{}
	err := db.db.QueryRowContext(ctx, query, propertyID, visitorID).Scan(
		&conv.ID, &conv.PropertyID, &conv.VisitorID, &conv.Status, &conv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (db *Database) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
        SELECT id, property_id, visitor_id, status, created_at
        FROM conversations
        WHERE id = ?`

	conv := &models.Conversation{}
	err := db.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.PropertyID, &conv.VisitorID, &conv.Status, &conv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// AppendMessage claims the next sequence number for the conversation and
// inserts the message with it, atomically. The max-read and insert share
// one transaction; the unique constraint on (conversation_id,
// sequence_number) backstops any interleaving the transaction misses, and
// a constraint or busy failure retries with a freshly computed number.
func (db *Database) AppendMessage(ctx context.Context, msg *models.Message) error {
	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err = db.tryAppend(ctx, msg)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) && !isBusy(err) {
			return err
		}
	}
	return fmt.Errorf("append contended after %d attempts: %w", appendRetries, err)
}

func (db *Database) tryAppend(ctx context.Context, msg *models.Message) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM messages WHERE conversation_id = ?`,
		msg.ConversationID).Scan(&next)
	if err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx, `
        INSERT INTO messages (id, conversation_id, sender_id, sender_type, content, sequence_number, created_at)
        VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.SenderType, msg.Content, next,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	msg.SequenceNumber = next
	return nil
}

// SeedGreeting inserts the greeting as the conversation's first message,
// pinned to sequence number 1. Racing seeders collide on the
// (conversation_id, 1) unique constraint and the loser treats the existing
// row as the seed, so any number of bootstrap calls leaves exactly one
// greeting. Reports whether this call inserted the row.
func (db *Database) SeedGreeting(ctx context.Context, conversationID, content string) (bool, error) {
	_, err := db.db.ExecContext(ctx, `
        INSERT INTO messages (id, conversation_id, sender_id, sender_type, content, sequence_number, created_at)
        VALUES (?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP)`,
		uuid.NewString(), conversationID, models.BotSenderID, models.SenderAgent, content)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (db *Database) CountMessages(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

// ListMessagesSince returns messages with sequence_number > afterSeq in
// ascending sequence order. Pass afterSeq 0 for the full log. The widget
// polls this with its last seen sequence number as the cursor.
func (db *Database) ListMessagesSince(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error) {
	query := `
        SELECT id, conversation_id, sender_id, sender_type, content, sequence_number, created_at
        FROM messages
        WHERE conversation_id = ? AND sequence_number > ?
        ORDER BY sequence_number ASC
        LIMIT ?`

	rows, err := db.db.QueryContext(ctx, query, conversationID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.SenderType,
			&msg.Content, &msg.SequenceNumber, &msg.CreatedAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}
