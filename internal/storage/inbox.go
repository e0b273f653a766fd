package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// tsLayout is fixed width so stored timestamps order lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// InboxMessage is one stored webhook message.
type InboxMessage struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Inbox persists short-lived messages in the inbox_messages table.
type Inbox struct {
	db  *sql.DB
	now func() time.Time
}

// NewInbox wraps a bootstrapped database.
func NewInbox(db *sql.DB) *Inbox {
	return &Inbox{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Add stores a message that expires after ttl and returns it with its id.
func (s *Inbox) Add(ctx context.Context, title, source, message string, ttl time.Duration) (*InboxMessage, error) {
	created := s.now()
	m := &InboxMessage{
		ID:        uuid.NewString(),
		Title:     title,
		Source:    source,
		Message:   message,
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO inbox_messages(id, title, source, message, created_at, expires_at)
VALUES(?, ?, ?, ?, ?, ?);`,
		m.ID, m.Title, m.Source, m.Message,
		m.CreatedAt.Format(tsLayout), m.ExpiresAt.Format(tsLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("insert inbox message: %w", err)
	}
	return m, nil
}

// Latest returns up to n unexpired messages, newest first.
func (s *Inbox) Latest(ctx context.Context, n int) ([]InboxMessage, error) {
	if n <= 0 {
		return []InboxMessage{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, source, message, created_at, expires_at
FROM inbox_messages
WHERE expires_at > ?
ORDER BY created_at DESC, id DESC
LIMIT ?;`, s.now().Format(tsLayout), n)
	if err != nil {
		return nil, fmt.Errorf("query inbox messages: %w", err)
	}
	defer rows.Close()

	out := []InboxMessage{}
	for rows.Next() {
		var (
			m                  InboxMessage
			created, expiresAt string
		)
		if err := rows.Scan(&m.ID, &m.Title, &m.Source, &m.Message, &created, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan inbox message: %w", err)
		}
		if m.CreatedAt, err = time.Parse(tsLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if m.ExpiresAt, err = time.Parse(tsLayout, expiresAt); err != nil {
			return nil, fmt.Errorf("parse expires_at: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// PruneExpired deletes expired messages and returns how many were removed.
func (s *Inbox) PruneExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM inbox_messages WHERE expires_at <= ?;", s.now().Format(tsLayout))
	if err != nil {
		return 0, fmt.Errorf("prune inbox messages: %w", err)
	}
	return res.RowsAffected()
}
