// Package message owns the broadcast feed: admin-authored messages that every
// signed-in user reads, newest first, with inserts pushed on the change feed.
package message

import (
	"context"
	"errors"
	"time"
)

// MaxContentChars bounds a message body, in characters.
const MaxContentChars = 4000

var (
	ErrEmptyContent   = errors.New("message: content is required")
	ErrContentTooLong = errors.New("message: content too long")
	ErrInvalidInput   = errors.New("message: invalid input")
)

// Message is one messages row.
type Message struct {
	ID        string
	Content   string
	CreatedBy *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the persistence boundary for messages.
type Store interface {
	Insert(ctx context.Context, m Message) (Message, error)
	// List returns every message, newest first.
	List(ctx context.Context) ([]Message, error)
}
