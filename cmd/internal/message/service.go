package message

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"portal/cmd/identity/ids"
	"portal/cmd/internal/realtime"
)

// Publisher is the change feed messages are announced on. *realtime.Hub satisfies it.
type Publisher interface {
	Publish(topic string, ev realtime.Event) int
}

type Service struct {
	store Store
	pub   Publisher
	log   *slog.Logger
}

type Option func(*Service)

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// NewService constructs a Service. A nil publisher disables push delivery.
func NewService(store Store, pub Publisher, opts ...Option) *Service {
	s := &Service{
		store: store,
		pub:   pub,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Create stores a message authored by authorID and announces it on the
// messages topic once the insert has succeeded.
func (s *Service) Create(ctx context.Context, authorID, content string, now time.Time) (Message, error) {
	text, err := s.Clean(content)
	if err != nil {
		return Message{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ids.New(now)
	if err != nil {
		return Message{}, err
	}
	var createdBy *string
	if a := strings.TrimSpace(authorID); a != "" {
		createdBy = &a
	}

	m, err := s.store.Insert(ctx, Message{
		ID:        id,
		Content:   text,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		s.log.Error("message.create.fail", "author_id", authorID, "err", err)
		return Message{}, err
	}

	createdTotal.Inc()
	delivered := 0
	if s.pub != nil {
		delivered = s.pub.Publish(realtime.TopicMessages, realtime.Event{
			Type: realtime.EventMessageInserted,
			At:   m.CreatedAt,
			Data: m,
		})
	}
	s.log.Info("message.create.ok", "message_id", m.ID, "author_id", authorID, "delivered", delivered)
	return m, nil
}

// Clean trims content and checks its length. Content is plain text and is
// stored exactly as typed; clients render it as text, never as markup.
func (s *Service) Clean(content string) (string, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(text) > MaxContentChars {
		return "", ErrContentTooLong
	}
	return text, nil
}

// List returns every message, newest first.
func (s *Service) List(ctx context.Context) ([]Message, error) {
	return s.store.List(ctx)
}
