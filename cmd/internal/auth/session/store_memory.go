package session

import (
	"context"
	"sync"
	"time"

	"portal/cmd/identity/ids"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Row
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]Row)}
}

func (s *MemoryStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, expiresAt time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := ids.New(now)
	if err != nil {
		return "", err
	}
	platform := dev.Platform
	if platform == "" {
		platform = PlatformUnknown
	}

	s.mu.Lock()
	s.rows[id] = Row{
		ID:        id,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Platform:  platform,
	}
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return row, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, now time.Time, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[sessionID]
	if !ok {
		return false, ErrSessionNotFound
	}
	if row.RevokedAt != nil {
		return false, nil
	}
	t := now
	row.RevokedAt = &t
	s.rows[sessionID] = row
	return true, nil
}
