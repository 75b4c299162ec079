package storage

import (
	"context"
	"fmt"
	"time"
)

// OutboxEntry is a pending generation request event. Entries are written in
// the same transaction as their song row and cleared once published, so the
// event is never emitted for an uncommitted song and never lost after a
// commit.
type OutboxEntry struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time

	SongID string `gorm:"index;not null"`
	UserID string `gorm:"not null"`

	DispatchedAt *time.Time
}

func (s *Store) ListPendingOutbox(ctx context.Context, limit int) ([]*OutboxEntry, error) {
	vs := []*OutboxEntry{}
	if err := s.db.WithContext(ctx).
		Where("dispatched_at IS NULL").
		Order("created_at asc").
		Limit(limit).
		Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list pending outbox entries: %w", err)
	}
	return vs, nil
}

func (s *Store) MarkOutboxDispatched(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&OutboxEntry{}).
		Where("id = ?", id).
		Update("dispatched_at", &now)
	if res.Error != nil {
		return fmt.Errorf("storage: failed to mark outbox entry %s dispatched: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
