package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Session struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time

	UserID    string `gorm:"index;not null"`
	ExpiresAt time.Time
}

func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var v Session
	if err := s.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get Session: %w", err)
	}
	return &v, nil
}

func (s *Store) SetSession(ctx context.Context, v *Session) error {
	if err := s.db.WithContext(ctx).Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set Session: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&Session{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("storage: failed to delete Session: %w", err)
	}
	return nil
}
