package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrInsufficientCredits = errors.New("insufficient credits")

type User struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Email        string `gorm:"uniqueIndex;not null"`
	Name         string `gorm:"not null;default:''"`
	PasswordHash string `gorm:"not null;default:''"`

	Credits int64 `gorm:"not null;default:0"`
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var v User
	if err := s.db.WithContext(ctx).First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get User %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var v User
	if err := s.db.WithContext(ctx).First(&v, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get User by email: %w", err)
	}
	return &v, nil
}

func (s *Store) SetUser(ctx context.Context, v *User) error {
	if err := s.db.WithContext(ctx).Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set User %s: %w", v.ID, err)
	}
	return nil
}

// AddCredits increments the user's balance as an SQL delta so concurrent
// payments never lose updates. Returns ErrNotFound when the user doesn't
// exist.
func (s *Store) AddCredits(ctx context.Context, id string, amount int64) error {
	res := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", id).
		UpdateColumn("credits", gorm.Expr("credits + ?", amount))
	if res.Error != nil {
		return fmt.Errorf("storage: failed to add credits to User %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DebitCredits decrements the balance only if it stays non-negative.
// Returns ErrInsufficientCredits when the balance is too low and ErrNotFound
// when the user doesn't exist.
func (s *Store) DebitCredits(ctx context.Context, id string, amount int64) error {
	res := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND credits >= ?", id, amount).
		UpdateColumn("credits", gorm.Expr("credits - ?", amount))
	if res.Error != nil {
		return fmt.Errorf("storage: failed to debit credits from User %s: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	return ErrInsufficientCredits
}
