package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PaymentEvent records a processed payment provider event id. The row is the
// idempotency key for webhook deliveries: a replayed event finds its row and
// is skipped without touching any balance.
type PaymentEvent struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
}

// ApplyPaymentEvent records the event and increments the user's balance in a
// single transaction. Returns (false, nil) when the event was already
// processed.
func (s *Store) ApplyPaymentEvent(ctx context.Context, eventID, userID string, amount int64) (bool, error) {
	var applied bool
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing PaymentEvent
		err := tx.First(&existing, "id = ?", eventID).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(&PaymentEvent{ID: eventID}).Error; err != nil {
			return err
		}
		var user User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			return err
		}
		if amount > 0 {
			res := tx.Model(&User{}).
				Where("id = ?", userID).
				UpdateColumn("credits", gorm.Expr("credits + ?", amount))
			if res.Error != nil {
				return res.Error
			}
		}
		applied = true
		return nil
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("storage: failed to apply payment event %s: %w", eventID, err)
	}
	return applied, nil
}
