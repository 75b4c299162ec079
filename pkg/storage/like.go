package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Like struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time

	UserID string `gorm:"uniqueIndex:idx_likes_user_song;not null"`
	SongID string `gorm:"uniqueIndex:idx_likes_user_song;not null"`
}

// ToggleLike inserts or removes the like row for the user/song pair and
// reports whether the song ended up liked.
func (s *Store) ToggleLike(ctx context.Context, like *Like) (bool, error) {
	var liked bool
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Like
		err := tx.First(&existing, "user_id = ? AND song_id = ?", like.UserID, like.SongID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			liked = true
			return tx.Create(like).Error
		}
		if err != nil {
			return err
		}
		return tx.Delete(&existing).Error
	}); err != nil {
		return false, fmt.Errorf("storage: failed to toggle Like for Song %s: %w", like.SongID, err)
	}
	return liked, nil
}

func (s *Store) CountLikes(ctx context.Context, songID string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Like{}).
		Where("song_id = ?", songID).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("storage: failed to count Likes for Song %s: %w", songID, err)
	}
	return n, nil
}
