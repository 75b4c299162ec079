package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Status custom type for the song lifecycle enum
type Status string

// Enum values for Status
const (
	Queued     Status = "queued"
	Processing Status = "processing"
	Processed  Status = "processed"
	Failed     Status = "failed"
)

type Song struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	UserID string `gorm:"index;not null"`
	User   *User  `gorm:"foreignKey:UserID"`

	Title             string `gorm:"not null;default:''"`
	Prompt            string `gorm:"not null;default:''"`
	Lyrics            string `gorm:"not null;default:''"`
	DescribedLyrics   string `gorm:"not null;default:''"`
	FullDescribedSong string `gorm:"not null;default:''"`
	Instrumental      bool   `gorm:"not null;default:false"`

	GuidanceScale float64 `gorm:"not null;default:0"`
	AudioDuration float64 `gorm:"not null;default:180"`

	S3Key      *string
	CoverS3Key *string

	ListenCount int64  `gorm:"not null;default:0"`
	Published   bool   `gorm:"not null;default:false"`
	Status      Status `gorm:"not null;default:'queued'"`

	Categories []*Category `gorm:"many2many:song_categories"`
	Likes      []*Like     `gorm:"foreignKey:SongID"`
}

func (s *Store) GetSong(ctx context.Context, id string) (*Song, error) {
	q := s.db.WithContext(ctx).Preload("Categories")

	var v Song
	if err := q.First(&v, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get Song %s: %w", id, err)
	}
	return &v, nil
}

func (s *Store) SetSong(ctx context.Context, v *Song) error {
	if err := s.db.WithContext(ctx).Save(v).Error; err != nil {
		return fmt.Errorf("storage: failed to set Song %s: %w", v.ID, err)
	}
	return nil
}

// CreateSongWithOutbox inserts a song row together with its generation
// request outbox entry in a single transaction, so a committed song always
// has a pending event and a failed commit leaves neither behind.
func (s *Store) CreateSongWithOutbox(ctx context.Context, v *Song, entry *OutboxEntry) error {
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			return err
		}
		return tx.Create(entry).Error
	}); err != nil {
		return fmt.Errorf("storage: failed to create Song %s: %w", v.ID, err)
	}
	return nil
}

// GetPlayableSong returns the song only if it has audio attached and the
// caller either owns it or it is published. A miss for any of those reasons
// is reported as ErrNotFound.
func (s *Store) GetPlayableSong(ctx context.Context, id, userID string) (*Song, error) {
	var v Song
	q := s.db.WithContext(ctx).
		Where("id = ?", id).
		Where("s3_key IS NOT NULL").
		Where("user_id = ? OR published = ?", userID, true)
	if err := q.First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: failed to get playable Song %s: %w", id, err)
	}
	return &v, nil
}

// IncrementListenCount applies the increment as an SQL delta so concurrent
// plays never lose updates.
func (s *Store) IncrementListenCount(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&Song{}).
		Where("id = ?", id).
		UpdateColumn("listen_count", gorm.Expr("listen_count + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("storage: failed to increment listen count for Song %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPublished flips the published flag, filtered on ownership. Returns
// ErrNotFound when no owned row matched.
func (s *Store) SetPublished(ctx context.Context, id, userID string, published bool) error {
	res := s.db.WithContext(ctx).Model(&Song{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("published", published)
	if res.Error != nil {
		return fmt.Errorf("storage: failed to set published for Song %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachResult records the generation output on the song and links its
// categories.
func (s *Store) AttachResult(ctx context.Context, id, s3Key, coverS3Key string, categories []*Category) error {
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var v Song
		if err := tx.First(&v, "id = ?", id).Error; err != nil {
			return err
		}
		v.S3Key = &s3Key
		v.CoverS3Key = &coverS3Key
		v.Status = Processed
		if err := tx.Save(&v).Error; err != nil {
			return err
		}
		if len(categories) == 0 {
			return nil
		}
		return tx.Model(&v).Association("Categories").Append(categories)
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("storage: failed to attach result to Song %s: %w", id, err)
	}
	return nil
}

func (s *Store) SetSongStatus(ctx context.Context, id string, status Status) error {
	res := s.db.WithContext(ctx).Model(&Song{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("storage: failed to set status for Song %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListSongs(ctx context.Context, page, size int, orderBy string, filter ...Filter) ([]*Song, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * size
	vs := []*Song{}

	q := s.db.WithContext(ctx).Preload("Categories").Preload("Likes").Preload("User")
	q = q.Offset(offset).Limit(size)
	for _, f := range filter {
		q = q.Where(f.Query, f.Args...)
	}
	if orderBy != "" {
		q = q.Order(orderBy)
	}
	if err := q.Find(&vs).Error; err != nil {
		return nil, fmt.Errorf("storage: failed to list Songs: %w", err)
	}
	return vs, nil
}
