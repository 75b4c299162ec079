package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

type Category struct {
	ID        string `gorm:"primarykey"`
	CreatedAt time.Time

	Name string `gorm:"uniqueIndex;not null"`
}

// EnsureCategories returns category rows for the given names, creating the
// ones that don't exist yet.
func (s *Store) EnsureCategories(ctx context.Context, names []string) ([]*Category, error) {
	var out []*Category
	for _, name := range names {
		var v Category
		err := s.db.WithContext(ctx).First(&v, "name = ?", name).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			v = Category{ID: ulid.Make().String(), Name: name}
			if err := s.db.WithContext(ctx).Create(&v).Error; err != nil {
				return nil, fmt.Errorf("storage: failed to create Category %s: %w", name, err)
			}
		} else if err != nil {
			return nil, fmt.Errorf("storage: failed to get Category %s: %w", name, err)
		}
		out = append(out, &v)
	}
	return out, nil
}
