package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"qrdrop/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type FileStore struct{ db *gorm.DB }

func (s *Store) Files() *FileStore { return &FileStore{db: s.DB} }

func (f *FileStore) Create(ctx context.Context, file *domain.StagedFile) error {
	if err := f.db.WithContext(ctx).Create(file).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s", ErrDuplicate, file.OwnerID, file.DisplayName)
		}
		return err
	}
	return nil
}

func (f *FileStore) NameTaken(ctx context.Context, ownerID, name string) (bool, error) {
	var count int64
	err := f.db.WithContext(ctx).
		Model(&domain.StagedFile{}).
		Where("owner_id = ? AND display_name = ?", ownerID, name).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (f *FileStore) Get(ctx context.Context, ownerID, contentKey string) (*domain.StagedFile, error) {
	var file domain.StagedFile
	err := f.db.WithContext(ctx).
		First(&file, "owner_id = ? AND content_key = ?", ownerID, contentKey).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &file, nil
}

// MarkDelivered is idempotent; an already delivered row is left as is.
func (f *FileStore) MarkDelivered(ctx context.Context, ownerID, contentKey string) error {
	return f.db.WithContext(ctx).
		Model(&domain.StagedFile{}).
		Where("owner_id = ? AND content_key = ? AND delivered = ?", ownerID, contentKey, false).
		Update("delivered", true).Error
}

// ClaimUndelivered flips every undelivered row of ownerID to delivered and
// returns exactly the rows this call flipped. Concurrent claims for the same
// owner never return the same row.
func (f *FileStore) ClaimUndelivered(ctx context.Context, ownerID string) ([]domain.StagedFile, error) {
	var claimed []domain.StagedFile
	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint64
		err := tx.Model(&domain.StagedFile{}).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("owner_id = ? AND delivered = ?", ownerID, false).
			Order("created_at ASC, id ASC").
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&claimed).
			Clauses(clause.Returning{}).
			Where("id IN ? AND delivered = ?", ids, false).
			Update("delivered", true).Error
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(claimed, func(a, b int) bool {
		if claimed[a].CreatedAt.Equal(claimed[b].CreatedAt) {
			return claimed[a].ID < claimed[b].ID
		}
		return claimed[a].CreatedAt.Before(claimed[b].CreatedAt)
	})
	return claimed, nil
}
