package store

import (
	"context"
	"errors"

	"qrdrop/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IdentityStore struct{ db *gorm.DB }

func (s *Store) Identities() *IdentityStore { return &IdentityStore{db: s.DB} }

// Reset allocates a brand-new identifier in the OFFLINE state. Identifiers are
// never reused, so a stale poller watching an old one can never observe the
// new pairing.
func (i *IdentityStore) Reset(ctx context.Context) (string, error) {
	ident := domain.Identity{ID: uuid.NewString(), State: domain.StateOffline}
	err := i.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{"state": domain.StateOffline}),
		}).
		Create(&ident).Error
	if err != nil {
		return "", err
	}
	return ident.ID, nil
}

func (i *IdentityStore) Get(ctx context.Context, id string) (*domain.Identity, error) {
	var ident domain.Identity
	if err := i.db.WithContext(ctx).First(&ident, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &ident, nil
}

// SetState reports false when id does not exist.
func (i *IdentityStore) SetState(ctx context.Context, id string, state domain.PairingState) (bool, error) {
	tx := i.db.WithContext(ctx).
		Model(&domain.Identity{}).
		Where("id = ?", id).
		Update("state", state)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
