package catalog

import (
	"context"

	"gorm.io/gorm"
)

// Store is the read side of the drug catalog.
type Store interface {
	ListDrugs(ctx context.Context) ([]Drug, error)
	GetDrugsByIDs(ctx context.Context, ids []uint64) ([]Drug, error)
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// ListDrugs returns every drug in creation (id ASC) order.
func (r *Repo) ListDrugs(ctx context.Context) ([]Drug, error) {
	var drugs []Drug
	if err := r.db.WithContext(ctx).
		Preload("Manufacturer").
		Order("id ASC").
		Find(&drugs).Error; err != nil {
		return nil, err
	}
	return drugs, nil
}

func (r *Repo) GetDrugsByIDs(ctx context.Context, ids []uint64) ([]Drug, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var drugs []Drug
	if err := r.db.WithContext(ctx).
		Preload("Manufacturer").
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&drugs).Error; err != nil {
		return nil, err
	}
	return drugs, nil
}
