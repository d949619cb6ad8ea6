package repositories

import (
	"context"
	"gorm.io/gorm"
	"parcel-tracking-service/workers/parcel/models"
)

// Repository stores the refresh cycle history. It is write-mostly; package
// state is never restored from it.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&models.RefreshCycle{})
}

func (r *Repository) RecordCycle(ctx context.Context, cycle models.RefreshCycle) error {
	return r.db.WithContext(ctx).Create(&cycle).Error
}

// RecentCycles returns the latest cycles of an entry, newest first.
func (r *Repository) RecentCycles(ctx context.Context, entryID string, limit int) ([]models.RefreshCycle, error) {
	var cycles []models.RefreshCycle
	err := r.db.WithContext(ctx).
		Where("entry_id = ?", entryID).
		Order("finished_at DESC").
		Limit(limit).
		Find(&cycles).Error
	return cycles, err
}
