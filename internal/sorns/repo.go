package sorns

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/sorn-tracker/internal/repo"
	"github.com/angelmondragon/sorn-tracker/pkg/db"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
)

// Repository reads SORNs owned by the content layer.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, id uint64) (*models.Sorn, bool, error)
	GetMany(ctx context.Context, ids []uint64) (map[uint64]models.Sorn, error)
}

type repository struct {
	base repo.Base
}

// NewRepository binds a SORN repository to conn.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{base: repo.NewBase(conn)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.WithTx(tx)}
}

func (r *repository) Get(ctx context.Context, id uint64) (*models.Sorn, bool, error) {
	var sorn models.Sorn
	err := r.base.DB(ctx).Where("id = ?", id).Take(&sorn).Error
	if db.IsRecordNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, repo.Storage(err, "get sorn")
	}
	return &sorn, true, nil
}

// GetMany returns the SORNs that still exist among ids, keyed by id.
func (r *repository) GetMany(ctx context.Context, ids []uint64) (map[uint64]models.Sorn, error) {
	out := make(map[uint64]models.Sorn, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.Sorn
	if err := r.base.DB(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, repo.Storage(err, "get sorns")
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}
