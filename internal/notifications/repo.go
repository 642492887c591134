package notifications

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/sorn-tracker/internal/repo"
	"github.com/angelmondragon/sorn-tracker/pkg/db"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	"github.com/angelmondragon/sorn-tracker/pkg/pagination"
)

// Repository exposes persistence helpers for admin notices.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notice *models.AdminNotice) error
	List(ctx context.Context, params listNoticesParams) ([]models.AdminNotice, *pagination.Cursor, error)
	MarkRead(ctx context.Context, noticeID uint64, now time.Time) (noticeMarkResult, error)
	MarkAllRead(ctx context.Context, now time.Time) (int64, error)
	CountUnread(ctx context.Context) (int64, error)
}

type repositoryImpl struct {
	base repo.Base
}

// NewRepository returns an admin notice repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repositoryImpl{base: repo.NewBase(conn)}
}

type listNoticesParams struct {
	Limit        int
	Cursor       *pagination.Cursor
	UnreadOnly   bool
	Kind         enums.AdminNoticeKind
	SubmissionID string
}

type noticeMarkResult struct {
	Updated bool
	Found   bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{base: r.base.WithTx(tx)}
}

func (r *repositoryImpl) Create(ctx context.Context, notice *models.AdminNotice) error {
	if err := r.base.DB(ctx).Create(notice).Error; err != nil {
		return repo.Storage(err, "create admin notice")
	}
	return nil
}

func (r *repositoryImpl) List(ctx context.Context, params listNoticesParams) ([]models.AdminNotice, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)
	query := r.base.DB(ctx).Model(&models.AdminNotice{})
	if params.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if params.Kind != "" {
		query = query.Where("kind = ?", params.Kind)
	}
	if params.SubmissionID != "" {
		query = query.Where("submission_id = ?", params.SubmissionID)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var notices []models.AdminNotice
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&notices).Error; err != nil {
		return nil, nil, repo.Storage(err, "list admin notices")
	}

	if len(notices) > normalized {
		next := notices[normalized-1]
		notices = notices[:normalized]
		return notices, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return notices, nil, nil
}

func (r *repositoryImpl) MarkRead(ctx context.Context, noticeID uint64, now time.Time) (noticeMarkResult, error) {
	result := r.base.DB(ctx).
		Model(&models.AdminNotice{}).
		Where("id = ? AND read_at IS NULL", noticeID).
		UpdateColumn("read_at", now)
	if result.Error != nil {
		return noticeMarkResult{}, repo.Storage(result.Error, "mark admin notice read")
	}

	mark := noticeMarkResult{Updated: result.RowsAffected > 0}
	if result.RowsAffected > 0 {
		mark.Found = true
		return mark, nil
	}

	var notice models.AdminNotice
	err := r.base.DB(ctx).Select("id").Where("id = ?", noticeID).Take(&notice).Error
	if db.IsRecordNotFound(err) {
		return mark, nil
	}
	if err != nil {
		return noticeMarkResult{}, repo.Storage(err, "find admin notice")
	}
	mark.Found = true
	return mark, nil
}

func (r *repositoryImpl) MarkAllRead(ctx context.Context, now time.Time) (int64, error) {
	result := r.base.DB(ctx).
		Model(&models.AdminNotice{}).
		Where("read_at IS NULL").
		UpdateColumn("read_at", now)
	if result.Error != nil {
		return 0, repo.Storage(result.Error, "mark admin notices read")
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) CountUnread(ctx context.Context) (int64, error) {
	var count int64
	if err := r.base.DB(ctx).Model(&models.AdminNotice{}).Where("read_at IS NULL").Count(&count).Error; err != nil {
		return 0, repo.Storage(err, "count unread admin notices")
	}
	return count, nil
}
