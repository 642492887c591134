package submissions

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/sorn-tracker/internal/repo"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	"github.com/angelmondragon/sorn-tracker/pkg/pagination"
)

// Filter narrows the admin submission listing.
type Filter struct {
	Page    int
	PerPage int
	Status  enums.SubmissionStatus
	SornID  uint64
	From    *time.Time
	To      *time.Time
	Search  string
	OrderBy string
	Order   string
}

// Row is a submission joined with the title of its SORN. SornTitle is nil
// when the SORN no longer exists.
type Row struct {
	models.Submission
	SornTitle *string `gorm:"column:sorn_title" json:"sorn_title"`
}

var orderColumns = map[string]string{
	"submitted_at": "submissions.submitted_at",
	"status":       "submissions.status",
	"sorn_id":      "submissions.sorn_id",
}

// Search returns one page of rows plus the total count matching filter.
func (r *repositoryImpl) Search(ctx context.Context, filter Filter) ([]Row, int64, error) {
	page := pagination.Page{Number: filter.Page, PerPage: filter.PerPage}.Normalize()

	var total int64
	if err := r.filtered(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, repo.Storage(err, "count submissions")
	}

	var rows []Row
	err := r.filtered(ctx, filter).
		Select("submissions.*, sorns.title AS sorn_title").
		Order(orderClause(filter)).
		Order("submissions.id DESC").
		Limit(page.PerPage).
		Offset(page.Offset()).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, repo.Storage(err, "search submissions")
	}
	return rows, total, nil
}

func (r *repositoryImpl) filtered(ctx context.Context, filter Filter) *gorm.DB {
	q := r.base.DB(ctx).
		Table("submissions").
		Joins("LEFT JOIN sorns ON sorns.id = submissions.sorn_id")
	if filter.Status != "" {
		q = q.Where("submissions.status = ?", filter.Status)
	}
	if filter.SornID != 0 {
		q = q.Where("submissions.sorn_id = ?", filter.SornID)
	}
	if filter.From != nil {
		q = q.Where("submissions.submitted_at >= ?", filter.From.UTC())
	}
	if filter.To != nil {
		q = q.Where("submissions.submitted_at <= ?", filter.To.UTC())
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("(LOWER(submissions.submission_id) LIKE ? OR LOWER(sorns.title) LIKE ?)", like, like)
	}
	return q
}

func orderClause(filter Filter) string {
	col, ok := orderColumns[filter.OrderBy]
	if !ok {
		col = orderColumns["submitted_at"]
	}
	dir := "DESC"
	if strings.EqualFold(filter.Order, "asc") {
		dir = "ASC"
	}
	return col + " " + dir
}
