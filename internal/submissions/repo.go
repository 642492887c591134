package submissions

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/sorn-tracker/internal/repo"
	"github.com/angelmondragon/sorn-tracker/pkg/db"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
)

const defaultEventPageSize = 100

// StatusUpdate is the mutable slice of a submission. DocumentNumber and
// PublishedAt are only accepted together with the published status.
type StatusUpdate struct {
	Status         enums.SubmissionStatus
	DocumentNumber *string
	PublishedAt    *time.Time
}

// Repository is the single access path to submissions and their events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	InTx(ctx context.Context, fn func(tx Repository) error) error
	// Conn is the handle writes go through; inside InTx it is the open
	// transaction, which outbox records must share.
	Conn(ctx context.Context) *gorm.DB

	Create(ctx context.Context, sornID uint64, externalID string, initial enums.SubmissionStatus) (*models.Submission, error)
	FindByID(ctx context.Context, id uint64) (*models.Submission, bool, error)
	FindByExternalID(ctx context.Context, externalID string) (*models.Submission, bool, error)
	FindBySornID(ctx context.Context, sornID uint64) ([]models.Submission, error)
	FindByIDs(ctx context.Context, ids []uint64) ([]models.Submission, error)
	ListRecent(ctx context.Context, limit int) ([]models.Submission, error)
	UpdateStatus(ctx context.Context, id uint64, update StatusUpdate) (bool, error)
	CompareAndSetStatus(ctx context.Context, id uint64, expected enums.SubmissionStatus, update StatusUpdate) (bool, error)
	Resubmit(ctx context.Context, id uint64, expected enums.SubmissionStatus, newExternalID string) (bool, error)
	Delete(ctx context.Context, id uint64) error

	AppendEvent(ctx context.Context, externalID string, eventType enums.SubmissionEventType, data any) (*models.SubmissionEvent, error)
	ListEvents(ctx context.Context, externalID string) iter.Seq2[models.SubmissionEvent, error]
	CollectEvents(ctx context.Context, externalID string) ([]models.SubmissionEvent, error)
	LatestEvent(ctx context.Context, externalID string) (*models.SubmissionEvent, bool, error)
	CountEventsByType(ctx context.Context, externalID string, eventType enums.SubmissionEventType) (int64, error)
	ReassignEvents(ctx context.Context, fromExternalID, toExternalID string) (int64, error)

	FindReconcileCandidates(ctx context.Context, statuses []enums.SubmissionStatus, olderThan time.Time, limit int) ([]models.Submission, error)
	FindRetryCandidates(ctx context.Context, maxRetries, limit int) ([]models.Submission, error)
	CountByStatuses(ctx context.Context, statuses []enums.SubmissionStatus) (int64, error)
	FindArchivalCandidates(ctx context.Context, olderThan time.Time, limit int) ([]models.Submission, error)
	DeleteEventsByTypeBefore(ctx context.Context, eventType enums.SubmissionEventType, before time.Time) (int64, error)
	DeleteEventsOfTerminalBefore(ctx context.Context, before time.Time) (int64, error)

	Archive(ctx context.Context, observed models.Submission, archivedAt time.Time) (*models.SubmissionArchive, error)
	FindArchive(ctx context.Context, externalID string) (*models.SubmissionArchive, bool, error)

	Search(ctx context.Context, filter Filter) ([]Row, int64, error)
}

type repositoryImpl struct {
	base     repo.Base
	now      func() time.Time
	pageSize int
}

// Option configures the repository.
type Option func(*repositoryImpl)

// WithClock overrides the timestamp source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(r *repositoryImpl) {
		if now != nil {
			r.now = now
		}
	}
}

// WithEventPageSize sets how many events ListEvents fetches per query.
func WithEventPageSize(n int) Option {
	return func(r *repositoryImpl) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// NewRepository returns a submissions repository bound to the provided database.
func NewRepository(conn *gorm.DB, opts ...Option) Repository {
	r := &repositoryImpl{
		base:     repo.NewBase(conn),
		now:      time.Now,
		pageSize: defaultEventPageSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{base: r.base.WithTx(tx), now: r.now, pageSize: r.pageSize}
}

func (r *repositoryImpl) InTx(ctx context.Context, fn func(tx Repository) error) error {
	return r.base.DB(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.WithTx(tx))
	})
}

func (r *repositoryImpl) Conn(ctx context.Context) *gorm.DB {
	return r.base.DB(ctx)
}

func (r *repositoryImpl) clock() time.Time {
	return r.now().UTC()
}

func (r *repositoryImpl) Create(ctx context.Context, sornID uint64, externalID string, initial enums.SubmissionStatus) (*models.Submission, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "submission id is required")
	}
	if sornID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sorn id is required")
	}
	if initial == "" {
		initial = enums.SubmissionStatusSubmitted
	}
	if !initial.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", initial))
	}

	now := r.clock()
	sub := &models.Submission{
		SornID:       sornID,
		SubmissionID: externalID,
		Status:       initial,
		SubmittedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.base.DB(ctx).Create(sub).Error; err != nil {
		return nil, repo.Storage(err, "create submission")
	}
	return sub, nil
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uint64) (*models.Submission, bool, error) {
	return r.findOne(ctx, "find submission", "id = ?", id)
}

func (r *repositoryImpl) FindByExternalID(ctx context.Context, externalID string) (*models.Submission, bool, error) {
	return r.findOne(ctx, "find submission by external id", "submission_id = ?", externalID)
}

func (r *repositoryImpl) findOne(ctx context.Context, op, query string, args ...any) (*models.Submission, bool, error) {
	var sub models.Submission
	err := r.base.DB(ctx).Where(query, args...).Order("id DESC").Take(&sub).Error
	if db.IsRecordNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, repo.Storage(err, op)
	}
	return &sub, true, nil
}

func (r *repositoryImpl) FindBySornID(ctx context.Context, sornID uint64) ([]models.Submission, error) {
	var subs []models.Submission
	if err := r.base.DB(ctx).Where("sorn_id = ?", sornID).Order("submitted_at DESC, id DESC").Find(&subs).Error; err != nil {
		return nil, repo.Storage(err, "find submissions by sorn")
	}
	return subs, nil
}

func (r *repositoryImpl) FindByIDs(ctx context.Context, ids []uint64) ([]models.Submission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var subs []models.Submission
	if err := r.base.DB(ctx).Where("id IN ?", ids).Order("id ASC").Find(&subs).Error; err != nil {
		return nil, repo.Storage(err, "find submissions by ids")
	}
	return subs, nil
}

func (r *repositoryImpl) ListRecent(ctx context.Context, limit int) ([]models.Submission, error) {
	if limit <= 0 {
		limit = 10
	}
	var subs []models.Submission
	if err := r.base.DB(ctx).Order("submitted_at DESC, id DESC").Limit(limit).Find(&subs).Error; err != nil {
		return nil, repo.Storage(err, "list recent submissions")
	}
	return subs, nil
}

func validateUpdate(update StatusUpdate) error {
	if !update.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", update.Status))
	}
	if update.Status != enums.SubmissionStatusPublished && (update.DocumentNumber != nil || update.PublishedAt != nil) {
		return pkgerrors.New(pkgerrors.CodeValidation, "document number and publication date require the published status")
	}
	return nil
}

func (r *repositoryImpl) updateColumns(update StatusUpdate) map[string]any {
	cols := map[string]any{
		"status":     update.Status,
		"updated_at": r.clock(),
	}
	if update.DocumentNumber != nil {
		cols["document_number"] = *update.DocumentNumber
	}
	if update.PublishedAt != nil {
		cols["published_at"] = update.PublishedAt.UTC()
	}
	return cols
}

func sameState(sub *models.Submission, update StatusUpdate) bool {
	if sub.Status != update.Status {
		return false
	}
	if update.DocumentNumber != nil && (sub.DocumentNumber == nil || *sub.DocumentNumber != *update.DocumentNumber) {
		return false
	}
	if update.PublishedAt != nil && (sub.PublishedAt == nil || !sub.PublishedAt.Equal(*update.PublishedAt)) {
		return false
	}
	return true
}

// UpdateStatus applies update unconditionally. Re-applying the current state
// is a no-op that reports false and leaves updated_at untouched.
func (r *repositoryImpl) UpdateStatus(ctx context.Context, id uint64, update StatusUpdate) (bool, error) {
	if err := validateUpdate(update); err != nil {
		return false, err
	}
	sub, found, err := r.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, pkgerrors.New(pkgerrors.CodeNotFound, "submission not found")
	}
	if sameState(sub, update) {
		return false, nil
	}
	res := r.base.DB(ctx).Model(&models.Submission{}).Where("id = ?", id).Updates(r.updateColumns(update))
	if res.Error != nil {
		return false, repo.Storage(res.Error, "update submission status")
	}
	return res.RowsAffected > 0, nil
}

// CompareAndSetStatus applies update only while the row still has the
// expected status. false means another writer got there first.
func (r *repositoryImpl) CompareAndSetStatus(ctx context.Context, id uint64, expected enums.SubmissionStatus, update StatusUpdate) (bool, error) {
	if err := validateUpdate(update); err != nil {
		return false, err
	}
	res := r.base.DB(ctx).Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(r.updateColumns(update))
	if res.Error != nil {
		return false, repo.Storage(res.Error, "compare and set submission status")
	}
	return res.RowsAffected == 1, nil
}

// Resubmit moves a submission back to submitted under a registry-assigned id.
func (r *repositoryImpl) Resubmit(ctx context.Context, id uint64, expected enums.SubmissionStatus, newExternalID string) (bool, error) {
	newExternalID = strings.TrimSpace(newExternalID)
	if newExternalID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "submission id is required")
	}
	now := r.clock()
	res := r.base.DB(ctx).Model(&models.Submission{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]any{
			"status":        enums.SubmissionStatusSubmitted,
			"submission_id": newExternalID,
			"submitted_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, repo.Storage(res.Error, "resubmit submission")
	}
	return res.RowsAffected == 1, nil
}

func (r *repositoryImpl) Delete(ctx context.Context, id uint64) error {
	if err := r.base.DB(ctx).Where("id = ?", id).Delete(&models.Submission{}).Error; err != nil {
		return repo.Storage(err, "delete submission")
	}
	return nil
}

func (r *repositoryImpl) AppendEvent(ctx context.Context, externalID string, eventType enums.SubmissionEventType, data any) (*models.SubmissionEvent, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "submission id is required")
	}
	if eventType == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event type is required")
	}
	payload, err := encodeEventData(data)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode event data")
	}
	event := &models.SubmissionEvent{
		SubmissionID: externalID,
		EventType:    eventType,
		EventData:    payload,
		CreatedAt:    r.clock(),
	}
	if err := r.base.DB(ctx).Create(event).Error; err != nil {
		return nil, repo.Storage(err, "append submission event")
	}
	return event, nil
}

func encodeEventData(data any) (datatypes.JSON, error) {
	switch v := data.(type) {
	case nil:
		return datatypes.JSON("{}"), nil
	case datatypes.JSON:
		return v, nil
	case json.RawMessage:
		return datatypes.JSON(v), nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// ListEvents yields the events of externalID ordered by (created_at, id).
// Rows are fetched a page at a time as the caller pulls, and ranging over the
// sequence again starts a fresh read.
func (r *repositoryImpl) ListEvents(ctx context.Context, externalID string) iter.Seq2[models.SubmissionEvent, error] {
	return func(yield func(models.SubmissionEvent, error) bool) {
		var after *models.SubmissionEvent
		for {
			q := r.base.DB(ctx).Where("submission_id = ?", externalID)
			if after != nil {
				q = q.Where("(created_at > ? OR (created_at = ? AND id > ?))", after.CreatedAt, after.CreatedAt, after.ID)
			}
			var page []models.SubmissionEvent
			if err := q.Order("created_at ASC, id ASC").Limit(r.pageSize).Find(&page).Error; err != nil {
				yield(models.SubmissionEvent{}, repo.Storage(err, "list submission events"))
				return
			}
			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
			}
			if len(page) < r.pageSize {
				return
			}
			last := page[len(page)-1]
			after = &last
		}
	}
}

func (r *repositoryImpl) CollectEvents(ctx context.Context, externalID string) ([]models.SubmissionEvent, error) {
	var out []models.SubmissionEvent
	for ev, err := range r.ListEvents(ctx, externalID) {
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *repositoryImpl) LatestEvent(ctx context.Context, externalID string) (*models.SubmissionEvent, bool, error) {
	var ev models.SubmissionEvent
	err := r.base.DB(ctx).Where("submission_id = ?", externalID).Order("created_at DESC, id DESC").Take(&ev).Error
	if db.IsRecordNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, repo.Storage(err, "latest submission event")
	}
	return &ev, true, nil
}

func (r *repositoryImpl) CountEventsByType(ctx context.Context, externalID string, eventType enums.SubmissionEventType) (int64, error) {
	var count int64
	err := r.base.DB(ctx).Model(&models.SubmissionEvent{}).
		Where("submission_id = ? AND event_type = ?", externalID, eventType).
		Count(&count).Error
	if err != nil {
		return 0, repo.Storage(err, "count submission events")
	}
	return count, nil
}

// ReassignEvents moves the history of one external id onto another, keeping
// a single timeline when the registry hands out a new id on resubmission.
func (r *repositoryImpl) ReassignEvents(ctx context.Context, fromExternalID, toExternalID string) (int64, error) {
	if fromExternalID == toExternalID {
		return 0, nil
	}
	res := r.base.DB(ctx).Model(&models.SubmissionEvent{}).
		Where("submission_id = ?", fromExternalID).
		UpdateColumn("submission_id", toExternalID)
	if res.Error != nil {
		return 0, repo.Storage(res.Error, "reassign submission events")
	}
	return res.RowsAffected, nil
}

func (r *repositoryImpl) FindReconcileCandidates(ctx context.Context, statuses []enums.SubmissionStatus, olderThan time.Time, limit int) ([]models.Submission, error) {
	var subs []models.Submission
	err := r.base.DB(ctx).
		Where("status IN ? AND updated_at < ?", enums.StatusStrings(statuses), olderThan.UTC()).
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, repo.Storage(err, "find reconcile candidates")
	}
	return subs, nil
}

func (r *repositoryImpl) FindRetryCandidates(ctx context.Context, maxRetries, limit int) ([]models.Submission, error) {
	var subs []models.Submission
	err := r.base.DB(ctx).
		Where("status = ?", enums.SubmissionStatusError).
		Where(`(SELECT COUNT(*) FROM submission_events e
			WHERE e.submission_id = submissions.submission_id AND e.event_type = ?) < ?`,
			enums.SubmissionEventRetryAttempted, maxRetries).
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, repo.Storage(err, "find retry candidates")
	}
	return subs, nil
}

func (r *repositoryImpl) CountByStatuses(ctx context.Context, statuses []enums.SubmissionStatus) (int64, error) {
	var count int64
	err := r.base.DB(ctx).Model(&models.Submission{}).
		Where("status IN ?", enums.StatusStrings(statuses)).
		Count(&count).Error
	if err != nil {
		return 0, repo.Storage(err, "count submissions by status")
	}
	return count, nil
}

func (r *repositoryImpl) FindArchivalCandidates(ctx context.Context, olderThan time.Time, limit int) ([]models.Submission, error) {
	var subs []models.Submission
	err := r.base.DB(ctx).
		Where("status IN ? AND updated_at < ?", enums.StatusStrings(enums.TerminalStatuses), olderThan.UTC()).
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&subs).Error
	if err != nil {
		return nil, repo.Storage(err, "find archival candidates")
	}
	return subs, nil
}

func (r *repositoryImpl) DeleteEventsByTypeBefore(ctx context.Context, eventType enums.SubmissionEventType, before time.Time) (int64, error) {
	res := r.base.DB(ctx).
		Where("event_type = ? AND created_at < ?", eventType, before.UTC()).
		Delete(&models.SubmissionEvent{})
	if res.Error != nil {
		return 0, repo.Storage(res.Error, "prune events by type")
	}
	return res.RowsAffected, nil
}

func (r *repositoryImpl) DeleteEventsOfTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	terminal := r.base.DB(ctx).Model(&models.Submission{}).
		Select("submission_id").
		Where("status IN ?", enums.StatusStrings(enums.TerminalStatuses))
	res := r.base.DB(ctx).
		Where("created_at < ? AND submission_id IN (?)", before.UTC(), terminal).
		Delete(&models.SubmissionEvent{})
	if res.Error != nil {
		return 0, repo.Storage(res.Error, "prune terminal submission events")
	}
	return res.RowsAffected, nil
}
