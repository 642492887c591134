package submissions

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/angelmondragon/sorn-tracker/internal/repo"
	"github.com/angelmondragon/sorn-tracker/pkg/db"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
)

// ArchiveSnapshot is the JSON document stored in submission_archives.data.
type ArchiveSnapshot struct {
	Submission models.Submission        `json:"submission"`
	Events     []models.SubmissionEvent `json:"events"`
	ArchivedAt time.Time                `json:"archived_at"`
}

// Archive snapshots observed and its events, then removes the live rows.
// The row must still carry observed's status and external id when the
// transaction runs; otherwise nothing is written and a state conflict is
// returned. Only events captured in the snapshot are deleted.
func (r *repositoryImpl) Archive(ctx context.Context, observed models.Submission, archivedAt time.Time) (*models.SubmissionArchive, error) {
	if observed.ID == 0 || observed.SubmissionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "submission is required")
	}
	archivedAt = archivedAt.UTC()

	var record *models.SubmissionArchive
	err := r.InTx(ctx, func(tx Repository) error {
		txr := tx.(*repositoryImpl)
		conn := txr.base.DB(ctx)

		current, found, err := txr.FindByID(ctx, observed.ID)
		if err != nil {
			return err
		}
		if !found || current.Status != observed.Status || current.SubmissionID != observed.SubmissionID {
			return errArchiveMoved(observed)
		}

		res := conn.Where("id = ? AND status = ? AND submission_id = ?", observed.ID, observed.Status, observed.SubmissionID).
			Delete(&models.Submission{})
		if res.Error != nil {
			return repo.Storage(res.Error, "delete archived submission")
		}
		if res.RowsAffected != 1 {
			return errArchiveMoved(observed)
		}

		history, err := txr.CollectEvents(ctx, observed.SubmissionID)
		if err != nil {
			return err
		}
		if history == nil {
			history = []models.SubmissionEvent{}
		}
		if ids := eventIDs(history); len(ids) > 0 {
			if err := conn.Where("submission_id = ? AND id IN ?", observed.SubmissionID, ids).
				Delete(&models.SubmissionEvent{}).Error; err != nil {
				return repo.Storage(err, "delete archived events")
			}
		}

		data, err := json.Marshal(ArchiveSnapshot{Submission: *current, Events: history, ArchivedAt: archivedAt})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode archive snapshot")
		}
		record = &models.SubmissionArchive{
			SubmissionID: current.SubmissionID,
			SornID:       current.SornID,
			Data:         datatypes.JSON(data),
			ArchivedAt:   archivedAt,
		}
		if err := conn.Create(record).Error; err != nil {
			return repo.Storage(err, "insert submission archive")
		}
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, repo.Storage(err, "archive submission")
	}
	return record, nil
}

func errArchiveMoved(observed models.Submission) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "submission changed before it could be archived").
		WithDetails(map[string]any{
			"submission_id": observed.SubmissionID,
			"status":        observed.Status,
		})
}

func eventIDs(events []models.SubmissionEvent) []uint64 {
	ids := make([]uint64, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}
	return ids
}

// FindArchive returns the most recent snapshot taken for externalID.
func (r *repositoryImpl) FindArchive(ctx context.Context, externalID string) (*models.SubmissionArchive, bool, error) {
	var record models.SubmissionArchive
	err := r.base.DB(ctx).Where("submission_id = ?", externalID).Order("archived_at DESC, id DESC").Take(&record).Error
	if db.IsRecordNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, repo.Storage(err, "find submission archive")
	}
	return &record, true, nil
}

// DecodeArchive parses the stored snapshot.
func DecodeArchive(record models.SubmissionArchive) (ArchiveSnapshot, error) {
	var snap ArchiveSnapshot
	if err := json.Unmarshal(record.Data, &snap); err != nil {
		return ArchiveSnapshot{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode archive snapshot")
	}
	return snap, nil
}

// ArchiveRepository is the narrow view the sweeper needs.
type ArchiveRepository interface {
	Archive(ctx context.Context, observed models.Submission, archivedAt time.Time) (*models.SubmissionArchive, error)
	FindArchive(ctx context.Context, externalID string) (*models.SubmissionArchive, bool, error)
}
