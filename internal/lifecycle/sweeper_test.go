package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/sorn-tracker/internal/submissions"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
)

const day = 24 * time.Hour

func newTestSweeper(t *testing.T, f *fixture, threshold int64) *Sweeper {
	t.Helper()
	s, err := NewSweeper(SweeperParams{
		Repository:       f.repo,
		Logger:           f.logg,
		ArchiveThreshold: threshold,
	})
	require.NoError(t, err)
	return s
}

func TestArchivalWaitsForThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setClock(baseTime.Add(-200 * day))
	sub := f.seedSubmission(t, 1, "FR-1", enums.SubmissionStatusPublished)

	report, err := newTestSweeper(t, f, 0).RunArchival(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report)

	_, found, err := f.repo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestArchivalMovesOldTerminalSubmissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.setClock(baseTime.Add(-120 * day))
	old := f.seedSubmission(t, 1, "FR-old", enums.SubmissionStatusPublished)
	_, err := f.repo.AppendEvent(ctx, "FR-old", enums.SubmissionEventPublished, map[string]any{"document_number": "2024-1"})
	require.NoError(t, err)
	oldRejected := f.seedSubmission(t, 1, "FR-rejected", enums.SubmissionStatusRejected)
	inFlight := f.seedSubmission(t, 1, "FR-review", enums.SubmissionStatusInReview)

	f.setClock(baseTime.Add(-10 * day))
	recent := f.seedSubmission(t, 1, "FR-recent", enums.SubmissionStatusPublished)

	report, err := newTestSweeper(t, f, 2).RunArchival(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, Report{Examined: 2, Transitioned: 2}, report)

	for _, id := range []uint64{old.ID, oldRejected.ID} {
		_, found, err := f.repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.False(t, found)
	}
	for _, id := range []uint64{inFlight.ID, recent.ID} {
		_, found, err := f.repo.FindByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, found)
	}

	record, found, err := f.repo.FindArchive(ctx, "FR-old")
	require.NoError(t, err)
	require.True(t, found)
	snapshot, err := submissions.DecodeArchive(*record)
	require.NoError(t, err)
	assert.Equal(t, "FR-old", snapshot.Submission.SubmissionID)
	require.Len(t, snapshot.Events, 1)
	assert.Equal(t, enums.SubmissionEventPublished, snapshot.Events[0].EventType)
	assert.Empty(t, f.eventTypes(t, "FR-old"))

	again, err := newTestSweeper(t, f, 2).RunArchival(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, Report{}, again)
}

func TestArchiveOneRequiresCompletedOrFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := newTestSweeper(t, f, 0)

	review := f.seedSubmission(t, 1, "FR-review", enums.SubmissionStatusInReview)
	err := s.ArchiveOne(ctx, review.ID, baseTime)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Contains(t, err.Error(), "Can only archive completed or failed submissions")

	failed := f.seedSubmission(t, 1, "FR-failed", enums.SubmissionStatusError)
	require.NoError(t, s.ArchiveOne(ctx, failed.ID, baseTime))
	_, found, err := f.repo.FindArchive(ctx, "FR-failed")
	require.NoError(t, err)
	assert.True(t, found)

	assert.True(t, pkgerrors.IsCode(s.ArchiveOne(ctx, failed.ID, baseTime), pkgerrors.CodeNotFound))
}

// retryingRepo resubmits the submission right after the sweeper has read it,
// the way a manual retry landing between the read and the archive would.
type retryingRepo struct {
	submissions.Repository
	retry func()
}

func (r *retryingRepo) FindByID(ctx context.Context, id uint64) (*models.Submission, bool, error) {
	sub, found, err := r.Repository.FindByID(ctx, id)
	if r.retry != nil {
		r.retry()
		r.retry = nil
	}
	return sub, found, err
}

func TestArchiveOneLosesToConcurrentRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sorn := f.seedSorn(t, "Visitor Logs")
	sub := f.seedSubmission(t, sorn.ID, "FR-failed", enums.SubmissionStatusError)
	_, err := f.repo.AppendEvent(ctx, "FR-failed", enums.SubmissionEventError, map[string]any{"message": "timeout"})
	require.NoError(t, err)
	f.registry.submitID = "FR-new"

	retrier := newTestRetry(t, f)
	racing := &retryingRepo{Repository: f.repo, retry: func() {
		_, err := retrier.RetryOne(ctx, sub.ID)
		require.NoError(t, err)
	}}
	s, err := NewSweeper(SweeperParams{Repository: racing, Logger: f.logg})
	require.NoError(t, err)

	err = s.ArchiveOne(ctx, sub.ID, baseTime)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	live, found, err := f.repo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, enums.SubmissionStatusSubmitted, live.Status)
	assert.Equal(t, []enums.SubmissionEventType{
		enums.SubmissionEventError,
		enums.SubmissionEventRetryAttempted,
		enums.SubmissionEventSubmitted,
	}, f.eventTypes(t, "FR-new"))
	_, archived, err := f.repo.FindArchive(ctx, "FR-failed")
	require.NoError(t, err)
	assert.False(t, archived)
}

func TestPruningAppliesBothRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.setClock(baseTime.Add(-100 * day))
	f.seedSubmission(t, 1, "FR-live", enums.SubmissionStatusInReview)
	f.seedSubmission(t, 1, "FR-done", enums.SubmissionStatusPublished)
	appendAt := func(externalID string, eventType enums.SubmissionEventType) {
		_, err := f.repo.AppendEvent(ctx, externalID, eventType, nil)
		require.NoError(t, err)
	}
	appendAt("FR-live", enums.SubmissionEventError)
	appendAt("FR-live", enums.SubmissionEventStatusChanged)
	appendAt("FR-done", enums.SubmissionEventPublished)

	f.setClock(baseTime.Add(-5 * day))
	appendAt("FR-live", enums.SubmissionEventError)
	appendAt("FR-done", enums.SubmissionEventStatusChanged)

	report, err := newTestSweeper(t, f, 0).RunPruning(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, PruneReport{ErrorEvents: 1, TerminalEvents: 1}, report)

	assert.Equal(t, []enums.SubmissionEventType{
		enums.SubmissionEventStatusChanged,
		enums.SubmissionEventError,
	}, f.eventTypes(t, "FR-live"))
	assert.Equal(t, []enums.SubmissionEventType{
		enums.SubmissionEventStatusChanged,
	}, f.eventTypes(t, "FR-done"))

	again, err := newTestSweeper(t, f, 0).RunPruning(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, PruneReport{}, again)
}

// failingPrune breaks one retention rule to show the other still runs.
type failingPrune struct {
	submissions.Repository
}

func (failingPrune) DeleteEventsByTypeBefore(context.Context, enums.SubmissionEventType, time.Time) (int64, error) {
	return 0, pkgerrors.Wrap(pkgerrors.CodeStorage, errors.New("disk full"), "prune events by type")
}

func TestPruningRulesAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.setClock(baseTime.Add(-100 * day))
	f.seedSubmission(t, 1, "FR-done", enums.SubmissionStatusRejected)
	_, err := f.repo.AppendEvent(ctx, "FR-done", enums.SubmissionEventRejected, nil)
	require.NoError(t, err)

	s, err := NewSweeper(SweeperParams{Repository: failingPrune{f.repo}, Logger: f.logg})
	require.NoError(t, err)

	report, err := s.RunPruning(ctx, baseTime)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStorage))
	assert.Equal(t, int64(1), report.TerminalEvents)

	var remaining int64
	require.NoError(t, f.conn.Model(&models.SubmissionEvent{}).Count(&remaining).Error)
	assert.Zero(t, remaining)
}
