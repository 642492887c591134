package submissions

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/sorn-tracker/internal/repo/testdb"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time { return c.now }

func (c *stepClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRepo(t *testing.T) (Repository, *stepClock) {
	t.Helper()
	clock := &stepClock{now: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)}
	return NewRepository(testdb.New(t), WithClock(clock.Now)), clock
}

func TestCreateDefaultsToSubmitted(t *testing.T) {
	r, clock := newTestRepo(t)
	ctx := context.Background()

	sub, err := r.Create(ctx, 7, "FR-1", "")
	require.NoError(t, err)
	assert.NotZero(t, sub.ID)
	assert.Equal(t, enums.SubmissionStatusSubmitted, sub.Status)
	assert.True(t, sub.SubmittedAt.Equal(clock.now))

	got, found, err := r.FindByExternalID(ctx, "FR-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, uint64(7), got.SornID)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := r.Create(ctx, 1, "  ", "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = r.Create(ctx, 1, "FR-1", enums.SubmissionStatus("bogus"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestFindMissingReportsNotFound(t *testing.T) {
	r, _ := newTestRepo(t)

	sub, found, err := r.FindByID(context.Background(), 999)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, sub)
}

func TestUpdateStatusIsIdempotent(t *testing.T) {
	r, clock := newTestRepo(t)
	ctx := context.Background()
	sub, err := r.Create(ctx, 1, "FR-1", "")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	changed, err := r.UpdateStatus(ctx, sub.ID, StatusUpdate{Status: enums.SubmissionStatusInReview})
	require.NoError(t, err)
	assert.True(t, changed)

	first, _, err := r.FindByID(ctx, sub.ID)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	changed, err = r.UpdateStatus(ctx, sub.ID, StatusUpdate{Status: enums.SubmissionStatusInReview})
	require.NoError(t, err)
	assert.False(t, changed)

	second, _, err := r.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Status, second.Status)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
}

func TestUpdateStatusValidation(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	sub, err := r.Create(ctx, 1, "FR-1", "")
	require.NoError(t, err)

	_, err = r.UpdateStatus(ctx, sub.ID, StatusUpdate{Status: "nope"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	doc := "2025-00001"
	_, err = r.UpdateStatus(ctx, sub.ID, StatusUpdate{Status: enums.SubmissionStatusApproved, DocumentNumber: &doc})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = r.UpdateStatus(ctx, 12345, StatusUpdate{Status: enums.SubmissionStatusApproved})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateStatusPublishedSetsDocument(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	sub, err := r.Create(ctx, 1, "FR-1", "")
	require.NoError(t, err)

	doc := "2025-01234"
	published := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	changed, err := r.UpdateStatus(ctx, sub.ID, StatusUpdate{
		Status:         enums.SubmissionStatusPublished,
		DocumentNumber: &doc,
		PublishedAt:    &published,
	})
	require.NoError(t, err)
	assert.True(t, changed)

	got, _, err := r.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DocumentNumber)
	assert.Equal(t, doc, *got.DocumentNumber)
	require.NotNil(t, got.PublishedAt)
	assert.True(t, got.PublishedAt.Equal(published))
}

func TestCompareAndSetStatus(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	sub, err := r.Create(ctx, 1, "FR-1", "")
	require.NoError(t, err)

	ok, err := r.CompareAndSetStatus(ctx, sub.ID, enums.SubmissionStatusSubmitted, StatusUpdate{Status: enums.SubmissionStatusInReview})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.CompareAndSetStatus(ctx, sub.ID, enums.SubmissionStatusSubmitted, StatusUpdate{Status: enums.SubmissionStatusApproved})
	require.NoError(t, err)
	assert.False(t, ok)

	got, _, err := r.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SubmissionStatusInReview, got.Status)
}

func TestResubmitChangesExternalID(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	sub, err := r.Create(ctx, 1, "FR-1", enums.SubmissionStatusError)
	require.NoError(t, err)

	ok, err := r.Resubmit(ctx, sub.ID, enums.SubmissionStatusError, "FR-2")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _, err := r.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "FR-2", got.SubmissionID)
	assert.Equal(t, enums.SubmissionStatusSubmitted, got.Status)

	ok, err = r.Resubmit(ctx, sub.ID, enums.SubmissionStatusError, "FR-3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListEventsOrderedAcrossPages(t *testing.T) {
	clock := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewRepository(testdb.New(t), WithClock(clock.Now), WithEventPageSize(3))
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		// pairs share a timestamp so the id tiebreak is exercised
		if i%2 == 0 {
			clock.Advance(time.Second)
		}
		_, err := r.AppendEvent(ctx, "FR-1", enums.SubmissionEventStatusChanged, map[string]int{"n": i})
		require.NoError(t, err)
	}
	_, err := r.AppendEvent(ctx, "FR-other", enums.SubmissionEventError, nil)
	require.NoError(t, err)

	collect := func() []int {
		var out []int
		for ev, err := range r.ListEvents(ctx, "FR-1") {
			require.NoError(t, err)
			var body map[string]int
			require.NoError(t, json.Unmarshal(ev.EventData, &body))
			out = append(out, body["n"])
		}
		return out
	}

	want := []int{0, 1, 2, 3, 4, 5, 6, 7}
	assert.Equal(t, want, collect())
	assert.Equal(t, want, collect(), "sequence restarts from the beginning")
}

func TestListEventsStopsEarly(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := r.AppendEvent(ctx, "FR-1", enums.SubmissionEventStatusChanged, nil)
		require.NoError(t, err)
	}

	seen := 0
	for _, err := range r.ListEvents(ctx, "FR-1") {
		require.NoError(t, err)
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestAppendEventStoresEmptyObjectForNil(t *testing.T) {
	r, _ := newTestRepo(t)
	ev, err := r.AppendEvent(context.Background(), "FR-1", enums.SubmissionEventSubmitted, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(ev.EventData))

	_, err = r.AppendEvent(context.Background(), "", enums.SubmissionEventSubmitted, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestLatestEventAndCount(t *testing.T) {
	r, clock := newTestRepo(t)
	ctx := context.Background()

	_, found, err := r.LatestEvent(ctx, "FR-1")
	require.NoError(t, err)
	assert.False(t, found)

	for i := 0; i < 2; i++ {
		clock.Advance(time.Second)
		_, err := r.AppendEvent(ctx, "FR-1", enums.SubmissionEventRetryAttempted, map[string]int{"attempt": i + 1})
		require.NoError(t, err)
	}
	clock.Advance(time.Second)
	_, err = r.AppendEvent(ctx, "FR-1", enums.SubmissionEventError, map[string]string{"message": "boom"})
	require.NoError(t, err)

	latest, found, err := r.LatestEvent(ctx, "FR-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, enums.SubmissionEventError, latest.EventType)

	count, err := r.CountEventsByType(ctx, "FR-1", enums.SubmissionEventRetryAttempted)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestReassignEvents(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := r.AppendEvent(ctx, "FR-old", enums.SubmissionEventError, nil)
		require.NoError(t, err)
	}

	moved, err := r.ReassignEvents(ctx, "FR-old", "FR-new")
	require.NoError(t, err)
	assert.Equal(t, int64(3), moved)

	events, err := r.CollectEvents(ctx, "FR-new")
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = r.CollectEvents(ctx, "FR-old")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFindReconcileCandidates(t *testing.T) {
	r, clock := newTestRepo(t)
	ctx := context.Background()

	stale, err := r.Create(ctx, 1, "FR-stale", enums.SubmissionStatusInReview)
	require.NoError(t, err)
	_, err = r.Create(ctx, 1, "FR-done", enums.SubmissionStatusPublished)
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	_, err = r.Create(ctx, 1, "FR-fresh", enums.SubmissionStatusSubmitted)
	require.NoError(t, err)

	subs, err := r.FindReconcileCandidates(ctx, enums.ReconcilableStatuses, clock.now.Add(-5*time.Minute), 50)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, stale.ID, subs[0].ID)
}

func TestFindRetryCandidatesHonorsBound(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	fresh, err := r.Create(ctx, 1, "FR-fresh", enums.SubmissionStatusError)
	require.NoError(t, err)
	exhausted, err := r.Create(ctx, 1, "FR-exhausted", enums.SubmissionStatusError)
	require.NoError(t, err)
	_, err = r.Create(ctx, 1, "FR-ok", enums.SubmissionStatusSubmitted)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := r.AppendEvent(ctx, exhausted.SubmissionID, enums.SubmissionEventRetryAttempted, nil)
		require.NoError(t, err)
	}
	_, err = r.AppendEvent(ctx, fresh.SubmissionID, enums.SubmissionEventRetryAttempted, nil)
	require.NoError(t, err)

	subs, err := r.FindRetryCandidates(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, fresh.ID, subs[0].ID)
}

func TestCountAndArchivalCandidates(t *testing.T) {
	r, clock := newTestRepo(t)
	ctx := context.Background()

	old, err := r.Create(ctx, 1, "FR-old", enums.SubmissionStatusRejected)
	require.NoError(t, err)
	clock.Advance(100 * 24 * time.Hour)
	_, err = r.Create(ctx, 1, "FR-new", enums.SubmissionStatusPublished)
	require.NoError(t, err)
	_, err = r.Create(ctx, 1, "FR-err", enums.SubmissionStatusError)
	require.NoError(t, err)

	count, err := r.CountByStatuses(ctx, enums.TerminalStatuses)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	subs, err := r.FindArchivalCandidates(ctx, clock.now.Add(-90*24*time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, old.ID, subs[0].ID)
}

func TestPruneQueries(t *testing.T) {
	r, clock := newTestRepo(t)
	ctx := context.Background()

	_, err := r.Create(ctx, 1, "FR-pub", enums.SubmissionStatusPublished)
	require.NoError(t, err)
	_, err = r.Create(ctx, 1, "FR-live", enums.SubmissionStatusInReview)
	require.NoError(t, err)

	_, err = r.AppendEvent(ctx, "FR-pub", enums.SubmissionEventStatusChanged, nil)
	require.NoError(t, err)
	_, err = r.AppendEvent(ctx, "FR-live", enums.SubmissionEventStatusChanged, nil)
	require.NoError(t, err)
	_, err = r.AppendEvent(ctx, "FR-live", enums.SubmissionEventError, nil)
	require.NoError(t, err)

	clock.Advance(100 * 24 * time.Hour)
	_, err = r.AppendEvent(ctx, "FR-live", enums.SubmissionEventError, nil)
	require.NoError(t, err)

	removed, err := r.DeleteEventsByTypeBefore(ctx, enums.SubmissionEventError, clock.now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = r.DeleteEventsOfTerminalBefore(ctx, clock.now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	live, err := r.CollectEvents(ctx, "FR-live")
	require.NoError(t, err)
	assert.Len(t, live, 2)
	pub, err := r.CollectEvents(ctx, "FR-pub")
	require.NoError(t, err)
	assert.Empty(t, pub)
}

func TestArchiveSnapshotsThenDeletes(t *testing.T) {
	r, clock := newTestRepo(t)
	ctx := context.Background()

	sub, err := r.Create(ctx, 4, "FR-1", enums.SubmissionStatusPublished)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := r.AppendEvent(ctx, "FR-1", enums.SubmissionEventStatusChanged, map[string]int{"n": i})
		require.NoError(t, err)
	}
	events, err := r.CollectEvents(ctx, "FR-1")
	require.NoError(t, err)

	record, err := r.Archive(ctx, *sub, clock.now)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), record.SornID)

	_, found, err := r.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.False(t, found)
	left, err := r.CollectEvents(ctx, "FR-1")
	require.NoError(t, err)
	assert.Empty(t, left)

	stored, found, err := r.FindArchive(ctx, "FR-1")
	require.NoError(t, err)
	require.True(t, found)
	snap, err := DecodeArchive(*stored)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, snap.Submission.ID)
	require.Len(t, snap.Events, 3)
	for i, ev := range snap.Events {
		assert.Equal(t, events[i].ID, ev.ID)
	}
	assert.True(t, snap.ArchivedAt.Equal(clock.now))
}

func TestArchiveRollsBackWhenInsertFails(t *testing.T) {
	conn := testdb.New(t)
	r := NewRepository(conn)
	ctx := context.Background()

	sub, err := r.Create(ctx, 1, "FR-1", enums.SubmissionStatusPublished)
	require.NoError(t, err)
	_, err = r.AppendEvent(ctx, "FR-1", enums.SubmissionEventPublished, nil)
	require.NoError(t, err)

	require.NoError(t, conn.Migrator().DropTable(&models.SubmissionArchive{}))

	_, err = r.Archive(ctx, *sub, time.Now())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStorage))

	_, found, err := r.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.True(t, found, "submission must survive a failed archive")
	events, err := r.CollectEvents(ctx, "FR-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestArchiveRefusesSubmissionThatMoved(t *testing.T) {
	r, clock := newTestRepo(t)
	ctx := context.Background()

	sub, err := r.Create(ctx, 1, "FR-old", enums.SubmissionStatusError)
	require.NoError(t, err)
	_, err = r.AppendEvent(ctx, "FR-old", enums.SubmissionEventError, map[string]any{"message": "timeout"})
	require.NoError(t, err)
	stale := *sub

	ok, err := r.Resubmit(ctx, sub.ID, enums.SubmissionStatusError, "FR-new")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = r.ReassignEvents(ctx, "FR-old", "FR-new")
	require.NoError(t, err)

	_, err = r.Archive(ctx, stale, clock.now)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	live, found, err := r.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, enums.SubmissionStatusSubmitted, live.Status)
	assert.Equal(t, "FR-new", live.SubmissionID)
	events, err := r.CollectEvents(ctx, "FR-new")
	require.NoError(t, err)
	assert.Len(t, events, 1)
	for _, id := range []string{"FR-old", "FR-new"} {
		_, found, err := r.FindArchive(ctx, id)
		require.NoError(t, err)
		assert.False(t, found, id)
	}

	// same external id, different status
	other, err := r.Create(ctx, 1, "FR-2", enums.SubmissionStatusRejected)
	require.NoError(t, err)
	staleOther := *other
	moved, err := r.CompareAndSetStatus(ctx, other.ID, enums.SubmissionStatusRejected, StatusUpdate{Status: enums.SubmissionStatusSubmitted})
	require.NoError(t, err)
	require.True(t, moved)
	_, err = r.Archive(ctx, staleOther, clock.now)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestSearchFiltersAndJoinsTitle(t *testing.T) {
	conn := testdb.New(t)
	clock := &stepClock{now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}
	r := NewRepository(conn, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, conn.Create(&models.Sorn{ID: 1, Title: "Payroll Records", Content: "x"}).Error)
	require.NoError(t, conn.Create(&models.Sorn{ID: 2, Title: "Visitor Logs", Content: "x"}).Error)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Hour)
		_, err := r.Create(ctx, 1, fmt.Sprintf("PAY-%d", i), enums.SubmissionStatusInReview)
		require.NoError(t, err)
	}
	_, err := r.Create(ctx, 2, "VIS-1", enums.SubmissionStatusRejected)
	require.NoError(t, err)
	_, err = r.Create(ctx, 99, "ORPHAN-1", enums.SubmissionStatusError)
	require.NoError(t, err)

	rows, total, err := r.Search(ctx, Filter{Search: "payroll", PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, rows, 2)
	assert.Equal(t, "PAY-4", rows[0].SubmissionID)
	require.NotNil(t, rows[0].SornTitle)
	assert.Equal(t, "Payroll Records", *rows[0].SornTitle)

	rows, total, err = r.Search(ctx, Filter{Status: enums.SubmissionStatusError})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].SornTitle)

	rows, _, err = r.Search(ctx, Filter{SornID: 1, OrderBy: "submitted_at", Order: "asc", Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "PAY-2", rows[0].SubmissionID)
}
