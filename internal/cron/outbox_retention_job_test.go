package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/sorn-tracker/internal/repo/testdb"
	"github.com/angelmondragon/sorn-tracker/pkg/db"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/outbox"
)

func TestOutboxRetentionJobUsesCutoff(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{}
	job := newOutboxRetentionJob(t, outboxRetentionTxRunner{}, repo)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, repo.lastCutoff.Equal(now.Add(-defaultOutboxRetention)))
	assert.Equal(t, 1, repo.called)
	assert.Equal(t, "outbox-retention", job.Name())
}

func TestOutboxRetentionJobTrimsDLQ(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{}
	dlq := &fakeDLQRetentionRepo{}
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:           outboxRetentionTxRunner{},
		Repository:   repo,
		DLQ:          dlq,
		Retention:    48 * time.Hour,
		DLQRetention: 10 * 24 * time.Hour,
	})
	require.NoError(t, err)
	job := jobIface.(*outboxRetentionJob)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, repo.lastCutoff.Equal(now.Add(-48*time.Hour)))
	assert.True(t, dlq.lastCutoff.Equal(now.Add(-10*24*time.Hour)))

	dlq.err = errors.New("dlq locked")
	assert.ErrorContains(t, job.Run(context.Background()), "dlq locked")
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{err: errors.New("boom")}
	job := newOutboxRetentionJob(t, outboxRetentionTxRunner{}, repo)
	assert.Error(t, job.Run(context.Background()))
}

func TestOutboxRetentionJobDeletesRelayedRows(t *testing.T) {
	conn := testdb.New(t)
	client := db.NewFromConn(conn)
	repo := outbox.NewRepository(conn)

	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	old := now.Add(-30 * 24 * time.Hour)
	recent := now.Add(-time.Hour)
	for i, publishedAt := range []*time.Time{&old, &recent, nil} {
		require.NoError(t, repo.Insert(conn, models.OutboxEvent{
			EventType:     enums.EventSubmissionCreated,
			AggregateType: enums.AggregateSubmission,
			AggregateID:   []string{"FR-old", "FR-recent", "FR-pending"}[i],
			Payload:       []byte(`{}`),
			PublishedAt:   publishedAt,
		}))
	}

	job := newOutboxRetentionJob(t, client, repo)
	job.now = func() time.Time { return now }
	require.NoError(t, job.Run(context.Background()))

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Order("aggregate_id").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	assert.Equal(t, "FR-pending", remaining[0].AggregateID)
	assert.Equal(t, "FR-recent", remaining[1].AggregateID)
}

func TestNewOutboxRetentionJobRequiresDependencies(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{DB: outboxRetentionTxRunner{}, Repository: &fakeOutboxRetentionRepo{}})
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logg, Repository: &fakeOutboxRetentionRepo{}})
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logg, DB: outboxRetentionTxRunner{}})
	assert.Error(t, err)
}

func newOutboxRetentionJob(t *testing.T, runner txRunner, repo outboxRetentionRepo) *outboxRetentionJob {
	t.Helper()
	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:         runner,
		Repository: repo,
	})
	require.NoError(t, err)
	job, ok := jobIface.(*outboxRetentionJob)
	require.True(t, ok, "expected outboxRetentionJob, got %T", jobIface)
	return job
}

type fakeOutboxRetentionRepo struct {
	lastCutoff time.Time
	called     int
	err        error
}

func (f *fakeOutboxRetentionRepo) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

type fakeDLQRetentionRepo struct {
	lastCutoff time.Time
	err        error
}

func (f *fakeDLQRetentionRepo) DeleteFailedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.lastCutoff = cutoff
	return 1, f.err
}

type outboxRetentionTxRunner struct{}

func (outboxRetentionTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
