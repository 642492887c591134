package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/sorn-tracker/internal/lifecycle"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
)

type fakeEngine struct {
	calls  []time.Time
	report lifecycle.Report
	err    error
}

func (f *fakeEngine) Run(_ context.Context, now time.Time) (lifecycle.Report, error) {
	f.calls = append(f.calls, now)
	return f.report, f.err
}

type fakeSweeper struct {
	archive  lifecycle.Report
	prune    lifecycle.PruneReport
	archived []time.Time
	pruned   []time.Time
	err      error
}

func (f *fakeSweeper) RunArchival(_ context.Context, now time.Time) (lifecycle.Report, error) {
	f.archived = append(f.archived, now)
	return f.archive, f.err
}

func (f *fakeSweeper) RunPruning(_ context.Context, now time.Time) (lifecycle.PruneReport, error) {
	f.pruned = append(f.pruned, now)
	return f.prune, f.err
}

func TestBatchJobsPassClockAndWrapErrors(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})
	now := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

	engine := &fakeEngine{report: lifecycle.Report{Examined: 3, Failed: 1}, err: errors.New("registry down")}
	job, err := newBatchJob(JobReconcile, BatchJobParams{Logger: logg, Engine: engine})
	require.NoError(t, err)
	job.now = func() time.Time { return now }

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 failed")
	assert.Contains(t, err.Error(), "registry down")
	require.Len(t, engine.calls, 1)
	assert.True(t, engine.calls[0].Equal(now))
	assert.Contains(t, buf.String(), `"job":"submission-reconcile"`)
	assert.Contains(t, buf.String(), `"examined":3`)
	assert.Contains(t, buf.String(), `"failed":1`)

	retry, err := NewRetryJob(BatchJobParams{Logger: logg, Engine: &fakeEngine{}})
	require.NoError(t, err)
	assert.Equal(t, JobRetry, retry.Name())
	assert.NoError(t, retry.Run(context.Background()))

	_, err = NewReconcileJob(BatchJobParams{Logger: logg})
	assert.Error(t, err)
}

func TestSweepJobs(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})
	sw := &fakeSweeper{
		archive: lifecycle.Report{Examined: 4, Transitioned: 4},
		prune:   lifecycle.PruneReport{ErrorEvents: 2, TerminalEvents: 5},
	}

	archive, err := NewArchiveJob(SweepJobParams{Logger: logg, Sweeper: sw})
	require.NoError(t, err)
	prune, err := NewPruneJob(SweepJobParams{Logger: logg, Sweeper: sw})
	require.NoError(t, err)

	require.NoError(t, archive.Run(context.Background()))
	require.NoError(t, prune.Run(context.Background()))
	assert.Len(t, sw.archived, 1)
	assert.Len(t, sw.pruned, 1)
	assert.Equal(t, JobArchive, archive.Name())
	assert.Equal(t, JobPrune, prune.Name())
	assert.Contains(t, buf.String(), `"archived":4`)
	assert.Contains(t, buf.String(), `"terminal_events":5`)

	sw.err = errors.New("boom")
	assert.Error(t, archive.Run(context.Background()))
	assert.Error(t, prune.Run(context.Background()))

	_, err = NewArchiveJob(SweepJobParams{Logger: logg})
	assert.Error(t, err)
	_, err = NewPruneJob(SweepJobParams{Sweeper: sw})
	assert.Error(t, err)
}
