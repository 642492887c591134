package lifecycle

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/sorn-tracker/internal/events"
	"github.com/angelmondragon/sorn-tracker/internal/fedreg"
	"github.com/angelmondragon/sorn-tracker/internal/repo/testdb"
	"github.com/angelmondragon/sorn-tracker/internal/sorns"
	"github.com/angelmondragon/sorn-tracker/internal/submissions"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/outbox"
)

type fakeRegistry struct {
	mu        sync.Mutex
	statuses  map[string]fedreg.StatusResult
	statusErr map[string]error
	submitID  string
	submitErr error
	submitted []fedreg.SubmitPayload
	lookups   []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		statuses:  map[string]fedreg.StatusResult{},
		statusErr: map[string]error{},
	}
}

func (f *fakeRegistry) Submit(_ context.Context, payload fedreg.SubmitPayload) (*fedreg.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, payload)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &fedreg.SubmitResult{SubmissionID: f.submitID, Status: "submitted"}, nil
}

func (f *fakeRegistry) GetStatus(_ context.Context, id string) (*fedreg.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, id)
	if err := f.statusErr[id]; err != nil {
		return nil, err
	}
	result := f.statuses[id]
	return &result, nil
}

func (f *fakeRegistry) GetDocument(context.Context, string) (*fedreg.Document, error) {
	return &fedreg.Document{}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind())
	}
	return out
}

type failingRecorder struct{ err error }

func (r failingRecorder) Record(context.Context, *gorm.DB, ...events.Event) error { return r.err }

type fixture struct {
	conn     *gorm.DB
	outbox   events.Recorder
	outboxDB *outbox.Repository
	repo     submissions.Repository
	sorns    sorns.Repository
	registry *fakeRegistry
	pub      *recordingPublisher
	logg     *logger.Logger
	clock    *time.Time
}

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := testdb.New(t)
	clock := baseTime
	f := &fixture{
		conn:     conn,
		sorns:    sorns.NewRepository(conn),
		registry: newFakeRegistry(),
		pub:      &recordingPublisher{},
		logg:     logger.New(logger.Options{ServiceName: "lifecycle-test", Output: &bytes.Buffer{}}),
		clock:    &clock,
	}
	f.repo = submissions.NewRepository(conn, submissions.WithClock(func() time.Time { return *f.clock }))
	f.outboxDB = outbox.NewRepository(conn)
	recorder, err := events.NewOutboxRecorder(outbox.NewService(f.outboxDB, nil))
	require.NoError(t, err)
	f.outbox = recorder
	return f
}

func (f *fixture) setClock(t time.Time) { *f.clock = t }

func (f *fixture) seedSorn(t *testing.T, title string) models.Sorn {
	t.Helper()
	sorn := models.Sorn{
		Title:    title,
		Content:  "content",
		AgencyID: "dhs",
		Metadata: datatypes.JSONMap{"purpose": "to track things"},
	}
	require.NoError(t, f.conn.Create(&sorn).Error)
	return sorn
}

func (f *fixture) seedSubmission(t *testing.T, sornID uint64, externalID string, status enums.SubmissionStatus) *models.Submission {
	t.Helper()
	sub, err := f.repo.Create(context.Background(), sornID, externalID, status)
	require.NoError(t, err)
	return sub
}

func (f *fixture) eventTypes(t *testing.T, externalID string) []enums.SubmissionEventType {
	t.Helper()
	evs, err := f.repo.CollectEvents(context.Background(), externalID)
	require.NoError(t, err)
	out := make([]enums.SubmissionEventType, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.EventType)
	}
	return out
}

func (f *fixture) outboxTypes(t *testing.T, aggregateID string) []enums.OutboxEventType {
	t.Helper()
	rows, err := f.outboxDB.ListByAggregate(context.Background(), aggregateID)
	require.NoError(t, err)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func strPtr(s string) *string { return &s }
