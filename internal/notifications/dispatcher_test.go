package notifications

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/sorn-tracker/internal/events"
	"github.com/angelmondragon/sorn-tracker/internal/fedreg"
	"github.com/angelmondragon/sorn-tracker/internal/repo/testdb"
	"github.com/angelmondragon/sorn-tracker/internal/sorns"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/metrics"
)

type fakeDirectory struct {
	admins []string
	author map[uint64]string
	prefs  map[string]Preferences
	err    error
}

func (f *fakeDirectory) Administrators(context.Context) ([]string, error) {
	return f.admins, f.err
}

func (f *fakeDirectory) SornAuthor(_ context.Context, sornID uint64) (string, bool, error) {
	email, ok := f.author[sornID]
	return email, ok, nil
}

func (f *fakeDirectory) Preferences(_ context.Context, email string) (Preferences, error) {
	if p, ok := f.prefs[email]; ok {
		return p, nil
	}
	return AllPreferences(), nil
}

type recordingChannel struct {
	name     string
	messages []Message
	err      error
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Deliver(_ context.Context, msg Message) error {
	c.messages = append(c.messages, msg)
	return c.err
}

type fakeDocuments struct {
	doc *fedreg.Document
	err error
}

func (f *fakeDocuments) GetDocument(context.Context, string) (*fedreg.Document, error) {
	return f.doc, f.err
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	directory  *fakeDirectory
	notice     *recordingChannel
	slack      *recordingChannel
	sender     *fakeSender
	registry   *prometheus.Registry
	sorn       models.Sorn
}

func newDispatcherFixture(t *testing.T, docs documentFetcher) *dispatcherFixture {
	t.Helper()
	conn := testdb.New(t)
	sorn := models.Sorn{Title: "Payroll Records", Content: "c"}
	require.NoError(t, conn.Create(&sorn).Error)

	f := &dispatcherFixture{
		directory: &fakeDirectory{
			admins: []string{"admin@agency.gov"},
			author: map[uint64]string{sorn.ID: "Author@agency.gov"},
			prefs:  map[string]Preferences{},
		},
		notice:   &recordingChannel{name: "admin_notice"},
		slack:    &recordingChannel{name: "slack"},
		sender:   &fakeSender{},
		registry: prometheus.NewRegistry(),
		sorn:     sorn,
	}
	d, err := NewDispatcher(DispatcherParams{
		Directory:        f.directory,
		Sorns:            sorns.NewRepository(conn),
		Documents:        docs,
		Channels:         []Channel{NewEmailChannel(f.sender, "SORN Manager", "no-reply@agency.gov"), f.notice, f.slack},
		Logger:           logger.New(logger.Options{ServiceName: "notifications-test", Output: &bytes.Buffer{}}),
		Metrics:          metrics.NewDeliveryMetrics(f.registry),
		AdminEnabled:     true,
		CustomRecipients: []string{"ADMIN@agency.gov", "ops@agency.gov"},
		BaseURL:          "https://sorn.example/",
	})
	require.NoError(t, err)
	f.dispatcher = d
	return f
}

func (f *dispatcherFixture) submission(status enums.SubmissionStatus) models.Submission {
	return models.Submission{
		ID:           7,
		SornID:       f.sorn.ID,
		SubmissionID: "FR-2025-7",
		Status:       status,
		SubmittedAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDispatcherSubmissionCreated(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	sub := f.submission(enums.SubmissionStatusSubmitted)

	require.NoError(t, f.dispatcher.Handle(context.Background(), events.SubmissionCreated{
		Envelope: events.NewEnvelope(sub, sub.SubmittedAt),
	}))

	require.Len(t, f.notice.messages, 1)
	msg := f.notice.messages[0]
	assert.Equal(t, enums.NotificationKindSubmission, msg.Kind)
	assert.Equal(t, "[SORN Manager] SORN Submission Received - Payroll Records", msg.Subject)
	assert.Contains(t, msg.Body, "Submission ID: FR-2025-7")
	assert.Contains(t, msg.Body, "Status: Submitted")
	assert.Contains(t, msg.Body, "Submitted: March 1, 2025")
	assert.Contains(t, msg.Body, "View Details: https://sorn.example/api/v1/submissions/7")
	assert.Equal(t, []string{"admin@agency.gov", "author@agency.gov", "ops@agency.gov"}, msg.Recipients)
	assert.Len(t, f.sender.sent, 3)
	assert.Len(t, f.slack.messages, 1)
}

func TestDispatcherFiltersRecipientsByPreference(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.directory.prefs["author@agency.gov"] = Preferences{Errors: true}
	f.directory.prefs["ops@agency.gov"] = Preferences{}
	sub := f.submission(enums.SubmissionStatusInReview)

	require.NoError(t, f.dispatcher.Handle(context.Background(), events.StatusChanged{
		Envelope: events.NewEnvelope(sub, sub.SubmittedAt.Add(time.Hour)),
		Old:      enums.SubmissionStatusSubmitted,
		New:      enums.SubmissionStatusInReview,
	}))

	require.Len(t, f.notice.messages, 1)
	assert.Equal(t, []string{"admin@agency.gov"}, f.notice.messages[0].Recipients)
	assert.Equal(t, "[SORN Manager] SORN Under Review - Payroll Records", f.notice.messages[0].Subject)
}

func TestDispatcherSkipsEmailWithoutRecipients(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	for _, email := range []string{"admin@agency.gov", "author@agency.gov", "ops@agency.gov"} {
		f.directory.prefs[email] = Preferences{}
	}
	sub := f.submission(enums.SubmissionStatusSubmitted)

	require.NoError(t, f.dispatcher.Handle(context.Background(), events.SubmissionCreated{
		Envelope: events.NewEnvelope(sub, sub.SubmittedAt),
	}))

	assert.Empty(t, f.sender.sent)
	assert.Len(t, f.notice.messages, 1)
	assert.Len(t, f.slack.messages, 1)
}

func TestDispatcherStatusTemplates(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	sub := f.submission(enums.SubmissionStatusRejected)

	require.NoError(t, f.dispatcher.Handle(context.Background(), events.StatusChanged{
		Envelope: events.NewEnvelope(sub, sub.SubmittedAt),
		Old:      enums.SubmissionStatusInReview,
		New:      enums.SubmissionStatusRejected,
		Message:  "missing routine uses",
	}))
	sub.Status = enums.SubmissionStatusChangesRequested
	require.NoError(t, f.dispatcher.Handle(context.Background(), events.StatusChanged{
		Envelope: events.NewEnvelope(sub, sub.SubmittedAt),
		Old:      enums.SubmissionStatusInReview,
		New:      enums.SubmissionStatusChangesRequested,
	}))

	require.Len(t, f.notice.messages, 2)
	assert.Contains(t, f.notice.messages[0].Subject, "Rejected")
	assert.Contains(t, f.notice.messages[0].Body, "Reason: missing routine uses")
	assert.Contains(t, f.notice.messages[1].Subject, "Status Update")
	assert.Equal(t, enums.NotificationKindStatus, f.notice.messages[1].Kind)
}

func TestDispatcherSkipsStatusChangesCoveredByDedicatedEvents(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	for _, status := range []enums.SubmissionStatus{enums.SubmissionStatusPublished, enums.SubmissionStatusError} {
		sub := f.submission(status)
		require.NoError(t, f.dispatcher.Handle(context.Background(), events.StatusChanged{
			Envelope: events.NewEnvelope(sub, sub.SubmittedAt),
			Old:      enums.SubmissionStatusInReview,
			New:      status,
		}))
	}
	assert.Empty(t, f.notice.messages)
	assert.Empty(t, f.sender.sent)
}

func TestDispatcherPublishedEnrichesFromRegistry(t *testing.T) {
	f := newDispatcherFixture(t, &fakeDocuments{doc: &fedreg.Document{
		HTMLURL:     "https://www.federalregister.gov/documents/2025/03/05/2025-01234/payroll",
		PDFURL:      "https://www.govinfo.gov/2025-01234.pdf",
		EffectiveOn: "2025-04-04",
	}})
	f.dispatcher.templates["published"] = Template{Subject: "{sorn_title}", Body: "{document_url} {pdf_url} {effective_date} {published_date}"}

	doc := "2025-01234"
	published := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	sub := f.submission(enums.SubmissionStatusPublished)
	sub.DocumentNumber = &doc
	sub.PublishedAt = &published

	require.NoError(t, f.dispatcher.Handle(context.Background(), events.Published{
		Envelope:       events.NewEnvelope(sub, published),
		DocumentNumber: doc,
	}))

	require.Len(t, f.notice.messages, 1)
	msg := f.notice.messages[0]
	assert.Equal(t, enums.NotificationKindPublication, msg.Kind)
	assert.Equal(t, "https://www.federalregister.gov/documents/2025/03/05/2025-01234/payroll https://www.govinfo.gov/2025-01234.pdf April 4, 2025 March 5, 2025", msg.Body)
}

func TestDispatcherPublishedFallsBackToDefaultDocumentURL(t *testing.T) {
	f := newDispatcherFixture(t, &fakeDocuments{err: errors.New("registry down")})

	doc := "2025-01234"
	published := time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)
	sub := f.submission(enums.SubmissionStatusPublished)
	sub.DocumentNumber = &doc
	sub.PublishedAt = &published

	require.NoError(t, f.dispatcher.Handle(context.Background(), events.Published{
		Envelope:       events.NewEnvelope(sub, published),
		DocumentNumber: doc,
	}))

	require.Len(t, f.notice.messages, 1)
	assert.Contains(t, f.notice.messages[0].Body, "View in Federal Register: https://www.federalregister.gov/d/2025-01234")
	assert.Contains(t, f.notice.messages[0].Body, "Document Number: 2025-01234")
}

func TestDispatcherChannelsAreIndependent(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.notice.err = errors.New("db locked")
	f.sender.failTo = "admin@agency.gov"
	sub := f.submission(enums.SubmissionStatusError)

	require.NoError(t, f.dispatcher.Handle(context.Background(), events.Error{
		Envelope: events.NewEnvelope(sub, sub.SubmittedAt),
		Message:  "registry timeout",
	}))

	require.Len(t, f.slack.messages, 1)
	assert.Equal(t, enums.NotificationKindError, f.slack.messages[0].Kind)
	assert.Contains(t, f.slack.messages[0].Body, "Error: registry timeout")
	assert.Len(t, f.sender.sent, 3)

	count, err := testutil.GatherAndCount(f.registry, "sorn_notifications_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestDispatcherUnknownSornAndAdminsDisabled(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.dispatcher.admins = false
	f.dispatcher.custom = nil
	sub := f.submission(enums.SubmissionStatusSubmitted)
	sub.SornID = 4242

	require.NoError(t, f.dispatcher.Handle(context.Background(), events.SubmissionCreated{
		Envelope: events.NewEnvelope(sub, sub.SubmittedAt),
	}))

	require.Len(t, f.notice.messages, 1)
	assert.Contains(t, f.notice.messages[0].Subject, "Unknown SORN")
	assert.Empty(t, f.notice.messages[0].Recipients)
	assert.Empty(t, f.sender.sent)
}

func TestDispatcherStillNotifiesWhenDirectoryFails(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.directory.err = errors.New("config unavailable")
	sub := f.submission(enums.SubmissionStatusSubmitted)

	err := f.dispatcher.Handle(context.Background(), events.SubmissionCreated{
		Envelope: events.NewEnvelope(sub, sub.SubmittedAt),
	})
	require.ErrorContains(t, err, "config unavailable")

	require.Len(t, f.notice.messages, 1)
	assert.Empty(t, f.notice.messages[0].Recipients)
	assert.Contains(t, f.notice.messages[0].Subject, "Payroll Records")
	assert.Len(t, f.slack.messages, 1)
	assert.Empty(t, f.sender.sent, "email needs recipients")
}

type failingSorns struct {
	sorns.Repository
}

func (failingSorns) Get(context.Context, uint64) (*models.Sorn, bool, error) {
	return nil, false, errors.New("sorns table locked")
}

func TestDispatcherFallsBackToUnknownTitleWhenSornLookupFails(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.dispatcher.sorns = failingSorns{}
	sub := f.submission(enums.SubmissionStatusSubmitted)

	err := f.dispatcher.Handle(context.Background(), events.SubmissionCreated{
		Envelope: events.NewEnvelope(sub, sub.SubmittedAt),
	})
	require.ErrorContains(t, err, "sorns table locked")

	require.Len(t, f.notice.messages, 1)
	assert.Contains(t, f.notice.messages[0].Subject, "Unknown SORN")
	assert.Len(t, f.slack.messages, 1)
	assert.NotEmpty(t, f.sender.sent)
}

func TestNewDispatcherValidatesDependencies(t *testing.T) {
	_, err := NewDispatcher(DispatcherParams{})
	assert.Error(t, err)
}
