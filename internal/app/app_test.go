package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/angelmondragon/sorn-tracker/internal/fedreg"
	"github.com/angelmondragon/sorn-tracker/internal/notifications"
	"github.com/angelmondragon/sorn-tracker/internal/repo/testdb"
	"github.com/angelmondragon/sorn-tracker/pkg/config"
	"github.com/angelmondragon/sorn-tracker/pkg/db"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", BaseURL: "https://sorn.example"},
		Notifications: config.NotificationsConfig{
			EmailEnabled: true,
			AdminEnabled: true,
			SiteName:     "SORN Manager",
		},
	}
}

func TestBuildWiresSubscribersAndChannels(t *testing.T) {
	cfg := testConfig()
	cfg.Notifications.SlackWebhookURL = "https://hooks.slack.com/services/T/B/X"

	c, err := Build(cfg, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), db.NewFromConn(testdb.New(t)), prometheus.NewRegistry(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{subscriberNotifications}, c.Bus.Subscribers())
	// no sendgrid key, so email is left out
	assert.Equal(t, []string{"admin_notice", "slack"}, c.Channels)
	assert.NotNil(t, c.Reconciler)
	assert.NotNil(t, c.Retry)
	assert.NotNil(t, c.Sweeper)
}

func TestBuildRequiresDependencies(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	_, err := Build(nil, logg, db.NewFromConn(testdb.New(t)), nil, Options{})
	assert.Error(t, err)
	_, err = Build(testConfig(), nil, db.NewFromConn(testdb.New(t)), nil, Options{})
	assert.Error(t, err)
	_, err = Build(testConfig(), logg, nil, nil, Options{})
	assert.Error(t, err)
}

func TestBuildRejectsBadTemplatesFile(t *testing.T) {
	cfg := testConfig()
	cfg.Notifications.TemplatesFile = "/does/not/exist.yaml"
	_, err := Build(cfg, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), db.NewFromConn(testdb.New(t)), nil, Options{})
	assert.Error(t, err)
}

func TestSubmitNowFlowsToOutboxAndNotices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/documents" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"submission_id": "FR-100", "status": "submitted"})
	}))
	defer server.Close()

	conn := testdb.New(t)
	author := "author@agency.gov"
	sorn := models.Sorn{
		Title:       "Employee Payroll Records",
		AgencyID:    "DOE",
		Excerpt:     "Payroll data for employees.",
		AuthorEmail: &author,
		Metadata:    datatypes.JSONMap{"background": "<p>Existing system.</p>"},
	}
	require.NoError(t, conn.Create(&sorn).Error)

	c, err := Build(testConfig(), logger.New(logger.Options{ServiceName: "test", Output: io.Discard}), db.NewFromConn(conn), nil, Options{
		Registry: fedreg.NewClient(fedreg.WithBaseURL(server.URL), fedreg.WithHTTPClient(server.Client())),
	})
	require.NoError(t, err)

	ctx := context.Background()
	sub, err := c.Service.SubmitNow(ctx, sorn.ID)
	require.NoError(t, err)
	assert.Equal(t, "FR-100", sub.SubmissionID)
	assert.Equal(t, enums.SubmissionStatusSubmitted, sub.Status)

	rows, err := c.Outbox.ListByAggregate(ctx, "FR-100")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventSubmissionCreated, rows[0].EventType)

	notices, err := c.Notices.List(ctx, notifications.ListParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, notices.Items, 1)
	assert.Contains(t, notices.Items[0].Title, "Employee Payroll Records")
}
