// Package app assembles the submission lifecycle components shared by the
// api and cron-worker binaries.
package app

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/angelmondragon/sorn-tracker/internal/events"
	"github.com/angelmondragon/sorn-tracker/internal/fedreg"
	"github.com/angelmondragon/sorn-tracker/internal/lifecycle"
	"github.com/angelmondragon/sorn-tracker/internal/notifications"
	"github.com/angelmondragon/sorn-tracker/internal/sorns"
	"github.com/angelmondragon/sorn-tracker/internal/submissions"
	"github.com/angelmondragon/sorn-tracker/pkg/config"
	"github.com/angelmondragon/sorn-tracker/pkg/db"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/metrics"
	"github.com/angelmondragon/sorn-tracker/pkg/outbox"
)

const subscriberNotifications = "notifications"

// Components is everything a binary needs to drive or query submissions.
type Components struct {
	Bus         *events.Bus
	Registry    *fedreg.Client
	Submissions submissions.Repository
	Sorns       sorns.Repository
	Outbox      *outbox.Repository
	Reconciler  *lifecycle.Reconciler
	Retry       *lifecycle.RetryCoordinator
	Sweeper     *lifecycle.Sweeper
	Service     submissions.Service
	Notices     notifications.Service
	Dispatcher  *notifications.Dispatcher
	CronMetrics *metrics.CronJobMetrics
	Channels    []string
}

// Options override pieces of the default wiring, mainly for tests.
type Options struct {
	Registry   *fedreg.Client
	HTTPClient *http.Client
}

// Build wires repositories, engines, the event bus and its subscribers.
// Collectors are registered on reg, which may be nil.
func Build(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, reg prometheus.Registerer, opts Options) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if dbClient == nil {
		return nil, fmt.Errorf("database client required")
	}

	conn := dbClient.DB()
	lifecycleMetrics := metrics.NewLifecycleMetrics(reg)
	deliveryMetrics := metrics.NewDeliveryMetrics(reg)

	c := &Components{
		Bus:         events.NewBus(logg, deliveryMetrics),
		Registry:    opts.Registry,
		Submissions: submissions.NewRepository(conn),
		Sorns:       sorns.NewRepository(conn),
		Outbox:      outbox.NewRepository(conn),
		CronMetrics: metrics.NewCronJobMetrics(reg),
	}
	if c.Registry == nil {
		c.Registry = fedreg.NewClientFromConfig(cfg.FederalRegister)
	}

	// Outbox rows are written inside each state change's transaction; the
	// bus only feeds in-process subscribers.
	recorder, err := events.NewOutboxRecorder(outbox.NewService(c.Outbox, logg))
	if err != nil {
		return nil, fmt.Errorf("outbox recorder: %w", err)
	}

	noticeRepo := notifications.NewRepository(conn)
	if c.Notices, err = notifications.NewService(noticeRepo); err != nil {
		return nil, err
	}
	if c.Dispatcher, c.Channels, err = buildDispatcher(cfg, logg, c, conn, noticeRepo, deliveryMetrics, opts.HTTPClient); err != nil {
		return nil, err
	}
	c.Bus.Subscribe(subscriberNotifications, c.Dispatcher)

	lc := cfg.Lifecycle
	if c.Reconciler, err = lifecycle.NewReconciler(lifecycle.ReconcilerParams{
		Repository: c.Submissions,
		Registry:   c.Registry,
		Publisher:  c.Bus,
		Outbox:     recorder,
		Logger:     logg,
		Metrics:    lifecycleMetrics,
		Quiescence: lc.ReconcileQuiescence,
		BatchSize:  lc.ReconcileBatchSize,
	}); err != nil {
		return nil, fmt.Errorf("reconciler: %w", err)
	}
	if c.Retry, err = lifecycle.NewRetryCoordinator(lifecycle.RetryCoordinatorParams{
		Repository: c.Submissions,
		Sorns:      c.Sorns,
		Registry:   c.Registry,
		Publisher:  c.Bus,
		Outbox:     recorder,
		Logger:     logg,
		Metrics:    lifecycleMetrics,
		MaxRetries: lc.RetryMaxAttempts,
		BatchSize:  lc.RetryBatchSize,
	}); err != nil {
		return nil, fmt.Errorf("retry coordinator: %w", err)
	}
	if c.Sweeper, err = lifecycle.NewSweeper(lifecycle.SweeperParams{
		Repository:          c.Submissions,
		Logger:              logg,
		Metrics:             lifecycleMetrics,
		ArchiveThreshold:    lc.ArchiveThreshold,
		ArchiveRetention:    lc.ArchiveRetention,
		ArchiveBatchSize:    lc.ArchiveBatchSize,
		ErrorEventRetention: lc.ErrorEventRetention,
		TerminalRetention:   lc.TerminalRetention,
	}); err != nil {
		return nil, fmt.Errorf("sweeper: %w", err)
	}

	if c.Service, err = submissions.NewService(submissions.ServiceParams{
		Repository: c.Submissions,
		Sorns:      c.Sorns,
		Registry:   c.Registry,
		Retrier:    c.Retry,
		Archiver:   c.Sweeper,
		Publisher:  c.Bus,
		Outbox:     recorder,
		Logger:     logg,
		DateFormat: cfg.Notifications.DateFormat,
	}); err != nil {
		return nil, fmt.Errorf("submissions service: %w", err)
	}

	return c, nil
}

func buildDispatcher(
	cfg *config.Config,
	logg *logger.Logger,
	c *Components,
	conn *gorm.DB,
	noticeRepo notifications.Repository,
	m *metrics.DeliveryMetrics,
	httpClient *http.Client,
) (*notifications.Dispatcher, []string, error) {
	nc := cfg.Notifications

	templates, err := notifications.LoadTemplates(nc.TemplatesFile)
	if err != nil {
		return nil, nil, err
	}
	directory, err := notifications.NewStoreDirectory(nc.AdminEmails, c.Sorns, notifications.NewPreferenceRepository(conn))
	if err != nil {
		return nil, nil, err
	}

	var channels []notifications.Channel
	if nc.EmailEnabled {
		if email := notifications.NewSendGridChannel(cfg.Sendgrid.APIKey, nc.SiteName, nc.FromEmail); email != nil {
			channels = append(channels, email)
		}
	}
	if nc.AdminEnabled {
		notice, err := notifications.NewNoticeChannel(noticeRepo)
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, notice)
	}
	if nc.SlackWebhookURL != "" {
		channels = append(channels, notifications.NewSlackChannel(nc.SlackWebhookURL, httpClient, nc.WebhookTimeout))
	}
	if nc.TeamsWebhookURL != "" {
		channels = append(channels, notifications.NewTeamsChannel(nc.TeamsWebhookURL, httpClient, nc.WebhookTimeout))
	}

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}

	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherParams{
		Directory:        directory,
		Sorns:            c.Sorns,
		Documents:        c.Registry,
		Templates:        templates,
		Channels:         channels,
		Logger:           logg,
		Metrics:          m,
		AdminEnabled:     nc.AdminEnabled,
		CustomRecipients: nc.CustomRecipients,
		SiteName:         nc.SiteName,
		DateFormat:       nc.DateFormat,
		BaseURL:          cfg.App.BaseURL,
	})
	if err != nil {
		return nil, nil, err
	}
	return dispatcher, names, nil
}
