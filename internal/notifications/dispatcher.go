package notifications

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/sorn-tracker/internal/events"
	"github.com/angelmondragon/sorn-tracker/internal/fedreg"
	"github.com/angelmondragon/sorn-tracker/internal/sorns"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/metrics"
)

const (
	documentURLPrefix = "https://www.federalregister.gov/d/"
	unknownSornTitle  = "Unknown SORN"
	defaultSiteName   = "SORN Manager"
	defaultDateFormat = "January 2, 2006"
)

type documentFetcher interface {
	GetDocument(ctx context.Context, documentNumber string) (*fedreg.Document, error)
}

// DispatcherParams wires a Dispatcher. Documents may be nil to skip
// publication enrichment.
type DispatcherParams struct {
	Directory        Directory
	Sorns            sorns.Repository
	Documents        documentFetcher
	Templates        Templates
	Channels         []Channel
	Logger           *logger.Logger
	Metrics          *metrics.DeliveryMetrics
	AdminEnabled     bool
	CustomRecipients []string
	SiteName         string
	DateFormat       string
	BaseURL          string
}

// Dispatcher turns lifecycle events into notifications on every configured
// channel.
type Dispatcher struct {
	directory  Directory
	sorns      sorns.Repository
	documents  documentFetcher
	templates  Templates
	channels   []Channel
	logg       *logger.Logger
	metrics    *metrics.DeliveryMetrics
	admins     bool
	custom     []string
	siteName   string
	dateFormat string
	baseURL    string
}

var _ events.Handler = (*Dispatcher)(nil)

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Directory == nil {
		return nil, fmt.Errorf("directory required")
	}
	if params.Sorns == nil {
		return nil, fmt.Errorf("sorns repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	d := &Dispatcher{
		directory:  params.Directory,
		sorns:      params.Sorns,
		documents:  params.Documents,
		templates:  params.Templates,
		logg:       params.Logger,
		metrics:    params.Metrics,
		admins:     params.AdminEnabled,
		custom:     params.CustomRecipients,
		siteName:   params.SiteName,
		dateFormat: params.DateFormat,
		baseURL:    strings.TrimRight(params.BaseURL, "/"),
	}
	for _, ch := range params.Channels {
		if ch != nil {
			d.channels = append(d.channels, ch)
		}
	}
	if d.templates == nil {
		d.templates = DefaultTemplates()
	}
	if d.siteName == "" {
		d.siteName = defaultSiteName
	}
	if d.dateFormat == "" {
		d.dateFormat = defaultDateFormat
	}
	return d, nil
}

// Handle renders and delivers one event. A failed directory or SORN lookup
// degrades to no email recipients or the unknown title; the other channels
// still get the message and the lookup error is returned afterwards.
// Channel failures are logged and counted only.
func (d *Dispatcher) Handle(ctx context.Context, event events.Event) error {
	kind, key, message, ok := classify(event)
	if !ok {
		return nil
	}
	env := event.Env()
	sub := env.Submission
	ctx = d.logg.WithSubmission(ctx, sub.ID, sub.SubmissionID)

	tpl, found := d.templates.Lookup(key)
	if !found {
		d.logg.Warn(d.logg.WithField(ctx, "template", key), "no notification template")
		return nil
	}

	var lookupErr error
	recipients, err := d.recipients(ctx, sub.SornID, kind)
	if err != nil {
		d.logg.Error(ctx, "resolve notification recipients failed", err)
		lookupErr = multierr.Append(lookupErr, err)
		recipients = nil
	}
	vars, err := d.variables(ctx, sub, env.OccurredAt, message)
	if err != nil {
		d.logg.Error(ctx, "load sorn for notification failed", err)
		lookupErr = multierr.Append(lookupErr, err)
	}
	if kind == enums.NotificationKindPublication {
		d.enrich(ctx, sub, vars)
	}

	subject, body := tpl.Render(vars)
	msg := Message{
		Kind:         kind,
		Subject:      subject,
		Body:         body,
		Recipients:   recipients,
		SubmissionID: sub.SubmissionID,
		Link:         vars["submission_url"],
		SiteName:     d.siteName,
	}
	d.deliver(ctx, msg)
	return lookupErr
}

// classify picks the notification kind and template for an event. Status
// changes into published or error are skipped because a dedicated event
// follows them.
func classify(event events.Event) (enums.NotificationKind, string, string, bool) {
	switch e := event.(type) {
	case events.SubmissionCreated:
		return enums.NotificationKindSubmission, TemplateSubmitted, "", true
	case events.StatusChanged:
		if e.New == enums.SubmissionStatusPublished || e.New == enums.SubmissionStatusError {
			return "", "", "", false
		}
		return enums.NotificationKindStatus, string(e.New), e.Message, true
	case events.Published:
		return enums.NotificationKindPublication, TemplatePublished, "", true
	case events.Error:
		return enums.NotificationKindError, TemplateError, e.Message, true
	default:
		return "", "", "", false
	}
}

func (d *Dispatcher) recipients(ctx context.Context, sornID uint64, kind enums.NotificationKind) ([]string, error) {
	var candidates []string
	if d.admins {
		admins, err := d.directory.Administrators(ctx)
		if err != nil {
			return nil, fmt.Errorf("load administrators: %w", err)
		}
		candidates = append(candidates, admins...)
	}
	author, found, err := d.directory.SornAuthor(ctx, sornID)
	if err != nil {
		return nil, fmt.Errorf("load sorn author: %w", err)
	}
	if found {
		candidates = append(candidates, author)
	}
	candidates = append(candidates, d.custom...)

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, raw := range candidates {
		email := normalizeEmail(raw)
		if email == "" {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		prefs, err := d.directory.Preferences(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("load preferences for %s: %w", email, err)
		}
		if prefs.Allows(kind) {
			out = append(out, email)
		}
	}
	return out, nil
}

// variables always returns a usable map; a failed SORN lookup falls back to
// the unknown title and is reported alongside it.
func (d *Dispatcher) variables(ctx context.Context, sub models.Submission, occurredAt time.Time, message string) (map[string]string, error) {
	title := unknownSornTitle
	sorn, found, lookupErr := d.sorns.Get(ctx, sub.SornID)
	if lookupErr != nil {
		lookupErr = fmt.Errorf("load sorn: %w", lookupErr)
	} else if found && sorn.Title != "" {
		title = sorn.Title
	}

	vars := map[string]string{
		"site_name":       d.siteName,
		"sorn_title":      title,
		"submission_id":   sub.SubmissionID,
		"document_number": "",
		"status":          sub.Status.Label(),
		"submitted_date":  d.formatDate(sub.SubmittedAt),
		"published_date":  "",
		"event_date":      d.formatDate(occurredAt),
		"event_message":   message,
		"document_url":    "",
		"submission_url":  d.submissionURL(sub.ID),
	}
	if sub.DocumentNumber != nil && *sub.DocumentNumber != "" {
		vars["document_number"] = *sub.DocumentNumber
		vars["document_url"] = documentURLPrefix + *sub.DocumentNumber
	}
	if sub.PublishedAt != nil {
		vars["published_date"] = d.formatDate(*sub.PublishedAt)
	}
	return vars, lookupErr
}

// enrich adds registry links for published documents. Failures keep the
// default document url.
func (d *Dispatcher) enrich(ctx context.Context, sub models.Submission, vars map[string]string) {
	vars["pdf_url"] = ""
	vars["effective_date"] = ""
	if d.documents == nil || sub.DocumentNumber == nil || *sub.DocumentNumber == "" {
		return
	}
	doc, err := d.documents.GetDocument(ctx, *sub.DocumentNumber)
	if err != nil {
		d.logg.Error(ctx, "fetch published document", err)
		return
	}
	if doc.HTMLURL != "" {
		vars["document_url"] = doc.HTMLURL
	}
	vars["pdf_url"] = doc.PDFURL
	if doc.EffectiveOn != "" {
		if t, err := time.Parse(time.DateOnly, doc.EffectiveOn); err == nil {
			vars["effective_date"] = d.formatDate(t)
		} else {
			vars["effective_date"] = doc.EffectiveOn
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) {
	for _, ch := range d.channels {
		if _, isEmail := ch.(*EmailChannel); isEmail && len(msg.Recipients) == 0 {
			continue
		}
		err := ch.Deliver(ctx, msg)
		d.metrics.IncNotification(ch.Name(), err == nil)
		if err != nil {
			d.logg.Error(d.logg.WithField(ctx, "channel", ch.Name()), "notification delivery failed", err)
		}
	}
}

func (d *Dispatcher) formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(d.dateFormat)
}

func (d *Dispatcher) submissionURL(id uint64) string {
	return d.baseURL + "/api/v1/submissions/" + strconv.FormatUint(id, 10)
}
