package submissions

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/angelmondragon/sorn-tracker/internal/events"
	"github.com/angelmondragon/sorn-tracker/internal/fedreg"
	"github.com/angelmondragon/sorn-tracker/internal/sorns"
	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/pagination"
)

const (
	defaultDateFormat = "January 2, 2006"
	timeOfDayFormat   = "3:04 pm"
	notAvailable      = "N/A"
	sornDeleted       = "SORN Deleted"
)

var exportHeader = []string{
	"Submission ID",
	"SORN Title",
	"Status",
	"Document Number",
	"Submitted Date",
	"Published Date",
	"Last Event",
	"Last Event Date",
}

type submitter interface {
	Submit(ctx context.Context, payload fedreg.SubmitPayload) (*fedreg.SubmitResult, error)
}

type retrier interface {
	RetryOne(ctx context.Context, id uint64) (*models.Submission, error)
}

type archiver interface {
	ArchiveOne(ctx context.Context, id uint64, now time.Time) error
}

// Service is the query and command surface behind the admin API.
type Service interface {
	List(ctx context.Context, filter Filter) (*Page, error)
	Get(ctx context.Context, id uint64) (*Detail, error)
	SubmitNow(ctx context.Context, sornID uint64) (*models.Submission, error)
	Retry(ctx context.Context, id uint64) (*models.Submission, error)
	BulkRetry(ctx context.Context, ids []uint64) map[uint64]Result
	BulkArchive(ctx context.Context, ids []uint64) map[uint64]Result
	ExportCSV(ctx context.Context, ids []uint64, w io.Writer) error
}

// ServiceParams wires a Service. Retrier and Archiver are the lifecycle
// engines. Publisher and Outbox may be nil.
type ServiceParams struct {
	Repository Repository
	Sorns      sorns.Repository
	Registry   submitter
	Retrier    retrier
	Archiver   archiver
	Publisher  events.Publisher
	Outbox     events.Recorder
	Logger     *logger.Logger
	DateFormat string
	Now        func() time.Time
}

type service struct {
	repo       Repository
	sorns      sorns.Repository
	registry   submitter
	retrier    retrier
	archiver   archiver
	publisher  events.Publisher
	outbox     events.Recorder
	logg       *logger.Logger
	dateFormat string
	now        func() time.Time
}

// Page is one page of the submission listing.
type Page struct {
	Items []Row `json:"items"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// EventView is an event with its human-readable message.
type EventView struct {
	ID        uint64                    `json:"id"`
	Type      enums.SubmissionEventType `json:"event_type"`
	Message   string                    `json:"message"`
	Data      map[string]any            `json:"event_data"`
	CreatedAt time.Time                 `json:"created_at"`
}

// Detail is a submission with its SORN title and full history, oldest
// first.
type Detail struct {
	Submission models.Submission `json:"submission"`
	SornTitle  *string           `json:"sorn_title"`
	Events     []EventView       `json:"events"`
}

// Result reports the outcome of one item in a bulk command.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("submissions repository required")
	}
	if params.Sorns == nil {
		return nil, fmt.Errorf("sorns repository required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	if params.Retrier == nil {
		return nil, fmt.Errorf("retrier required")
	}
	if params.Archiver == nil {
		return nil, fmt.Errorf("archiver required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	svc := &service{
		repo:       params.Repository,
		sorns:      params.Sorns,
		registry:   params.Registry,
		retrier:    params.Retrier,
		archiver:   params.Archiver,
		publisher:  params.Publisher,
		outbox:     events.RecorderOrDiscard(params.Outbox),
		logg:       params.Logger,
		dateFormat: params.DateFormat,
		now:        params.Now,
	}
	if svc.publisher == nil {
		svc.publisher = events.Discard
	}
	if svc.dateFormat == "" {
		svc.dateFormat = defaultDateFormat
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

func (s *service) List(ctx context.Context, filter Filter) (*Page, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid status %q", filter.Status))
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must not be after to")
	}
	rows, total, err := s.repo.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Row{}
	}
	return &Page{Items: rows, Total: total, Pages: pagination.TotalPages(total, filter.PerPage)}, nil
}

func (s *service) Get(ctx context.Context, id uint64) (*Detail, error) {
	sub, found, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "submission not found")
	}

	detail := &Detail{Submission: *sub, Events: []EventView{}}
	sorn, found, err := s.sorns.Get(ctx, sub.SornID)
	if err != nil {
		return nil, err
	}
	if found {
		detail.SornTitle = &sorn.Title
	}

	for event, err := range s.repo.ListEvents(ctx, sub.SubmissionID) {
		if err != nil {
			return nil, err
		}
		data := decodeEventData(event.EventData)
		detail.Events = append(detail.Events, EventView{
			ID:        event.ID,
			Type:      event.EventType,
			Message:   EventMessage(event.EventType, data, detail.SornTitle),
			Data:      data,
			CreatedAt: event.CreatedAt,
		})
	}
	return detail, nil
}

func (s *service) SubmitNow(ctx context.Context, sornID uint64) (*models.Submission, error) {
	if sornID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sorn_id is required")
	}
	ctx = s.logg.WithSornID(ctx, sornID)

	sorn, found, err := s.sorns.Get(ctx, sornID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sorn not found")
	}

	now := s.now().UTC()
	result, err := s.registry.Submit(ctx, fedreg.BuildSubmitPayload(*sorn, now))
	if err != nil {
		s.logg.Error(ctx, "federal register submit failed", err)
		return nil, err
	}

	var (
		created  *models.Submission
		accepted events.SubmissionCreated
	)
	err = s.repo.InTx(ctx, func(tx Repository) error {
		sub, err := tx.Create(ctx, sornID, result.SubmissionID, enums.SubmissionStatusSubmitted)
		if err != nil {
			return err
		}
		if _, err := tx.AppendEvent(ctx, result.SubmissionID, enums.SubmissionEventSubmitted, map[string]any{
			"submission_id": result.SubmissionID,
			"remote_status": result.Status,
		}); err != nil {
			return err
		}
		created = sub
		accepted = events.SubmissionCreated{Envelope: events.NewEnvelope(*sub, now)}
		return s.outbox.Record(ctx, tx.Conn(ctx), accepted)
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "submission_id", result.SubmissionID), "record accepted submission failed", err)
		return nil, err
	}

	s.publisher.Publish(ctx, accepted)
	s.logg.Info(s.logg.WithSubmission(ctx, created.ID, created.SubmissionID), "submission created")
	return created, nil
}

func (s *service) Retry(ctx context.Context, id uint64) (*models.Submission, error) {
	return s.retrier.RetryOne(ctx, id)
}

func (s *service) BulkRetry(ctx context.Context, ids []uint64) map[uint64]Result {
	results := make(map[uint64]Result, len(ids))
	for _, id := range ids {
		if _, err := s.retrier.RetryOne(ctx, id); err != nil {
			results[id] = Result{Message: pkgerrors.MessageOf(err)}
			continue
		}
		results[id] = Result{Success: true, Message: "Submission queued for retry"}
	}
	return results
}

func (s *service) BulkArchive(ctx context.Context, ids []uint64) map[uint64]Result {
	results := make(map[uint64]Result, len(ids))
	now := s.now().UTC()
	for _, id := range ids {
		if err := s.archiver.ArchiveOne(ctx, id, now); err != nil {
			results[id] = Result{Message: pkgerrors.MessageOf(err)}
			continue
		}
		results[id] = Result{Success: true, Message: "Submission archived successfully"}
	}
	return results
}

// ExportCSV writes one row per existing submission in ids order. Unknown
// ids are skipped.
func (s *service) ExportCSV(ctx context.Context, ids []uint64, w io.Writer) error {
	found, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[uint64]models.Submission, len(found))
	sornIDs := make([]uint64, 0, len(found))
	for _, sub := range found {
		byID[sub.ID] = sub
		sornIDs = append(sornIDs, sub.SornID)
	}
	titles, err := s.sorns.GetMany(ctx, sornIDs)
	if err != nil {
		return err
	}

	out := csv.NewWriter(w)
	if err := out.Write(exportHeader); err != nil {
		return fmt.Errorf("write export header: %w", err)
	}
	for _, id := range ids {
		sub, ok := byID[id]
		if !ok {
			continue
		}
		last, hasLast, err := s.repo.LatestEvent(ctx, sub.SubmissionID)
		if err != nil {
			return err
		}
		if err := out.Write(s.exportRow(sub, titles, last, hasLast)); err != nil {
			return fmt.Errorf("write export row: %w", err)
		}
	}
	out.Flush()
	return out.Error()
}

func (s *service) exportRow(sub models.Submission, titles map[uint64]models.Sorn, last *models.SubmissionEvent, hasLast bool) []string {
	title := sornDeleted
	if sorn, ok := titles[sub.SornID]; ok {
		title = sorn.Title
	}
	doc := notAvailable
	if sub.DocumentNumber != nil && *sub.DocumentNumber != "" {
		doc = *sub.DocumentNumber
	}
	published := notAvailable
	if sub.PublishedAt != nil {
		published = sub.PublishedAt.UTC().Format(s.dateFormat)
	}
	lastType, lastDate := notAvailable, notAvailable
	if hasLast {
		lastType = string(last.EventType)
		lastDate = last.CreatedAt.UTC().Format(s.dateFormat + " " + timeOfDayFormat)
	}
	return []string{
		sub.SubmissionID,
		title,
		string(sub.Status),
		doc,
		sub.SubmittedAt.UTC().Format(s.dateFormat),
		published,
		lastType,
		lastDate,
	}
}
