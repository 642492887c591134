package notifications

import (
	"context"
	"time"

	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
	"github.com/angelmondragon/sorn-tracker/pkg/pagination"
)

// Service is the admin inbox: the inline notices written by the dispatcher.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, noticeID uint64) error
	MarkAllRead(ctx context.Context) (int64, error)
}

// ListParams filters and pages the inbox. Zero values mean "any".
type ListParams struct {
	Limit        int
	Cursor       string
	UnreadOnly   bool
	Kind         enums.AdminNoticeKind
	SubmissionID string
}

// ListResult is one page of notices with the cursor for the next page and
// the total unread count across the whole inbox.
type ListResult struct {
	Items  []models.AdminNotice `json:"items"`
	Cursor string               `json:"cursor"`
	Unread int64                `json:"unread"`
}

type service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.Kind != "" && !params.Kind.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown notice kind").
			WithDetails(map[string]any{"kind": params.Kind})
	}
	query := listNoticesParams{
		Limit:        params.Limit,
		UnreadOnly:   params.UnreadOnly,
		Kind:         params.Kind,
		SubmissionID: params.SubmissionID,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, err
	}
	unread, err := s.repo.CountUnread(ctx)
	if err != nil {
		return nil, err
	}

	result := &ListResult{Items: rows, Unread: unread}
	if result.Items == nil {
		result.Items = []models.AdminNotice{}
	}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

// MarkRead is idempotent for a notice that is already read.
func (s *service) MarkRead(ctx context.Context, noticeID uint64) error {
	if noticeID == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "notice id required")
	}
	mark, err := s.repo.MarkRead(ctx, noticeID, s.now().UTC())
	switch {
	case err != nil:
		return err
	case !mark.Found:
		return pkgerrors.New(pkgerrors.CodeNotFound, "notice not found").
			WithDetails(map[string]any{"notice_id": noticeID})
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context) (int64, error) {
	return s.repo.MarkAllRead(ctx, s.now().UTC())
}
