package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/sorn-tracker/api/responses"
	"github.com/angelmondragon/sorn-tracker/api/validators"
	"github.com/angelmondragon/sorn-tracker/internal/notifications"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/pagination"
)

// ListNotices serves the admin inbox, newest first. Query: limit, cursor,
// unreadOnly, kind (info|error), submissionId.
func ListNotices(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notices service unavailable"))
			return
		}
		params, err := noticeListParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}

func noticeListParams(r *http.Request) (notifications.ListParams, error) {
	var (
		params notifications.ListParams
		kind   string
		err    error
	)
	if params.Limit, err = validators.ParseQueryInt(r, "limit", 0, 1, pagination.MaxLimit); err != nil {
		return params, err
	}
	if params.Cursor, err = validators.ParseQueryString(r, "cursor", 512); err != nil {
		return params, err
	}
	if params.UnreadOnly, err = validators.ParseQueryBool(r, "unreadOnly"); err != nil {
		return params, err
	}
	if kind, err = validators.ParseQueryString(r, "kind", 20); err != nil {
		return params, err
	}
	params.Kind = enums.AdminNoticeKind(strings.ToLower(kind))
	if params.SubmissionID, err = validators.ParseQueryString(r, "submissionId", 100); err != nil {
		return params, err
	}
	return params, nil
}

// MarkNoticeRead marks one notice as read.
func MarkNoticeRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseID(chi.URLParam(r, "noticeId"), "noticeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.MarkRead(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"read": true})
	}
}

// MarkAllNoticesRead marks every unread notice as read.
func MarkAllNoticesRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		updated, err := svc.MarkAllRead(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": updated})
	}
}
