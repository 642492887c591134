package controllers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/sorn-tracker/api/responses"
	"github.com/angelmondragon/sorn-tracker/api/validators"
	"github.com/angelmondragon/sorn-tracker/internal/submissions"
	"github.com/angelmondragon/sorn-tracker/pkg/enums"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
)

const maxSearchLen = 200

type createSubmissionRequest struct {
	SornID uint64 `json:"sorn_id" validate:"required"`
}

type bulkRequest struct {
	IDs []uint64 `json:"ids" validate:"required,min=1,max=500,dive,required"`
}

// bulkResponse keys results by id as JSON object keys.
type bulkResponse struct {
	Results   map[string]submissions.Result `json:"results"`
	Succeeded int                           `json:"succeeded"`
	Failed    int                           `json:"failed"`
}

// ListSubmissions returns one filtered page of submissions.
func ListSubmissions(svc submissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func parseFilter(r *http.Request) (submissions.Filter, error) {
	var filter submissions.Filter
	var err error
	q := r.URL.Query()

	if filter.Page, err = validators.ParseQueryInt(r, "page", 1, 1, 100000); err != nil {
		return filter, err
	}
	if filter.PerPage, err = validators.ParseQueryInt(r, "per_page", 20, 1, 100); err != nil {
		return filter, err
	}
	if filter.SornID, err = validators.ParseQueryUint(r, "sorn_id"); err != nil {
		return filter, err
	}
	if filter.From, err = validators.ParseQueryDate(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = validators.ParseQueryDate(r, "to"); err != nil {
		return filter, err
	}
	filter.Status = enums.SubmissionStatus(validators.SanitizeString(q.Get("status"), 50))
	filter.Search = validators.SanitizeString(q.Get("search"), maxSearchLen)
	filter.OrderBy = validators.SanitizeString(q.Get("orderby"), 50)
	filter.Order = validators.SanitizeString(q.Get("order"), 4)
	return filter, nil
}

// GetSubmission returns a submission with its event history.
func GetSubmission(svc submissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseID(chi.URLParam(r, "submissionId"), "submissionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		detail, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, detail)
	}
}

// CreateSubmission submits a SORN to the Federal Register now.
func CreateSubmission(svc submissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSubmissionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.SubmitNow(r.Context(), req.SornID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, sub)
	}
}

// RetrySubmission resubmits one failed submission.
func RetrySubmission(svc submissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseID(chi.URLParam(r, "submissionId"), "submissionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.Retry(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// BulkRetry retries every listed submission and reports per id.
func BulkRetry(svc submissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toBulkResponse(svc.BulkRetry(r.Context(), req.IDs)))
	}
}

// BulkArchive archives every listed submission and reports per id.
func BulkArchive(svc submissions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toBulkResponse(svc.BulkArchive(r.Context(), req.IDs)))
	}
}

// BulkExport returns the listed submissions as a CSV attachment.
func BulkExport(svc submissions.Service, logg *logger.Logger, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bulkRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var buf bytes.Buffer
		if err := svc.ExportCSV(r.Context(), req.IDs, &buf); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filename := fmt.Sprintf("federal-register-export-%s.csv", now().UTC().Format("2006-01-02-150405"))
		responses.WriteCSV(w, filename, buf.Bytes())
	}
}

func toBulkResponse(results map[uint64]submissions.Result) bulkResponse {
	out := bulkResponse{Results: make(map[string]submissions.Result, len(results))}
	for id, res := range results {
		out.Results[strconv.FormatUint(id, 10)] = res
		if res.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	return out
}
