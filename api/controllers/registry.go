package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/sorn-tracker/api/responses"
	"github.com/angelmondragon/sorn-tracker/api/validators"
	"github.com/angelmondragon/sorn-tracker/internal/fedreg"
	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
	"github.com/angelmondragon/sorn-tracker/pkg/logger"
	"github.com/angelmondragon/sorn-tracker/pkg/pagination"
)

const maxSearchAgencies = 10

// RegistryBrowser is the read-only side of the Federal Register client.
type RegistryBrowser interface {
	Search(ctx context.Context, criteria fedreg.SearchCriteria) (*fedreg.SearchResults, error)
	ListAgencies(ctx context.Context) ([]fedreg.Agency, error)
}

// ListAgencies proxies the registry's agency list, used to fill the agency
// filter of the document search.
func ListAgencies(registry RegistryBrowser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agencies, err := registry.ListAgencies(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, agencies)
	}
}

// SearchDocuments searches published notices. Query: term, agency
// (repeatable), type, publishedFrom, publishedTo, page, perPage.
func SearchDocuments(registry RegistryBrowser, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		criteria, err := searchCriteria(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		results, err := registry.Search(r.Context(), criteria)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, results)
	}
}

func searchCriteria(r *http.Request) (fedreg.SearchCriteria, error) {
	var (
		c   fedreg.SearchCriteria
		err error
	)
	if c.Term, err = validators.ParseQueryString(r, "term", 200); err != nil {
		return c, err
	}
	if c.Type, err = validators.ParseQueryString(r, "type", 20); err != nil {
		return c, err
	}
	c.Type = strings.ToUpper(c.Type)
	for _, raw := range r.URL.Query()["agency"] {
		slug := strings.TrimSpace(raw)
		if slug == "" {
			continue
		}
		if len(slug) > 100 || len(c.Agencies) == maxSearchAgencies {
			return c, pkgerrors.New(pkgerrors.CodeValidation, "too many or too long agency filters").
				WithDetails(map[string]any{"field": "agency", "max": maxSearchAgencies})
		}
		c.Agencies = append(c.Agencies, slug)
	}
	if c.PublishedFrom, err = validators.ParseQueryDate(r, "publishedFrom"); err != nil {
		return c, err
	}
	if c.PublishedTo, err = validators.ParseQueryDate(r, "publishedTo"); err != nil {
		return c, err
	}
	if c.PublishedFrom != nil && c.PublishedTo != nil && c.PublishedTo.Before(*c.PublishedFrom) {
		return c, pkgerrors.New(pkgerrors.CodeValidation, "publishedTo must not be before publishedFrom")
	}
	if c.Page, err = validators.ParseQueryInt(r, "page", 1, 1, 10000); err != nil {
		return c, err
	}
	if c.PerPage, err = validators.ParseQueryInt(r, "perPage", pagination.DefaultLimit, 1, pagination.MaxLimit); err != nil {
		return c, err
	}
	return c, nil
}
