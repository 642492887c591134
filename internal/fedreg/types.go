package fedreg

import "time"

// SubmitResult is the registry receipt for a new submission.
type SubmitResult struct {
	SubmissionID   string
	Status         string
	DocumentNumber *string
}

// StatusResult is the remote view of a submission. Status stays raw; callers
// map it onto the local lifecycle.
type StatusResult struct {
	Status          string  `json:"status"`
	DocumentNumber  *string `json:"document_number"`
	PublicationDate *string `json:"publication_date"`
	Message         string  `json:"message"`
}

// Document is a published Federal Register document.
type Document struct {
	DocumentNumber  string `json:"document_number"`
	Title           string `json:"title"`
	Type            string `json:"type"`
	Abstract        string `json:"abstract"`
	HTMLURL         string `json:"html_url"`
	PDFURL          string `json:"pdf_url"`
	PublicationDate string `json:"publication_date"`
	EffectiveOn     string `json:"effective_on"`
}

// SearchCriteria narrows a document search. Zero values fall back to
// NOTICE documents, page 1, 20 per page.
type SearchCriteria struct {
	Type          string
	Agencies      []string
	Term          string
	PublishedFrom *time.Time
	PublishedTo   *time.Time
	PerPage       int
	Page          int
}

type SearchResults struct {
	Count      int        `json:"count"`
	TotalPages int        `json:"total_pages"`
	Results    []Document `json:"results"`
}

type Agency struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
	Slug      string `json:"slug"`
	URL       string `json:"url"`
}
