package fedreg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/sorn-tracker/pkg/config"
	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
)

const (
	DefaultBaseURL              = "https://www.federalregister.gov/api/v1"
	defaultReadTimeout          = 30 * time.Second
	defaultSubmitTimeout        = 60 * time.Second
	defaultSearchPerPage        = 20
	responseBodyReadLimit int64 = 1024
	userAgent                   = "sorn-tracker/1.0"
)

// Registry is the surface the lifecycle engines depend on.
type Registry interface {
	Submit(ctx context.Context, payload SubmitPayload) (*SubmitResult, error)
	GetStatus(ctx context.Context, submissionID string) (*StatusResult, error)
	GetDocument(ctx context.Context, documentNumber string) (*Document, error)
}

// APIError describes a failed exchange with the Federal Register. A zero
// StatusCode means the request never produced a response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("federal register request failed: %s", e.Message)
	}
	return fmt.Sprintf("federal register request failed with status %d: %s", e.StatusCode, e.Message)
}

// HTTPStatus is the status code the registry answered with, 0 when the
// request never got a response.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Client talks to the Federal Register REST API. It never retries.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	keyInHeader   bool
	readTimeout   time.Duration
	submitTimeout time.Duration
	limiter       *rate.Limiter
	validate      *payloadValidator
}

var _ Registry = (*Client)(nil)

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the API root.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimSpace(baseURL); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithAPIKey sets the key and where it is sent.
func WithAPIKey(key, mode string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
		c.keyInHeader = strings.EqualFold(strings.TrimSpace(mode), config.APIKeyModeHeader)
	}
}

// WithTimeouts sets the per-request deadlines for reads and submissions.
func WithTimeouts(read, submit time.Duration) Option {
	return func(c *Client) {
		if read > 0 {
			c.readTimeout = read
		}
		if submit > 0 {
			c.submitTimeout = submit
		}
	}
}

// WithRateLimit throttles outgoing requests. perSecond <= 0 disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewClient builds a registry client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient:    &http.Client{},
		baseURL:       DefaultBaseURL,
		readTimeout:   defaultReadTimeout,
		submitTimeout: defaultSubmitTimeout,
		validate:      newPayloadValidator(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// NewClientFromConfig wires the client from environment configuration.
func NewClientFromConfig(cfg config.FederalRegisterConfig, opts ...Option) *Client {
	base := []Option{
		WithBaseURL(cfg.BaseURL),
		WithAPIKey(cfg.APIKey, cfg.APIKeyMode),
		WithTimeouts(cfg.ReadTimeout, cfg.SubmitTimeout),
		WithRateLimit(cfg.RatePerSecond, cfg.RateBurst),
	}
	return NewClient(append(base, opts...)...)
}

// Submit posts a new document and returns the registry's receipt.
func (c *Client) Submit(ctx context.Context, payload SubmitPayload) (*SubmitResult, error) {
	if err := c.validate.check(payload); err != nil {
		return nil, err
	}

	var resp struct {
		SubmissionID   string  `json:"submission_id"`
		Status         string  `json:"status"`
		DocumentNumber *string `json:"document_number"`
	}
	if err := c.do(ctx, c.submitTimeout, http.MethodPost, "/documents", nil, payload, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.SubmissionID) == "" {
		return nil, registryError(&APIError{StatusCode: http.StatusOK, Message: "response missing submission_id"})
	}

	status := resp.Status
	if strings.TrimSpace(status) == "" {
		status = "submitted"
	}
	return &SubmitResult{
		SubmissionID:   resp.SubmissionID,
		Status:         status,
		DocumentNumber: resp.DocumentNumber,
	}, nil
}

// GetStatus fetches the remote state of a submission.
func (c *Client) GetStatus(ctx context.Context, submissionID string) (*StatusResult, error) {
	trimmed := strings.TrimSpace(submissionID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "submission id is required")
	}

	var resp StatusResult
	path := "/documents/submissions/" + url.PathEscape(trimmed)
	if err := c.do(ctx, c.readTimeout, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDocument fetches a published document.
func (c *Client) GetDocument(ctx context.Context, documentNumber string) (*Document, error) {
	trimmed := strings.TrimSpace(documentNumber)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "document number is required")
	}

	var doc Document
	if err := c.do(ctx, c.readTimeout, http.MethodGet, "/documents/"+url.PathEscape(trimmed), nil, nil, &doc); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "document not found")
		}
		return nil, err
	}
	return &doc, nil
}

// Search queries published notices.
func (c *Client) Search(ctx context.Context, criteria SearchCriteria) (*SearchResults, error) {
	var results SearchResults
	if err := c.do(ctx, c.readTimeout, http.MethodGet, "/documents", criteria.values(), nil, &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// ListAgencies returns the agencies the registry knows about.
func (c *Client) ListAgencies(ctx context.Context) ([]Agency, error) {
	var agencies []Agency
	if err := c.do(ctx, c.readTimeout, http.MethodGet, "/agencies", nil, nil, &agencies); err != nil {
		return nil, err
	}
	return agencies, nil
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, query url.Values, body, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "federal register client not configured")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return registryError(&APIError{Message: err.Error()})
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if query == nil {
		query = url.Values{}
	}
	if c.apiKey != "" && !c.keyInHeader {
		query.Set("api_key", c.apiKey)
	}
	endpoint := strings.TrimRight(c.baseURL, "/") + path
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "marshal federal register request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build federal register request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" && c.keyInHeader {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return registryError(&APIError{Message: err.Error()})
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return registryError(&APIError{StatusCode: resp.StatusCode, Message: remoteMessage(resp, msg)})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return registryError(&APIError{StatusCode: resp.StatusCode, Message: "invalid JSON response: " + err.Error()})
	}
	return nil
}

// remoteMessage prefers the API's own error text over the raw body.
func remoteMessage(resp *http.Response, body []byte) string {
	var envelope struct {
		Message string   `json:"message"`
		Errors  []string `json:"errors"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if len(envelope.Errors) > 0 {
			return strings.Join(envelope.Errors, "; ")
		}
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		return trimmed
	}
	return http.StatusText(resp.StatusCode)
}

func registryError(apiErr *APIError) error {
	return pkgerrors.Wrap(pkgerrors.CodeRegistry, apiErr, apiErr.Error()).
		WithDetails(map[string]any{"status": apiErr.StatusCode})
}

func (s SearchCriteria) values() url.Values {
	v := url.Values{}
	docType := s.Type
	if docType == "" {
		docType = "NOTICE"
	}
	v.Add("conditions[type][]", docType)
	for _, agency := range s.Agencies {
		if trimmed := strings.TrimSpace(agency); trimmed != "" {
			v.Add("conditions[agencies][]", trimmed)
		}
	}
	if term := strings.TrimSpace(s.Term); term != "" {
		v.Set("conditions[term]", term)
	}
	if s.PublishedFrom != nil {
		v.Set("conditions[publication_date][gte]", s.PublishedFrom.Format(time.DateOnly))
	}
	if s.PublishedTo != nil {
		v.Set("conditions[publication_date][lte]", s.PublishedTo.Format(time.DateOnly))
	}
	perPage := s.PerPage
	if perPage <= 0 {
		perPage = defaultSearchPerPage
	}
	page := s.Page
	if page <= 0 {
		page = 1
	}
	v.Set("per_page", strconv.Itoa(perPage))
	v.Set("page", strconv.Itoa(page))
	v.Set("order", "newest")
	return v
}
