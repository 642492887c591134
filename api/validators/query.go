package validators

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
)

// Query helpers return ("", zero, nil) for an absent parameter and a
// CodeValidation error naming the field for a malformed one.

func queryValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

func invalidField(message, field string, extra map[string]any) *pkgerrors.Error {
	details := map[string]any{"field": field}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, message).WithDetails(details)
}

// ParseQueryInt returns defaultVal when key is absent and rejects values
// outside [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidField("query parameter must be numeric", key, nil)
	}
	if value < min || value > max {
		return 0, invalidField("query parameter out of range", key, map[string]any{"min": min, "max": max})
	}
	return value, nil
}

func ParseQueryUint(r *http.Request, key string) (uint64, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalidField("query parameter must be a positive integer", key, nil)
	}
	return value, nil
}

// ParseQueryBool accepts the strconv.ParseBool spellings.
func ParseQueryBool(r *http.Request, key string) (bool, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalidField("query parameter must be a boolean", key, nil)
	}
	return value, nil
}

// ParseQueryDate accepts YYYY-MM-DD or RFC3339 and returns UTC.
func ParseQueryDate(r *http.Request, key string) (*time.Time, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, invalidField("query parameter must be a date", key, nil)
}

// ParseQueryString returns the trimmed value, rejecting anything longer
// than maxLen.
func ParseQueryString(r *http.Request, key string, maxLen int) (string, error) {
	raw := queryValue(r, key)
	if len(raw) > maxLen {
		return "", invalidField("query parameter too long", key, map[string]any{"max": maxLen})
	}
	return raw, nil
}

// ParseID parses a positive numeric path parameter.
func ParseID(raw, field string) (uint64, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || value == 0 {
		return 0, invalidField("invalid id", field, nil)
	}
	return value, nil
}
