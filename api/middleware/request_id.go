package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/angelmondragon/sorn-tracker/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	// Set by Cloud Run and Google front ends as TRACE_ID/SPAN_ID;o=1.
	cloudTraceHeader = "X-Cloud-Trace-Context"
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// RequestID tags each request with an id taken from X-Request-Id, then the
// Cloud trace id, and otherwise a fresh ULID. The id is echoed on the
// response, added to the log context and readable with chimw.GetReqID.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := inboundRequestID(r)
			w.Header().Set(requestIDHeader, reqID)

			ctx := context.WithValue(r.Context(), chimw.RequestIDKey, reqID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func inboundRequestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); requestIDPattern.MatchString(id) {
		return id
	}
	if trace, _, _ := strings.Cut(r.Header.Get(cloudTraceHeader), "/"); requestIDPattern.MatchString(trace) {
		return trace
	}
	return ulid.Make().String()
}
