package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type memoryIdempotencyStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryIdempotencyStore() *memoryIdempotencyStore {
	return &memoryIdempotencyStore{data: map[string]string{}}
}

func (m *memoryIdempotencyStore) IdempotencyKey(scope, key string) string {
	return "idem:" + scope + ":" + key
}

func (m *memoryIdempotencyStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryIdempotencyStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryIdempotencyStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryIdempotencyStore) DelIfValue(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[key] != value {
		return false, nil
	}
	delete(m.data, key)
	return true, nil
}

func postWithKey(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/submissions", strings.NewReader(body))
	if key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	calls := 0
	h := Idempotency(newMemoryIdempotencyStore(), nil, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":7}}`))
	}))

	first := postWithKey(h, "k-1", `{"sorn_id":3}`)
	second := postWithKey(h, "k-1", `{"sorn_id":3}`)

	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("replay mismatch: %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(replayedHeader) != "true" {
		t.Fatalf("expected replay header")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected stored content type, got %q", second.Header().Get("Content-Type"))
	}
}

func TestIdempotencyRejectsDifferentBody(t *testing.T) {
	h := Idempotency(newMemoryIdempotencyStore(), nil, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	postWithKey(h, "k-1", `{"sorn_id":3}`)
	if w := postWithKey(h, "k-1", `{"sorn_id":4}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused key, got %d", w.Code)
	}
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	store := newMemoryIdempotencyStore()
	var h http.Handler
	var inner *httptest.ResponseRecorder
	h = Idempotency(store, nil, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if inner == nil {
			inner = postWithKey(h, "k-1", `{}`)
		}
		w.WriteHeader(http.StatusOK)
	}))

	postWithKey(h, "k-1", `{}`)
	if inner == nil || inner.Code != http.StatusConflict {
		t.Fatalf("expected concurrent duplicate to get 409, got %+v", inner)
	}
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	store := newMemoryIdempotencyStore()
	status := http.StatusBadGateway
	calls := 0
	h := Idempotency(store, nil, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
	}))

	postWithKey(h, "k-1", `{}`)
	if len(store.data) != 0 {
		t.Fatalf("expected key released after 502, store=%v", store.data)
	}
	status = http.StatusOK
	if w := postWithKey(h, "k-1", `{}`); w.Code != http.StatusOK || calls != 2 {
		t.Fatalf("expected retry to reach handler, code=%d calls=%d", w.Code, calls)
	}
}

func TestIdempotencyPassesThroughWithoutKey(t *testing.T) {
	calls := 0
	h := Idempotency(newMemoryIdempotencyStore(), nil, time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))

	postWithKey(h, "", `{}`)
	postWithKey(h, "", `{}`)
	if calls != 2 {
		t.Fatalf("expected both requests to reach handler, got %d", calls)
	}
	if w := postWithKey(h, strings.Repeat("k", maxIdempotencyKeyLen+1), `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized key, got %d", w.Code)
	}
}
