package idempotency

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/onnwee/caregov/internal/middleware"
)

type harness struct {
	handler http.Handler
	calls   atomic.Int32
	failed  error
}

// newHarness wraps a handler that answers with status and counts its calls.
func newHarness(status int) *harness {
	h := &harness{}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := h.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"call":%d}`, n)
	})
	fail := func(w http.ResponseWriter, r *http.Request, err error) {
		h.failed = err
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	h.handler = Middleware(NewInMemoryStore(), fail, nil)(next)
	return h
}

func (h *harness) post(path, user, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	if user != "" {
		req = req.WithContext(middleware.SetActor(req.Context(), middleware.Actor{UserID: user, OrganisationID: "org-1"}))
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	h := newHarness(http.StatusCreated)

	first := h.post("/teams", "u1", "key-1", `{"name":"North"}`)
	second := h.post("/teams", "u1", "key-1", `{"name":"North"}`)

	if h.calls.Load() != 1 {
		t.Errorf("handler calls = %d, want 1", h.calls.Load())
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("replay = (%d, %s), want (%d, %s)", second.Code, second.Body.String(), first.Code, first.Body.String())
	}
	if second.Header().Get(HeaderReplayed) != "true" {
		t.Errorf("replay missing %s header", HeaderReplayed)
	}
	if got := second.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("replay Content-Type = %q", got)
	}
}

func TestMiddleware_KeysAreScopedToActor(t *testing.T) {
	h := newHarness(http.StatusCreated)

	h.post("/teams", "u1", "key-1", `{}`)
	h.post("/teams", "u2", "key-1", `{}`)

	if h.calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", h.calls.Load())
	}
}

func TestMiddleware_RejectsReusedKey(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"different body", "/teams", `{"name":"South"}`},
		{"different path", "/team-types", `{"name":"North"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(http.StatusCreated)
			h.post("/teams", "u1", "key-1", `{"name":"North"}`)

			w := h.post(tt.path, "u1", "key-1", tt.body)
			if w.Code != http.StatusUnprocessableEntity || !errors.Is(h.failed, ErrKeyReused) {
				t.Errorf("status = %d, failure = %v, want ErrKeyReused", w.Code, h.failed)
			}
			if h.calls.Load() != 1 {
				t.Errorf("handler calls = %d, want 1", h.calls.Load())
			}
		})
	}
}

func TestMiddleware_ErrorResponsesAreNotStored(t *testing.T) {
	h := newHarness(http.StatusConflict)

	h.post("/approvals/r1/approve", "u1", "key-1", "")
	h.post("/approvals/r1/approve", "u1", "key-1", "")

	if h.calls.Load() != 2 {
		t.Errorf("handler calls = %d, want 2", h.calls.Load())
	}
}

func TestMiddleware_PassThrough(t *testing.T) {
	tests := []struct {
		name string
		user string
		key  string
	}{
		{"no key", "u1", ""},
		{"no actor", "", "key-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(http.StatusCreated)
			h.post("/teams", tt.user, tt.key, `{}`)
			h.post("/teams", tt.user, tt.key, `{}`)
			if h.calls.Load() != 2 {
				t.Errorf("handler calls = %d, want 2", h.calls.Load())
			}
		})
	}
}

func TestMiddleware_InvalidKey(t *testing.T) {
	h := newHarness(http.StatusCreated)

	h.post("/teams", "u1", strings.Repeat("k", MaxKeyLength+1), `{}`)

	if !errors.Is(h.failed, ErrKeyTooLong) {
		t.Errorf("failure = %v, want ErrKeyTooLong", h.failed)
	}
	if h.calls.Load() != 0 {
		t.Errorf("handler calls = %d, want 0", h.calls.Load())
	}
}
