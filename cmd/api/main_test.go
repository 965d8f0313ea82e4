package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/caregov/internal/auth"
	"github.com/onnwee/caregov/internal/idempotency"
	"github.com/onnwee/caregov/internal/middleware"
)

const testSecret = "test-secret-with-enough-length-1234"

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(memoryStores(), appOptions{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		JWT:    auth.NewJWTService(testSecret, ""),
	})
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	return a
}

func bearer(t *testing.T, userID string, opts ...auth.TokenOption) string {
	t.Helper()
	token, err := auth.NewJWTService(testSecret, "").GenerateAccessToken(userID, "org-1", opts...)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	return "Bearer " + token
}

func TestApp_Probes(t *testing.T) {
	a := newTestApp(t)

	for _, path := range []string{"/health", "/ready"} {
		w := httptest.NewRecorder()
		a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
		}
		if w.Header().Get(middleware.RequestIDHeader) == "" {
			t.Errorf("GET %s missing %s header", path, middleware.RequestIDHeader)
		}
	}
}

func TestApp_RequiresBearerToken(t *testing.T) {
	a := newTestApp(t)

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/approvals/pending", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodGet, "/approvals/pending", nil)
	req.Header.Set("Authorization", bearer(t, "user-1"))
	w = httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d, want %d, body = %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestApp_AdminTokenCreatesTeamType(t *testing.T) {
	a := newTestApp(t)

	post := func(authz string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/team-types", bytes.NewBufferString(`{"name":"Region"}`))
		req.Header.Set("Authorization", authz)
		w := httptest.NewRecorder()
		a.handler.ServeHTTP(w, req)
		return w
	}

	if w := post(bearer(t, "user-1")); w.Code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want %d", w.Code, http.StatusForbidden)
	}
	w := post(bearer(t, "admin-1", auth.AsAdmin()))
	if w.Code != http.StatusCreated {
		t.Fatalf("admin status = %d, want %d, body = %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var created struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Name != "Region" {
		t.Errorf("created = %+v, want Region with an id", created)
	}
}

func TestApp_IdempotentCreate(t *testing.T) {
	a := newTestApp(t)
	authz := bearer(t, "admin-1", auth.AsAdmin())

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/team-roles", bytes.NewBufferString(body))
		req.Header.Set("Authorization", authz)
		req.Header.Set(idempotency.HeaderKey, "create-finance")
		w := httptest.NewRecorder()
		a.handler.ServeHTTP(w, req)
		return w
	}

	first := post(`{"name":"Finance","access_level":"team"}`)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, body = %s", first.Code, first.Body.String())
	}
	second := post(`{"name":"Finance","access_level":"team"}`)
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("retry = (%d, %s), want replay of (%d, %s)", second.Code, second.Body.String(), first.Code, first.Body.String())
	}
	if second.Header().Get(idempotency.HeaderReplayed) != "true" {
		t.Error("retry was not served from the idempotency store")
	}

	reused := post(`{"name":"Payroll","access_level":"team"}`)
	if reused.Code != http.StatusUnprocessableEntity {
		t.Errorf("reused key status = %d, want %d", reused.Code, http.StatusUnprocessableEntity)
	}
}

func TestApp_RoleLifecycle(t *testing.T) {
	a := newTestApp(t)
	authz := bearer(t, "admin-1", auth.AsAdmin())

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var rd io.Reader
		if body != "" {
			rd = bytes.NewBufferString(body)
		}
		req := httptest.NewRequest(method, path, rd)
		req.Header.Set("Authorization", authz)
		w := httptest.NewRecorder()
		a.handler.ServeHTTP(w, req)
		return w
	}
	create := func(path, body string) string {
		w := do(http.MethodPost, path, body)
		if w.Code != http.StatusCreated {
			t.Fatalf("POST %s status = %d, body = %s", path, w.Code, w.Body.String())
		}
		var out struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out.ID
	}

	teamID := create("/teams", `{"name":"Leeds"}`)
	finance := create("/team-roles", `{"name":"Finance","access_level":"team"}`)
	member := create("/team-roles", `{"name":"Member","access_level":"team"}`)
	create("/memberships", `{"user_id":"u1","team_id":"`+teamID+`","role_id":"`+finance+`"}`)
	held := create("/memberships", `{"user_id":"u1","team_id":"`+teamID+`","role_id":"`+member+`"}`)

	w := do(http.MethodGet, "/teams/"+teamID+"/memberships", "")
	var list struct {
		Memberships []struct {
			RoleID string `json:"role_id"`
		} `json:"memberships"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Memberships) != 2 {
		t.Errorf("team memberships = %+v, want Finance and Member for u1", list.Memberships)
	}

	if w := do(http.MethodDelete, "/team-roles/"+member, ""); w.Code != http.StatusConflict {
		t.Errorf("DELETE held role status = %d, want %d", w.Code, http.StatusConflict)
	}
	if w := do(http.MethodDelete, "/memberships/"+held, ""); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE membership status = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(http.MethodDelete, "/team-roles/"+member, ""); w.Code != http.StatusNoContent {
		t.Errorf("DELETE released role status = %d, want %d", w.Code, http.StatusNoContent)
	}
}

func TestApp_MetricsEndpoint(t *testing.T) {
	a := newTestApp(t)

	a.handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/approvals/pending", nil))

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{middleware.MetricHTTPRequestsTotal, "go_goroutines"} {
		if !strings.Contains(body, name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server on %s did not start", addr)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	addr := freeAddr(t)
	server := &http.Server{Addr: addr, Handler: newTestApp(t).handler}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, server, logger) }()
	waitForServer(t, addr)

	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not return after cancel")
	}
	if !strings.Contains(logBuf.String(), "shutting down server") {
		t.Error("shutdown was not logged")
	}
}

func TestServe_InFlightRequestCompletes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	started := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("done"))
	})

	addr := freeAddr(t)
	server := &http.Server{Addr: addr, Handler: mux}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, server, logger) }()
	waitForServer(t, addr)

	type result struct {
		body string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + addr + "/slow")
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		got <- result{body: string(b), err: err}
	}()

	<-started
	cancel()

	r := <-got
	if r.err != nil || r.body != "done" {
		t.Errorf("in-flight request = (%q, %v), want (\"done\", nil)", r.body, r.err)
	}
	if err := <-done; err != nil {
		t.Errorf("serve() = %v, want nil", err)
	}
}

func TestServe_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	server := &http.Server{Addr: ln.Addr().String(), Handler: http.NotFoundHandler()}
	err = serve(context.Background(), server, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("serve() on a bound address = nil, want error")
	}
}
