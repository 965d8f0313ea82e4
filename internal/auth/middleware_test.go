package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/caregov/internal/middleware"
)

func TestRequireActor(t *testing.T) {
	svc := NewJWTService(testSecret, "")
	access, err := svc.GenerateAccessToken("user-1", "org-1")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	admin, err := svc.GenerateAccessToken("admin-1", "org-1", AsAdmin())
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	refresh, err := svc.GenerateRefreshToken("user-1", "org-1")
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}

	user := middleware.Actor{UserID: "user-1", OrganisationID: "org-1"}

	tests := []struct {
		name      string
		header    string
		wantActor middleware.Actor
		wantErr   error
	}{
		{name: "valid access token", header: "Bearer " + access, wantActor: user},
		{name: "lower-case scheme", header: "bearer " + access, wantActor: user},
		{name: "admin token", header: "Bearer " + admin, wantActor: middleware.Actor{UserID: "admin-1", OrganisationID: "org-1", Admin: true}},
		{name: "missing header", header: "", wantErr: ErrMissingToken},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantErr: ErrMissingToken},
		{name: "refresh token", header: "Bearer " + refresh, wantErr: ErrInvalidToken},
		{name: "garbage", header: "Bearer not-a-token", wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotActor middleware.Actor
			var gotErr error
			reached := false

			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				gotActor, _ = middleware.GetActor(r.Context())
			})
			fail := func(w http.ResponseWriter, r *http.Request, err error) {
				gotErr = err
				w.WriteHeader(http.StatusUnauthorized)
			}

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			RequireActor(svc, fail)(next).ServeHTTP(rec, req)

			if tt.wantErr != nil {
				if reached {
					t.Error("handler reached without a valid token")
				}
				if !errors.Is(gotErr, tt.wantErr) {
					t.Errorf("failure error = %v, want %v", gotErr, tt.wantErr)
				}
				return
			}
			if !reached {
				t.Fatalf("handler not reached, failure error = %v", gotErr)
			}
			if gotActor != tt.wantActor {
				t.Errorf("actor = %+v, want %+v", gotActor, tt.wantActor)
			}
		})
	}
}
