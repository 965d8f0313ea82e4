package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/onnwee/caregov/internal/middleware"
)

// ErrMissingToken is passed to the failure handler when no bearer token is sent.
var ErrMissingToken = errors.New("missing bearer token")

// FailureFunc writes the response for a request that failed authentication.
type FailureFunc func(w http.ResponseWriter, r *http.Request, err error)

// RequireActor validates the bearer access token and stores the actor it names
// in the request context. Requests without a valid access token are handed to
// fail and never reach next.
func RequireActor(svc *JWTService, fail FailureFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				fail(w, r, ErrMissingToken)
				return
			}

			claims, err := svc.ValidateToken(token)
			if err != nil {
				fail(w, r, err)
				return
			}
			if claims.Type != TokenTypeAccess || claims.Subject == "" || claims.OrganisationID == "" {
				fail(w, r, ErrInvalidToken)
				return
			}

			ctx := middleware.SetActor(r.Context(), middleware.Actor{
				UserID:         claims.Subject,
				OrganisationID: claims.OrganisationID,
				Admin:          claims.Admin,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
