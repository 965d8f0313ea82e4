package idempotency

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/onnwee/caregov/internal/middleware"
)

// MaxBodyBytes bounds the request body buffered for hashing.
const MaxBodyBytes = 1 << 20

// FailureFunc writes the response for a rejected request.
type FailureFunc func(w http.ResponseWriter, r *http.Request, err error)

// Middleware replays the stored response of an authenticated POST retried
// with the same Idempotency-Key. Only 2xx responses are stored, so a failed
// request can be retried with its key. It must run after the actor is
// attached to the request context; requests without an actor or key pass
// through untouched. Store failures degrade to normal processing.
func Middleware(store Store, fail FailureFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, present := r.Header[http.CanonicalHeaderKey(HeaderKey)]
			if r.Method != http.MethodPost || !present {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := middleware.GetActor(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if err := ValidateKey(key[0]); err != nil {
				fail(w, r, err)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
			if err != nil {
				fail(w, r, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			scope := actor.OrganisationID + ":" + actor.UserID
			hash := ComputeRequestHash(body)

			stored, err := store.Get(ctx, scope, key[0])
			switch {
			case err == nil:
				if !stored.matches(r.Method, r.URL.Path, hash) {
					fail(w, r, ErrKeyReused)
					return
				}
				replay(w, stored)
				return
			case !errors.Is(err, ErrKeyNotFound):
				logger.WarnContext(ctx, "idempotency lookup failed", "error", err)
			}

			rec := &capture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status < 200 || rec.status >= 300 {
				return
			}

			err = store.Put(ctx, scope, &Record{
				Key:         key[0],
				Method:      r.Method,
				Route:       r.URL.Path,
				RequestHash: hash,
				StatusCode:  rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			})
			if err != nil && !errors.Is(err, ErrKeyExists) {
				logger.WarnContext(ctx, "idempotency store failed", "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, rec *Record) {
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(rec.StatusCode)
	_, _ = w.Write(rec.Body)
}

// capture tees the response so it can be stored.
type capture struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *capture) WriteHeader(code int) {
	if !c.wroteHeader {
		c.status = code
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *capture) Write(b []byte) (int, error) {
	c.wroteHeader = true
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *capture) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
