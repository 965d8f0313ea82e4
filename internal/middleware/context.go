// Package middleware provides HTTP middleware components and the request-scoped
// context values (actor, request metadata) consumed by the governance packages.
package middleware

import (
	"context"
)

// Actor identifies the authenticated user and the organisation they act within.
// Admin marks an organisation administrator, who may edit rules, team types,
// roles and the hierarchy.
type Actor struct {
	UserID         string
	OrganisationID string
	Admin          bool
}

// RequestMeta is the caller information copied onto audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	URL       string
}

type actorKey struct{}

type requestMetaKey struct{}

type errorCodeKey struct{}

// SetActor stores the authenticated actor in the context.
// This should be called by authentication middleware after validating the token.
func SetActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// GetActor returns the actor stored in the context. The boolean is false when no
// authenticated user is present.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.UserID == "" {
		return Actor{}, false
	}
	return actor, true
}

// SetRequestMeta stores caller metadata in the context.
func SetRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// GetRequestMeta returns caller metadata, or the zero value when absent.
func GetRequestMeta(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// SetErrorCode stores an error code in the context.
// This should be called by handlers when returning error responses.
func SetErrorCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, errorCodeKey{}, code)
}

// GetErrorCode retrieves the error code from context. Returns empty string if not present.
func GetErrorCode(ctx context.Context) string {
	if code, ok := ctx.Value(errorCodeKey{}).(string); ok {
		return code
	}
	return ""
}
