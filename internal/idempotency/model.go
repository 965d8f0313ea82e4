// Package idempotency replays the stored response of a write request that is
// retried with the same Idempotency-Key header.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Header names.
const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotent-Replayed"
)

var (
	// ErrKeyNotFound is returned when no response is stored under a key.
	ErrKeyNotFound = errors.New("idempotency key not found")

	// ErrKeyExists is returned when a response is already stored under a key.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid idempotency key")

	// ErrKeyTooLong is returned when the key exceeds maximum length.
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length of 64 characters")

	// ErrKeyReused is returned when a key is presented again with a different
	// method, path or body than the request it was first used for.
	ErrKeyReused = errors.New("idempotency key reused for a different request")
)

// MaxKeyLength is the maximum allowed length for an idempotency key.
const MaxKeyLength = 64

// DefaultExpiry is how long a stored response is replayed.
const DefaultExpiry = 24 * time.Hour

// Record is a stored response.
type Record struct {
	Key         string    `json:"key"`
	Method      string    `json:"method"`
	Route       string    `json:"route"`
	RequestHash string    `json:"request_hash"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// matches reports whether rec was stored for the same request.
func (rec *Record) matches(method, route, requestHash string) bool {
	return rec.Method == method && rec.Route == route && rec.RequestHash == requestHash
}

// ValidateKey checks if an idempotency key is valid.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// ComputeRequestHash returns the hex SHA-256 of a request body.
func ComputeRequestHash(body []byte) string {
	hash := sha256.Sum256(body)
	return hex.EncodeToString(hash[:])
}

// Store persists responses per scope. A scope is one actor within one
// organisation, so keys never collide across users.
type Store interface {
	// Get returns ErrKeyNotFound if nothing is stored under scope and key.
	Get(ctx context.Context, scope, key string) (*Record, error)
	// Put returns ErrKeyExists if a response is already stored.
	Put(ctx context.Context, scope string, rec *Record) error
}
