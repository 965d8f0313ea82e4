// Package auth issues and validates the bearer tokens that identify the acting
// user and organisation.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type constants for the typ claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Token expiration durations.
const (
	AccessTokenExpiry  = 15 * time.Minute
	RefreshTokenExpiry = 7 * 24 * time.Hour
)

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptyUserID is returned when userID is empty.
var ErrEmptyUserID = errors.New("userID cannot be empty")

// ErrEmptyOrganisationID is returned when organisationID is empty.
var ErrEmptyOrganisationID = errors.New("organisationID cannot be empty")

// Claims represents custom JWT claims for the application. The subject is the
// user id.
type Claims struct {
	jwt.RegisteredClaims
	OrganisationID string `json:"org"`
	Admin          bool   `json:"adm,omitempty"` // organisation administrator
	Type           string `json:"typ"`           // "access" or "refresh"
}

// TokenOption adjusts the claims of a generated token.
type TokenOption func(*Claims)

// AsAdmin marks the token holder as an organisation administrator.
func AsAdmin() TokenOption {
	return func(c *Claims) { c.Admin = true }
}

// JWTService handles JWT token operations.
// Supports dual-key rotation: tokens are signed with currentSecret,
// but can be validated with either currentSecret or previousSecret.
type JWTService struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
	now            func() time.Time
}

// NewJWTService creates a JWTService. Set previousSecret to the empty string
// when no rotation is in progress.
func NewJWTService(currentSecret, previousSecret string) *JWTService {
	svc := &JWTService{
		currentSecret: []byte(currentSecret),
		leeway:        DefaultLeeway,
		now:           time.Now,
	}
	if previousSecret != "" {
		svc.previousSecret = []byte(previousSecret)
	}
	return svc
}

// WithLeeway returns a copy of s that tolerates the given clock skew.
func (s *JWTService) WithLeeway(leeway time.Duration) *JWTService {
	cp := *s
	cp.leeway = leeway
	return &cp
}

// GenerateAccessToken creates a new access token (15m expiry).
func (s *JWTService) GenerateAccessToken(userID, organisationID string, opts ...TokenOption) (string, error) {
	return s.generate(userID, organisationID, TokenTypeAccess, AccessTokenExpiry, opts)
}

// GenerateRefreshToken creates a new refresh token (7d expiry).
func (s *JWTService) GenerateRefreshToken(userID, organisationID string, opts ...TokenOption) (string, error) {
	return s.generate(userID, organisationID, TokenTypeRefresh, RefreshTokenExpiry, opts)
}

func (s *JWTService) generate(userID, organisationID, typ string, ttl time.Duration, opts []TokenOption) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	if organisationID == "" {
		return "", ErrEmptyOrganisationID
	}

	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		OrganisationID: organisationID,
		Type:           typ,
	}
	for _, opt := range opts {
		opt(&claims)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.currentSecret)
}

// ValidateToken parses and validates a JWT token, returning the claims if valid.
// It tries currentSecret first, then previousSecret if available.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString, s.currentSecret)
	if err == nil {
		return claims, nil
	}

	if s.previousSecret != nil {
		claims, prevErr := s.parse(tokenString, s.previousSecret)
		if prevErr == nil {
			return claims, nil
		}
		if errors.Is(prevErr, jwt.ErrTokenExpired) {
			err = prevErr
		}
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}

func (s *JWTService) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithLeeway(s.leeway), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
