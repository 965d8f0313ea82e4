// Package membership stores which teams a user belongs to and the roles they
// hold there. A membership is a (user, team, role) triple: a user may hold
// several roles in the same team, and at most one of their memberships in an
// organisation is primary.
package membership

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Common errors for membership operations.
var (
	ErrMembershipNotFound = errors.New("membership not found")
	ErrInvalidMembership  = errors.New("invalid membership")
)

// Membership is a user's place in one team.
type Membership struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	UserID         string    `json:"user_id"`
	TeamID         string    `json:"team_id"`
	RoleID         string    `json:"role_id"`
	IsPrimary      bool      `json:"is_primary"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UpsertResult tracks statistics for upsert operations.
type UpsertResult struct {
	Inserted bool   // True if new record was inserted
	ID       string // The UUID of the upserted record
}

// Repository defines the interface for membership data operations.
type Repository interface {
	// Upsert inserts a membership or updates the primary flag of the existing
	// one for the same (user, team, role). Marking it primary clears the user's
	// other primary memberships in the organisation.
	Upsert(ctx context.Context, m *Membership) (*UpsertResult, error)

	// Remove deletes a membership.
	Remove(ctx context.Context, organisationID, id string) error

	// GetByID retrieves a membership by its UUID.
	GetByID(ctx context.Context, organisationID, id string) (*Membership, error)

	// ListByUser returns a user's memberships, primary first then oldest first.
	ListByUser(ctx context.Context, organisationID, userID string) ([]*Membership, error)

	// ListByTeam returns a team's memberships, oldest first.
	ListByTeam(ctx context.Context, organisationID, teamID string) ([]*Membership, error)

	// SetPrimary makes id the user's primary membership.
	SetPrimary(ctx context.Context, organisationID, id string) error
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu          sync.RWMutex
	memberships map[string]*Membership // UUID -> Membership
	keys        map[string]string      // "org:user:team:role" -> UUID
	now         func() time.Time
}

// NewInMemoryRepository creates a new in-memory membership repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		memberships: make(map[string]*Membership),
		keys:        make(map[string]string),
		now:         time.Now,
	}
}

// makeKey identifies a membership by organisation, user, team and role.
func makeKey(m *Membership) string {
	return m.OrganisationID + ":" + m.UserID + ":" + m.TeamID + ":" + m.RoleID
}

func validate(m *Membership) error {
	if m.OrganisationID == "" || m.UserID == "" || m.TeamID == "" || m.RoleID == "" {
		return ErrInvalidMembership
	}
	return nil
}

// Upsert inserts a membership or updates the existing one for (user, team, role).
func (r *InMemoryRepository) Upsert(ctx context.Context, m *Membership) (*UpsertResult, error) {
	if err := validate(m); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	key := makeKey(m)

	if m.IsPrimary {
		r.clearPrimaryLocked(m.OrganisationID, m.UserID)
	}

	if existingID, exists := r.keys[key]; exists {
		existing := r.memberships[existingID]
		existing.IsPrimary = m.IsPrimary
		existing.UpdatedAt = now
		*m = *existing
		return &UpsertResult{Inserted: false, ID: existingID}, nil
	}

	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = now
	m.UpdatedAt = now

	membershipCopy := *m
	r.memberships[m.ID] = &membershipCopy
	r.keys[key] = m.ID
	return &UpsertResult{Inserted: true, ID: m.ID}, nil
}

func (r *InMemoryRepository) clearPrimaryLocked(organisationID, userID string) {
	for _, existing := range r.memberships {
		if existing.OrganisationID == organisationID && existing.UserID == userID {
			existing.IsPrimary = false
		}
	}
}

// Remove deletes a membership.
func (r *InMemoryRepository) Remove(ctx context.Context, organisationID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.memberships[id]
	if !ok || m.OrganisationID != organisationID {
		return ErrMembershipNotFound
	}
	delete(r.keys, makeKey(m))
	delete(r.memberships, id)
	return nil
}

// GetByID retrieves a membership by its UUID.
func (r *InMemoryRepository) GetByID(ctx context.Context, organisationID, id string) (*Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	membership, ok := r.memberships[id]
	if !ok || membership.OrganisationID != organisationID {
		return nil, ErrMembershipNotFound
	}

	membershipCopy := *membership
	return &membershipCopy, nil
}

// ListByUser returns a user's memberships, primary first then oldest first.
func (r *InMemoryRepository) ListByUser(ctx context.Context, organisationID, userID string) ([]*Membership, error) {
	return r.list(func(m *Membership) bool {
		return m.OrganisationID == organisationID && m.UserID == userID
	}), nil
}

// ListByTeam returns a team's memberships, oldest first.
func (r *InMemoryRepository) ListByTeam(ctx context.Context, organisationID, teamID string) ([]*Membership, error) {
	return r.list(func(m *Membership) bool {
		return m.OrganisationID == organisationID && m.TeamID == teamID
	}), nil
}

func (r *InMemoryRepository) list(keep func(*Membership) bool) []*Membership {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Membership
	for _, m := range r.memberships {
		if keep(m) {
			membershipCopy := *m
			out = append(out, &membershipCopy)
		}
	}
	slices.SortFunc(out, compareMemberships)
	return out
}

// compareMemberships orders primary first, then by creation, then by ID.
func compareMemberships(a, b *Membership) int {
	if a.IsPrimary != b.IsPrimary {
		if a.IsPrimary {
			return -1
		}
		return 1
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

// RoleInUse reports whether any membership in the organisation holds roleID.
func (r *InMemoryRepository) RoleInUse(ctx context.Context, organisationID, roleID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.memberships {
		if m.OrganisationID == organisationID && m.RoleID == roleID {
			return true, nil
		}
	}
	return false, nil
}

// SetPrimary makes id the user's primary membership.
func (r *InMemoryRepository) SetPrimary(ctx context.Context, organisationID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.memberships[id]
	if !ok || m.OrganisationID != organisationID {
		return ErrMembershipNotFound
	}
	r.clearPrimaryLocked(m.OrganisationID, m.UserID)
	m.IsPrimary = true
	m.UpdatedAt = r.now().UTC()
	return nil
}
