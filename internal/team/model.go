// Package team models an organisation's team forest, team types and team roles,
// and enforces that the parent relation stays acyclic.
package team

import (
	"errors"
	"slices"
	"time"
)

var (
	// ErrTeamNotFound is returned when a team does not exist in the organisation.
	ErrTeamNotFound = errors.New("team not found")

	// ErrTypeNotFound is returned when a team type does not exist in the organisation.
	ErrTypeNotFound = errors.New("team type not found")

	// ErrRoleNotFound is returned when a team role does not exist in the organisation.
	ErrRoleNotFound = errors.New("team role not found")

	// ErrCyclicHierarchy is returned when a parent assignment would make a team
	// its own ancestor.
	ErrCyclicHierarchy = errors.New("team hierarchy would contain a cycle")

	// ErrDuplicateName is returned when a type or role name is already used in
	// the organisation.
	ErrDuplicateName = errors.New("name already exists in organisation")

	// ErrInUse is returned when deleting a type or role that is still referenced.
	ErrInUse = errors.New("still referenced")

	// ErrInvalid is returned for malformed input.
	ErrInvalid = errors.New("invalid team data")
)

// Team is a node in an organisation's forest. An empty ParentID marks a root.
type Team struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	ParentID       string    `json:"parent_id,omitempty"`
	TypeID         string    `json:"type_id,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Type is an organisation-defined label for teams.
type Type struct {
	ID             string    `json:"id"`
	OrganisationID string    `json:"organisation_id"`
	Name           string    `json:"name"`
	DisplayOrder   int       `json:"display_order"`
	CreatedAt      time.Time `json:"created_at"`
}

// AccessLevel is how far a role's access reaches.
type AccessLevel string

// Access levels.
const (
	AccessTeam         AccessLevel = "team"
	AccessOrganisation AccessLevel = "organisation"
)

// Valid reports whether l is a known access level.
func (l AccessLevel) Valid() bool {
	return l == AccessTeam || l == AccessOrganisation
}

// Role is an organisation-defined role held through a team membership.
type Role struct {
	ID             string      `json:"id"`
	OrganisationID string      `json:"organisation_id"`
	Name           string      `json:"name"`
	AccessLevel    AccessLevel `json:"access_level"`
	DisplayOrder   int         `json:"display_order"`
	CreatedAt      time.Time   `json:"created_at"`
}

// IDSet is a set of team IDs.
type IDSet map[string]struct{}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id.
func (s IDSet) Add(id string) { s[id] = struct{}{} }

// Contains reports whether id is in the set.
func (s IDSet) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Union adds every member of other.
func (s IDSet) Union(other IDSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
