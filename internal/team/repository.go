package team

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// TeamRepository stores teams. SetParent and CreateTeam re-read the current
// ancestor chain at write time and refuse cycles.
type TeamRepository interface {
	CreateTeam(ctx context.Context, t *Team) error
	// UpdateTeam writes name, description, type and active flag. The parent is
	// only changed through SetParent.
	UpdateTeam(ctx context.Context, t *Team) error
	GetTeam(ctx context.Context, organisationID, id string) (*Team, error)
	ListTeams(ctx context.Context, organisationID string) ([]*Team, error)
	SetParent(ctx context.Context, organisationID, id, parentID string) error
}

// TypeRepository stores team types. Names are unique per organisation, ignoring case.
type TypeRepository interface {
	CreateType(ctx context.Context, t *Type) error
	UpdateType(ctx context.Context, t *Type) error
	DeleteType(ctx context.Context, organisationID, id string) error
	GetType(ctx context.Context, organisationID, id string) (*Type, error)
	ListTypes(ctx context.Context, organisationID string) ([]*Type, error)
}

// RoleRepository stores team roles. Names are unique per organisation, ignoring case.
type RoleRepository interface {
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	DeleteRole(ctx context.Context, organisationID, id string) error
	GetRole(ctx context.Context, organisationID, id string) (*Role, error)
	ListRoles(ctx context.Context, organisationID string) ([]*Role, error)
}

// Repository is the full hierarchy store.
type Repository interface {
	TeamRepository
	TypeRepository
	RoleRepository
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu        sync.RWMutex
	teams     map[string]*Team
	types     map[string]*Type
	roles     map[string]*Role
	referrers []RoleReferrer
}

// RoleReferrer is a store outside the hierarchy that can hold references to
// team roles, such as memberships or approval rules.
type RoleReferrer interface {
	RoleInUse(ctx context.Context, organisationID, roleID string) (bool, error)
}

// TrackRoleReferrers makes DeleteRole refuse roles any of refs still uses,
// matching the RESTRICT foreign keys of the PostgreSQL schema.
func (r *InMemoryRepository) TrackRoleReferrers(refs ...RoleReferrer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.referrers = append(r.referrers, refs...)
}

// NewInMemoryRepository creates a new in-memory hierarchy store.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		teams: make(map[string]*Team),
		types: make(map[string]*Type),
		roles: make(map[string]*Role),
	}
}

// CreateTeam stores a team after checking its parent and type.
func (r *InMemoryRepository) CreateTeam(ctx context.Context, t *Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkReferences(t); err != nil {
		return err
	}
	if t.ParentID != "" && wouldCycle(r.parentIndex(t.OrganisationID), t.ID, t.ParentID) {
		return ErrCyclicHierarchy
	}
	c := *t
	r.teams[t.ID] = &c
	return nil
}

// UpdateTeam writes a team's editable fields.
func (r *InMemoryRepository) UpdateTeam(ctx context.Context, t *Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.teams[t.ID]
	if !ok || existing.OrganisationID != t.OrganisationID {
		return ErrTeamNotFound
	}
	if t.TypeID != "" {
		if ty, ok := r.types[t.TypeID]; !ok || ty.OrganisationID != t.OrganisationID {
			return ErrTypeNotFound
		}
	}
	existing.Name = t.Name
	existing.Description = t.Description
	existing.TypeID = t.TypeID
	existing.Active = t.Active
	existing.UpdatedAt = t.UpdatedAt
	return nil
}

// GetTeam returns one team.
func (r *InMemoryRepository) GetTeam(ctx context.Context, organisationID, id string) (*Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.teams[id]
	if !ok || t.OrganisationID != organisationID {
		return nil, ErrTeamNotFound
	}
	c := *t
	return &c, nil
}

// ListTeams returns all of an organisation's teams.
func (r *InMemoryRepository) ListTeams(ctx context.Context, organisationID string) ([]*Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Team
	for _, t := range r.teams {
		if t.OrganisationID == organisationID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

// SetParent moves a team under parentID, or to the root when parentID is empty.
func (r *InMemoryRepository) SetParent(ctx context.Context, organisationID, id, parentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.teams[id]
	if !ok || t.OrganisationID != organisationID {
		return ErrTeamNotFound
	}
	if parentID != "" {
		parent, ok := r.teams[parentID]
		if !ok || parent.OrganisationID != organisationID {
			return ErrTeamNotFound
		}
		if wouldCycle(r.parentIndex(organisationID), id, parentID) {
			return ErrCyclicHierarchy
		}
	}
	t.ParentID = parentID
	return nil
}

func (r *InMemoryRepository) checkReferences(t *Team) error {
	if t.ParentID != "" {
		parent, ok := r.teams[t.ParentID]
		if !ok || parent.OrganisationID != t.OrganisationID {
			return ErrTeamNotFound
		}
	}
	if t.TypeID != "" {
		ty, ok := r.types[t.TypeID]
		if !ok || ty.OrganisationID != t.OrganisationID {
			return ErrTypeNotFound
		}
	}
	return nil
}

func (r *InMemoryRepository) parentIndex(organisationID string) map[string]string {
	parents := make(map[string]string)
	for id, t := range r.teams {
		if t.OrganisationID == organisationID {
			parents[id] = t.ParentID
		}
	}
	return parents
}

func sameName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// CreateType stores a team type.
func (r *InMemoryRepository) CreateType(ctx context.Context, t *Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.types {
		if existing.OrganisationID == t.OrganisationID && sameName(existing.Name, t.Name) {
			return ErrDuplicateName
		}
	}
	c := *t
	r.types[t.ID] = &c
	return nil
}

// UpdateType renames or reorders a team type.
func (r *InMemoryRepository) UpdateType(ctx context.Context, t *Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.types[t.ID]
	if !ok || existing.OrganisationID != t.OrganisationID {
		return ErrTypeNotFound
	}
	for id, other := range r.types {
		if id != t.ID && other.OrganisationID == t.OrganisationID && sameName(other.Name, t.Name) {
			return ErrDuplicateName
		}
	}
	existing.Name = t.Name
	existing.DisplayOrder = t.DisplayOrder
	return nil
}

// DeleteType removes a team type no team uses.
func (r *InMemoryRepository) DeleteType(ctx context.Context, organisationID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.types[id]
	if !ok || existing.OrganisationID != organisationID {
		return ErrTypeNotFound
	}
	for _, t := range r.teams {
		if t.TypeID == id {
			return ErrInUse
		}
	}
	delete(r.types, id)
	return nil
}

// GetType returns one team type.
func (r *InMemoryRepository) GetType(ctx context.Context, organisationID, id string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[id]
	if !ok || t.OrganisationID != organisationID {
		return nil, ErrTypeNotFound
	}
	c := *t
	return &c, nil
}

// ListTypes returns an organisation's team types.
func (r *InMemoryRepository) ListTypes(ctx context.Context, organisationID string) ([]*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Type
	for _, t := range r.types {
		if t.OrganisationID == organisationID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

// CreateRole stores a team role.
func (r *InMemoryRepository) CreateRole(ctx context.Context, role *Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.roles {
		if existing.OrganisationID == role.OrganisationID && sameName(existing.Name, role.Name) {
			return ErrDuplicateName
		}
	}
	c := *role
	r.roles[role.ID] = &c
	return nil
}

// UpdateRole renames a role or changes its access level or order.
func (r *InMemoryRepository) UpdateRole(ctx context.Context, role *Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.roles[role.ID]
	if !ok || existing.OrganisationID != role.OrganisationID {
		return ErrRoleNotFound
	}
	for id, other := range r.roles {
		if id != role.ID && other.OrganisationID == role.OrganisationID && sameName(other.Name, role.Name) {
			return ErrDuplicateName
		}
	}
	existing.Name = role.Name
	existing.AccessLevel = role.AccessLevel
	existing.DisplayOrder = role.DisplayOrder
	return nil
}

// DeleteRole removes a team role. It returns ErrInUse while a tracked
// referrer still uses the role.
func (r *InMemoryRepository) DeleteRole(ctx context.Context, organisationID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.roles[id]
	if !ok || existing.OrganisationID != organisationID {
		return ErrRoleNotFound
	}
	for _, ref := range r.referrers {
		used, err := ref.RoleInUse(ctx, organisationID, id)
		if err != nil {
			return fmt.Errorf("role reference check: %w", err)
		}
		if used {
			return ErrInUse
		}
	}
	delete(r.roles, id)
	return nil
}

// GetRole returns one team role.
func (r *InMemoryRepository) GetRole(ctx context.Context, organisationID, id string) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roles[id]
	if !ok || role.OrganisationID != organisationID {
		return nil, ErrRoleNotFound
	}
	c := *role
	return &c, nil
}

// ListRoles returns an organisation's team roles.
func (r *InMemoryRepository) ListRoles(ctx context.Context, organisationID string) ([]*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Role
	for _, role := range r.roles {
		if role.OrganisationID == organisationID {
			c := *role
			out = append(out, &c)
		}
	}
	return out, nil
}
