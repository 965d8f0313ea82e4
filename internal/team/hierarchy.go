package team

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Name length limits.
const (
	MaxTeamNameLength = 255
	MaxLabelLength    = 100
)

// Hierarchy is the admin-facing service over teams, types and roles. Reads
// load a fresh Forest per call; writes go through the repository, which owns
// the cycle check.
type Hierarchy struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewHierarchy creates a Hierarchy over repo.
func NewHierarchy(repo Repository, logger *slog.Logger) *Hierarchy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hierarchy{repo: repo, logger: logger, now: time.Now}
}

// Repository returns the underlying store.
func (h *Hierarchy) Repository() Repository {
	return h.repo
}

// Forest loads the organisation's teams.
func (h *Hierarchy) Forest(ctx context.Context, organisationID string) (*Forest, error) {
	teams, err := h.repo.ListTeams(ctx, organisationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load teams: %w", err)
	}
	return NewForest(teams), nil
}

func cleanName(name string, limit int) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len(name) > limit {
		return "", fmt.Errorf("%w: name exceeds %d characters", ErrInvalid, limit)
	}
	return name, nil
}

// CreateTeam adds a team. ID and timestamps are assigned here; the team starts active.
func (h *Hierarchy) CreateTeam(ctx context.Context, t Team) (*Team, error) {
	if t.OrganisationID == "" {
		return nil, fmt.Errorf("%w: organisation is required", ErrInvalid)
	}
	name, err := cleanName(t.Name, MaxTeamNameLength)
	if err != nil {
		return nil, err
	}
	now := h.now().UTC()
	t.ID = uuid.NewString()
	t.Name = name
	t.Description = strings.TrimSpace(t.Description)
	t.Active = true
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := h.repo.CreateTeam(ctx, &t); err != nil {
		return nil, err
	}
	h.logger.InfoContext(ctx, "team created",
		slog.String("organisation_id", t.OrganisationID),
		slog.String("team_id", t.ID),
		slog.String("parent_id", t.ParentID))
	return &t, nil
}

// TeamUpdate holds the editable team fields. Nil fields are left unchanged.
type TeamUpdate struct {
	Name        *string
	Description *string
	TypeID      *string
}

// UpdateTeam edits a team's name, description or type.
func (h *Hierarchy) UpdateTeam(ctx context.Context, organisationID, id string, u TeamUpdate) (*Team, error) {
	t, err := h.repo.GetTeam(ctx, organisationID, id)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		name, err := cleanName(*u.Name, MaxTeamNameLength)
		if err != nil {
			return nil, err
		}
		t.Name = name
	}
	if u.Description != nil {
		t.Description = strings.TrimSpace(*u.Description)
	}
	if u.TypeID != nil {
		t.TypeID = *u.TypeID
	}
	t.UpdatedAt = h.now().UTC()
	if err := h.repo.UpdateTeam(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Move makes parentID the parent of id, or makes id a root when parentID is
// empty. A move that would make the team its own ancestor fails with
// ErrCyclicHierarchy and leaves the hierarchy unchanged.
func (h *Hierarchy) Move(ctx context.Context, organisationID, id, parentID string) error {
	if id == parentID {
		return ErrCyclicHierarchy
	}
	if err := h.repo.SetParent(ctx, organisationID, id, parentID); err != nil {
		if errors.Is(err, ErrCyclicHierarchy) {
			h.logger.WarnContext(ctx, "rejected cyclic team move",
				slog.String("organisation_id", organisationID),
				slog.String("team_id", id),
				slog.String("parent_id", parentID))
		}
		return err
	}
	return nil
}

// Deactivate marks a team inactive. Memberships on inactive teams grant no access.
func (h *Hierarchy) Deactivate(ctx context.Context, organisationID, id string) (*Team, error) {
	return h.setActive(ctx, organisationID, id, false)
}

// Reactivate marks a team active again.
func (h *Hierarchy) Reactivate(ctx context.Context, organisationID, id string) (*Team, error) {
	return h.setActive(ctx, organisationID, id, true)
}

func (h *Hierarchy) setActive(ctx context.Context, organisationID, id string, active bool) (*Team, error) {
	t, err := h.repo.GetTeam(ctx, organisationID, id)
	if err != nil {
		return nil, err
	}
	if t.Active == active {
		return t, nil
	}
	t.Active = active
	t.UpdatedAt = h.now().UTC()
	if err := h.repo.UpdateTeam(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTeam returns one team.
func (h *Hierarchy) GetTeam(ctx context.Context, organisationID, id string) (*Team, error) {
	return h.repo.GetTeam(ctx, organisationID, id)
}

// ListTeams returns the organisation's teams ordered by name.
func (h *Hierarchy) ListTeams(ctx context.Context, organisationID string) ([]*Team, error) {
	teams, err := h.repo.ListTeams(ctx, organisationID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(teams, func(a, b *Team) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return teams, nil
}

// Children returns the direct children of a team.
func (h *Hierarchy) Children(ctx context.Context, organisationID, id string) ([]*Team, error) {
	f, err := h.forestWith(ctx, organisationID, id)
	if err != nil {
		return nil, err
	}
	children := make([]*Team, 0, len(f.Children(id)))
	for _, childID := range f.Children(id) {
		if t, ok := f.Team(childID); ok {
			children = append(children, t)
		}
	}
	slices.SortFunc(children, func(a, b *Team) int { return strings.Compare(a.Name, b.Name) })
	return children, nil
}

// Descendants returns the IDs of every team below id, and id itself when
// includeSelf is set.
func (h *Hierarchy) Descendants(ctx context.Context, organisationID, id string, includeSelf bool) (IDSet, error) {
	f, err := h.forestWith(ctx, organisationID, id)
	if err != nil {
		return nil, err
	}
	return f.Descendants(id, includeSelf), nil
}

// AncestorPath returns the teams from the root down to id.
func (h *Hierarchy) AncestorPath(ctx context.Context, organisationID, id string) ([]*Team, error) {
	f, err := h.forestWith(ctx, organisationID, id)
	if err != nil {
		return nil, err
	}
	return f.AncestorPath(id), nil
}

// Label renders a team's ancestor path as "Region > Area > Team".
func (h *Hierarchy) Label(ctx context.Context, organisationID, id string) (string, error) {
	f, err := h.forestWith(ctx, organisationID, id)
	if err != nil {
		return "", err
	}
	return f.Label(id), nil
}

func (h *Hierarchy) forestWith(ctx context.Context, organisationID, id string) (*Forest, error) {
	f, err := h.Forest(ctx, organisationID)
	if err != nil {
		return nil, err
	}
	if _, ok := f.Team(id); !ok {
		return nil, ErrTeamNotFound
	}
	return f, nil
}

// CreateType adds a team type.
func (h *Hierarchy) CreateType(ctx context.Context, organisationID, name string, displayOrder int) (*Type, error) {
	name, err := cleanName(name, MaxLabelLength)
	if err != nil {
		return nil, err
	}
	t := &Type{
		ID:             uuid.NewString(),
		OrganisationID: organisationID,
		Name:           name,
		DisplayOrder:   displayOrder,
		CreatedAt:      h.now().UTC(),
	}
	if err := h.repo.CreateType(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// UpdateType renames or reorders a team type.
func (h *Hierarchy) UpdateType(ctx context.Context, organisationID, id, name string, displayOrder int) (*Type, error) {
	name, err := cleanName(name, MaxLabelLength)
	if err != nil {
		return nil, err
	}
	t, err := h.repo.GetType(ctx, organisationID, id)
	if err != nil {
		return nil, err
	}
	t.Name = name
	t.DisplayOrder = displayOrder
	if err := h.repo.UpdateType(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// DeleteType removes a team type that no team uses.
func (h *Hierarchy) DeleteType(ctx context.Context, organisationID, id string) error {
	return h.repo.DeleteType(ctx, organisationID, id)
}

// ListTypes returns the organisation's team types in display order.
func (h *Hierarchy) ListTypes(ctx context.Context, organisationID string) ([]*Type, error) {
	types, err := h.repo.ListTypes(ctx, organisationID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(types, func(a, b *Type) int {
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder - b.DisplayOrder
		}
		return strings.Compare(a.Name, b.Name)
	})
	return types, nil
}

// CreateRole adds a team role.
func (h *Hierarchy) CreateRole(ctx context.Context, organisationID, name string, level AccessLevel, displayOrder int) (*Role, error) {
	name, err := cleanName(name, MaxLabelLength)
	if err != nil {
		return nil, err
	}
	if level == "" {
		level = AccessTeam
	}
	if !level.Valid() {
		return nil, fmt.Errorf("%w: unknown access level %q", ErrInvalid, level)
	}
	role := &Role{
		ID:             uuid.NewString(),
		OrganisationID: organisationID,
		Name:           name,
		AccessLevel:    level,
		DisplayOrder:   displayOrder,
		CreatedAt:      h.now().UTC(),
	}
	if err := h.repo.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRole renames a role or changes its access level or order.
func (h *Hierarchy) UpdateRole(ctx context.Context, organisationID, id, name string, level AccessLevel, displayOrder int) (*Role, error) {
	name, err := cleanName(name, MaxLabelLength)
	if err != nil {
		return nil, err
	}
	if !level.Valid() {
		return nil, fmt.Errorf("%w: unknown access level %q", ErrInvalid, level)
	}
	role, err := h.repo.GetRole(ctx, organisationID, id)
	if err != nil {
		return nil, err
	}
	role.Name = name
	role.AccessLevel = level
	role.DisplayOrder = displayOrder
	if err := h.repo.UpdateRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// DeleteRole removes a team role.
func (h *Hierarchy) DeleteRole(ctx context.Context, organisationID, id string) error {
	return h.repo.DeleteRole(ctx, organisationID, id)
}

// GetRole returns one team role.
func (h *Hierarchy) GetRole(ctx context.Context, organisationID, id string) (*Role, error) {
	return h.repo.GetRole(ctx, organisationID, id)
}

// ListRoles returns the organisation's team roles in display order.
func (h *Hierarchy) ListRoles(ctx context.Context, organisationID string) ([]*Role, error) {
	roles, err := h.repo.ListRoles(ctx, organisationID)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(roles, func(a, b *Role) int {
		if a.DisplayOrder != b.DisplayOrder {
			return a.DisplayOrder - b.DisplayOrder
		}
		return strings.Compare(a.Name, b.Name)
	})
	return roles, nil
}
