package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/onnwee/caregov/internal/approval"
	"github.com/onnwee/caregov/internal/membership"
	"github.com/onnwee/caregov/internal/team"
)

// DefaultManagerRoleName is the team role that marks a team's managers.
const DefaultManagerRoleName = "Manager"

// TeamManagerResolver finds managers through the team hierarchy. The manager
// at level 1 is a holder of the manager role in the requester's primary team,
// level 2 in its parent, and so on. A level with no manager other than the
// requester defers to the next team up.
type TeamManagerResolver struct {
	teams       team.Repository
	memberships *membership.Service
	roleName    string
}

// NewTeamManagerResolver creates a TeamManagerResolver. An empty roleName
// uses DefaultManagerRoleName.
func NewTeamManagerResolver(teams team.Repository, memberships *membership.Service, roleName string) *TeamManagerResolver {
	if roleName == "" {
		roleName = DefaultManagerRoleName
	}
	return &TeamManagerResolver{teams: teams, memberships: memberships, roleName: roleName}
}

// ManagerOf implements approval.ManagerResolver.
func (r *TeamManagerResolver) ManagerOf(ctx context.Context, organisationID, userID string, level int) (string, error) {
	if level < 1 {
		level = 1
	}

	start, err := r.memberships.PrimaryTeam(ctx, organisationID, userID)
	if errors.Is(err, membership.ErrMembershipNotFound) {
		return "", fmt.Errorf("%w: %s belongs to no team", approval.ErrNoApprover, userID)
	}
	if err != nil {
		return "", err
	}

	roleID, err := r.managerRoleID(ctx, organisationID)
	if err != nil {
		return "", err
	}

	teams, err := r.teams.ListTeams(ctx, organisationID)
	if err != nil {
		return "", fmt.Errorf("failed to load teams: %w", err)
	}
	path := team.NewForest(teams).AncestorPath(start)

	// path runs root first; level 1 is its last element.
	for i := len(path) - level; i >= 0; i-- {
		t := path[i]
		if !t.Active {
			continue
		}
		members, err := r.memberships.ListByTeam(ctx, organisationID, t.ID)
		if err != nil {
			return "", err
		}
		for _, m := range members {
			if m.RoleID == roleID && m.UserID != userID {
				return m.UserID, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no manager at level %d for %s", approval.ErrNoApprover, level, userID)
}

func (r *TeamManagerResolver) managerRoleID(ctx context.Context, organisationID string) (string, error) {
	roles, err := r.teams.ListRoles(ctx, organisationID)
	if err != nil {
		return "", fmt.Errorf("failed to load roles: %w", err)
	}
	for _, role := range roles {
		if strings.EqualFold(role.Name, r.roleName) {
			return role.ID, nil
		}
	}
	return "", fmt.Errorf("%w: organisation has no %q role", approval.ErrNoApprover, r.roleName)
}
