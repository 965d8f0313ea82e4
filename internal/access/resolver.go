package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/caregov/internal/membership"
	"github.com/onnwee/caregov/internal/team"
)

// Resolver derives a user's Scope from their memberships.
type Resolver struct {
	teams       team.Repository
	memberships membership.Repository
	logger      *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(teams team.Repository, memberships membership.Repository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{teams: teams, memberships: memberships, logger: logger}
}

// Scope returns the access scope of userID in organisationID. Any membership
// whose role has organisation-wide access yields All; otherwise the scope is
// the union of every membership team and its descendants. Memberships on
// inactive teams are ignored, and a user without memberships gets an empty
// scope.
func (r *Resolver) Scope(ctx context.Context, organisationID, userID string) (Scope, error) {
	memberships, err := r.memberships.ListByUser(ctx, organisationID, userID)
	if err != nil {
		return Scope{}, fmt.Errorf("failed to list memberships: %w", err)
	}
	if len(memberships) == 0 {
		return Teams(team.NewIDSet()), nil
	}

	teams, err := r.teams.ListTeams(ctx, organisationID)
	if err != nil {
		return Scope{}, fmt.Errorf("failed to load teams: %w", err)
	}
	forest := team.NewForest(teams)

	levels := make(map[string]team.AccessLevel)
	active := memberships[:0:0]
	for _, m := range memberships {
		t, ok := forest.Team(m.TeamID)
		if !ok || !t.Active {
			continue
		}
		level, ok := levels[m.RoleID]
		if !ok {
			role, err := r.teams.GetRole(ctx, organisationID, m.RoleID)
			if err != nil {
				r.logger.WarnContext(ctx, "membership role missing",
					slog.String("membership_id", m.ID),
					slog.String("role_id", m.RoleID),
					slog.String("error", err.Error()))
				continue
			}
			level = role.AccessLevel
			levels[m.RoleID] = level
		}
		if level == team.AccessOrganisation {
			return All(), nil
		}
		active = append(active, m)
	}

	set := team.NewIDSet()
	for _, m := range active {
		set.Union(forest.Descendants(m.TeamID, true))
	}
	return Teams(set), nil
}

// RoleIDs returns the distinct roles userID holds through memberships on
// active teams.
func (r *Resolver) RoleIDs(ctx context.Context, organisationID, userID string) ([]string, error) {
	memberships, err := r.memberships.ListByUser(ctx, organisationID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	seen := team.NewIDSet()
	var ids []string
	for _, m := range memberships {
		if seen.Contains(m.RoleID) {
			continue
		}
		t, err := r.teams.GetTeam(ctx, organisationID, m.TeamID)
		if err != nil || !t.Active {
			continue
		}
		seen.Add(m.RoleID)
		ids = append(ids, m.RoleID)
	}
	return ids, nil
}

// RoleName returns the display name of roleID.
func (r *Resolver) RoleName(ctx context.Context, organisationID, roleID string) (string, error) {
	role, err := r.teams.GetRole(ctx, organisationID, roleID)
	if err != nil {
		return "", err
	}
	return role.Name, nil
}
