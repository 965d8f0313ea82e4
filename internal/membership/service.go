package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/onnwee/caregov/internal/team"
)

// Service adds and removes memberships after checking that the team and role
// exist in the organisation.
type Service struct {
	repo   Repository
	teams  team.Repository
	logger *slog.Logger
}

// NewService creates a membership Service.
func NewService(repo Repository, teams team.Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, teams: teams, logger: logger}
}

// Repository returns the underlying store.
func (s *Service) Repository() Repository {
	return s.repo
}

// Add gives userID roleID in teamID. A user may hold several roles in one
// team; adding an existing (user, team, role) again only updates the primary
// flag.
func (s *Service) Add(ctx context.Context, organisationID, userID, teamID, roleID string, primary bool) (*Membership, error) {
	if _, err := s.teams.GetTeam(ctx, organisationID, teamID); err != nil {
		return nil, err
	}
	if _, err := s.teams.GetRole(ctx, organisationID, roleID); err != nil {
		return nil, err
	}

	m := &Membership{
		OrganisationID: organisationID,
		UserID:         userID,
		TeamID:         teamID,
		RoleID:         roleID,
		IsPrimary:      primary,
	}
	result, err := s.repo.Upsert(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("failed to save membership: %w", err)
	}
	s.logger.InfoContext(ctx, "membership saved",
		slog.String("organisation_id", organisationID),
		slog.String("user_id", userID),
		slog.String("team_id", teamID),
		slog.String("role_id", roleID),
		slog.Bool("inserted", result.Inserted))
	return m, nil
}

// Remove deletes a membership.
func (s *Service) Remove(ctx context.Context, organisationID, id string) error {
	return s.repo.Remove(ctx, organisationID, id)
}

// SetPrimary makes id the user's primary membership.
func (s *Service) SetPrimary(ctx context.Context, organisationID, id string) error {
	return s.repo.SetPrimary(ctx, organisationID, id)
}

// ListByUser returns a user's memberships, primary first.
func (s *Service) ListByUser(ctx context.Context, organisationID, userID string) ([]*Membership, error) {
	return s.repo.ListByUser(ctx, organisationID, userID)
}

// ListByTeam returns a team's memberships.
func (s *Service) ListByTeam(ctx context.Context, organisationID, teamID string) ([]*Membership, error) {
	return s.repo.ListByTeam(ctx, organisationID, teamID)
}

// PrimaryTeam returns the team of the user's primary membership, falling back
// to their oldest membership. It returns ErrMembershipNotFound when the user
// belongs to no team.
func (s *Service) PrimaryTeam(ctx context.Context, organisationID, userID string) (string, error) {
	memberships, err := s.repo.ListByUser(ctx, organisationID, userID)
	if err != nil {
		return "", err
	}
	if len(memberships) == 0 {
		return "", ErrMembershipNotFound
	}
	return memberships[0].TeamID, nil
}

// IsNotFound reports whether err means a membership, team or role was missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMembershipNotFound) ||
		errors.Is(err, team.ErrTeamNotFound) ||
		errors.Is(err, team.ErrRoleNotFound)
}
