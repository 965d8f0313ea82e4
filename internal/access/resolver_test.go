package access

import (
	"context"
	"testing"

	"github.com/onnwee/caregov/internal/membership"
	"github.com/onnwee/caregov/internal/team"
)

type fixture struct {
	hierarchy   *team.Hierarchy
	memberships *membership.Service
	resolver    *Resolver
	member      *team.Role
	director    *team.Role
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	teams := team.NewInMemoryRepository()
	h := team.NewHierarchy(teams, nil)
	members := membership.NewInMemoryRepository()

	member, err := h.CreateRole(ctx, "org-1", "Member", team.AccessTeam, 1)
	if err != nil {
		t.Fatalf("CreateRole() error = %v", err)
	}
	director, err := h.CreateRole(ctx, "org-1", "Director", team.AccessOrganisation, 2)
	if err != nil {
		t.Fatalf("CreateRole() error = %v", err)
	}
	return &fixture{
		hierarchy:   h,
		memberships: membership.NewService(members, teams, nil),
		resolver:    NewResolver(teams, members, nil),
		member:      member,
		director:    director,
	}
}

func (f *fixture) team(t *testing.T, name, parentID string) *team.Team {
	t.Helper()
	tm, err := f.hierarchy.CreateTeam(context.Background(), team.Team{OrganisationID: "org-1", Name: name, ParentID: parentID})
	if err != nil {
		t.Fatalf("CreateTeam(%q) error = %v", name, err)
	}
	return tm
}

func (f *fixture) join(t *testing.T, user, teamID, roleID string) {
	t.Helper()
	if _, err := f.memberships.Add(context.Background(), "org-1", user, teamID, roleID, false); err != nil {
		t.Fatalf("Add(%q, %q) error = %v", user, teamID, err)
	}
}

func TestResolver_NoMemberships(t *testing.T) {
	f := newFixture(t)
	f.team(t, "North", "")

	scope, err := f.resolver.Scope(context.Background(), "org-1", "nobody")
	if err != nil {
		t.Fatalf("Scope() error = %v", err)
	}
	if scope.IsAll() || len(scope.TeamIDs()) != 0 {
		t.Errorf("Scope() = %v, want empty", scope.TeamIDs())
	}
}

func TestResolver_OrganisationWideShortCircuit(t *testing.T) {
	f := newFixture(t)
	north := f.team(t, "North", "")
	f.team(t, "South", "")
	f.join(t, "dana", north.ID, f.director.ID)

	scope, err := f.resolver.Scope(context.Background(), "org-1", "dana")
	if err != nil {
		t.Fatalf("Scope() error = %v", err)
	}
	if !scope.IsAll() {
		t.Errorf("Scope() = %v, want All", scope.TeamIDs())
	}
}

func TestResolver_TeamScopeIncludesDescendants(t *testing.T) {
	f := newFixture(t)
	north := f.team(t, "North", "")
	leeds := f.team(t, "Leeds", north.ID)
	day := f.team(t, "Day Service", leeds.ID)
	south := f.team(t, "South", "")
	york := f.team(t, "York", south.ID)

	f.join(t, "sam", leeds.ID, f.member.ID)
	f.join(t, "sam", york.ID, f.member.ID)

	scope, err := f.resolver.Scope(context.Background(), "org-1", "sam")
	if err != nil {
		t.Fatalf("Scope() error = %v", err)
	}
	if scope.IsAll() {
		t.Fatal("Scope() = All, want team scope")
	}
	for _, id := range []string{leeds.ID, day.ID, york.ID} {
		if !scope.Contains(id) {
			t.Errorf("Scope() missing %q", id)
		}
	}
	for _, id := range []string{north.ID, south.ID} {
		if scope.Contains(id) {
			t.Errorf("Scope() should not contain ancestor %q", id)
		}
	}
}

func TestResolver_InactiveTeamGrantsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	north := f.team(t, "North", "")
	child := f.team(t, "Leeds", north.ID)
	f.join(t, "sam", north.ID, f.member.ID)
	f.join(t, "dana", north.ID, f.director.ID)

	if _, err := f.hierarchy.Deactivate(ctx, "org-1", north.ID); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	scope, err := f.resolver.Scope(ctx, "org-1", "sam")
	if err != nil {
		t.Fatalf("Scope() error = %v", err)
	}
	if scope.Contains(child.ID) || scope.Contains(north.ID) {
		t.Errorf("Scope() = %v, want empty after deactivation", scope.TeamIDs())
	}

	scope, _ = f.resolver.Scope(ctx, "org-1", "dana")
	if scope.IsAll() {
		t.Error("organisation-wide role on an inactive team should not grant All")
	}
}

func TestResolver_RoleIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	north := f.team(t, "North", "")
	south := f.team(t, "South", "")
	f.join(t, "sam", north.ID, f.member.ID)
	f.join(t, "sam", south.ID, f.member.ID)

	ids, err := f.resolver.RoleIDs(ctx, "org-1", "sam")
	if err != nil {
		t.Fatalf("RoleIDs() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != f.member.ID {
		t.Errorf("RoleIDs() = %v, want [%s]", ids, f.member.ID)
	}

	name, err := f.resolver.RoleName(ctx, "org-1", f.member.ID)
	if err != nil {
		t.Fatalf("RoleName() error = %v", err)
	}
	if name != "Member" {
		t.Errorf("RoleName() = %q, want Member", name)
	}
}

func TestResolver_SeveralRolesInOneTeam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	north := f.team(t, "North", "")
	f.team(t, "South", "")
	f.join(t, "dana", north.ID, f.director.ID)
	f.join(t, "dana", north.ID, f.member.ID)

	ids, err := f.resolver.RoleIDs(ctx, "org-1", "dana")
	if err != nil {
		t.Fatalf("RoleIDs() error = %v", err)
	}
	held := map[string]bool{}
	for _, id := range ids {
		held[id] = true
	}
	if len(ids) != 2 || !held[f.director.ID] || !held[f.member.ID] {
		t.Errorf("RoleIDs() = %v, want both %s and %s", ids, f.director.ID, f.member.ID)
	}

	scope, err := f.resolver.Scope(ctx, "org-1", "dana")
	if err != nil {
		t.Fatalf("Scope() error = %v", err)
	}
	if !scope.IsAll() {
		t.Errorf("Scope() = %v, want organisation-wide", scope.TeamIDs())
	}
}
