// Package access computes which teams a user may act within and applies the
// entity visibility rule.
package access

import (
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/onnwee/caregov/internal/team"
)

// Scope is either every team in the organisation or an explicit set of teams.
// The zero value grants no team access.
type Scope struct {
	all   bool
	teams team.IDSet
}

// All returns the organisation-wide scope.
func All() Scope {
	return Scope{all: true}
}

// Teams returns a scope limited to ids.
func Teams(ids team.IDSet) Scope {
	return Scope{teams: ids}
}

// IsAll reports whether the scope covers the whole organisation.
func (s Scope) IsAll() bool {
	return s.all
}

// Contains reports whether teamID is inside the scope.
func (s Scope) Contains(teamID string) bool {
	return s.all || s.teams.Contains(teamID)
}

// CanAccess applies the entity visibility rule: an entity without a team is
// open to every organisation member, one assigned to a team only to users
// whose scope contains it.
func (s Scope) CanAccess(teamID string) bool {
	return teamID == "" || s.Contains(teamID)
}

// TeamIDs returns the explicit teams in ascending order, or nil for All.
func (s Scope) TeamIDs() []string {
	if s.all {
		return nil
	}
	return s.teams.Sorted()
}

// SQLPredicate renders the visibility rule for a query over governed entities
// whose team column is column, with the team set bound at $argIndex. It
// returns the predicate and the argument to bind; for All the predicate is
// TRUE and the argument is nil.
func (s Scope) SQLPredicate(column string, argIndex int) (string, any) {
	if s.all {
		return "TRUE", nil
	}
	return fmt.Sprintf("(%[1]s IS NULL OR %[1]s = ANY($%[2]d))", column, argIndex), pq.Array(s.TeamIDs())
}

// MarshalJSON renders the scope as {"all":true} or {"all":false,"teams":[...]}.
func (s Scope) MarshalJSON() ([]byte, error) {
	if s.all {
		return []byte(`{"all":true}`), nil
	}
	return marshalTeams(s.TeamIDs())
}

func marshalTeams(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(struct {
		All   bool     `json:"all"`
		Teams []string `json:"teams"`
	}{Teams: ids})
}
