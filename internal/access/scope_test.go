package access

import (
	"encoding/json"
	"testing"

	"github.com/lib/pq"

	"github.com/onnwee/caregov/internal/team"
)

func TestScope_CanAccess(t *testing.T) {
	scoped := Teams(team.NewIDSet("t1", "t2"))

	tests := []struct {
		name   string
		scope  Scope
		teamID string
		want   bool
	}{
		{"unassigned entity, scoped user", scoped, "", true},
		{"unassigned entity, empty scope", Scope{}, "", true},
		{"team in scope", scoped, "t1", true},
		{"team outside scope", scoped, "t9", false},
		{"empty scope", Scope{}, "t1", false},
		{"all", All(), "t9", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.CanAccess(tt.teamID); got != tt.want {
				t.Errorf("CanAccess(%q) = %v, want %v", tt.teamID, got, tt.want)
			}
		})
	}
}

func TestScope_SQLPredicate(t *testing.T) {
	pred, arg := All().SQLPredicate("team_id", 3)
	if pred != "TRUE" || arg != nil {
		t.Errorf("All().SQLPredicate() = %q, %v; want TRUE, nil", pred, arg)
	}

	pred, arg = Teams(team.NewIDSet("b", "a")).SQLPredicate("c.team_id", 2)
	if want := "(c.team_id IS NULL OR c.team_id = ANY($2))"; pred != want {
		t.Errorf("SQLPredicate() = %q, want %q", pred, want)
	}
	arr, ok := arg.(*pq.StringArray)
	if !ok {
		t.Fatalf("SQLPredicate() arg = %T, want *pq.StringArray", arg)
	}
	if len(*arr) != 2 || (*arr)[0] != "a" || (*arr)[1] != "b" {
		t.Errorf("SQLPredicate() arg = %v, want [a b]", *arr)
	}
}

func TestScope_MarshalJSON(t *testing.T) {
	tests := []struct {
		scope Scope
		want  string
	}{
		{All(), `{"all":true}`},
		{Scope{}, `{"all":false,"teams":[]}`},
		{Teams(team.NewIDSet("t2", "t1")), `{"all":false,"teams":["t1","t2"]}`},
	}
	for _, tt := range tests {
		got, err := json.Marshal(tt.scope)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if string(got) != tt.want {
			t.Errorf("Marshal() = %s, want %s", got, tt.want)
		}
	}
}
