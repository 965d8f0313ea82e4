package main

import (
	"github.com/onnwee/caregov/internal/approval"
	"github.com/onnwee/caregov/internal/audit"
	"github.com/onnwee/caregov/internal/membership"
	"github.com/onnwee/caregov/internal/team"
)

// memoryStores wires the in-memory repositories the way the PostgreSQL schema
// relates their tables.
func memoryStores() stores {
	entries := audit.NewInMemoryRepository()
	rules := approval.NewInMemoryRuleRepository()
	memberships := membership.NewInMemoryRepository()
	teams := team.NewInMemoryRepository()
	teams.TrackRoleReferrers(memberships, rules)
	return stores{
		entries:     entries,
		rules:       rules,
		requests:    approval.NewInMemoryRequestRepository(entries),
		teams:       teams,
		memberships: memberships,
	}
}
