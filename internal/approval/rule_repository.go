package approval

import (
	"context"
	"sync"
)

// RuleRepository stores approval rules. All operations are scoped to one
// organisation.
type RuleRepository interface {
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, organisationID, id string) error
	Get(ctx context.Context, organisationID, id string) (*Rule, error)
	List(ctx context.Context, organisationID string) ([]*Rule, error)

	// ListForEntity returns every rule, active or not, for one entity type.
	ListForEntity(ctx context.Context, organisationID, entityType string) ([]*Rule, error)
}

// InMemoryRuleRepository is an in-memory implementation of RuleRepository.
// Thread-safe via RWMutex.
type InMemoryRuleRepository struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

// NewInMemoryRuleRepository creates a new in-memory rule repository.
func NewInMemoryRuleRepository() *InMemoryRuleRepository {
	return &InMemoryRuleRepository{rules: make(map[string]*Rule)}
}

// Create stores a rule.
func (r *InMemoryRuleRepository) Create(ctx context.Context, rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[rule.ID] = copyRule(rule)
	return nil
}

// Update replaces a rule.
func (r *InMemoryRuleRepository) Update(ctx context.Context, rule *Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rules[rule.ID]
	if !ok || existing.OrganisationID != rule.OrganisationID {
		return ErrRuleNotFound
	}
	r.rules[rule.ID] = copyRule(rule)
	return nil
}

// Delete removes a rule.
func (r *InMemoryRuleRepository) Delete(ctx context.Context, organisationID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.rules[id]
	if !ok || existing.OrganisationID != organisationID {
		return ErrRuleNotFound
	}
	delete(r.rules, id)
	return nil
}

// Get returns one rule.
func (r *InMemoryRuleRepository) Get(ctx context.Context, organisationID, id string) (*Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[id]
	if !ok || rule.OrganisationID != organisationID {
		return nil, ErrRuleNotFound
	}
	return copyRule(rule), nil
}

// List returns all of an organisation's rules.
func (r *InMemoryRuleRepository) List(ctx context.Context, organisationID string) ([]*Rule, error) {
	return r.filter(func(rule *Rule) bool {
		return rule.OrganisationID == organisationID
	}), nil
}

// RoleInUse reports whether any rule in the organisation requires roleID.
func (r *InMemoryRuleRepository) RoleInUse(ctx context.Context, organisationID, roleID string) (bool, error) {
	used := r.filter(func(rule *Rule) bool {
		return rule.OrganisationID == organisationID && rule.RequiredRoleID == roleID
	})
	return len(used) > 0, nil
}

// ListForEntity returns the organisation's rules for one entity type.
func (r *InMemoryRuleRepository) ListForEntity(ctx context.Context, organisationID, entityType string) ([]*Rule, error) {
	return r.filter(func(rule *Rule) bool {
		return rule.OrganisationID == organisationID && rule.EntityType == entityType
	}), nil
}

func (r *InMemoryRuleRepository) filter(keep func(*Rule) bool) []*Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Rule
	for _, rule := range r.rules {
		if keep(rule) {
			out = append(out, copyRule(rule))
		}
	}
	return out
}
