package proxyrule

import (
	"context"

	"github.com/google/uuid"
)

// Store persists rule sets and their rules.
type Store interface {
	// GetRuleSet returns the rule set with the given ID, or
	// ErrRuleSetNotFound.
	GetRuleSet(ctx context.Context, id uuid.UUID) (*RuleSet, error)

	// GetRuleSetByName returns the named rule set within a project, or
	// ErrRuleSetNotFound.
	GetRuleSetByName(ctx context.Context, projectID uuid.UUID, name string) (*RuleSet, error)

	// ListRuleSets returns every rule set of a project ordered by name.
	ListRuleSets(ctx context.Context, projectID uuid.UUID) ([]*RuleSet, error)

	// CreateRuleSet persists a new rule set. Returns ErrDuplicateRuleSet
	// when (projectID, name) is taken.
	CreateRuleSet(ctx context.Context, rs *RuleSet) error

	// UpdateRuleSet replaces the stored rule set.
	UpdateRuleSet(ctx context.Context, rs *RuleSet) error

	// DeleteRuleSet removes the rule set and its rules.
	DeleteRuleSet(ctx context.Context, id uuid.UUID) error

	// GetRule returns one rule, or ErrRuleNotFound.
	GetRule(ctx context.Context, id uuid.UUID) (*Rule, error)

	// ListRules returns the rules of a set ordered ascending by Order.
	ListRules(ctx context.Context, ruleSetID uuid.UUID) ([]Rule, error)

	// CreateRule persists a new rule. Returns ErrDuplicatePattern when
	// (ruleSetID, pathPattern) is taken.
	CreateRule(ctx context.Context, r *Rule) error

	// UpdateRule replaces the stored rule.
	UpdateRule(ctx context.Context, r *Rule) error

	// DeleteRule removes one rule.
	DeleteRule(ctx context.Context, id uuid.UUID) error
}
