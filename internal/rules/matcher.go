// Package rules provides reward rule matching and point calculation.
package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/tally/internal/domain"
)

// Matcher selects the single applicable reward rule for a transaction.
// It is safe for concurrent use; compiled expression programs are
// cached across calls.
type Matcher struct {
	mu       sync.RWMutex
	env      *cel.Env
	programs map[string]cel.Program // keyed by expression source
}

// NewMatcher creates a matcher with the CEL environment expression
// conditions evaluate in.
func NewMatcher() (*Matcher, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("payment_amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("payment_currency", cel.StringType),
		cel.Variable("mcc", cel.StringType),
		cel.Variable("merchant", cel.StringType),
		cel.Variable("online", cel.BoolType),
		cel.Variable("contactless", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Matcher{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// ValidateRule checks a rule for persistence: structural invariants
// plus compilation of any expression conditions. This is the rule-save
// gate that keeps malformed rules out of the runtime path.
func (m *Matcher) ValidateRule(rule *domain.RewardRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	for i, c := range rule.Conditions {
		expr, ok := c.(domain.Expression)
		if !ok {
			continue
		}
		if _, err := m.program(expr.Expr); err != nil {
			return &domain.ValidationError{
				RuleID: rule.ID,
				Field:  fmt.Sprintf("conditions[%d].expr", i),
				Reason: err.Error(),
			}
		}
	}
	return nil
}

// Match returns the applicable rule for tx among the given rule set,
// or nil when none applies. Selection is deterministic: enabled,
// non-expired rules whose every condition holds, highest priority
// first, ties broken by ascending rule ID.
func (m *Matcher) Match(ruleSet []*domain.RewardRule, tx *domain.Transaction) (*domain.RewardRule, error) {
	var best *domain.RewardRule

	for _, rule := range ruleSet {
		if !rule.Enabled || rule.Expired(tx.Date) {
			continue
		}

		applies := true
		for _, c := range rule.Conditions {
			ok, err := m.matchCondition(c, tx)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			if !ok {
				applies = false
				break
			}
		}
		if !applies {
			continue
		}

		if best == nil || ruleBeats(rule, best) {
			best = rule
		}
	}

	return best, nil
}

// ruleBeats reports whether a wins over b under the selection policy.
func ruleBeats(a, b *domain.RewardRule) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}

// program returns the compiled CEL program for an expression source,
// compiling and caching it on first use.
func (m *Matcher) program(expr string) (cel.Program, error) {
	m.mu.RLock()
	p, ok := m.programs[expr]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.programs[expr]; ok {
		return p, nil
	}

	ast, issues := m.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	p, err := m.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	m.programs[expr] = p
	return p, nil
}

// ProgramCount returns the number of cached expression programs.
func (m *Matcher) ProgramCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.programs)
}
