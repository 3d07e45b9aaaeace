package guard

import (
	"fmt"
	"sort"
)

// Comparison operators for rule thresholds.
const (
	OpGreaterThan = "gt"
	OpLessThan    = "lt"
)

// Rule binds a metric query to a level. When the queried value breaches
// the threshold the system escalates to the rule's level.
type Rule struct {
	Name      string  `yaml:"name" json:"name"`
	Query     string  `yaml:"query" json:"query"`
	Operator  string  `yaml:"operator" json:"operator"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Level     Level   `yaml:"level" json:"level"`
}

// Validate checks a rule is well formed.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Query == "" {
		return fmt.Errorf("rule %s: query is required", r.Name)
	}
	if r.Operator != OpGreaterThan && r.Operator != OpLessThan {
		return fmt.Errorf("rule %s: operator must be %q or %q, got %q", r.Name, OpGreaterThan, OpLessThan, r.Operator)
	}
	if r.Level != LevelDegraded && r.Level != LevelCritical {
		return fmt.Errorf("rule %s: level must be %s or %s, got %q", r.Name, LevelDegraded, LevelCritical, r.Level)
	}
	return nil
}

// Matches reports whether a metric value breaches the rule.
func (r Rule) Matches(value float64) bool {
	if r.Operator == OpLessThan {
		return value < r.Threshold
	}
	return value > r.Threshold
}

// orderRules returns rules sorted most severe first, preserving the
// configured order within a level. Evaluation stops at the first match,
// so a CRITICAL breach always wins over a DEGRADED one.
func orderRules(rules []Rule) []Rule {
	ordered := append([]Rule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Level.rank() > ordered[j].Level.rank()
	})
	return ordered
}

// validateRules checks every rule and rejects duplicate names.
func validateRules(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}
