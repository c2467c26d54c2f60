package rules

import (
	"sort"

	"github.com/avasiliu/tradegate/pkg/types"
)

// Match evaluates every enabled rule against the ticket facts and returns
// the subset that matched, ordered by priority ascending with ties broken
// by rule ID. All matching rules are retained; multiple rules routinely
// co-trigger for one ticket.
func Match(ruleSet []types.Rule, facts types.FactRecord) []types.Rule {
	ordered := make([]types.Rule, len(ruleSet))
	copy(ordered, ruleSet)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	matched := make([]types.Rule, 0)
	for _, r := range ordered {
		if !r.Enabled {
			continue
		}
		if ruleMatches(r, facts) {
			matched = append(matched, r)
		}
	}
	return matched
}

// ruleMatches combines the rule's condition results per its combinator.
// A rule with no conditions never matches.
func ruleMatches(r types.Rule, facts types.FactRecord) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	switch r.Combinator {
	case types.CombinatorAnd:
		for _, c := range r.Conditions {
			if !Evaluate(c, facts) {
				return false
			}
		}
		return true
	case types.CombinatorOr:
		for _, c := range r.Conditions {
			if Evaluate(c, facts) {
				return true
			}
		}
		return false
	}
	return false
}
