package rules

import (
	"strings"

	"github.com/avasiliu/tradegate/pkg/types"
)

// Requirements is the aggregate approval demand of a set of matched rules.
type Requirements struct {
	// RequiredApprovers holds each demanded role once, in the order it was
	// first demanded by the matched rules (which Match returns in priority
	// order).
	RequiredApprovers []string
	// RuleTriggered joins the matched rule names with " + " for display
	// and audit.
	RuleTriggered string
	// RoleRules records, per role, the names of the rules that demanded it.
	RoleRules map[string][]string
}

// None reports whether no approvals are demanded, i.e. no rule matched.
func (r Requirements) None() bool {
	return len(r.RequiredApprovers) == 0
}

// Resolve unions the approver demands of the matched rules. Each role
// appears once regardless of how many rules demanded it, and each demand is
// attributed back to its rule in RoleRules.
func Resolve(matched []types.Rule) Requirements {
	req := Requirements{RoleRules: make(map[string][]string)}
	names := make([]string, 0, len(matched))
	seen := make(map[string]struct{})

	for _, r := range matched {
		names = append(names, r.Name)
		for _, role := range r.RequiredApprovers {
			if _, dup := seen[role]; !dup {
				seen[role] = struct{}{}
				req.RequiredApprovers = append(req.RequiredApprovers, role)
			}
			req.RoleRules[role] = append(req.RoleRules[role], r.Name)
		}
	}

	req.RuleTriggered = strings.Join(names, " + ")
	return req
}
