package workflow

import "strings"

// RoleAuthorizer checks that an authenticated actor may act as a given
// approver role. Membership is configured as a comma-separated allowlist of
// "Role:alice@desk.example|bob@desk.example" entries; a role with no entry
// accepts any actor, which keeps small deployments zero-config.
type RoleAuthorizer struct {
	membersByRole map[string]map[string]struct{}
}

func NewRoleAuthorizer(allowlist string) *RoleAuthorizer {
	return &RoleAuthorizer{membersByRole: parseRoleList(allowlist)}
}

func (a *RoleAuthorizer) Allow(role, actor string) bool {
	if actor == "" {
		return false
	}
	allowed, ok := a.membersByRole[role]
	if !ok || len(allowed) == 0 {
		return true
	}
	_, ok = allowed[strings.ToLower(strings.TrimSpace(actor))]
	return ok
}

func parseRoleList(raw string) map[string]map[string]struct{} {
	out := map[string]map[string]struct{}{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		role := strings.TrimSpace(parts[0])
		if role == "" {
			continue
		}
		if _, ok := out[role]; !ok {
			out[role] = map[string]struct{}{}
		}
		for _, v := range strings.Split(parts[1], "|") {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			out[role][strings.ToLower(v)] = struct{}{}
		}
	}
	return out
}
