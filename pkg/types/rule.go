package types

import (
	"fmt"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Limits
// ──────────────────────────────────────────────────────────────────────────────

const (
	MaxRuleNameBytes   = 256
	MaxConditionsCount = 50
	MaxApproversCount  = 20
)

// ──────────────────────────────────────────────────────────────────────────────
// Operators
// ──────────────────────────────────────────────────────────────────────────────

// Operator identifies one condition predicate. Operators have an arity:
// scalar operators compare against a single value, membership operators
// against a value list.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "not_equals"
	OpGreaterThan    Operator = "greater_than"
	OpLessThan       Operator = "less_than"
	OpGreaterOrEqual Operator = "greater_or_equal"
	OpLessOrEqual    Operator = "less_or_equal"
	OpIn             Operator = "in"
	OpNotIn          Operator = "not_in"
	// OpIsOneOf is evaluated identically to OpIn. It exists as a separate
	// constant because the rule-authoring UI presents it as a distinct choice.
	OpIsOneOf Operator = "is_one_of"
)

// Known reports whether op is part of the supported operator set.
func (op Operator) Known() bool {
	switch op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan,
		OpGreaterOrEqual, OpLessOrEqual, OpIn, OpNotIn, OpIsOneOf:
		return true
	}
	return false
}

// TakesList reports whether op compares against a value list rather than a
// single scalar.
func (op Operator) TakesList() bool {
	switch op {
	case OpIn, OpNotIn, OpIsOneOf:
		return true
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// Combinator
// ──────────────────────────────────────────────────────────────────────────────

type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

func (c Combinator) Known() bool {
	return c == CombinatorAnd || c == CombinatorOr
}

// ──────────────────────────────────────────────────────────────────────────────
// Condition — one predicate over a ticket fact.
// ──────────────────────────────────────────────────────────────────────────────

// Condition holds a field name, an operator, and the operand matching the
// operator's arity: Value for scalar operators, Values for membership
// operators. Exactly one of the two is populated on a valid condition; use
// the Scalar and Membership constructors to get that invariant for free.
type Condition struct {
	Field  string   `json:"field"`
	Op     Operator `json:"operator"`
	Value  any      `json:"value,omitempty"`
	Values []any    `json:"values,omitempty"`
}

// Scalar builds a condition for a single-value operator.
func Scalar(field string, op Operator, value any) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

// Membership builds a condition for a list-value operator.
func Membership(field string, op Operator, values ...any) Condition {
	return Condition{Field: field, Op: op, Values: values}
}

// Validate enforces the operator/operand arity invariant.
func (c Condition) Validate() error {
	if c.Field == "" {
		return &ValidationError{Field: "conditions.field", Reason: "required"}
	}
	if !c.Op.Known() {
		return &ValidationError{Field: "conditions.operator", Reason: fmt.Sprintf("unknown operator %q", c.Op)}
	}
	if c.Op.TakesList() {
		if len(c.Values) == 0 {
			return &ValidationError{Field: "conditions.values", Reason: fmt.Sprintf("operator %q requires a non-empty value list", c.Op)}
		}
		if c.Value != nil {
			return &ValidationError{Field: "conditions.value", Reason: fmt.Sprintf("operator %q takes values, not value", c.Op)}
		}
		return nil
	}
	if c.Value == nil {
		return &ValidationError{Field: "conditions.value", Reason: fmt.Sprintf("operator %q requires a value", c.Op)}
	}
	if len(c.Values) > 0 {
		return &ValidationError{Field: "conditions.values", Reason: fmt.Sprintf("operator %q takes value, not values", c.Op)}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Rule — a named, prioritized, enable-able approval policy.
// ──────────────────────────────────────────────────────────────────────────────

type Rule struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Priority    int         `json:"priority"`
	Enabled     bool        `json:"enabled"`
	Combinator  Combinator  `json:"combinator"`
	Conditions  []Condition `json:"conditions"`
	// RequiredApprovers is the set of role identifiers this rule demands
	// when it matches. Roles are case-sensitive identifiers such as
	// "Hedging", "CFO", "Operations".
	RequiredApprovers []string  `json:"required_approvers"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Validate enforces all invariants required at save time. A rule that
// fails validation never reaches the matcher.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if len(r.Name) > MaxRuleNameBytes {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("exceeds %d bytes", MaxRuleNameBytes)}
	}
	if !r.Combinator.Known() {
		return &ValidationError{Field: "combinator", Reason: fmt.Sprintf("must be %q or %q", CombinatorAnd, CombinatorOr)}
	}
	if r.Enabled && len(r.Conditions) == 0 {
		return &ValidationError{Field: "conditions", Reason: "enabled rule must have at least one condition"}
	}
	if len(r.Conditions) > MaxConditionsCount {
		return &ValidationError{Field: "conditions", Reason: fmt.Sprintf("exceeds %d entries", MaxConditionsCount)}
	}
	for _, c := range r.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if len(r.RequiredApprovers) == 0 {
		return &ValidationError{Field: "required_approvers", Reason: "at least one approver role is required"}
	}
	if len(r.RequiredApprovers) > MaxApproversCount {
		return &ValidationError{Field: "required_approvers", Reason: fmt.Sprintf("exceeds %d entries", MaxApproversCount)}
	}
	seen := make(map[string]struct{}, len(r.RequiredApprovers))
	for _, role := range r.RequiredApprovers {
		if role == "" {
			return &ValidationError{Field: "required_approvers", Reason: "empty role identifier"}
		}
		if _, dup := seen[role]; dup {
			return &ValidationError{Field: "required_approvers", Reason: fmt.Sprintf("duplicate role %q", role)}
		}
		seen[role] = struct{}{}
	}
	return nil
}
