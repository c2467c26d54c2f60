package types

import "time"

// ──────────────────────────────────────────────────────────────────────────────
// ApprovalRequest — one per ticket requiring approval.
// ──────────────────────────────────────────────────────────────────────────────

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending_approval"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// Terminal reports whether the status permits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == RequestApproved || s == RequestRejected
}

// TicketStatus maps a request status to the ticket status it propagates.
func (s RequestStatus) TicketStatus() TicketStatus {
	switch s {
	case RequestApproved:
		return TicketApproved
	case RequestRejected:
		return TicketRejected
	default:
		return TicketPendingApproval
	}
}

type ApprovalRequest struct {
	ID       string `json:"id"`
	TicketID string `json:"ticket_id"`
	// RequiredApprovers is frozen at creation; later rule edits never
	// change what an in-flight request demands.
	RequiredApprovers []string `json:"required_approvers"`
	// RuleTriggered is the human-readable join of matched rule names,
	// e.g. "Non-standard pricing detected + Counterparty KYB not approved".
	RuleTriggered string `json:"rule_triggered"`
	// RoleRules records which rule(s) demanded each role, frozen at
	// creation for audit and display.
	RoleRules map[string][]string `json:"role_rules,omitempty"`
	Status    RequestStatus       `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// RequiresRole reports whether role is part of the frozen approver set.
func (r *ApprovalRequest) RequiresRole(role string) bool {
	for _, required := range r.RequiredApprovers {
		if required == role {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// ApprovalAction — one role's individual decision on a request.
// ──────────────────────────────────────────────────────────────────────────────

type ActionKind string

const (
	ActionApprove        ActionKind = "approve"
	ActionReject         ActionKind = "reject"
	ActionRequestChanges ActionKind = "request_changes"
)

func (k ActionKind) Known() bool {
	return k == ActionApprove || k == ActionReject || k == ActionRequestChanges
}

type ApprovalAction struct {
	ID           string     `json:"id"`
	RequestID    string     `json:"request_id"`
	ApproverRole string     `json:"approver_role"`
	// Actor is the authenticated individual who acted as ApproverRole.
	Actor   string     `json:"actor,omitempty"`
	Kind    ActionKind `json:"action"`
	Comment string     `json:"comment,omitempty"`
	// Seq is the audit-trail insertion order, assigned by storage.
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Command payloads
// ──────────────────────────────────────────────────────────────────────────────

type CreateRequestInput struct {
	TicketID          string              `json:"ticket_id"`
	RequiredApprovers []string            `json:"required_approvers"`
	RuleTriggered     string              `json:"rule_triggered"`
	RoleRules         map[string][]string `json:"role_rules,omitempty"`
}

type SubmitActionInput struct {
	Role    string     `json:"role"`
	Actor   string     `json:"actor,omitempty"`
	Kind    ActionKind `json:"action"`
	Comment string     `json:"comment,omitempty"`
}

// SubmitTicketResponse is returned by the ticket-submission entry point.
type SubmitTicketResponse struct {
	TicketID      string           `json:"ticket_id"`
	TicketStatus  TicketStatus     `json:"ticket_status"`
	Request       *ApprovalRequest `json:"approval_request,omitempty"`
	RuleTriggered string           `json:"rule_triggered,omitempty"`
}
