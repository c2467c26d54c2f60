// Package workflow implements the per-ticket approval state machine:
// request creation, role-scoped action submission, and aggregate status.
package workflow

import (
	"github.com/avasiliu/tradegate/pkg/types"
)

// Decide derives the aggregate status of a request from its frozen approver
// set and the complete action history in insertion order.
//
// A single reject is final and cannot be overridden by later approvals.
// Approval requires every required role to have at least one approve on
// record. Request-changes actions are recorded but never move the status.
// The status is always re-derived from the full history rather than
// incrementally maintained, so the audit trail and the aggregate state
// cannot drift apart.
func Decide(required []string, actions []types.ApprovalAction) types.RequestStatus {
	approved := make(map[string]struct{})
	for _, a := range actions {
		switch a.Kind {
		case types.ActionReject:
			return types.RequestRejected
		case types.ActionApprove:
			approved[a.ApproverRole] = struct{}{}
		}
	}

	for _, role := range required {
		if _, ok := approved[role]; !ok {
			return types.RequestPending
		}
	}
	return types.RequestApproved
}
