package workflow

import (
	"testing"

	"github.com/avasiliu/tradegate/pkg/types"
)

func action(role string, kind types.ActionKind) types.ApprovalAction {
	return types.ApprovalAction{ApproverRole: role, Kind: kind}
}

func TestDecidePartialApprovalStaysPending(t *testing.T) {
	required := []string{"Hedging", "CFO"}

	got := Decide(required, []types.ApprovalAction{action("Hedging", types.ActionApprove)})
	if got != types.RequestPending {
		t.Fatalf("after first approval status = %s, want %s", got, types.RequestPending)
	}

	got = Decide(required, []types.ApprovalAction{
		action("Hedging", types.ActionApprove),
		action("CFO", types.ActionApprove),
	})
	if got != types.RequestApproved {
		t.Fatalf("after full approval status = %s, want %s", got, types.RequestApproved)
	}
}

func TestDecideSingleRejectIsFinal(t *testing.T) {
	required := []string{"Hedging", "CFO"}

	got := Decide(required, []types.ApprovalAction{action("Hedging", types.ActionReject)})
	if got != types.RequestRejected {
		t.Fatalf("after reject status = %s, want %s", got, types.RequestRejected)
	}

	// A reject is not overridable by later approvals, even a full set.
	got = Decide(required, []types.ApprovalAction{
		action("Hedging", types.ActionReject),
		action("Hedging", types.ActionApprove),
		action("CFO", types.ActionApprove),
	})
	if got != types.RequestRejected {
		t.Fatalf("approvals after reject status = %s, want %s", got, types.RequestRejected)
	}
}

func TestDecideRequestChangesDoesNotMoveStatus(t *testing.T) {
	required := []string{"Hedging", "CFO"}

	got := Decide(required, []types.ApprovalAction{
		action("Hedging", types.ActionApprove),
		action("CFO", types.ActionRequestChanges),
	})
	if got != types.RequestPending {
		t.Fatalf("status = %s, want %s", got, types.RequestPending)
	}

	// Request-changes does not reset earlier approvals either.
	got = Decide(required, []types.ApprovalAction{
		action("Hedging", types.ActionApprove),
		action("CFO", types.ActionRequestChanges),
		action("CFO", types.ActionApprove),
	})
	if got != types.RequestApproved {
		t.Fatalf("status = %s, want %s", got, types.RequestApproved)
	}
}

func TestDecideExtraRolesDoNotSatisfyRequirement(t *testing.T) {
	required := []string{"Hedging", "CFO"}

	got := Decide(required, []types.ApprovalAction{
		action("Operations", types.ActionApprove),
		action("Management", types.ActionApprove),
	})
	if got != types.RequestPending {
		t.Fatalf("status = %s, want %s", got, types.RequestPending)
	}
}

func TestDecideRepeatedApprovalsCountOnce(t *testing.T) {
	required := []string{"Hedging", "CFO"}

	got := Decide(required, []types.ApprovalAction{
		action("Hedging", types.ActionApprove),
		action("Hedging", types.ActionApprove),
	})
	if got != types.RequestPending {
		t.Fatalf("status = %s, want %s", got, types.RequestPending)
	}
}
