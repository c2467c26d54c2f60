package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/avasiliu/tradegate/pkg/types"
)

// fakeWorkflowStore mirrors the transactional store semantics in memory:
// every SubmitAction runs under one lock, appends to the trail, and
// re-derives status from the full history.
type fakeWorkflowStore struct {
	mu       sync.Mutex
	requests map[string]*types.ApprovalRequest
	actions  map[string][]types.ApprovalAction
	seq      int64
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{
		requests: make(map[string]*types.ApprovalRequest),
		actions:  make(map[string][]types.ApprovalAction),
	}
}

func (f *fakeWorkflowStore) addRequest(id, ticketID string, approvers ...string) {
	f.requests[id] = &types.ApprovalRequest{
		ID: id, TicketID: ticketID,
		RequiredApprovers: approvers,
		Status:            types.RequestPending,
	}
}

func (f *fakeWorkflowStore) CreateRequest(_ context.Context, in types.CreateRequestInput) (*types.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.requests {
		if req.TicketID == in.TicketID && req.Status == types.RequestPending {
			return req, nil
		}
	}
	req := &types.ApprovalRequest{
		ID:                fmt.Sprintf("req-%d", len(f.requests)+1),
		TicketID:          in.TicketID,
		RequiredApprovers: in.RequiredApprovers,
		RuleTriggered:     in.RuleTriggered,
		RoleRules:         in.RoleRules,
		Status:            types.RequestPending,
	}
	f.requests[req.ID] = req
	return req, nil
}

func (f *fakeWorkflowStore) GetRequest(_ context.Context, id string) (*types.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[id], nil
}

func (f *fakeWorkflowStore) SubmitAction(_ context.Context, requestID string, in types.SubmitActionInput) (*types.ApprovalRequest, *types.ApprovalAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	req, ok := f.requests[requestID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if !req.RequiresRole(in.Role) {
		return nil, nil, ErrInvalidRole
	}
	if req.Status.Terminal() {
		return req, nil, ErrAlreadyTerminal
	}
	if in.Kind == types.ActionApprove {
		for _, a := range f.actions[requestID] {
			if a.ApproverRole == in.Role && a.Kind == types.ActionApprove {
				return req, nil, ErrDuplicateApproval
			}
		}
	}

	f.seq++
	act := types.ApprovalAction{
		ID: fmt.Sprintf("act-%d", f.seq), RequestID: requestID,
		ApproverRole: in.Role, Actor: in.Actor,
		Kind: in.Kind, Comment: in.Comment, Seq: f.seq,
	}
	f.actions[requestID] = append(f.actions[requestID], act)
	req.Status = Decide(req.RequiredApprovers, f.actions[requestID])
	return req, &act, nil
}

func (f *fakeWorkflowStore) ListPending(_ context.Context, _, _ int) ([]types.ApprovalRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.ApprovalRequest, 0)
	for _, req := range f.requests {
		if req.Status == types.RequestPending {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (f *fakeWorkflowStore) ListForRequest(_ context.Context, requestID string) ([]types.ApprovalAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.ApprovalAction(nil), f.actions[requestID]...), nil
}

func newWorkflowRouter(store *fakeWorkflowStore, authorizer *RoleAuthorizer) http.Handler {
	r := chi.NewRouter()
	NewHandlers(store, store, authorizer).RegisterRoutes(r)
	return r
}

func postAction(t *testing.T, router http.Handler, requestID string, in types.SubmitActionInput) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST",
		"/v1/approval-requests/"+requestID+"/actions", bytes.NewBuffer(body)))
	return rec
}

func decodeRequestStatus(t *testing.T, rec *httptest.ResponseRecorder) types.RequestStatus {
	t.Helper()
	var resp struct {
		Request types.ApprovalRequest `json:"request"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return resp.Request.Status
}

func TestSubmitActionSequentialApproval(t *testing.T) {
	store := newFakeWorkflowStore()
	store.addRequest("req-1", "tick-1", "Hedging", "CFO")
	router := newWorkflowRouter(store, nil)

	rec := postAction(t, router, "req-1", types.SubmitActionInput{Role: "Hedging", Actor: "alice", Kind: types.ActionApprove})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first approve status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decodeRequestStatus(t, rec); got != types.RequestPending {
		t.Fatalf("after first approve request status = %s", got)
	}

	rec = postAction(t, router, "req-1", types.SubmitActionInput{Role: "CFO", Actor: "carol", Kind: types.ActionApprove})
	if rec.Code != http.StatusCreated {
		t.Fatalf("second approve status = %d", rec.Code)
	}
	if got := decodeRequestStatus(t, rec); got != types.RequestApproved {
		t.Fatalf("after full approval request status = %s", got)
	}
}

func TestSubmitActionRejectIsImmediatelyTerminal(t *testing.T) {
	store := newFakeWorkflowStore()
	store.addRequest("req-1", "tick-1", "Hedging", "CFO")
	router := newWorkflowRouter(store, nil)

	rec := postAction(t, router, "req-1", types.SubmitActionInput{Role: "Hedging", Actor: "alice", Kind: types.ActionReject})
	if rec.Code != http.StatusCreated {
		t.Fatalf("reject status = %d", rec.Code)
	}
	if got := decodeRequestStatus(t, rec); got != types.RequestRejected {
		t.Fatalf("after reject request status = %s", got)
	}

	// CFO's still-pending approval now bounces off the terminal state.
	rec = postAction(t, router, "req-1", types.SubmitActionInput{Role: "CFO", Actor: "carol", Kind: types.ActionApprove})
	if rec.Code != http.StatusConflict {
		t.Fatalf("approve after reject status = %d", rec.Code)
	}
	var apiErr types.APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatal(err)
	}
	if apiErr.Code != "ALREADY_TERMINAL" {
		t.Errorf("code = %q", apiErr.Code)
	}
}

func TestSubmitActionErrorMapping(t *testing.T) {
	store := newFakeWorkflowStore()
	store.addRequest("req-1", "tick-1", "Hedging", "CFO")
	router := newWorkflowRouter(store, nil)

	if rec := postAction(t, router, "req-1", types.SubmitActionInput{Role: "Hedging", Actor: "alice", Kind: types.ActionApprove}); rec.Code != http.StatusCreated {
		t.Fatalf("setup approve status = %d", rec.Code)
	}

	tests := []struct {
		name      string
		requestID string
		in        types.SubmitActionInput
		wantHTTP  int
		wantCode  string
	}{
		{"unknown request", "nope", types.SubmitActionInput{Role: "CFO", Actor: "carol", Kind: types.ActionApprove}, http.StatusNotFound, "NOT_FOUND"},
		{"role not required", "req-1", types.SubmitActionInput{Role: "Legal", Actor: "lou", Kind: types.ActionApprove}, http.StatusForbidden, "INVALID_ROLE"},
		{"duplicate approval", "req-1", types.SubmitActionInput{Role: "Hedging", Actor: "alice", Kind: types.ActionApprove}, http.StatusConflict, "DUPLICATE_APPROVAL"},
		{"unknown action kind", "req-1", types.SubmitActionInput{Role: "CFO", Actor: "carol", Kind: "escalate"}, http.StatusBadRequest, "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postAction(t, router, tt.requestID, tt.in)
			if rec.Code != tt.wantHTTP {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantHTTP, rec.Body.String())
			}
			var apiErr types.APIError
			if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
				t.Fatal(err)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", apiErr.Code, tt.wantCode)
			}
		})
	}

	// Repeated request_changes are allowed and recorded.
	if rec := postAction(t, router, "req-1", types.SubmitActionInput{Role: "CFO", Actor: "carol", Kind: types.ActionRequestChanges}); rec.Code != http.StatusCreated {
		t.Fatalf("request_changes status = %d", rec.Code)
	}
	if rec := postAction(t, router, "req-1", types.SubmitActionInput{Role: "CFO", Actor: "carol", Kind: types.ActionRequestChanges}); rec.Code != http.StatusCreated {
		t.Fatalf("repeated request_changes status = %d", rec.Code)
	}
}

func TestSubmitActionRoleAuthorizer(t *testing.T) {
	store := newFakeWorkflowStore()
	store.addRequest("req-1", "tick-1", "Hedging", "CFO")
	router := newWorkflowRouter(store, NewRoleAuthorizer("CFO:carol@desk.example"))

	rec := postAction(t, router, "req-1", types.SubmitActionInput{Role: "CFO", Actor: "mallory@desk.example", Kind: types.ActionApprove})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	rec = postAction(t, router, "req-1", types.SubmitActionInput{Role: "CFO", Actor: "Carol@desk.example", Kind: types.ActionApprove})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Hedging has no allowlist entry, so any actor passes.
	rec = postAction(t, router, "req-1", types.SubmitActionInput{Role: "Hedging", Actor: "whoever", Kind: types.ActionApprove})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateRequestIdempotentPerTicket(t *testing.T) {
	store := newFakeWorkflowStore()
	router := newWorkflowRouter(store, nil)

	body, _ := json.Marshal(types.CreateRequestInput{
		TicketID:          "tick-1",
		RequiredApprovers: []string{"Hedging", "CFO"},
		RuleTriggered:     "Non-standard pricing detected",
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/approval-requests", bytes.NewBuffer(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	var first types.ApprovalRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatal(err)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/approval-requests", bytes.NewBuffer(body)))
	var second types.ApprovalRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("re-submission opened a second request: %s vs %s", first.ID, second.ID)
	}
}

func TestConcurrentApprovalsSettleExactlyOnce(t *testing.T) {
	store := newFakeWorkflowStore()
	store.addRequest("req-1", "tick-1", "Hedging", "CFO", "Operations")
	router := newWorkflowRouter(store, nil)

	roles := []string{"Hedging", "CFO", "Operations"}
	const perRole = 5

	var wg sync.WaitGroup
	codes := make(chan int, len(roles)*perRole)
	for _, role := range roles {
		for i := 0; i < perRole; i++ {
			wg.Add(1)
			go func(role string) {
				defer wg.Done()
				rec := postAction(t, router, "req-1", types.SubmitActionInput{
					Role: role, Actor: "bot", Kind: types.ActionApprove,
				})
				codes <- rec.Code
			}(role)
		}
	}
	wg.Wait()
	close(codes)

	var created, conflicts int
	for code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicts++
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	// Exactly one approve per role lands; every other call is either a
	// duplicate or arrives after the terminal transition.
	if created != len(roles) {
		t.Errorf("created = %d, want %d", created, len(roles))
	}
	if conflicts != len(roles)*(perRole-1) {
		t.Errorf("conflicts = %d, want %d", conflicts, len(roles)*(perRole-1))
	}

	req, _ := store.GetRequest(context.Background(), "req-1")
	if req.Status != types.RequestApproved {
		t.Errorf("final status = %s, want %s", req.Status, types.RequestApproved)
	}

	actions, _ := store.ListForRequest(context.Background(), "req-1")
	if len(actions) != len(roles) {
		t.Errorf("trail has %d actions, want %d", len(actions), len(roles))
	}
}
