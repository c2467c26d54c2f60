package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/avasiliu/tradegate/pkg/types"
)

type fakeRuleStore struct {
	rules map[string]*types.Rule
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{rules: make(map[string]*types.Rule)}
}

func (f *fakeRuleStore) Create(_ context.Context, r *types.Rule) (*types.Rule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r.ID = "rule-1"
	f.rules[r.ID] = r
	return r, nil
}

func (f *fakeRuleStore) Update(_ context.Context, id string, r *types.Rule) (*types.Rule, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if _, ok := f.rules[id]; !ok {
		return nil, nil
	}
	r.ID = id
	f.rules[id] = r
	return r, nil
}

func (f *fakeRuleStore) SetEnabled(_ context.Context, id string, enabled bool) (*types.Rule, error) {
	r, ok := f.rules[id]
	if !ok {
		return nil, nil
	}
	r.Enabled = enabled
	return r, nil
}

func (f *fakeRuleStore) Delete(_ context.Context, id string) (bool, error) {
	if _, ok := f.rules[id]; !ok {
		return false, nil
	}
	delete(f.rules, id)
	return true, nil
}

func (f *fakeRuleStore) Get(_ context.Context, id string) (*types.Rule, error) {
	return f.rules[id], nil
}

func (f *fakeRuleStore) List(_ context.Context) ([]types.Rule, error) {
	out := make([]types.Rule, 0, len(f.rules))
	for _, r := range f.rules {
		out = append(out, *r)
	}
	return out, nil
}

func newRulesRouter(store handlersStore) http.Handler {
	r := chi.NewRouter()
	NewHandlers(store).RegisterRoutes(r)
	return r
}

func ruleBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(types.Rule{
		Name:       "Non-standard pricing detected",
		Priority:   10,
		Enabled:    true,
		Combinator: types.CombinatorAnd,
		Conditions: []types.Condition{
			types.Scalar("pricing_type", types.OpEquals, "Formula"),
		},
		RequiredApprovers: []string{"Hedging", "CFO"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewBuffer(body)
}

func TestCreateRule(t *testing.T) {
	router := newRulesRouter(newFakeRuleStore())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/rules", ruleBody(t)))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created types.Rule
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Error("expected assigned rule ID")
	}
}

func TestCreateRuleValidationError(t *testing.T) {
	router := newRulesRouter(newFakeRuleStore())

	body := bytes.NewBufferString(`{"name":"","combinator":"AND"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/rules", body))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var apiErr types.APIError
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatal(err)
	}
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %q", apiErr.Code)
	}
}

func TestCreateRuleBadJSON(t *testing.T) {
	router := newRulesRouter(newFakeRuleStore())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/rules", bytes.NewBufferString("{not json")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestUpdateRuleNotFound(t *testing.T) {
	router := newRulesRouter(newFakeRuleStore())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("PUT", "/v1/rules/nope", ruleBody(t)))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestDisableThenDeleteRule(t *testing.T) {
	store := newFakeRuleStore()
	router := newRulesRouter(store)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/rules", ruleBody(t)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/rules/rule-1/disable", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d", rec.Code)
	}
	var rule types.Rule
	if err := json.Unmarshal(rec.Body.Bytes(), &rule); err != nil {
		t.Fatal(err)
	}
	if rule.Enabled {
		t.Error("rule still enabled after disable")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/v1/rules/rule-1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/rules/rule-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", rec.Code)
	}
}
