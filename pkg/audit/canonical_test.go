package audit

import (
	"testing"
)

func TestCanonicalJSON_StableKeyOrder(t *testing.T) {
	// Two fact records with the same keys in different insertion order.
	a := map[string]any{"pricing_type": "Formula", "notional": 2500000, "desk": "FX"}
	b := map[string]any{"desk": "FX", "notional": 2500000, "pricing_type": "Formula"}

	ca, err := CanonicalJSON(a)
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	cb, err := CanonicalJSON(b)
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}

	if string(ca) != string(cb) {
		t.Errorf("canonical mismatch:\n  a=%s\n  b=%s", ca, cb)
	}

	expected := `{"desk":"FX","notional":2500000,"pricing_type":"Formula"}`
	if string(ca) != expected {
		t.Errorf("expected %s, got %s", expected, ca)
	}
}

func TestCanonicalJSON_NestedObjects(t *testing.T) {
	obj := map[string]any{
		"role_rules": map[string]any{"Hedging": 1, "CFO": 2},
		"action":     "approve",
	}

	canon, err := CanonicalJSON(obj)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}

	expected := `{"action":"approve","role_rules":{"CFO":2,"Hedging":1}}`
	if string(canon) != expected {
		t.Errorf("expected %s, got %s", expected, canon)
	}
}

func TestCanonicalJSON_StructMatchesMap(t *testing.T) {
	type payload struct {
		Role string `json:"role"`
		Kind string `json:"action"`
	}

	cs, err := CanonicalJSON(payload{Role: "CFO", Kind: "approve"})
	if err != nil {
		t.Fatalf("canonical struct: %v", err)
	}
	cm, err := CanonicalJSON(map[string]any{"action": "approve", "role": "CFO"})
	if err != nil {
		t.Fatalf("canonical map: %v", err)
	}

	if string(cs) != string(cm) {
		t.Errorf("struct and map canonicals differ:\n  struct=%s\n  map=%s", cs, cm)
	}
}

func TestHashBytes_Deterministic(t *testing.T) {
	h1 := HashBytes([]byte(`{"action":"approve"}`))
	h2 := HashBytes([]byte(`{"action":"approve"}`))

	if h1 != h2 {
		t.Errorf("non-deterministic hash: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected SHA-256 hex length 64, got %d", len(h1))
	}
	if h1 == HashBytes([]byte(`{"action":"reject"}`)) {
		t.Error("distinct payloads hashed identically")
	}
}
