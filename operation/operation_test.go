package operation

import "testing"

func TestOpKind_String(t *testing.T) {
	tests := []struct {
		k    OpKind
		want string
	}{
		{Create(), "create"},
		{Update(), "update"},
		{Delete(), "delete"},
		{Custom("archive"), "custom(archive)"},
	}
	for _, tt := range tests {
		if got := tt.k.String(); got != tt.want {
			t.Errorf("OpKind.String() = %q, want %q", got, tt.want)
		}
	}
}

func TestOpKind_Equal(t *testing.T) {
	if !Create().Equal(Create()) {
		t.Error("Create() should equal itself")
	}
	if Custom("a").Equal(Custom("b")) {
		t.Error("Custom(a) should not equal Custom(b)")
	}
	if Create().Equal(Update()) {
		t.Error("Create() should not equal Update()")
	}
}

func TestCustom_PanicsOnEmptyName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Custom(\"\") should panic")
		}
	}()
	Custom("")
}

func TestOperation_Equal(t *testing.T) {
	a := Operation{ID: "op-1", EntityType: "widget", EntityID: "w1"}
	b := Operation{ID: "op-1", EntityType: "different", EntityID: "mismatch"}
	c := Operation{ID: "op-2"}

	if !a.Equal(b) {
		t.Error("operations with the same ID should be equal regardless of other fields")
	}
	if a.Equal(c) {
		t.Error("operations with different IDs should not be equal")
	}
}

func TestOperation_Validate(t *testing.T) {
	valid := Operation{ID: "op-1", EntityType: "widget", EntityID: "w1", OpKind: Create()}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		op   Operation
	}{
		{"empty id", Operation{EntityType: "widget", EntityID: "w1", OpKind: Create()}},
		{"empty entity type", Operation{ID: "op-1", EntityID: "w1", OpKind: Create()}},
		{"empty entity id", Operation{ID: "op-1", EntityType: "widget", OpKind: Create()}},
		{"custom without name", Operation{ID: "op-1", EntityType: "widget", EntityID: "w1", OpKind: OpKind{Kind: KindCustom}}},
		{"unknown kind", Operation{ID: "op-1", EntityType: "widget", EntityID: "w1", OpKind: OpKind{Kind: "bogus"}}},
	}
	for _, tt := range tests {
		if err := tt.op.Validate(); err == nil {
			t.Errorf("%s: expected validation error, got nil", tt.name)
		}
	}
}

func TestPayload_Merge(t *testing.T) {
	a := Payload{"name": "A", "price": 10.0}
	b := Payload{"name": "B"}

	merged := Merge(a, b)
	if merged["name"] != "B" {
		t.Errorf("merged[name] = %v, want B", merged["name"])
	}
	if merged["price"] != 10.0 {
		t.Errorf("merged[price] = %v, want 10.0", merged["price"])
	}

	// Inputs must be untouched.
	if a["name"] != "A" {
		t.Error("Merge must not mutate its first argument")
	}
}

func TestOperation_Clone_IsIndependent(t *testing.T) {
	orig := Operation{ID: "op-1", Payload: Payload{"name": "A"}}
	cp := orig.Clone()
	cp.Payload["name"] = "B"

	if orig.Payload["name"] != "A" {
		t.Error("mutating a clone's payload must not affect the original")
	}
}

func TestToMap_FromMap_RoundTrip(t *testing.T) {
	ops := []Operation{
		{
			ID:         "op-1",
			EntityType: "product",
			EntityID:   "p1",
			OpKind:     Create(),
			Payload:    Payload{"name": "A", "price": 10.0},
			Timestamp:  1000,
			Status:     StatusPending,
			DeviceID:   "d1",
			RetryCount: 0,
		},
		{
			ID:           "op-2",
			EntityType:   "product",
			EntityID:     "p1",
			OpKind:       Custom("archive"),
			Payload:      Payload{},
			Timestamp:    2000,
			Status:       StatusFailed,
			DeviceID:     "d1",
			RetryCount:   3,
			ErrorMessage: "no adapter for product",
		},
	}

	for _, op := range ops {
		m := op.ToMap()
		got, err := FromMap(m)
		if err != nil {
			t.Fatalf("FromMap: %v", err)
		}
		if got.ID != op.ID || got.EntityType != op.EntityType || got.EntityID != op.EntityID ||
			!got.OpKind.Equal(op.OpKind) || got.Timestamp != op.Timestamp || got.Status != op.Status ||
			got.DeviceID != op.DeviceID || got.RetryCount != op.RetryCount || got.ErrorMessage != op.ErrorMessage {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, op)
		}
		if len(got.Payload) != len(op.Payload) {
			t.Errorf("round trip payload length mismatch: got %v, want %v", got.Payload, op.Payload)
		}
		for k, v := range op.Payload {
			if got.Payload[k] != v {
				t.Errorf("round trip payload[%s] = %v, want %v", k, got.Payload[k], v)
			}
		}
	}
}
