package nullable

import (
	"encoding/json"
	"testing"
)

type patch struct {
	AudioPath Field[string] `json:"audioPath"`
	Name      Field[string] `json:"name"`
}

func TestField_AbsentNullValue(t *testing.T) {
	var p patch
	if err := json.Unmarshal([]byte(`{"audioPath":null,"name":"Visit"}`), &p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.AudioPath.Set || !p.AudioPath.Null {
		t.Errorf("expected audioPath set to null, got %+v", p.AudioPath)
	}
	if p.AudioPath.Ptr() != nil {
		t.Error("expected nil pointer for null field")
	}
	if !p.Name.HasValue() || p.Name.Value != "Visit" {
		t.Errorf("expected name=Visit, got %+v", p.Name)
	}

	var empty patch
	if err := json.Unmarshal([]byte(`{}`), &empty); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if empty.AudioPath.Set || empty.Name.Set {
		t.Error("expected absent fields to be unset")
	}
}

func TestField_InvalidType(t *testing.T) {
	var p patch
	if err := json.Unmarshal([]byte(`{"name":42}`), &p); err == nil {
		t.Error("expected error for number into string field")
	}
}

func TestField_Marshal(t *testing.T) {
	out, err := json.Marshal(patch{AudioPath: Null[string](), Name: Of("x")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"audioPath":null,"name":"x"}` {
		t.Errorf("unexpected JSON: %s", out)
	}
}
