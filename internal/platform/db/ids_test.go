package db

import (
	"strings"
	"testing"
)

func TestNewID_Format(t *testing.T) {
	id := NewID(PrefixPatient)
	if !strings.HasPrefix(id, "pat_") {
		t.Fatalf("expected pat_ prefix, got %s", id)
	}
	suffix := strings.TrimPrefix(id, "pat_")
	if len(suffix) != idLength {
		t.Errorf("expected %d random chars, got %d", idLength, len(suffix))
	}
	for _, r := range suffix {
		if !strings.ContainsRune(idAlphabet, r) {
			t.Errorf("unexpected character %q in %s", r, id)
		}
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID(PrefixNote)
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
