package uuidv7

import "testing"

func TestNewStringIsVersion7(t *testing.T) {
	id := New()
	if id.Version() != 7 {
		t.Fatalf("uuid version = %d, want 7", id.Version())
	}
	s := NewString()
	if len(s) != 36 {
		t.Fatalf("string length = %d, want 36", len(s))
	}
}
