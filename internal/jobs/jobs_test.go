package jobs

import (
	"strings"
	"testing"
)

func TestGenerateID_PrefixAndLength(t *testing.T) {
	id := GenerateID("order-")
	if !strings.HasPrefix(id, "order-") {
		t.Errorf("expected order- prefix, got %q", id)
	}
	// 16 random bytes hex-encoded = 32 chars.
	if len(id) != len("order-")+32 {
		t.Errorf("unexpected length %d for %q", len(id), id)
	}
}

func TestGenerateID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateID("export-")
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestParseRoute(t *testing.T) {
	tests := []struct {
		path       string
		wantID     string
		wantAction string
		wantOK     bool
	}{
		{"/api/books/abc-123/status", "abc-123", "status", true},
		{"/api/books/abc-123/retry", "abc-123", "retry", true},
		{"/api/books/abc-123", "", "", false},
		{"/api/books//status", "", "", false},
		{"/api/other/abc/status", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		id, action, ok := ParseRoute(tt.path, "/api/books/")
		if id != tt.wantID || action != tt.wantAction || ok != tt.wantOK {
			t.Errorf("ParseRoute(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.path, id, action, ok, tt.wantID, tt.wantAction, tt.wantOK)
		}
	}
}
