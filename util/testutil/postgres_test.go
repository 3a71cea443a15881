package testutil

import (
	"strings"
	"testing"
)

func TestSanitizeDBName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "TestSave", expected: "testsave"},
		{name: "subtest", input: "TestSave/with-nodes", expected: "testsave_with_nodes"},
		{name: "leading digit", input: "1st", expected: "t_1st"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeDBName(tt.input); got != tt.expected {
				t.Errorf("sanitizeDBName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}

	long := sanitizeDBName(strings.Repeat("a", 100))
	if len(long) != 63 {
		t.Errorf("Expected name truncated to 63 chars, got %d", len(long))
	}
}
