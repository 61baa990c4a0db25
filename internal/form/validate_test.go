package form

import "testing"

func TestValidators(t *testing.T) {
	m := NewMachine()
	tests := []struct {
		kind  string
		input string
		want  bool
	}{
		{"identification", "12345", true},
		{"identification", "12a34", false},
		{"identification", "", false},
		{"full-name", "Juan Perez", true},
		{"full_name", "Juan", false},
		{"full_name", "Juan P", false},
		{"full_name", "José Ñúñez", true},
		{"email", "juan@example.com", true},
		{"email", "juan@example", false},
		{"email", "juan perez@example.com", false},
		{"phone", "+5215550001", true},
		{"phone", "12ab", false},
		{"free-text", "lo que sea", true},
		{"text", "   ", false},
		{"unknown-kind", "anything", true},
	}
	for _, tt := range tests {
		if got := m.Validate(tt.kind, tt.input); got != tt.want {
			t.Errorf("Validate(%q, %q) = %v, want %v", tt.kind, tt.input, got, tt.want)
		}
	}
}

func TestWithValidator(t *testing.T) {
	m := NewMachine(WithValidator("postal_code", func(s string) bool { return len(s) == 5 }))
	if !m.Validate("postal_code", "12345") || m.Validate("postal_code", "1234") {
		t.Fatal("custom validator not applied")
	}
}

func TestCanonicalKind(t *testing.T) {
	if CanonicalKind("Full-Name") != KindFullName {
		t.Error("alias not resolved")
	}
	if CanonicalKind("custom") != "custom" {
		t.Error("unknown kinds should pass through")
	}
}
