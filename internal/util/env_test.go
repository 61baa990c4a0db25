package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"OFF", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("CHATDESK_TEST_BOOL", tt.val)
		if got := ParseBoolEnv("CHATDESK_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.val, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		val  string
		want int
	}{
		{"", 30},
		{"7", 7},
		{" 12 ", 12},
		{"-1", 30},
		{"ten", 30},
	}
	for _, tt := range tests {
		t.Setenv("CHATDESK_TEST_INT", tt.val)
		if got := ParseIntEnv("CHATDESK_TEST_INT", 30); got != tt.want {
			t.Errorf("ParseIntEnv(%q) = %d, want %d", tt.val, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		val  string
		want time.Duration
	}{
		{"", time.Hour},
		{"90s", 90 * time.Second},
		{"0s", time.Hour},
		{"soon", time.Hour},
	}
	for _, tt := range tests {
		t.Setenv("CHATDESK_TEST_DURATION", tt.val)
		if got := ParseDurationEnv("CHATDESK_TEST_DURATION", time.Hour); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.val, got, tt.want)
		}
	}
}

func TestStringEnv(t *testing.T) {
	t.Setenv("CHATDESK_TEST_A", "")
	t.Setenv("CHATDESK_TEST_B", "second")
	if got := StringEnv("def", "CHATDESK_TEST_A", "CHATDESK_TEST_B"); got != "second" {
		t.Errorf("StringEnv = %q, want second", got)
	}
	if got := StringEnv("def", "CHATDESK_TEST_A"); got != "def" {
		t.Errorf("StringEnv = %q, want def", got)
	}
}
