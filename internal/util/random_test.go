package util

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomID(t *testing.T) {
	id := GenerateRandomID("outbox_", 32)
	if !strings.HasPrefix(id, "outbox_") || len(id) != len("outbox_")+32 {
		t.Fatalf("GenerateRandomID = %q", id)
	}
	if strings.Trim(id[len("outbox_"):], hexDigits) != "" {
		t.Errorf("non-hex characters in %q", id)
	}
	if GenerateRandomID("x", 32) == GenerateRandomID("x", 32) {
		t.Error("two ids collided")
	}
}

func TestGenerateRandomHexLength(t *testing.T) {
	for _, n := range []int{-1, 0, 1, 16, 64} {
		want := max(n, 0)
		if got := GenerateRandomHex(n); len(got) != want {
			t.Errorf("GenerateRandomHex(%d) length = %d, want %d", n, len(got), want)
		}
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		val  string
		def  bool
		want bool
	}{
		{"", true, true},
		{"yes", false, true},
		{" ON ", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("INTAKEPIPE_TEST_BOOL", tt.val)
		if got := ParseBoolEnv("INTAKEPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v", tt.val, tt.def, got)
		}
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("INTAKEPIPE_TEST_STR", "  ")
	if got := EnvOr("INTAKEPIPE_TEST_STR", "def"); got != "def" {
		t.Errorf("blank value: got %q", got)
	}
	t.Setenv("INTAKEPIPE_TEST_STR", "set")
	if got := EnvOr("INTAKEPIPE_TEST_STR", "def"); got != "set" {
		t.Errorf("got %q", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := map[string]time.Duration{
		"":     time.Second,
		"5s":   5 * time.Second,
		"-1s":  time.Second,
		"junk": time.Second,
	}
	for val, want := range tests {
		t.Setenv("INTAKEPIPE_TEST_DUR", val)
		if got := ParseDurationEnv("INTAKEPIPE_TEST_DUR", time.Second); got != want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", val, got, want)
		}
	}
}
