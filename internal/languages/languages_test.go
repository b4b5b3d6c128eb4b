package languages

import (
	"errors"
	"testing"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"French", "French"},
		{"french", "French"},
		{"  German ", "German"},
		{"fr", "French"},
		{"ja", "Japanese"},
		{"Deutsch", "German"},
	}
	for _, tt := range tests {
		got, err := Canonical(tt.input)
		if err != nil {
			t.Errorf("Canonical(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLookup_Unknown(t *testing.T) {
	if _, err := Lookup("Klingon"); !errors.Is(err, ErrUnknownLanguage) {
		t.Errorf("expected ErrUnknownLanguage, got %v", err)
	}
}

func TestISO(t *testing.T) {
	got, err := ISO("Ukrainian")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "uk" {
		t.Errorf("ISO(Ukrainian) = %q, want uk", got)
	}
}

func TestSupported_IncludesSource(t *testing.T) {
	found := false
	for _, name := range Supported() {
		if name == Source {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in supported list", Source)
	}
}
