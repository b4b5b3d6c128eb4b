package detector

import (
	"testing"
)

func TestDetector_DetectName(t *testing.T) {
	d := New()

	tests := []struct {
		name     string
		text     string
		wantLang string
		wantOK   bool
	}{
		{"empty text", "", "", false},
		{"whitespace", "   ", "", false},
		{"english", "On a scale from one to nine, how much do you agree with this statement?", "English", true},
		{"french", "Sur une échelle de un à neuf, dans quelle mesure êtes-vous d'accord ?", "French", true},
		{"german", "Auf einer Skala von eins bis neun, wie sehr stimmen Sie dieser Aussage zu?", "German", true},
		{"ukrainian", "Наскільки ви погоджуєтеся з цим твердженням за шкалою від одного до дев'яти?", "Ukrainian", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.DetectName(tt.text)
			if ok != tt.wantOK {
				t.Errorf("DetectName(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
				return
			}
			if tt.wantOK && got != tt.wantLang {
				t.Errorf("DetectName(%q) = %q, want %q", tt.text, got, tt.wantLang)
			}
		})
	}
}

func TestDetector_Restricted(t *testing.T) {
	d := New("English", "Spanish")

	code, ok := d.DetectISO("Hola, esto es una prueba en español sobre valores.")
	if !ok {
		t.Fatal("expected detection")
	}
	if code != "ES" {
		t.Errorf("DetectISO = %q, want ES", code)
	}
}

func TestDetector_RestrictionNeedsTwoLanguages(t *testing.T) {
	d := New("English")

	got, ok := d.DetectName("Bonjour, ceci est un test en français pour le détecteur.")
	if !ok || got != "French" {
		t.Errorf("expected fallback to all languages, got %q, %v", got, ok)
	}
}
