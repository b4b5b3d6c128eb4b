package detector

import (
	"strings"

	lingua "github.com/pemistahl/lingua-go"

	"github.com/valpere/llmvalues/internal/languages"
)

type Detector struct {
	detector lingua.LanguageDetector
}

// New builds a detector. When at least two of the given language names are
// known to lingua the model set is restricted to them, which is both faster
// and more accurate; otherwise every language is loaded.
func New(names ...string) *Detector {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		if code, err := languages.ISO(name); err == nil {
			wanted[strings.ToUpper(code)] = true
		}
	}

	var selected []lingua.Language
	for _, lang := range lingua.AllLanguages() {
		if wanted[lang.IsoCode639_1().String()] {
			selected = append(selected, lang)
		}
	}

	builder := lingua.NewLanguageDetectorBuilder()
	var detector lingua.LanguageDetector
	if len(selected) >= 2 {
		detector = builder.FromLanguages(selected...).Build()
	} else {
		detector = builder.FromAllLanguages().Build()
	}
	return &Detector{detector: detector}
}

func (d *Detector) Detect(text string) (lingua.Language, bool) {
	if strings.TrimSpace(text) == "" {
		return lingua.Unknown, false
	}
	return d.detector.DetectLanguageOf(text)
}

// DetectName returns the English name of the detected language, e.g. "French".
func (d *Detector) DetectName(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return lang.String(), true
}

func (d *Detector) DetectISO(text string) (string, bool) {
	lang, ok := d.Detect(text)
	if !ok {
		return "", false
	}
	return lang.IsoCode639_1().String(), true
}
