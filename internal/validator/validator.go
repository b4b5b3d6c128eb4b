// Package validator checks that a translation came back in the language it was
// requested in.
package validator

import (
	"fmt"
	"strings"

	"github.com/valpere/llmvalues/internal/detector"
	"github.com/valpere/llmvalues/internal/languages"
)

// Below this many runes detection is unreliable and the text is accepted.
const minValidationLength = 20

// Validator wraps a detector, which is expensive to build; share one instance.
type Validator struct {
	det *detector.Detector
}

// New restricts detection to the given language names when possible.
func New(names ...string) *Validator {
	return &Validator{det: detector.New(names...)}
}

// IsValid reports whether text appears to be written in target, an English
// language name such as "French". Unknown targets, short texts and texts whose
// language cannot be determined pass.
func (v *Validator) IsValid(text, target string) (bool, error) {
	if target == "" {
		return true, nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return false, fmt.Errorf("translation is empty")
	}

	if len([]rune(text)) < minValidationLength {
		return true, nil
	}

	want, err := languages.ISO(target)
	if err != nil {
		return true, nil
	}

	detected, ok := v.det.DetectISO(text)
	if !ok {
		return true, nil
	}

	if !strings.EqualFold(detected, want) {
		return false, fmt.Errorf("expected %s but detected %s", target, strings.ToLower(detected))
	}
	return true, nil
}
