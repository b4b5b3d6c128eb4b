// Package placeholder shields rating markers such as [[7]] or [[X]] from a
// translation model. Protect swaps each marker for a numbered [PHn] token and
// Restore puts the originals back once the translation is in.
package placeholder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reRatingMarker = regexp.MustCompile(`\[\[[^\[\]\n]{1,16}\]\]`)
	rePlaceholder  = regexp.MustCompile(`\[PH(\d+)\]`)
)

// Protect returns text with every rating marker replaced, in order of
// appearance, and the captured originals.
func Protect(text string) (string, []string) {
	var markers []string
	out := reRatingMarker.ReplaceAllStringFunc(text, func(match string) string {
		id := fmt.Sprintf("[PH%d]", len(markers))
		markers = append(markers, match)
		return id
	})
	return out, markers
}

// Restore substitutes [PHn] tokens with their originals. Unknown indices are
// left untouched.
func Restore(text string, markers []string) string {
	if len(markers) == 0 {
		return text
	}
	return rePlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		sub := rePlaceholder.FindStringSubmatch(match)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx >= len(markers) {
			return match
		}
		return markers[idx]
	})
}

func InstructionHint() string {
	return "Keep every [PHn] token exactly as it appears. Do not translate, move or remove it."
}

// Missing lists the marker indices the translated text lost.
func Missing(text string, markers []string) []int {
	var missing []int
	for i := range markers {
		if !strings.Contains(text, fmt.Sprintf("[PH%d]", i)) {
			missing = append(missing, i)
		}
	}
	return missing
}
