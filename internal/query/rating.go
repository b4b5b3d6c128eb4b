package query

import (
	"regexp"
	"strconv"
)

var ratingRe = regexp.MustCompile(`\[\[(\d+)\]\]`)

const (
	MinRating     = 1
	MaxRating     = 9
	NeutralRating = 5
)

// ExtractRating returns the integer in the first [[N]] group of s when it lies
// in [1,9]. Anything else, including no match, yields nil. Values are never
// clamped.
func ExtractRating(s string) *int {
	m := ratingRe.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < MinRating || n > MaxRating {
		return nil
	}
	return &n
}
