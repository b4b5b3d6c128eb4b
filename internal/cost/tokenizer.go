package cost

import (
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

type Tokenizer interface {
	Count(text string) int
}

type Tiktoken struct {
	enc *tiktoken.Tiktoken
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// WordTokenizer approximates tokens as words × Factor.
type WordTokenizer struct {
	Factor float64
}

func (w WordTokenizer) Count(text string) int {
	factor := w.Factor
	if factor <= 0 {
		factor = 1.4
	}
	return int(math.Floor(float64(len(strings.Fields(text))) * factor))
}

// NewTokenizer loads the cl100k_base encoding, falling back to the word
// heuristic when the encoding cannot be loaded (it is fetched on first use).
func NewTokenizer() Tokenizer {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return WordTokenizer{Factor: 1.4}
	}
	return &Tiktoken{enc: enc}
}
