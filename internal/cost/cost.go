// Package cost estimates what a batch of model calls will cost and gates the
// batch against a budget before anything is sent.
package cost

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownModel   = errors.New("no price entry for model")
	ErrBudgetDeclined = errors.New("estimated cost exceeds budget and was declined")
)

// Price is USD per 1000 tokens.
type Price struct {
	Input  float64 `mapstructure:"input" json:"input"`
	Output float64 `mapstructure:"output" json:"output"`
}

func DefaultPrices() map[string]Price {
	return map[string]Price{
		"gpt-4o-2024-05-13":        {Input: 0.005, Output: 0.015},
		"gpt-3.5-turbo-0125":       {Input: 0.0005, Output: 0.0015},
		"mistral-large-latest":     {Input: 0.0038, Output: 0.0113},
		"mistral-small-latest":     {Input: 0.0009, Output: 0.0028},
		"claude-3-opus-20240229":   {Input: 0.015, Output: 0.075},
		"claude-3-sonnet-20240229": {Input: 0.003, Output: 0.015},
		"claude-3-haiku-20240307":  {Input: 0.00025, Output: 0.00125},
		// $20 per million characters at roughly four characters a token.
		"google-translate-v2":      {Input: 0.08, Output: 0},
	}
}

// Policy decides whether to proceed when estimated exceeds budget.
type Policy func(estimated, budget float64) bool

func AutoDeny(estimated, budget float64) bool { return false }

func AutoApprove(estimated, budget float64) bool { return true }

// Prompt asks on out and reads yes/y or no/n from in. Anything other than a
// clear yes, including EOF, declines.
func Prompt(in io.Reader, out io.Writer) Policy {
	return func(estimated, budget float64) bool {
		scanner := bufio.NewScanner(in)
		for {
			fmt.Fprintf(out, "This LLM query will cost approximately $%.2f (budget $%.2f).\nDo you wish to continue? (yes/y or no/n): ", estimated, budget)
			if !scanner.Scan() {
				return false
			}
			switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
			case "yes", "y":
				return true
			case "no", "n":
				return false
			}
			fmt.Fprintln(out, "Invalid input. Please answer with 'yes/y' or 'no/n'.")
		}
	}
}

// Batch describes the calls about to be made.
type Batch struct {
	Items []string
	// Multiplier scales the whole estimate, e.g. languages × repetitions.
	Multiplier float64
	// OutputMultiplier is the expected output/input length ratio when MaxTokens is zero.
	OutputMultiplier float64
	MaxTokens        int
	Model            string
	Budget           float64
}

type Guard struct {
	prices    map[string]Price
	tokenizer Tokenizer
	policy    Policy
	logger    logrus.FieldLogger
}

// NewGuard copies prices. A nil policy means AutoDeny.
func NewGuard(prices map[string]Price, tokenizer Tokenizer, policy Policy, logger logrus.FieldLogger) *Guard {
	p := make(map[string]Price, len(prices))
	for k, v := range prices {
		p[k] = v
	}
	if policy == nil {
		policy = AutoDeny
	}
	return &Guard{prices: p, tokenizer: tokenizer, policy: policy, logger: logger}
}

func (g *Guard) Estimate(b Batch) (float64, error) {
	price, ok := g.prices[b.Model]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownModel, b.Model)
	}

	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	outputMultiplier := b.OutputMultiplier
	if outputMultiplier <= 0 {
		outputMultiplier = 1
	}

	tokens := float64(g.tokenizer.Count(strings.Join(b.Items, " ")))
	input := tokens * price.Input / 1000

	var output float64
	if b.MaxTokens > 0 {
		output = float64(b.MaxTokens) * price.Output / 1000
	} else {
		output = tokens * outputMultiplier * price.Output / 1000
	}

	return (input + output) * multiplier, nil
}

// EstimateAndGate returns the estimate, or ErrBudgetDeclined when it exceeds
// the budget and the policy says no.
func (g *Guard) EstimateAndGate(b Batch) (float64, error) {
	estimated, err := g.Estimate(b)
	if err != nil {
		return 0, err
	}

	fields := logrus.Fields{
		"model":     b.Model,
		"estimated": fmt.Sprintf("$%.4f", estimated),
		"budget":    fmt.Sprintf("$%.2f", b.Budget),
	}
	g.logger.WithFields(fields).Info("Estimated cost")

	if estimated <= b.Budget {
		return estimated, nil
	}
	if !g.policy(estimated, b.Budget) {
		g.logger.WithFields(fields).Warn("Budget exceeded, aborting")
		return estimated, fmt.Errorf("%w: $%.2f > $%.2f", ErrBudgetDeclined, estimated, b.Budget)
	}
	g.logger.WithFields(fields).Warn("Budget exceeded, continuing")
	return estimated, nil
}
