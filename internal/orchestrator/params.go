package orchestrator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/valpere/llmvalues/internal"
)

var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// RunParams are the per-run options shared by every stage.
type RunParams struct {
	Topic       string        `validate:"required"`
	Mode        internal.Mode `validate:"omitempty,oneof=values claims priorities"`
	Model       string        `validate:"required"`
	Temperature float64       `validate:"gte=0,lte=2"`
	MaxTokens   int           `validate:"gt=0"`
	NumQueries  int           `validate:"gte=1"`
	Budget      float64       `validate:"gte=0"`

	Description string

	QuestionEnglish bool
	AnswerEnglish   bool
	RatingLast      bool

	// Testing limits the run to the first question and one repetition.
	Testing   bool
	Overwrite bool

	// Setup names the stats entry written at the end of Run. Empty derives
	// a name from the configuration.
	Setup string
}

func DefaultRunParams() RunParams {
	return RunParams{
		Mode:        internal.ModePriorities,
		Model:       "gpt-4o-2024-05-13",
		Temperature: 0,
		MaxTokens:   100,
		NumQueries:  3,
		Budget:      0.1,
	}
}

func (p RunParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if p.QuestionEnglish && p.AnswerEnglish {
		return fmt.Errorf("%w: question_english and answer_english cannot both be set", ErrInvalidConfig)
	}
	return nil
}

func (p RunParams) QueryConfig() internal.QueryConfig {
	return internal.QueryConfig{
		Model:           p.Model,
		Temperature:     p.Temperature,
		MaxTokens:       p.MaxTokens,
		RatingLast:      p.RatingLast,
		AnswerEnglish:   p.AnswerEnglish,
		QuestionEnglish: p.QuestionEnglish,
	}
}

// SetupName is the name Run stores its stats under.
func (p RunParams) SetupName() string {
	if p.Setup != "" {
		return p.Setup
	}
	order := "rating first"
	if p.RatingLast {
		order = "rating last"
	}
	name := fmt.Sprintf("%s, temperature=%g, %s", p.Model, p.Temperature, order)
	switch {
	case p.QuestionEnglish:
		name += ", question in English"
	case p.AnswerEnglish:
		name += ", answer in English"
	}
	return name
}
