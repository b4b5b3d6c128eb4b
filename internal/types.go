package internal

import "time"

// Mode selects the framing and rating scale of a question.
type Mode string

const (
	ModeValues     Mode = "values"
	ModeClaims     Mode = "claims"
	ModePriorities Mode = "priorities"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeValues, ModeClaims, ModePriorities:
		return true
	}
	return false
}

type Topic struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Filename    string `json:"filename,omitempty"`
	Description string `json:"description"`
}

type Question struct {
	ID             string            `json:"id"`
	TopicID        string            `json:"topic_id"`
	Number         int               `json:"number"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	Mode           Mode              `json:"mode"`
	Question       string            `json:"question"`
	Translations   map[string]string `json:"translations"`
	ReTranslations map[string]string `json:"re_translations"`
}

// QueryConfig is the exact request configuration shared by repeated answers.
// Two answers belong to the same sample set iff their QueryConfig values are equal.
type QueryConfig struct {
	Model           string  `json:"model" mapstructure:"model"`
	Temperature     float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens       int     `json:"max_tokens" mapstructure:"max_tokens"`
	RatingLast      bool    `json:"rating_last" mapstructure:"rating_last"`
	AnswerEnglish   bool    `json:"answer_english" mapstructure:"answer_english"`
	QuestionEnglish bool    `json:"question_english" mapstructure:"question_english"`
}

// Answer is one realised query instance. Ratings hold nil for failures.
type Answer struct {
	ID         string `json:"id"`
	TopicID    string `json:"topic_id"`
	QuestionID string `json:"question_id"`
	QueryConfig

	Prompts              map[string]string `json:"prompts"`
	Prefixes             map[string]string `json:"prefixes"`
	Formats              map[string]string `json:"formats"`
	PrefixesRetranslated map[string]string `json:"prefixes_retranslated"`
	FormatsRetranslated  map[string]string `json:"formats_retranslated"`

	Answers      map[string]string `json:"answers"`
	Ratings      map[string]*int   `json:"ratings"`
	Translations map[string]string `json:"translations,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// AnswerFilter selects answers by exact match. Empty QuestionID matches any question.
type AnswerFilter struct {
	TopicID    string
	QuestionID string
	Config     *QueryConfig
}

// Setup is a named reusable configuration scoped to a topic. Stats is derived data.
type Setup struct {
	ID      string `json:"id"`
	TopicID string `json:"topic_id"`
	Name    string `json:"name"`
	QueryConfig
	Stats []byte `json:"stats,omitempty"`
}
