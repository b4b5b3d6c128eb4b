// Package query asks the rated model every question in every language and
// reads the [[N]] rating out of each free-text answer.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/valpere/llmvalues/internal"
	"github.com/valpere/llmvalues/internal/llm"
	"github.com/valpere/llmvalues/internal/workpool"
)

// AnswerRepository is the slice of the store the engine needs.
type AnswerRepository interface {
	FindAnswers(ctx context.Context, filter internal.AnswerFilter) ([]internal.Answer, error)
	DeleteAnswers(ctx context.Context, filter internal.AnswerFilter) (int, error)
	InsertAnswer(ctx context.Context, a *internal.Answer) error
}

type Params struct {
	Config     internal.QueryConfig
	Languages  []string
	NumQueries int
	Overwrite  bool
}

type Engine struct {
	completer llm.Completer
	repo      AnswerRepository
	pool      *workpool.Pool
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewEngine(completer llm.Completer, repo AnswerRepository, pool *workpool.Pool, logger logrus.FieldLogger) *Engine {
	return &Engine{
		completer: completer,
		repo:      repo,
		pool:      pool,
		logger:    logger,
		now:       time.Now,
	}
}

// Query stores and returns NumQueries fresh answers for q. When answers with
// the same configuration already exist it returns nil without calling the
// model, unless Overwrite is set, in which case they are deleted first.
func (e *Engine) Query(ctx context.Context, q internal.Question, f *Formats, p Params) ([]internal.Answer, error) {
	log := e.logger.WithFields(logrus.Fields{
		"question": q.Name,
		"model":    p.Config.Model,
	})

	cfg := p.Config
	filter := internal.AnswerFilter{TopicID: q.TopicID, QuestionID: q.ID, Config: &cfg}
	existing, err := e.repo.FindAnswers(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to look up answers: %w", err)
	}
	if len(existing) > 0 {
		if !p.Overwrite {
			log.WithField("existing", len(existing)).Info("Answers exist, skipping question")
			return nil, nil
		}
		n, err := e.repo.DeleteAnswers(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to delete answers: %w", err)
		}
		log.WithField("deleted", n).Info("Overwriting existing answers")
	}

	prompts := make(map[string]string, len(p.Languages))
	for _, lang := range p.Languages {
		if cfg.QuestionEnglish {
			prompts[lang] = q.Question
		} else if text, ok := q.Translations[lang]; ok {
			prompts[lang] = text
		}
	}

	answers := make([]internal.Answer, p.NumQueries)
	for r := range answers {
		answers[r] = internal.Answer{
			TopicID:              q.TopicID,
			QuestionID:           q.ID,
			QueryConfig:          cfg,
			Prompts:              prompts,
			Prefixes:             f.Prefixes,
			Formats:              f.Formats,
			PrefixesRetranslated: f.PrefixesRetranslated,
			FormatsRetranslated:  f.FormatsRetranslated,
			Answers:              make(map[string]string, len(p.Languages)),
			Ratings:              make(map[string]*int, len(p.Languages)),
		}
	}

	type job struct {
		rep  int
		lang string
	}
	jobs := make([]job, 0, p.NumQueries*len(p.Languages))
	for r := 0; r < p.NumQueries; r++ {
		for _, lang := range p.Languages {
			jobs = append(jobs, job{rep: r, lang: lang})
		}
	}

	results := workpool.All(ctx, e.pool, len(jobs), func(ctx context.Context, i int) (string, error) {
		return e.ask(ctx, &answers[jobs[i].rep], jobs[i].lang)
	})

	for _, res := range results {
		j := jobs[res.Index]
		a := &answers[j.rep]
		if res.Err != nil {
			log.WithFields(logrus.Fields{
				"language": j.lang,
				"error":    res.Err.Error(),
			}).Warn("Completion failed")
			a.Answers[j.lang] = ""
			a.Ratings[j.lang] = nil
			continue
		}
		a.Answers[j.lang] = res.Value
		a.Ratings[j.lang] = ExtractRating(res.Value)
	}

	for r := range answers {
		answers[r].Timestamp = e.now().UTC()
		if err := e.repo.InsertAnswer(ctx, &answers[r]); err != nil {
			return nil, fmt.Errorf("failed to store answer: %w", err)
		}
	}

	log.WithField("answers", len(answers)).Info("Question answered")
	return answers, nil
}

// ask reads only the shared, never-mutated maps of a.
func (e *Engine) ask(ctx context.Context, a *internal.Answer, lang string) (string, error) {
	userPrompt, ok := a.Prompts[lang]
	if !ok {
		return "", fmt.Errorf("no prompt for %s", lang)
	}
	format, ok := a.Formats[lang]
	if !ok {
		return "", fmt.Errorf("no format for %s", lang)
	}

	// The token budget is stated in the instructions, not enforced, so that
	// answers are not cut off before the rating.
	return e.completer.Complete(ctx, llm.Request{
		Model:       a.Model,
		Temperature: a.Temperature,
		Messages: []llm.Message{
			{Role: "system", Content: a.Prefixes[lang] + format},
			{Role: "user", Content: userPrompt},
		},
	})
}
