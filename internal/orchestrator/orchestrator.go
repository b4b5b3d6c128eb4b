// Package orchestrator sequences the pipeline stages for a topic. Every stage
// persists its output before the next one starts, so any stage can be rerun on
// its own and reruns skip work that is already stored.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/valpere/llmvalues/internal"
	"github.com/valpere/llmvalues/internal/backtranslate"
	"github.com/valpere/llmvalues/internal/cost"
	"github.com/valpere/llmvalues/internal/llm"
	"github.com/valpere/llmvalues/internal/prompt"
	"github.com/valpere/llmvalues/internal/query"
	"github.com/valpere/llmvalues/internal/stats"
	"github.com/valpere/llmvalues/internal/store"
	"github.com/valpere/llmvalues/internal/translator"
	"github.com/valpere/llmvalues/internal/workpool"
)

// Repository is everything the stages read and write.
type Repository interface {
	query.AnswerRepository

	UpsertTopic(ctx context.Context, t *internal.Topic) error
	GetTopic(ctx context.Context, nameOrAlias string) (*internal.Topic, error)
	GetTopicByID(ctx context.Context, id string) (*internal.Topic, error)
	UpsertQuestion(ctx context.Context, q *internal.Question) error
	ListQuestions(ctx context.Context, topicID string) ([]internal.Question, error)
	UpdateAnswerTranslations(ctx context.Context, id string, translations map[string]string) error
	AddSetup(ctx context.Context, su *internal.Setup) (bool, error)
	ListSetups(ctx context.Context, name string) ([]internal.Setup, error)
	SaveSetupStats(ctx context.Context, id string, stats []byte) error
}

// SetupSpec is a named configuration applied to the listed topics.
type SetupSpec struct {
	Name   string
	Config internal.QueryConfig
	Topics []string
}

type Config struct {
	// Languages are the target languages, source included.
	Languages []string
	// Source is the language questions are written in.
	Source string
	// ResourcesDir holds the <topic>.json item files.
	ResourcesDir string
	Setups       []SetupSpec
}

type Deps struct {
	Repo       Repository
	Registry   *llm.Registry
	Translator *translator.Translator
	Formats    query.FormatCache
	Guard      *cost.Guard
	Pool       *workpool.Pool
}

type Orchestrator struct {
	repo     Repository
	registry *llm.Registry
	tr       *translator.Translator
	formats  *query.FormatBuilder
	engine   *query.Engine
	answers  *backtranslate.AnswerTranslator
	guard    *cost.Guard
	config   Config
	logger   logrus.FieldLogger
}

func New(deps Deps, config Config, logger logrus.FieldLogger) *Orchestrator {
	if config.Source == "" {
		config.Source = "English"
	}
	return &Orchestrator{
		repo:     deps.Repo,
		registry: deps.Registry,
		tr:       deps.Translator,
		formats:  query.NewFormatBuilder(deps.Translator, deps.Formats, config.Source, logger),
		engine:   query.NewEngine(deps.Registry, deps.Repo, deps.Pool, logger),
		answers:  backtranslate.New(deps.Translator, deps.Pool, config.Source, logger),
		guard:    deps.Guard,
		config:   config,
		logger:   logger,
	}
}

// Item is one entry of a topic's resource file.
type Item struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Mode        internal.Mode `json:"mode,omitempty"`
}

// LoadItems reads <dir>/<topic>.json.
func LoadItems(dir, topic string) ([]Item, error) {
	data, err := os.ReadFile(filepath.Join(dir, topic+".json"))
	if err != nil {
		return nil, err
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse items for %s: %w", topic, err)
	}
	return items, nil
}

// Prepare registers the topic and adds a question for every item that does
// not exist yet. Items may override the topic's mode.
func (o *Orchestrator) Prepare(ctx context.Context, p RunParams) (*internal.Topic, error) {
	log := o.logger.WithField("topic", p.Topic)

	topic, err := o.repo.GetTopic(ctx, p.Topic)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	items, err := LoadItems(o.config.ResourcesDir, p.Topic)
	if err != nil {
		if topic != nil && errors.Is(err, os.ErrNotExist) {
			log.Info("No item file, using stored questions")
			return topic, nil
		}
		return nil, fmt.Errorf("failed to load items: %w", err)
	}

	if topic == nil {
		topic = &internal.Topic{Name: p.Topic, Description: p.Description}
		if err := o.repo.UpsertTopic(ctx, topic); err != nil {
			return nil, fmt.Errorf("failed to store topic: %w", err)
		}
	}

	existing, err := o.repo.ListQuestions(ctx, topic.ID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(existing))
	next := 1
	for _, q := range existing {
		names[q.Name] = true
		if q.Number >= next {
			next = q.Number + 1
		}
	}

	added := 0
	for _, item := range items {
		if names[item.Name] {
			continue
		}
		mode := item.Mode
		if mode == "" {
			mode = p.Mode
		}
		if !mode.Valid() {
			return nil, fmt.Errorf("%w: item %q has unknown mode %q", ErrInvalidConfig, item.Name, mode)
		}
		text, err := prompt.Question(item.Name, item.Description, mode)
		if err != nil {
			return nil, err
		}
		q := &internal.Question{
			TopicID:     topic.ID,
			Number:      next,
			Name:        item.Name,
			Description: item.Description,
			Mode:        mode,
			Question:    text,
		}
		if err := o.repo.UpsertQuestion(ctx, q); err != nil {
			return nil, fmt.Errorf("failed to store question: %w", err)
		}
		names[item.Name] = true
		next++
		added++
	}

	log.WithFields(logrus.Fields{"added": added, "existing": len(existing)}).Info("Prepared questions")
	return topic, nil
}

func (o *Orchestrator) topicQuestions(ctx context.Context, p RunParams) (*internal.Topic, []internal.Question, error) {
	topic, err := o.repo.GetTopic(ctx, p.Topic)
	if err != nil {
		return nil, nil, err
	}
	questions, err := o.repo.ListQuestions(ctx, topic.ID)
	if err != nil {
		return nil, nil, err
	}
	if p.Testing && len(questions) > 1 {
		questions = questions[:1]
	}
	return topic, questions, nil
}

func (o *Orchestrator) covered(q internal.Question) bool {
	for _, lang := range o.config.Languages {
		if _, ok := q.Translations[lang]; !ok {
			return false
		}
	}
	return true
}

// TranslatePrompts translates each question into every language and back.
// Questions already covering every language are skipped unless p.Overwrite.
func (o *Orchestrator) TranslatePrompts(ctx context.Context, p RunParams) error {
	_, questions, err := o.topicQuestions(ctx, p)
	if err != nil {
		return err
	}

	var pending []internal.Question
	for _, q := range questions {
		if p.Overwrite || !o.covered(q) {
			pending = append(pending, q)
		}
	}
	log := o.logger.WithFields(logrus.Fields{"topic": p.Topic, "pending": len(pending)})
	if len(pending) == 0 {
		log.Info("All questions translated")
		return nil
	}

	texts := make([]string, len(pending))
	for i, q := range pending {
		texts[i] = q.Question
	}
	if _, err := o.guard.EstimateAndGate(cost.Batch{
		Items:      texts,
		Multiplier: float64(2 * len(o.config.Languages)),
		Model:      o.tr.Model(),
		Budget:     p.Budget,
	}); err != nil {
		return err
	}

	translations := o.tr.TranslateAll(ctx, texts, o.config.Languages, o.config.Source)
	for i := range pending {
		q := pending[i]
		q.Translations = translations[i]
		q.ReTranslations = o.tr.Retranslate(ctx, q.Translations, o.config.Source)
		if err := o.repo.UpsertQuestion(ctx, &q); err != nil {
			return fmt.Errorf("failed to store translations: %w", err)
		}
	}

	log.Info("Translated questions")
	return nil
}

// QueryLLMs asks the model every question that has no answers for this
// configuration yet. The budget gate runs once over those questions before the
// first completion call.
func (o *Orchestrator) QueryLLMs(ctx context.Context, p RunParams) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if _, err := o.registry.Resolve(p.Model); err != nil {
		return 0, err
	}

	_, questions, err := o.topicQuestions(ctx, p)
	if err != nil {
		return 0, err
	}
	if len(questions) == 0 {
		return 0, fmt.Errorf("topic %q has no questions: %w", p.Topic, store.ErrNotFound)
	}
	numQueries := p.NumQueries
	if p.Testing {
		numQueries = 1
	}

	cfg := p.QueryConfig()
	if !p.Overwrite {
		pending := make([]internal.Question, 0, len(questions))
		for _, q := range questions {
			existing, err := o.repo.FindAnswers(ctx, internal.AnswerFilter{TopicID: q.TopicID, QuestionID: q.ID, Config: &cfg})
			if err != nil {
				return 0, fmt.Errorf("failed to look up answers: %w", err)
			}
			if len(existing) == 0 {
				pending = append(pending, q)
			}
		}
		if len(pending) == 0 {
			o.logger.WithField("topic", p.Topic).Info("Every question already answered, nothing to query")
			return 0, nil
		}
		questions = pending
	}

	formats := make(map[internal.Mode]*query.Formats)
	for _, q := range questions {
		if _, ok := formats[q.Mode]; ok {
			continue
		}
		f, err := o.formats.Build(ctx, query.FormatKey{
			Mode:            q.Mode,
			MaxTokens:       cfg.MaxTokens,
			RatingLast:      cfg.RatingLast,
			QuestionEnglish: cfg.QuestionEnglish,
			AnswerEnglish:   cfg.AnswerEnglish,
			Languages:       o.config.Languages,
		})
		if err != nil {
			return 0, err
		}
		formats[q.Mode] = f
	}

	var items []string
	for _, q := range questions {
		f := formats[q.Mode]
		items = append(items, sortedValues(q.Translations)...)
		items = append(items, sortedValues(f.Prefixes)...)
		items = append(items, sortedValues(f.Formats)...)
	}
	if _, err := o.guard.EstimateAndGate(cost.Batch{
		Items:      items,
		Multiplier: float64(numQueries),
		MaxTokens:  cfg.MaxTokens,
		Model:      cfg.Model,
		Budget:     p.Budget,
	}); err != nil {
		return 0, err
	}

	total := 0
	for _, q := range questions {
		answers, err := o.engine.Query(ctx, q, formats[q.Mode], query.Params{
			Config:     cfg,
			Languages:  o.config.Languages,
			NumQueries: numQueries,
			Overwrite:  p.Overwrite,
		})
		if err != nil {
			return total, err
		}
		total += len(answers)
	}

	o.logger.WithFields(logrus.Fields{"topic": p.Topic, "answers": total}).Info("Queried model")
	return total, nil
}

// TranslateAnswers back-translates stored answers that have no translation yet.
func (o *Orchestrator) TranslateAnswers(ctx context.Context, p RunParams) (int, error) {
	topic, err := o.repo.GetTopic(ctx, p.Topic)
	if err != nil {
		return 0, err
	}
	all, err := o.repo.FindAnswers(ctx, internal.AnswerFilter{TopicID: topic.ID})
	if err != nil {
		return 0, err
	}
	pending := backtranslate.Pending(all, p.Overwrite)
	if p.Testing && len(pending) > 1 {
		pending = pending[:1]
	}
	if len(pending) == 0 {
		o.logger.WithField("topic", p.Topic).Info("All answers translated")
		return 0, nil
	}

	var items []string
	for _, a := range pending {
		items = append(items, sortedValues(a.Answers)...)
	}
	if _, err := o.guard.EstimateAndGate(cost.Batch{
		Items:  items,
		Model:  o.tr.Model(),
		Budget: p.Budget,
	}); err != nil {
		return 0, err
	}

	for _, a := range pending {
		translations := o.answers.Backtranslate(ctx, a)
		if err := o.repo.UpdateAnswerTranslations(ctx, a.ID, translations); err != nil {
			return 0, fmt.Errorf("failed to store answer translations: %w", err)
		}
	}

	o.logger.WithFields(logrus.Fields{"topic": p.Topic, "answers": len(pending)}).Info("Translated answers")
	return len(pending), nil
}

// AddSetups registers every configured setup for its topics. Topics that have
// not been prepared yet are skipped.
func (o *Orchestrator) AddSetups(ctx context.Context) (int, error) {
	created := 0
	for _, def := range o.config.Setups {
		for _, name := range def.Topics {
			topic, err := o.repo.GetTopic(ctx, name)
			if errors.Is(err, store.ErrNotFound) {
				o.logger.WithFields(logrus.Fields{"setup": def.Name, "topic": name}).Warn("Setup topic not found, skipping")
				continue
			}
			if err != nil {
				return created, err
			}
			ok, err := o.repo.AddSetup(ctx, &internal.Setup{TopicID: topic.ID, Name: def.Name, QueryConfig: def.Config})
			if err != nil {
				return created, err
			}
			if ok {
				o.logger.WithFields(logrus.Fields{"setup": def.Name, "topic": topic.Name}).Info("Added setup")
				created++
			}
		}
	}
	return created, nil
}

// SetupStats is a setup with its freshly computed statistics.
type SetupStats struct {
	Setup internal.Setup
	Topic internal.Topic
	Stats *stats.Stats
}

// Analyze recomputes and stores the stats of the named setup, or of every
// setup when name is "all" or empty.
func (o *Orchestrator) Analyze(ctx context.Context, name string) ([]SetupStats, error) {
	if _, err := o.AddSetups(ctx); err != nil {
		return nil, err
	}
	setups, err := o.repo.ListSetups(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(setups) == 0 && name != "" && name != "all" {
		return nil, fmt.Errorf("setup %q: %w", name, store.ErrNotFound)
	}

	out := make([]SetupStats, 0, len(setups))
	for _, su := range setups {
		s, err := o.analyzeSetup(ctx, &su)
		if err != nil {
			return out, err
		}
		topic, err := o.repo.GetTopicByID(ctx, su.TopicID)
		if err != nil {
			return out, err
		}
		out = append(out, SetupStats{Setup: su, Topic: *topic, Stats: s})
	}
	return out, nil
}

// analyzeSetup replaces su's stats blob wholesale.
func (o *Orchestrator) analyzeSetup(ctx context.Context, su *internal.Setup) (*stats.Stats, error) {
	questions, err := o.repo.ListQuestions(ctx, su.TopicID)
	if err != nil {
		return nil, err
	}
	cfg := su.QueryConfig
	answers, err := o.repo.FindAnswers(ctx, internal.AnswerFilter{TopicID: su.TopicID, Config: &cfg})
	if err != nil {
		return nil, err
	}

	s := stats.Compute(questions, answers)
	data, err := s.Marshal()
	if err != nil {
		return nil, err
	}
	if err := o.repo.SaveSetupStats(ctx, su.ID, data); err != nil {
		return nil, err
	}
	su.Stats = data

	o.logger.WithFields(logrus.Fields{
		"setup":     su.Name,
		"questions": len(s.Questions),
		"answers":   len(answers),
	}).Info("Computed stats")
	return s, nil
}

// Run executes every stage for one topic and configuration and returns the
// resulting statistics. Configuration errors abort before any network call.
func (o *Orchestrator) Run(ctx context.Context, p RunParams) (*stats.Stats, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := o.registry.Resolve(p.Model); err != nil {
		return nil, err
	}

	topic, err := o.Prepare(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	if err := o.TranslatePrompts(ctx, p); err != nil {
		return nil, fmt.Errorf("translate prompts: %w", err)
	}
	if _, err := o.QueryLLMs(ctx, p); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	if _, err := o.TranslateAnswers(ctx, p); err != nil {
		return nil, fmt.Errorf("translate answers: %w", err)
	}

	su := &internal.Setup{TopicID: topic.ID, Name: p.SetupName(), QueryConfig: p.QueryConfig()}
	if _, err := o.repo.AddSetup(ctx, su); err != nil {
		return nil, err
	}
	return o.analyzeSetup(ctx, su)
}

// ExportRecord is an answer joined with its question.
type ExportRecord struct {
	internal.Answer
	Question internal.Question `json:"question"`
}

// Export writes every answer of a topic, joined with its question, as JSON.
func (o *Orchestrator) Export(ctx context.Context, topicName string, w io.Writer) (int, error) {
	topic, err := o.repo.GetTopic(ctx, topicName)
	if err != nil {
		return 0, err
	}
	questions, err := o.repo.ListQuestions(ctx, topic.ID)
	if err != nil {
		return 0, err
	}
	byID := make(map[string]internal.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	answers, err := o.repo.FindAnswers(ctx, internal.AnswerFilter{TopicID: topic.ID})
	if err != nil {
		return 0, err
	}

	records := make([]ExportRecord, 0, len(answers))
	for _, a := range answers {
		records = append(records, ExportRecord{Answer: a, Question: byID[a.QuestionID]})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return 0, err
	}
	return len(records), nil
}

func sortedValues(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}
