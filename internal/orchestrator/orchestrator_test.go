package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/valpere/llmvalues/internal"
	"github.com/valpere/llmvalues/internal/cost"
	"github.com/valpere/llmvalues/internal/llm"
	"github.com/valpere/llmvalues/internal/store"
	"github.com/valpere/llmvalues/internal/translator"
	"github.com/valpere/llmvalues/internal/workpool"
)

const testModel = "gpt-4o-2024-05-13"

type fakeProvider struct {
	calls atomic.Int32
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return testModel }

func (f *fakeProvider) Translate(ctx context.Context, req translator.Request) (string, error) {
	f.calls.Add(1)
	return "[" + req.Target + "] " + req.Text, nil
}

type fakeCompleter struct {
	calls atomic.Int32
	mu    sync.Mutex
	seen  []llm.Request
	reply func(req llm.Request) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.seen = append(f.seen, req)
	f.mu.Unlock()
	if f.reply != nil {
		return f.reply(req)
	}
	return "[[7]] I think so.", nil
}

type fixture struct {
	orch      *Orchestrator
	store     *store.Store
	provider  *fakeProvider
	completer *fakeCompleter
	declined  atomic.Int32
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newFixture(t *testing.T, policy cost.Policy, setups ...SetupSpec) *fixture {
	t.Helper()
	dir := t.TempDir()

	items := `[
		{"name": "Tradition", "description": "Keeping customs alive"},
		{"name": "Freedom", "description": "Choosing one's own path", "mode": "values"}
	]`
	if err := os.WriteFile(filepath.Join(dir, "family.json"), []byte(items), 0o644); err != nil {
		t.Fatalf("write items: %v", err)
	}

	s, err := store.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	f := &fixture{store: s, provider: &fakeProvider{}, completer: &fakeCompleter{}}
	if policy == nil {
		policy = func(estimated, budget float64) bool {
			f.declined.Add(1)
			return false
		}
	}

	logger := quietLogger()
	pool := workpool.New(workpool.Config{Size: 4})
	registry := llm.NewRegistry()
	registry.Register(llm.OpenAI, f.completer)

	f.orch = New(Deps{
		Repo:       s,
		Registry:   registry,
		Translator: translator.New(f.provider, s, pool, logger),
		Formats:    s,
		Guard:      cost.NewGuard(cost.DefaultPrices(), cost.WordTokenizer{}, policy, logger),
		Pool:       pool,
	}, Config{
		Languages:    []string{"English", "French", "German"},
		Source:       "English",
		ResourcesDir: dir,
		Setups:       setups,
	}, logger)
	return f
}

func runParams() RunParams {
	p := DefaultRunParams()
	p.Topic = "family"
	p.Mode = internal.ModeValues
	p.NumQueries = 2
	p.Budget = 100
	return p
}

func TestRunParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *RunParams)
	}{
		{"both english", func(p *RunParams) { p.QuestionEnglish, p.AnswerEnglish = true, true }},
		{"zero queries", func(p *RunParams) { p.NumQueries = 0 }},
		{"bad mode", func(p *RunParams) { p.Mode = "opinions" }},
		{"negative budget", func(p *RunParams) { p.Budget = -1 }},
		{"no topic", func(p *RunParams) { p.Topic = "" }},
		{"zero max tokens", func(p *RunParams) { p.MaxTokens = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := runParams()
			tt.modify(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	if err := runParams().Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestRun_BothEnglishFailsBeforeNetwork(t *testing.T) {
	f := newFixture(t, cost.AutoApprove)
	p := runParams()
	p.QuestionEnglish, p.AnswerEnglish = true, true

	if _, err := f.orch.Run(context.Background(), p); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if f.provider.calls.Load() != 0 || f.completer.calls.Load() != 0 {
		t.Error("expected no network calls")
	}
}

func TestRun_UnknownBackendFailsBeforeNetwork(t *testing.T) {
	f := newFixture(t, cost.AutoApprove)
	p := runParams()
	p.Model = "llama-3-70b"

	if _, err := f.orch.Run(context.Background(), p); !errors.Is(err, llm.ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
	if f.provider.calls.Load() != 0 || f.completer.calls.Load() != 0 {
		t.Error("expected no network calls")
	}
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t, cost.AutoApprove)
	ctx := context.Background()

	s, err := f.orch.Run(ctx, runParams())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 2 questions × 2 repetitions × 3 languages
	if got := f.completer.calls.Load(); got != 12 {
		t.Errorf("expected 12 completion calls, got %d", got)
	}
	if len(s.Questions) != 2 {
		t.Fatalf("expected stats for 2 questions, got %d", len(s.Questions))
	}
	if s.MeanDiscrepancy == nil || *s.MeanDiscrepancy != 0 {
		t.Errorf("expected zero discrepancy for identical ratings, got %v", s.MeanDiscrepancy)
	}

	topic, err := f.store.GetTopic(ctx, "family")
	if err != nil {
		t.Fatalf("GetTopic: %v", err)
	}
	answers, _ := f.store.FindAnswers(ctx, internal.AnswerFilter{TopicID: topic.ID})
	if len(answers) != 4 {
		t.Fatalf("expected 4 answers, got %d", len(answers))
	}
	for _, a := range answers {
		if len(a.Ratings) != 3 || len(a.Answers) != 3 {
			t.Errorf("expected a rating and answer per language, got %v / %v", a.Ratings, a.Answers)
		}
		if a.Translations["French"] != "[English] [[7]] I think so." {
			t.Errorf("expected French answer translated to English, got %q", a.Translations["French"])
		}
	}

	questions, _ := f.store.ListQuestions(ctx, topic.ID)
	if questions[0].Name != "Tradition" || questions[0].Mode != internal.ModeValues {
		t.Errorf("unexpected first question: %+v", questions[0])
	}
	if !strings.HasPrefix(questions[0].Translations["German"], "[German] ") {
		t.Errorf("expected German translation, got %q", questions[0].Translations["German"])
	}
	if questions[0].Translations["English"] != questions[0].Question {
		t.Error("expected the source language to map to the question unchanged")
	}

	setups, _ := f.store.ListSetups(ctx, runParams().SetupName())
	if len(setups) != 1 || len(setups[0].Stats) == 0 {
		t.Errorf("expected stored stats for the run's setup, got %+v", setups)
	}
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	f := newFixture(t, cost.AutoApprove)
	ctx := context.Background()

	if _, err := f.orch.Run(ctx, runParams()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	completions := f.completer.calls.Load()
	translations := f.provider.calls.Load()

	if _, err := f.orch.Run(ctx, runParams()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := f.completer.calls.Load(); got != completions {
		t.Errorf("expected no new completion calls, got %d more", got-completions)
	}
	if got := f.provider.calls.Load(); got != translations {
		t.Errorf("expected no new translation calls, got %d more", got-translations)
	}

	topic, _ := f.store.GetTopic(ctx, "family")
	answers, _ := f.store.FindAnswers(ctx, internal.AnswerFilter{TopicID: topic.ID})
	if len(answers) != 4 {
		t.Errorf("expected 4 answers after rerun, got %d", len(answers))
	}
}

func TestRun_OverwriteReplacesAnswers(t *testing.T) {
	f := newFixture(t, cost.AutoApprove)
	ctx := context.Background()

	if _, err := f.orch.Run(ctx, runParams()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	p := runParams()
	p.Overwrite = true
	if _, err := f.orch.QueryLLMs(ctx, p); err != nil {
		t.Fatalf("QueryLLMs: %v", err)
	}
	if got := f.completer.calls.Load(); got != 24 {
		t.Errorf("expected 24 completion calls, got %d", got)
	}
	topic, _ := f.store.GetTopic(ctx, "family")
	answers, _ := f.store.FindAnswers(ctx, internal.AnswerFilter{TopicID: topic.ID})
	if len(answers) != 4 {
		t.Errorf("expected overwritten answers to replace the old ones, got %d", len(answers))
	}
}

func TestQueryLLMs_BudgetDeclinedMakesNoCompletionCalls(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p := runParams()
	if _, err := f.orch.Prepare(ctx, p); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := f.orch.TranslatePrompts(ctx, p); err != nil {
		t.Fatalf("TranslatePrompts: %v", err)
	}

	p.Budget = 0
	_, err := f.orch.QueryLLMs(ctx, p)
	if !errors.Is(err, cost.ErrBudgetDeclined) {
		t.Fatalf("expected ErrBudgetDeclined, got %v", err)
	}
	if f.declined.Load() != 1 {
		t.Errorf("expected the policy to be asked once, got %d", f.declined.Load())
	}
	if got := f.completer.calls.Load(); got != 0 {
		t.Errorf("expected no completion calls, got %d", got)
	}
}

func TestQueryLLMs_AnsweredTopicSkipsBudgetGate(t *testing.T) {
	var deny atomic.Bool
	var asked atomic.Int32
	f := newFixture(t, func(estimated, budget float64) bool {
		asked.Add(1)
		return !deny.Load()
	})
	ctx := context.Background()

	p := runParams()
	p.Budget = 0
	if _, err := f.orch.Run(ctx, p); err != nil {
		t.Fatalf("Run: %v", err)
	}
	completions := f.completer.calls.Load()
	before := asked.Load()

	deny.Store(true)
	n, err := f.orch.QueryLLMs(ctx, p)
	if err != nil {
		t.Fatalf("expected rerun to pass without a budget check, got %v", err)
	}
	if n != 0 {
		t.Errorf("expected no new answers, got %d", n)
	}
	if got := asked.Load(); got != before {
		t.Errorf("expected the policy not to be asked again, got %d more", got-before)
	}
	if got := f.completer.calls.Load(); got != completions {
		t.Errorf("expected no new completion calls, got %d more", got-completions)
	}
}

func TestQueryLLMs_Testing(t *testing.T) {
	f := newFixture(t, cost.AutoApprove)
	ctx := context.Background()
	p := runParams()
	p.Testing = true

	if _, err := f.orch.Prepare(ctx, p); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := f.orch.TranslatePrompts(ctx, p); err != nil {
		t.Fatalf("TranslatePrompts: %v", err)
	}
	n, err := f.orch.QueryLLMs(ctx, p)
	if err != nil {
		t.Fatalf("QueryLLMs: %v", err)
	}
	if n != 1 {
		t.Errorf("expected one answer in testing mode, got %d", n)
	}
	if got := f.completer.calls.Load(); got != 3 {
		t.Errorf("expected 3 completion calls, got %d", got)
	}
}

func TestQueryLLMs_QuestionEnglish(t *testing.T) {
	f := newFixture(t, cost.AutoApprove)
	ctx := context.Background()
	p := runParams()
	p.QuestionEnglish = true
	p.NumQueries = 1

	if _, err := f.orch.Prepare(ctx, p); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := f.orch.TranslatePrompts(ctx, p); err != nil {
		t.Fatalf("TranslatePrompts: %v", err)
	}
	if _, err := f.orch.QueryLLMs(ctx, p); err != nil {
		t.Fatalf("QueryLLMs: %v", err)
	}

	for _, req := range f.completer.seen {
		user := req.Messages[1].Content
		if strings.HasPrefix(user, "[") {
			t.Errorf("expected the English question, got %q", user)
		}
		if strings.HasPrefix(req.Messages[0].Content, "[") {
			t.Errorf("expected an untranslated system message, got %q", req.Messages[0].Content)
		}
	}
	found := false
	for _, req := range f.completer.seen {
		if strings.HasSuffix(req.Messages[0].Content, "Please write your answer in language French.") {
			found = true
		}
	}
	if !found {
		t.Error("expected a system message naming French as the answer language")
	}
}

func TestTranslatePrompts_UnknownTopic(t *testing.T) {
	f := newFixture(t, cost.AutoApprove)
	p := runParams()
	p.Topic = "missing"
	if err := f.orch.TranslatePrompts(context.Background(), p); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPrepare_SkipsExistingQuestions(t *testing.T) {
	f := newFixture(t, cost.AutoApprove)
	ctx := context.Background()
	p := runParams()

	topic, err := f.orch.Prepare(ctx, p)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := f.orch.Prepare(ctx, p); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}
	questions, _ := f.store.ListQuestions(ctx, topic.ID)
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	if questions[0].Number != 1 || questions[1].Number != 2 {
		t.Errorf("expected numbers 1 and 2, got %d and %d", questions[0].Number, questions[1].Number)
	}
}

func TestAnalyze_ConfiguredSetups(t *testing.T) {
	p := runParams()
	p.Setup = "baseline"
	def := SetupSpec{Name: "baseline", Config: p.QueryConfig(), Topics: []string{"family", "unprepared"}}
	f := newFixture(t, cost.AutoApprove, def)
	ctx := context.Background()

	if _, err := f.orch.Run(ctx, p); err != nil {
		t.Fatalf("Run: %v", err)
	}

	results, err := f.orch.Analyze(ctx, "baseline")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 analyzed setup, got %d", len(results))
	}
	if results[0].Topic.Name != "family" || len(results[0].Stats.Questions) != 2 {
		t.Errorf("unexpected result: %+v", results[0])
	}

	if _, err := f.orch.Analyze(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown setup, got %v", err)
	}
}

func TestExport(t *testing.T) {
	f := newFixture(t, cost.AutoApprove)
	ctx := context.Background()
	if _, err := f.orch.Run(ctx, runParams()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var buf bytes.Buffer
	n, err := f.orch.Export(ctx, "family", &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 records, got %d", n)
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &records); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	q, ok := records[0]["question"].(map[string]interface{})
	if !ok || q["name"] == "" {
		t.Errorf("expected the joined question, got %v", records[0]["question"])
	}
	if records[0]["model"] != testModel {
		t.Errorf("expected flattened model field, got %v", records[0]["model"])
	}
}
