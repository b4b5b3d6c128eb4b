package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/valpere/llmvalues/internal"
	"github.com/valpere/llmvalues/internal/llm"
	"github.com/valpere/llmvalues/internal/translator"
	"github.com/valpere/llmvalues/internal/workpool"
)

type fakeCompleter struct {
	calls atomic.Int32
	reply func(req llm.Request) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.calls.Add(1)
	return f.reply(req)
}

type memRepo struct {
	mu      sync.Mutex
	answers []internal.Answer
}

func (m *memRepo) FindAnswers(ctx context.Context, filter internal.AnswerFilter) ([]internal.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []internal.Answer
	for _, a := range m.answers {
		if a.QuestionID == filter.QuestionID && a.QueryConfig == *filter.Config {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memRepo) DeleteAnswers(ctx context.Context, filter internal.AnswerFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.answers[:0]
	n := 0
	for _, a := range m.answers {
		if a.QuestionID == filter.QuestionID && a.QueryConfig == *filter.Config {
			n++
			continue
		}
		kept = append(kept, a)
	}
	m.answers = kept
	return n, nil
}

func (m *memRepo) InsertAnswer(ctx context.Context, a *internal.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.answers = append(m.answers, *a)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testQuestion() internal.Question {
	return internal.Question{
		ID:       "q1",
		TopicID:  "t1",
		Name:     "Climate",
		Mode:     internal.ModeValues,
		Question: "We have a statement about climate.",
		Translations: map[string]string{
			"English": "We have a statement about climate.",
			"French":  "FR: climat",
			"German":  "DE: Klima",
		},
	}
}

func testFormats(langs ...string) *Formats {
	f := newFormats(len(langs))
	for _, l := range langs {
		f.Prefixes[l] = "prefix-" + l + " "
		f.Formats[l] = "format-" + l
	}
	return f
}

func byPrompt(replies map[string]string) func(llm.Request) (string, error) {
	return func(req llm.Request) (string, error) {
		user := req.Messages[1].Content
		for marker, reply := range replies {
			if strings.HasPrefix(user, marker) {
				if reply == "" {
					return "", errors.New("backend error")
				}
				return reply, nil
			}
		}
		return "I rate [[5]]", nil
	}
}

func TestQuery_RatingsPerLanguage(t *testing.T) {
	c := &fakeCompleter{reply: byPrompt(map[string]string{
		"We have": "Rating: [[7]] because...",
		"FR:":     "Je dirais [[10]]",
		"DE:":     "",
	})}
	repo := &memRepo{}
	e := NewEngine(c, repo, workpool.New(workpool.Config{Size: 2}), quietLogger())

	langs := []string{"English", "French", "German"}
	answers, err := e.Query(context.Background(), testQuestion(), testFormats(langs...), Params{
		Config:     internal.QueryConfig{Model: "gpt-4o", MaxTokens: 100},
		Languages:  langs,
		NumQueries: 2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(answers) != 2 {
		t.Fatalf("expected 2 answers, got %d", len(answers))
	}
	if c.calls.Load() != 6 {
		t.Errorf("expected 6 completion calls, got %d", c.calls.Load())
	}

	for _, a := range answers {
		if a.ID == "" {
			t.Error("expected stored answer to have an ID")
		}
		if len(a.Ratings) != 3 || len(a.Answers) != 3 {
			t.Errorf("expected ratings and answers keyed by all languages, got %v / %v", a.Ratings, a.Answers)
		}
		if a.Ratings["English"] == nil || *a.Ratings["English"] != 7 {
			t.Errorf("expected English rating 7, got %v", a.Ratings["English"])
		}
		if a.Ratings["French"] != nil {
			t.Errorf("expected French out-of-range rating to be nil, got %d", *a.Ratings["French"])
		}
		if a.Ratings["German"] != nil || a.Answers["German"] != "" {
			t.Errorf("expected German failure to be nil/empty, got %v %q", a.Ratings["German"], a.Answers["German"])
		}
	}
	if len(repo.answers) != 2 {
		t.Errorf("expected 2 stored answers, got %d", len(repo.answers))
	}
}

func TestQuery_SystemMessage(t *testing.T) {
	var mu sync.Mutex
	var seen []llm.Request
	c := &fakeCompleter{reply: func(req llm.Request) (string, error) {
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()
		return "[[4]]", nil
	}}
	e := NewEngine(c, &memRepo{}, workpool.New(workpool.Config{}), quietLogger())

	_, err := e.Query(context.Background(), testQuestion(), testFormats("French"), Params{
		Config:     internal.QueryConfig{Model: "claude-3-haiku-20240307", Temperature: 0.5, MaxTokens: 100},
		Languages:  []string{"French"},
		NumQueries: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("expected 1 request, got %d", len(seen))
	}
	req := seen[0]
	if req.Messages[0].Role != "system" || req.Messages[0].Content != "prefix-French format-French" {
		t.Errorf("unexpected system message %+v", req.Messages[0])
	}
	if req.Messages[1].Content != "FR: climat" {
		t.Errorf("unexpected user message %q", req.Messages[1].Content)
	}
	if req.MaxTokens != 0 {
		t.Errorf("expected max tokens not to be enforced, got %d", req.MaxTokens)
	}
	if req.Temperature != 0.5 {
		t.Errorf("expected temperature 0.5, got %v", req.Temperature)
	}
}

func TestQuery_QuestionEnglishUsesSourcePrompt(t *testing.T) {
	c := &fakeCompleter{reply: func(req llm.Request) (string, error) {
		if req.Messages[1].Content != "We have a statement about climate." {
			return "", fmt.Errorf("unexpected prompt %q", req.Messages[1].Content)
		}
		return "[[6]]", nil
	}}
	e := NewEngine(c, &memRepo{}, workpool.New(workpool.Config{}), quietLogger())

	answers, err := e.Query(context.Background(), testQuestion(), testFormats("French", "German"), Params{
		Config:     internal.QueryConfig{Model: "gpt-4o", QuestionEnglish: true},
		Languages:  []string{"French", "German"},
		NumQueries: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for lang, r := range answers[0].Ratings {
		if r == nil || *r != 6 {
			t.Errorf("%s: expected rating 6, got %v", lang, r)
		}
	}
}

func TestQuery_MissingTranslationFailsLanguage(t *testing.T) {
	c := &fakeCompleter{reply: byPrompt(nil)}
	e := NewEngine(c, &memRepo{}, workpool.New(workpool.Config{}), quietLogger())

	q := testQuestion()
	answers, err := e.Query(context.Background(), q, testFormats("Spanish"), Params{
		Config:     internal.QueryConfig{Model: "gpt-4o"},
		Languages:  []string{"Spanish"},
		NumQueries: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.calls.Load() != 0 {
		t.Errorf("expected no call without a prompt, got %d", c.calls.Load())
	}
	r, ok := answers[0].Ratings["Spanish"]
	if !ok || r != nil {
		t.Errorf("expected Spanish key with nil rating, got %v, %v", r, ok)
	}
}

func TestQuery_Idempotent(t *testing.T) {
	c := &fakeCompleter{reply: byPrompt(nil)}
	repo := &memRepo{}
	e := NewEngine(c, repo, workpool.New(workpool.Config{}), quietLogger())

	params := Params{
		Config:     internal.QueryConfig{Model: "gpt-4o", MaxTokens: 100},
		Languages:  []string{"English", "French"},
		NumQueries: 3,
	}
	if _, err := e.Query(context.Background(), testQuestion(), testFormats("English", "French"), params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	callsAfterFirst := c.calls.Load()

	again, err := e.Query(context.Background(), testQuestion(), testFormats("English", "French"), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != nil {
		t.Errorf("expected rerun to be skipped, got %d answers", len(again))
	}
	if len(repo.answers) != 3 {
		t.Errorf("expected answer set unchanged at 3, got %d", len(repo.answers))
	}
	if c.calls.Load() != callsAfterFirst {
		t.Errorf("expected no new calls, got %d", c.calls.Load()-callsAfterFirst)
	}
}

func TestQuery_OverwriteReplaces(t *testing.T) {
	c := &fakeCompleter{reply: byPrompt(nil)}
	repo := &memRepo{}
	e := NewEngine(c, repo, workpool.New(workpool.Config{}), quietLogger())

	params := Params{
		Config:     internal.QueryConfig{Model: "gpt-4o"},
		Languages:  []string{"English"},
		NumQueries: 2,
	}
	first, _ := e.Query(context.Background(), testQuestion(), testFormats("English"), params)

	params.Overwrite = true
	second, err := e.Query(context.Background(), testQuestion(), testFormats("English"), params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.answers) != 2 {
		t.Errorf("expected 2 answers after overwrite, got %d", len(repo.answers))
	}
	for _, a := range repo.answers {
		if a.ID == first[0].ID || a.ID == first[1].ID {
			t.Error("expected old answers to be deleted")
		}
	}
	if len(second) != 2 {
		t.Errorf("expected 2 new answers, got %d", len(second))
	}
}

func TestQuery_DifferentConfigNotSkipped(t *testing.T) {
	c := &fakeCompleter{reply: byPrompt(nil)}
	repo := &memRepo{}
	e := NewEngine(c, repo, workpool.New(workpool.Config{}), quietLogger())

	params := Params{Config: internal.QueryConfig{Model: "gpt-4o"}, Languages: []string{"English"}, NumQueries: 1}
	e.Query(context.Background(), testQuestion(), testFormats("English"), params)

	params.Config.Temperature = 0.7
	got, _ := e.Query(context.Background(), testQuestion(), testFormats("English"), params)
	if len(got) != 1 {
		t.Errorf("expected a new answer for a different temperature, got %d", len(got))
	}
}

type fakeProvider struct {
	calls atomic.Int32
	fail  map[string]bool
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) Translate(ctx context.Context, req translator.Request) (string, error) {
	f.calls.Add(1)
	if f.fail[req.Target] {
		return "", errors.New("down")
	}
	return "<" + req.Target + ">" + req.Text, nil
}

type memFormatCache struct {
	data map[string]*Formats
}

func (m *memFormatCache) GetFormats(ctx context.Context, key string) (*Formats, bool, error) {
	f, ok := m.data[key]
	return f, ok, nil
}

func (m *memFormatCache) PutFormats(ctx context.Context, key string, f *Formats) error {
	m.data[key] = f
	return nil
}

func newTestBuilder(p translator.Provider, cache FormatCache) *FormatBuilder {
	tr := translator.New(p, nil, workpool.New(workpool.Config{Size: 4}), quietLogger())
	return NewFormatBuilder(tr, cache, "English", quietLogger())
}

func TestFormatBuilder_QuestionEnglish(t *testing.T) {
	p := &fakeProvider{}
	b := newTestBuilder(p, nil)

	f, err := b.Build(context.Background(), FormatKey{
		Mode: internal.ModeClaims, MaxTokens: 50, QuestionEnglish: true,
		Languages: []string{"French", "German"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls.Load() != 0 {
		t.Errorf("expected no translation calls, got %d", p.calls.Load())
	}
	if !strings.HasSuffix(f.Formats["French"], "in language French.") {
		t.Errorf("expected language instruction naming French, got %q", f.Formats["French"])
	}
	if f.FormatsRetranslated["German"] != "" {
		t.Errorf("expected empty retranslation, got %q", f.FormatsRetranslated["German"])
	}
}

func TestFormatBuilder_Translated(t *testing.T) {
	p := &fakeProvider{fail: map[string]bool{"German": true}}
	b := newTestBuilder(p, nil)

	f, err := b.Build(context.Background(), FormatKey{
		Mode: internal.ModeValues, MaxTokens: 100,
		Languages: []string{"English", "French", "German"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(f.Prefixes["French"], "<French>") {
		t.Errorf("expected translated prefix, got %q", f.Prefixes["French"])
	}
	if !strings.Contains(f.Formats["English"], "Please write your answer in this language.") {
		t.Errorf("expected untranslated English format, got %q", f.Formats["English"])
	}
	if _, ok := f.Formats["German"]; ok {
		t.Error("expected German format to be absent after translation failure")
	}
	if !strings.HasPrefix(f.FormatsRetranslated["French"], "<English>") {
		t.Errorf("expected retranslation to English, got %q", f.FormatsRetranslated["French"])
	}
}

func TestFormatBuilder_AnswerEnglish(t *testing.T) {
	b := newTestBuilder(&fakeProvider{}, nil)

	f, err := b.Build(context.Background(), FormatKey{
		Mode: internal.ModeValues, AnswerEnglish: true,
		Languages: []string{"English"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(f.Formats["English"], "in language English.") {
		t.Errorf("got %q", f.Formats["English"])
	}
}

func TestFormatBuilder_Cached(t *testing.T) {
	p := &fakeProvider{}
	cache := &memFormatCache{data: map[string]*Formats{}}
	b := newTestBuilder(p, cache)

	key := FormatKey{Mode: internal.ModePriorities, MaxTokens: 100, Languages: []string{"French"}}
	if _, err := b.Build(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := p.calls.Load()
	if _, err := b.Build(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls.Load() != calls {
		t.Errorf("expected cached build, got %d extra calls", p.calls.Load()-calls)
	}
	if len(cache.data) != 1 {
		t.Errorf("expected 1 cache entry, got %d", len(cache.data))
	}
}

func TestFormatBuilder_PartialResultNotCached(t *testing.T) {
	p := &fakeProvider{fail: map[string]bool{"German": true}}
	cache := &memFormatCache{data: map[string]*Formats{}}
	b := newTestBuilder(p, cache)

	key := FormatKey{Mode: internal.ModeValues, MaxTokens: 100, Languages: []string{"French", "German"}}
	f, err := b.Build(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := f.Formats["German"]; ok {
		t.Fatal("expected German format to be absent while the provider fails")
	}
	if len(cache.data) != 0 {
		t.Errorf("expected incomplete formats to stay out of the cache, got %d entries", len(cache.data))
	}

	p.fail = nil
	f, err = b.Build(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(f.Formats["German"], "<German>") {
		t.Errorf("expected German format after the provider recovered, got %q", f.Formats["German"])
	}
	if len(cache.data) != 1 {
		t.Errorf("expected complete formats to be cached, got %d entries", len(cache.data))
	}
}

func TestFormatBuilder_IncompleteCacheEntryRebuilt(t *testing.T) {
	p := &fakeProvider{}
	cache := &memFormatCache{data: map[string]*Formats{}}
	b := newTestBuilder(p, cache)

	key := FormatKey{Mode: internal.ModeValues, MaxTokens: 100, Languages: []string{"French", "German"}}
	stale := newFormats(1)
	stale.Prefixes["French"] = "<French>prefix"
	stale.Formats["French"] = "<French>format"
	cache.data[b.cacheKey(key)] = stale

	f, err := b.Build(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls.Load() == 0 {
		t.Error("expected an incomplete cache entry to be rebuilt")
	}
	if _, ok := f.Formats["German"]; !ok {
		t.Error("expected German format after rebuild")
	}
}

func TestFormatBuilder_InvalidMode(t *testing.T) {
	b := newTestBuilder(&fakeProvider{}, nil)
	if _, err := b.Build(context.Background(), FormatKey{Mode: "opinions"}); err == nil {
		t.Error("expected error for invalid mode")
	}
}
