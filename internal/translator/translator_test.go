package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/valpere/llmvalues/internal/llm"
	"github.com/valpere/llmvalues/internal/workpool"
)

type fakeProvider struct {
	calls atomic.Int32
	fail  map[string]bool
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-model" }

func (f *fakeProvider) Translate(ctx context.Context, req Request) (string, error) {
	f.calls.Add(1)
	if f.fail[req.Target] {
		return "", errors.New("provider unavailable")
	}
	return fmt.Sprintf("%s[%s]", req.Text, req.Target), nil
}

type mapMemo struct {
	mu   sync.Mutex
	data map[MemoKey]string
}

func newMapMemo() *mapMemo {
	return &mapMemo{data: make(map[MemoKey]string)}
}

func (m *mapMemo) Get(ctx context.Context, key MemoKey) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapMemo) Put(ctx context.Context, key MemoKey, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func newTestTranslator(p Provider, memo Memo) *Translator {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(p, memo, workpool.New(workpool.Config{Size: 4}), logger)
}

func TestTranslate_SourceAlwaysPresent(t *testing.T) {
	p := &fakeProvider{}
	tr := newTestTranslator(p, nil)

	got := tr.Translate(context.Background(), "Hello", []string{"English", "French"}, "English")

	if got["English"] != "Hello" {
		t.Errorf("expected source unchanged, got %q", got["English"])
	}
	if got["French"] != "Hello[French]" {
		t.Errorf("expected French translation, got %q", got["French"])
	}
	if p.calls.Load() != 1 {
		t.Errorf("expected 1 provider call, got %d", p.calls.Load())
	}
}

func TestTranslate_FailedLanguageDropped(t *testing.T) {
	p := &fakeProvider{fail: map[string]bool{"French": true}}
	tr := newTestTranslator(p, nil)

	got := tr.Translate(context.Background(), "Hello", []string{"English", "French"}, "English")

	if len(got) != 1 {
		t.Fatalf("expected only the source language, got %v", got)
	}
	if got["English"] != "Hello" {
		t.Errorf("expected English unchanged, got %q", got["English"])
	}
}

func TestTranslate_PartialCoverage(t *testing.T) {
	p := &fakeProvider{fail: map[string]bool{"German": true}}
	tr := newTestTranslator(p, nil)

	got := tr.Translate(context.Background(), "Hi", []string{"French", "German", "Spanish"}, "English")

	if _, ok := got["German"]; ok {
		t.Error("expected German to be dropped")
	}
	for _, lang := range []string{"English", "French", "Spanish"} {
		if _, ok := got[lang]; !ok {
			t.Errorf("expected %s in result", lang)
		}
	}
}

func TestTranslate_Memoised(t *testing.T) {
	p := &fakeProvider{}
	memo := newMapMemo()
	tr := newTestTranslator(p, memo)

	first := tr.Translate(context.Background(), "Hello", []string{"French", "German"}, "English")
	second := tr.Translate(context.Background(), "Hello", []string{"French", "German"}, "English")

	if p.calls.Load() != 2 {
		t.Errorf("expected 2 provider calls across both runs, got %d", p.calls.Load())
	}
	if first["French"] != second["French"] {
		t.Errorf("memoised result differs: %q vs %q", first["French"], second["French"])
	}
	if _, ok := memo.data[MemoKey{Text: "Hello", Target: "French", Model: "fake-model"}]; !ok {
		t.Error("expected memo entry keyed by text, target and model")
	}
}

func TestTranslate_FailureNotMemoised(t *testing.T) {
	p := &fakeProvider{fail: map[string]bool{"French": true}}
	memo := newMapMemo()
	tr := newTestTranslator(p, memo)

	tr.Translate(context.Background(), "Hello", []string{"French"}, "English")

	if len(memo.data) != 0 {
		t.Errorf("expected no memo entries, got %v", memo.data)
	}
}

func TestTranslateAll_Positional(t *testing.T) {
	p := &fakeProvider{}
	tr := newTestTranslator(p, nil)

	got := tr.TranslateAll(context.Background(), []string{"a", "b", "c"}, []string{"French"}, "English")

	if len(got) != 3 {
		t.Fatalf("expected 3 results, got %d", len(got))
	}
	for i, text := range []string{"a", "b", "c"} {
		if got[i]["French"] != text+"[French]" {
			t.Errorf("result %d: got %q", i, got[i]["French"])
		}
	}
}

func TestRetranslate(t *testing.T) {
	p := &fakeProvider{}
	tr := newTestTranslator(p, nil)

	got := tr.Retranslate(context.Background(), map[string]string{
		"English": "Hello",
		"French":  "Bonjour",
	}, "English")

	if got["English"] != "Hello" {
		t.Errorf("expected English unchanged, got %q", got["English"])
	}
	if got["French"] != "Bonjour[English]" {
		t.Errorf("got %q", got["French"])
	}
}

type scriptedCompleter struct {
	lastReq llm.Request
	reply   func(req llm.Request) string
}

func (s *scriptedCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	s.lastReq = req
	return s.reply(req), nil
}

func TestLLMProvider_ProtectsRatingMarkers(t *testing.T) {
	c := &scriptedCompleter{reply: func(req llm.Request) string {
		user := req.Messages[1].Content
		if strings.Contains(user, "[[X]]") {
			t.Errorf("rating marker leaked into prompt: %q", user)
		}
		return "$$$ Donnez votre note au format [PH0]. $$$"
	}}
	p := NewLLMProvider(c, "")

	got, err := p.Translate(context.Background(), Request{
		Text:   "Give your rating in the format [[X]].",
		Source: "English",
		Target: "French",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "Donnez votre note au format [[X]]." {
		t.Errorf("got %q", got)
	}
	if c.lastReq.Model != DefaultModel {
		t.Errorf("expected default model, got %q", c.lastReq.Model)
	}
	if !strings.Contains(c.lastReq.Messages[0].Content, "into French") {
		t.Errorf("system prompt missing target: %q", c.lastReq.Messages[0].Content)
	}
}

func TestLLMProvider_EmptyReply(t *testing.T) {
	c := &scriptedCompleter{reply: func(llm.Request) string { return "$$$ $$$" }}
	p := NewLLMProvider(c, "gpt-4o")

	if _, err := p.Translate(context.Background(), Request{Text: "Hi", Target: "German"}); err == nil {
		t.Error("expected error for empty translation")
	}
}

func TestLLMProvider_LostMarkerIsError(t *testing.T) {
	c := &scriptedCompleter{reply: func(llm.Request) string {
		return "$$$ Donnez votre note au format X. $$$"
	}}
	memo := newMapMemo()
	tr := newTestTranslator(NewLLMProvider(c, "gpt-4o"), memo)

	_, err := tr.One(context.Background(), "Give your rating in the format [[X]].", "French", "English")
	if err == nil {
		t.Fatal("expected error when the marker is dropped")
	}
	if !strings.Contains(err.Error(), "lost rating markers") {
		t.Errorf("unexpected error: %v", err)
	}
	if len(memo.data) != 0 {
		t.Errorf("expected nothing memoised, got %d entries", len(memo.data))
	}
}
