// Package translator fans a text out to several target languages on a bounded
// pool. Each (text, target, model) result is memoised, and a failing language
// is dropped from the result rather than failing the batch.
package translator

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/valpere/llmvalues/internal/validator"
	"github.com/valpere/llmvalues/internal/workpool"
)

// Request is a single translation call. Languages are English names.
type Request struct {
	Text   string
	Source string
	Target string
}

// Provider performs one translation.
type Provider interface {
	Name() string
	// Model identifies the translation engine in memo keys.
	Model() string
	Translate(ctx context.Context, req Request) (string, error)
}

type MemoKey struct {
	Text   string
	Target string
	Model  string
}

// Memo persists translations by exact key equality. A miss returns ok=false
// with a nil error.
type Memo interface {
	Get(ctx context.Context, key MemoKey) (string, bool, error)
	Put(ctx context.Context, key MemoKey, value string) error
}

type Translator struct {
	provider  Provider
	memo      Memo
	pool      *workpool.Pool
	validator *validator.Validator
	logger    logrus.FieldLogger
}

type Option func(*Translator)

// WithValidator logs translations whose detected language differs from the
// requested one. Results are never rejected.
func WithValidator(v *validator.Validator) Option {
	return func(t *Translator) { t.validator = v }
}

// New wires a translator. memo may be nil, which disables memoisation.
func New(provider Provider, memo Memo, pool *workpool.Pool, logger logrus.FieldLogger, opts ...Option) *Translator {
	t := &Translator{
		provider: provider,
		memo:     memo,
		pool:     pool,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Translator) Model() string {
	return t.provider.Model()
}

// Translate returns text in every target language that succeeded. The source
// language is always present and maps to text unchanged.
func (t *Translator) Translate(ctx context.Context, text string, targets []string, source string) map[string]string {
	return t.TranslateAll(ctx, []string{text}, targets, source)[0]
}

// TranslateAll translates several texts in one fan-out so that every
// (text, language) call shares the same pool slot budget. Results are
// positional with texts.
func (t *Translator) TranslateAll(ctx context.Context, texts []string, targets []string, source string) []map[string]string {
	out := make([]map[string]string, len(texts))
	for i, text := range texts {
		out[i] = map[string]string{source: text}
	}

	type job struct {
		text   int
		target string
	}
	var jobs []job
	for i := range texts {
		for _, target := range unique(targets) {
			if target == source {
				continue
			}
			jobs = append(jobs, job{text: i, target: target})
		}
	}

	results := workpool.All(ctx, t.pool, len(jobs), func(ctx context.Context, i int) (string, error) {
		j := jobs[i]
		return t.One(ctx, texts[j.text], j.target, source)
	})

	for _, r := range results {
		j := jobs[r.Index]
		if r.Err != nil {
			t.logger.WithFields(logrus.Fields{
				"language": j.target,
				"model":    t.provider.Model(),
				"error":    r.Err.Error(),
			}).Warn("Translation failed, dropping language")
			continue
		}
		out[j.text][j.target] = r.Value
	}
	return out
}

// Retranslate maps each language's text back into target, keyed by the
// original language. Used for audit display only.
func (t *Translator) Retranslate(ctx context.Context, texts map[string]string, target string) map[string]string {
	langs := make([]string, 0, len(texts))
	for lang := range texts {
		langs = append(langs, lang)
	}

	results := workpool.All(ctx, t.pool, len(langs), func(ctx context.Context, i int) (string, error) {
		return t.One(ctx, texts[langs[i]], target, langs[i])
	})

	out := make(map[string]string, len(langs))
	for _, r := range results {
		lang := langs[r.Index]
		if r.Err != nil {
			t.logger.WithFields(logrus.Fields{
				"language": lang,
				"model":    t.provider.Model(),
				"error":    r.Err.Error(),
			}).Warn("Retranslation failed, dropping language")
			continue
		}
		out[lang] = r.Value
	}
	return out
}

// One translates a single text with memoisation. It does not use the pool;
// callers running it concurrently are expected to hold a slot already.
func (t *Translator) One(ctx context.Context, text, target, source string) (string, error) {
	if target == source || strings.TrimSpace(text) == "" {
		return text, nil
	}

	key := MemoKey{Text: text, Target: target, Model: t.provider.Model()}
	if t.memo != nil {
		cached, ok, err := t.memo.Get(ctx, key)
		if err != nil {
			t.logger.WithError(err).Warn("Translation memo lookup failed")
		} else if ok {
			return cached, nil
		}
	}

	translated, err := t.provider.Translate(ctx, Request{Text: text, Source: source, Target: target})
	if err != nil {
		return "", err
	}

	if t.validator != nil {
		if ok, verr := t.validator.IsValid(translated, target); !ok {
			t.logger.WithFields(logrus.Fields{
				"language": target,
				"model":    t.provider.Model(),
				"error":    verr,
			}).Warn("Translation language mismatch")
		}
	}

	if t.memo != nil {
		if err := t.memo.Put(ctx, key, translated); err != nil {
			t.logger.WithError(err).Warn("Translation memo write failed")
		}
	}
	return translated, nil
}

func unique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
