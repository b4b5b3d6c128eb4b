package query

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/valpere/llmvalues/internal"
	"github.com/valpere/llmvalues/internal/prompt"
	"github.com/valpere/llmvalues/internal/translator"
)

// Formats holds the per-language system message parts for one configuration.
type Formats struct {
	Prefixes             map[string]string `json:"prefixes"`
	Formats              map[string]string `json:"formats"`
	PrefixesRetranslated map[string]string `json:"prefixes_retranslated"`
	FormatsRetranslated  map[string]string `json:"formats_retranslated"`
}

type FormatKey struct {
	Mode            internal.Mode `json:"mode"`
	MaxTokens       int           `json:"max_tokens"`
	RatingLast      bool          `json:"rating_last"`
	QuestionEnglish bool          `json:"question_english"`
	AnswerEnglish   bool          `json:"answer_english"`
	Languages       []string      `json:"languages"`
}

// FormatCache persists built formats across runs.
type FormatCache interface {
	GetFormats(ctx context.Context, key string) (*Formats, bool, error)
	PutFormats(ctx context.Context, key string, f *Formats) error
}

type FormatBuilder struct {
	translator *translator.Translator
	cache      FormatCache
	source     string
	logger     logrus.FieldLogger
}

// NewFormatBuilder takes a nil cache to always rebuild.
func NewFormatBuilder(tr *translator.Translator, cache FormatCache, source string, logger logrus.FieldLogger) *FormatBuilder {
	return &FormatBuilder{translator: tr, cache: cache, source: source, logger: logger}
}

func (b *FormatBuilder) cacheKey(key FormatKey) string {
	data, _ := json.Marshal(struct {
		FormatKey
		Model  string `json:"model"`
		Source string `json:"source"`
	}{key, b.translator.Model(), b.source})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Build returns prefixes and formats for every language in key. Languages the
// translator could not cover are absent from the maps.
func (b *FormatBuilder) Build(ctx context.Context, key FormatKey) (*Formats, error) {
	ratingText, err := prompt.RatingScale(key.Mode)
	if err != nil {
		return nil, err
	}
	orderText := prompt.Order(key.MaxTokens, key.RatingLast)

	log := b.logger.WithField("formats", key.String())
	ck := b.cacheKey(key)
	if b.cache != nil {
		cached, ok, err := b.cache.GetFormats(ctx, ck)
		switch {
		case err != nil:
			log.WithError(err).Warn("Format cache lookup failed")
		case ok && cached.covers(key.Languages):
			log.Debug("Format cache hit")
			return cached, nil
		case ok:
			log.Info("Cached formats are incomplete, rebuilding")
		}
	}

	var f *Formats
	if key.QuestionEnglish {
		f = b.english(key, ratingText, orderText)
	} else {
		f = b.translated(ctx, key, ratingText, orderText)
	}

	// Partial results stay out of the cache so a failed language is retried.
	if b.cache != nil && f.covers(key.Languages) {
		if err := b.cache.PutFormats(ctx, ck, f); err != nil {
			log.WithError(err).Warn("Format cache write failed")
		}
	}
	return f, nil
}

func (f *Formats) covers(languages []string) bool {
	for _, lang := range languages {
		if _, ok := f.Prefixes[lang]; !ok {
			return false
		}
		if _, ok := f.Formats[lang]; !ok {
			return false
		}
	}
	return true
}

// english keeps every part in the source language and names the answer
// language explicitly.
func (b *FormatBuilder) english(key FormatKey, ratingText, orderText string) *Formats {
	f := newFormats(len(key.Languages))
	for _, lang := range key.Languages {
		f.Prefixes[lang] = prompt.Prefix()
		f.Formats[lang] = ratingText + orderText + prompt.Language(lang)
		f.PrefixesRetranslated[lang] = ""
		f.FormatsRetranslated[lang] = ""
	}
	return f
}

func (b *FormatBuilder) translated(ctx context.Context, key FormatKey, ratingText, orderText string) *Formats {
	languageText := prompt.Language("")
	if key.AnswerEnglish {
		languageText = prompt.Language(b.source)
	}

	parts := b.translator.TranslateAll(ctx,
		[]string{prompt.Prefix(), ratingText, orderText, languageText},
		key.Languages, b.source)
	prefixes, ratings, orders, langs := parts[0], parts[1], parts[2], parts[3]

	f := newFormats(len(key.Languages))
	for _, lang := range key.Languages {
		if p, ok := prefixes[lang]; ok {
			f.Prefixes[lang] = p
		}
		r, okR := ratings[lang]
		o, okO := orders[lang]
		l, okL := langs[lang]
		if okR && okO && okL {
			f.Formats[lang] = r + o + l
		} else {
			b.logger.WithField("language", lang).Warn("Incomplete format translation, language will fail")
		}
	}

	f.PrefixesRetranslated = b.translator.Retranslate(ctx, f.Prefixes, b.source)
	f.FormatsRetranslated = b.translator.Retranslate(ctx, f.Formats, b.source)
	return f
}

func newFormats(n int) *Formats {
	return &Formats{
		Prefixes:             make(map[string]string, n),
		Formats:              make(map[string]string, n),
		PrefixesRetranslated: make(map[string]string, n),
		FormatsRetranslated:  make(map[string]string, n),
	}
}

// String summarises the key for log fields.
func (k FormatKey) String() string {
	return fmt.Sprintf("mode=%s max_tokens=%d rating_last=%t question_english=%t answer_english=%t languages=%d",
		k.Mode, k.MaxTokens, k.RatingLast, k.QuestionEnglish, k.AnswerEnglish, len(k.Languages))
}
