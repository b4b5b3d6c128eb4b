// Package backtranslate renders stored answers in a comparison language for
// human review.
package backtranslate

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/valpere/llmvalues/internal"
	"github.com/valpere/llmvalues/internal/translator"
	"github.com/valpere/llmvalues/internal/workpool"
)

type AnswerTranslator struct {
	tr     *translator.Translator
	pool   *workpool.Pool
	source string
	logger logrus.FieldLogger
}

// New takes the language answers are compared in, normally English.
func New(tr *translator.Translator, pool *workpool.Pool, source string, logger logrus.FieldLogger) *AnswerTranslator {
	return &AnswerTranslator{tr: tr, pool: pool, source: source, logger: logger}
}

// Pending returns the answers still lacking translations. With overwrite set
// every answer is returned.
func Pending(answers []internal.Answer, overwrite bool) []internal.Answer {
	if overwrite {
		return answers
	}
	var out []internal.Answer
	for _, a := range answers {
		if len(a.Translations) == 0 {
			out = append(out, a)
		}
	}
	return out
}

// Backtranslate returns a translation per answered language. Answers given in
// the source language are translated into the language they stand for;
// everything else is translated into the source language. Languages whose
// translation fails are left out.
func (b *AnswerTranslator) Backtranslate(ctx context.Context, a internal.Answer) map[string]string {
	langs := make([]string, 0, len(a.Answers))
	for lang := range a.Answers {
		langs = append(langs, lang)
	}

	results := workpool.All(ctx, b.pool, len(langs), func(ctx context.Context, i int) (string, error) {
		lang := langs[i]
		from, to := lang, b.source
		if a.AnswerEnglish {
			from, to = b.source, lang
		}
		return b.tr.One(ctx, a.Answers[lang], to, from)
	})

	out := make(map[string]string, len(langs))
	for _, r := range results {
		lang := langs[r.Index]
		if r.Err != nil {
			b.logger.WithFields(logrus.Fields{
				"language": lang,
				"answer":   a.ID,
				"error":    r.Err.Error(),
			}).Warn("Answer translation failed")
			continue
		}
		out[lang] = r.Value
	}
	return out
}
