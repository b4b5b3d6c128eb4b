// Package markdown renders setup statistics as a markdown report and converts
// it to HTML or plain text.
package markdown

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/valpere/llmvalues/internal"
	"github.com/valpere/llmvalues/internal/stats"
)

func ToHTML(md []byte) string {
	opts := html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank | html.CompletePage,
		Title: "LLM values report",
	}
	renderer := html.NewRenderer(opts)
	ext := parser.CommonExtensions | parser.Attributes
	p := parser.NewWithExtensions(ext)
	doc := p.Parse(md)
	return string(markdown.Render(doc, renderer))
}

func ToPlainText(md []byte) string {
	return StripHTMLTags(toFragment(md))
}

func toFragment(md []byte) string {
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	p := parser.NewWithExtensions(parser.CommonExtensions)
	return string(markdown.Render(p.Parse(md), renderer))
}

func StripHTMLTags(htmlContent string) string {
	var result bytes.Buffer
	inTag := false

	for _, ch := range htmlContent {
		switch ch {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				result.WriteRune(ch)
			}
		}
	}

	return result.String()
}

// Report describes one analyzed setup.
type Report struct {
	Topic internal.Topic
	Setup internal.Setup
	Stats *stats.Stats
}

func num(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", *v)
}

func pct(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}

// Render writes the markdown for r. Questions are listed by number and
// languages alphabetically.
func (r Report) Render() []byte {
	var b bytes.Buffer
	s := r.Stats

	fmt.Fprintf(&b, "# %s\n\n", r.Setup.Name)
	fmt.Fprintf(&b, "Topic: **%s**", r.Topic.Name)
	if r.Topic.Description != "" {
		fmt.Fprintf(&b, " (%s)", r.Topic.Description)
	}
	b.WriteString("\n\n")

	cfg := r.Setup.QueryConfig
	b.WriteString("| Model | Temperature | Max tokens | Rating last | Question in English | Answer in English |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %s | %g | %d | %t | %t | %t |\n\n",
		cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.RatingLast, cfg.QuestionEnglish, cfg.AnswerEnglish)

	if s == nil {
		b.WriteString("_No statistics computed yet._\n")
		return b.Bytes()
	}

	b.WriteString("## Summary\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Mean discrepancy | %s |\n", num(s.MeanDiscrepancy))
	fmt.Fprintf(&b, "| Discrepancy spread | %s |\n", num(s.DiscrepancySpread))
	fmt.Fprintf(&b, "| Mean cleaned discrepancy | %s |\n", num(s.MeanCleanedDiscrepancy))
	fmt.Fprintf(&b, "| Cleaned discrepancy spread | %s |\n", num(s.CleanedDiscrepancySpread))
	fmt.Fprintf(&b, "| Mean assertiveness | %s |\n", num(s.MeanAssertiveness))
	fmt.Fprintf(&b, "| Refusal rate | %s |\n", pct(s.MeanRefusalRate))
	fmt.Fprintf(&b, "| Failure rate | %s |\n\n", pct(s.MeanFailureRate))

	numbers := make([]int, 0, len(s.Questions))
	for n := range s.Questions {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	b.WriteString("## Questions\n\n")
	b.WriteString("| # | Question | Discrepancy | Cleaned | Assertiveness | Refusal | Failure | Samples |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, n := range numbers {
		q := s.Questions[n]
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s | %s | %s | %d |\n",
			n, q.Name, num(q.Discrepancy), num(q.CleanedDiscrepancy), num(q.Assertiveness),
			pct(q.RefusalRate), pct(q.FailureRate), q.Samples)
	}
	b.WriteString("\n")

	langs := make([]string, 0, len(s.Languages))
	for lang := range s.Languages {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	b.WriteString("## Languages\n\n")
	b.WriteString("| Language | Mean | Std | Assertiveness | Cleaned mean | Cleaned std | Refusal | Failure |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|\n")
	for _, lang := range langs {
		l := s.Languages[lang]
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
			lang, num(l.MeanRating), num(l.StdRating), num(l.Assertiveness),
			num(l.CleanedMeanRating), num(l.CleanedStdRating), pct(l.RefusalRate), pct(l.FailureRate))
	}

	return b.Bytes()
}
