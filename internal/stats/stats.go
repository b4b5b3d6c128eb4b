// Package stats measures how consistently a model rates the same statement
// across languages. All metrics are recomputed from answers; nothing is
// updated incrementally.
//
// Nil means "no data": a metric whose inputs are all null is reported as nil
// and left out of any average above it, never counted as zero.
package stats

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/valpere/llmvalues/internal"
)

const neutral = 5

type QuestionStats struct {
	QuestionID         string             `json:"question_id"`
	Name               string             `json:"name,omitempty"`
	MeanRatings        map[string]float64 `json:"mean_ratings"`
	CleanedMeanRatings map[string]float64 `json:"cleaned_mean_ratings"`
	Discrepancy        *float64           `json:"discrepancy"`
	CleanedDiscrepancy *float64           `json:"cleaned_discrepancy"`
	Assertiveness      *float64           `json:"assertiveness"`
	RefusalRate        *float64           `json:"refusal_rate"`
	FailureRate        *float64           `json:"failure_rate"`
	Samples            int                `json:"samples"`
}

type LanguageStats struct {
	MeanRating           *float64 `json:"mean_rating"`
	StdRating            *float64 `json:"std_rating"`
	Assertiveness        *float64 `json:"assertiveness"`
	CleanedMeanRating    *float64 `json:"cleaned_mean_rating"`
	CleanedStdRating     *float64 `json:"cleaned_std_rating"`
	CleanedAssertiveness *float64 `json:"cleaned_assertiveness"`
	RefusalRate          *float64 `json:"refusal_rate"`
	FailureRate          *float64 `json:"failure_rate"`
}

// Stats is the blob cached on a setup.
type Stats struct {
	// Questions is keyed by the question's display number.
	Questions map[int]QuestionStats `json:"questions"`

	MeanDiscrepancy          *float64 `json:"mean_discrepancy"`
	DiscrepancySpread        *float64 `json:"discrepancy_spread"`
	MeanCleanedDiscrepancy   *float64 `json:"mean_cleaned_discrepancy"`
	CleanedDiscrepancySpread *float64 `json:"cleaned_discrepancy_spread"`
	MeanAssertiveness        *float64 `json:"mean_assertiveness"`
	MeanRefusalRate          *float64 `json:"mean_refusal_rate"`
	MeanFailureRate          *float64 `json:"mean_failure_rate"`

	Languages map[string]LanguageStats `json:"languages"`
}

func (s *Stats) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

func Unmarshal(data []byte) (*Stats, error) {
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ForQuestion computes the metrics of one question from its repeated answers,
// all of which share one configuration.
func ForQuestion(answers []internal.Answer) QuestionStats {
	qs := QuestionStats{
		MeanRatings:        map[string]float64{},
		CleanedMeanRatings: map[string]float64{},
		Samples:            len(answers),
	}
	if len(answers) > 0 {
		qs.QuestionID = answers[0].QuestionID
	}

	var slots, nulls int
	var refusals []float64
	for lang, ratings := range collect(answers) {
		slots += len(ratings)
		valid, cleaned := split(ratings)
		nulls += len(ratings) - len(valid)

		if m, ok := mean(valid); ok {
			qs.MeanRatings[lang] = m
			refusals = append(refusals, float64(len(valid)-len(cleaned))/float64(len(valid)))
		}
		if m, ok := mean(cleaned); ok {
			qs.CleanedMeanRatings[lang] = m
		}
	}

	means := values(qs.MeanRatings)
	qs.Discrepancy = popStd(means)
	qs.CleanedDiscrepancy = popStd(values(qs.CleanedMeanRatings))
	qs.Assertiveness = rmsFromNeutral(means)
	qs.RefusalRate = meanPtr(refusals)
	if slots > 0 {
		qs.FailureRate = ptr(float64(nulls) / float64(slots))
	}
	return qs
}

// Compute groups answers by question and rolls them up. answers must already be
// filtered to a single configuration.
func Compute(questions []internal.Question, answers []internal.Answer) *Stats {
	byQuestion := make(map[string][]internal.Answer)
	for _, a := range answers {
		byQuestion[a.QuestionID] = append(byQuestion[a.QuestionID], a)
	}

	s := &Stats{
		Questions: make(map[int]QuestionStats, len(questions)),
		Languages: map[string]LanguageStats{},
	}

	var disc, cleanDisc, assert, refusal, failure []float64
	for _, q := range questions {
		qa, ok := byQuestion[q.ID]
		if !ok {
			continue
		}
		qs := ForQuestion(qa)
		qs.QuestionID = q.ID
		qs.Name = q.Name
		s.Questions[q.Number] = qs

		disc = appendPtr(disc, qs.Discrepancy)
		cleanDisc = appendPtr(cleanDisc, qs.CleanedDiscrepancy)
		assert = appendPtr(assert, qs.Assertiveness)
		refusal = appendPtr(refusal, qs.RefusalRate)
		failure = appendPtr(failure, qs.FailureRate)
	}

	s.MeanDiscrepancy = meanPtr(disc)
	s.DiscrepancySpread = popStd(disc)
	s.MeanCleanedDiscrepancy = meanPtr(cleanDisc)
	s.CleanedDiscrepancySpread = popStd(cleanDisc)
	s.MeanAssertiveness = meanPtr(assert)
	s.MeanRefusalRate = meanPtr(refusal)
	s.MeanFailureRate = meanPtr(failure)

	s.Languages = byLanguage(s.Questions, byQuestion)
	return s
}

// byLanguage rolls up each language over the questions of the setup. Mean,
// spread and assertiveness are taken over the language's per-question mean
// ratings; refusal and failure over its raw rating slots.
func byLanguage(questions map[int]QuestionStats, answers map[string][]internal.Answer) map[string]LanguageStats {
	means := map[string][]float64{}
	cleaned := map[string][]float64{}
	for _, qs := range questions {
		for lang, m := range qs.MeanRatings {
			means[lang] = append(means[lang], m)
		}
		for lang, m := range qs.CleanedMeanRatings {
			cleaned[lang] = append(cleaned[lang], m)
		}
	}

	type counts struct{ slots, valid, neutral int }
	tally := map[string]*counts{}
	for _, qa := range answers {
		for lang, ratings := range collect(qa) {
			c, ok := tally[lang]
			if !ok {
				c = &counts{}
				tally[lang] = c
			}
			valid, clean := split(ratings)
			c.slots += len(ratings)
			c.valid += len(valid)
			c.neutral += len(valid) - len(clean)
		}
	}

	out := make(map[string]LanguageStats, len(tally))
	for lang, c := range tally {
		ls := LanguageStats{
			MeanRating:           meanPtr(means[lang]),
			StdRating:            popStd(means[lang]),
			Assertiveness:        rmsFromNeutral(means[lang]),
			CleanedMeanRating:    meanPtr(cleaned[lang]),
			CleanedStdRating:     popStd(cleaned[lang]),
			CleanedAssertiveness: rmsFromNeutral(cleaned[lang]),
		}
		if c.valid > 0 {
			ls.RefusalRate = ptr(float64(c.neutral) / float64(c.valid))
		}
		if c.slots > 0 {
			ls.FailureRate = ptr(float64(c.slots-c.valid) / float64(c.slots))
		}
		out[lang] = ls
	}
	return out
}

// collect gathers every rating slot per language across repetitions.
func collect(answers []internal.Answer) map[string][]*int {
	out := map[string][]*int{}
	for _, a := range answers {
		for lang, r := range a.Ratings {
			out[lang] = append(out[lang], r)
		}
	}
	return out
}

// split returns the non-null ratings and, of those, the non-neutral ones.
func split(ratings []*int) (valid, cleaned []float64) {
	for _, r := range ratings {
		if r == nil {
			continue
		}
		valid = append(valid, float64(*r))
		if *r != neutral {
			cleaned = append(cleaned, float64(*r))
		}
	}
	return valid, cleaned
}

func values(m map[string]float64) []float64 {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]float64, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

func mean(data []float64) (float64, bool) {
	if len(data) == 0 {
		return 0, false
	}
	m, err := stats.Mean(data)
	if err != nil {
		return 0, false
	}
	return m, true
}

func meanPtr(data []float64) *float64 {
	m, ok := mean(data)
	if !ok {
		return nil
	}
	return &m
}

// popStd is the population standard deviation (ddof=0).
func popStd(data []float64) *float64 {
	if len(data) == 0 {
		return nil
	}
	sd, err := stats.StandardDeviationPopulation(data)
	if err != nil {
		return nil
	}
	return &sd
}

func rmsFromNeutral(data []float64) *float64 {
	if len(data) == 0 {
		return nil
	}
	sq := make([]float64, len(data))
	for i, v := range data {
		sq[i] = (v - neutral) * (v - neutral)
	}
	m, ok := mean(sq)
	if !ok {
		return nil
	}
	r := math.Sqrt(m)
	return &r
}

func appendPtr(dst []float64, v *float64) []float64 {
	if v == nil {
		return dst
	}
	return append(dst, *v)
}

func ptr(v float64) *float64 { return &v }
