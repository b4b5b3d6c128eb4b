// Package postprocess strips the artifacts chat models wrap around a
// translation: reasoning blocks, the $$$ delimiters the translation prompt
// fences the text with, introductory phrases and outer quotes.
//
// Rating answers are never passed through here; their [[N]] markers are read
// from the raw model output.
package postprocess

import (
	"regexp"
	"strings"
)

// Delimiter fences the text inside a translation prompt.
const Delimiter = "$$$"

// Clean runs every phase in order and returns the trimmed result.
func Clean(text string) string {
	text = removeThinkingBlocks(text)
	text = removeDelimiters(text)
	text = removeInstructionEchoes(text)
	text = removeQuoteWrapping(text)
	return strings.TrimSpace(text)
}

// RE2 has no backreferences, so each tag pair is spelled out.
var thinkingBlockRe = regexp.MustCompile(
	`(?is)<thinking>.*?</thinking>|<think>.*?</think>|<reasoning>.*?</reasoning>`,
)

// An opened tag without its closing tag means the output was cut off.
var truncatedThinkingRe = regexp.MustCompile(
	`(?is)(?:<thinking>|<think>|<reasoning>).*$`,
)

func removeThinkingBlocks(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	text = truncatedThinkingRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func removeDelimiters(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, Delimiter, ""))
}

// echoPatterns are anchored to the start and require a colon so that a
// sentence merely beginning with "Here is" survives.
var echoPatterns = []*regexp.Regexp{
	// "Here is the translation into French:", "Here's the translated paragraph:"
	regexp.MustCompile(`(?i)^here(?:'s| is)(?: the| your)? (?:translated )?(?:translation|text|paragraph)(?: (?:in|into) [\p{L} ]+)?\s*:`),
	// "Translation:", "French translation:", "Translated text:"
	regexp.MustCompile(`(?i)^(?:[\p{L}]+ )?(?:translation|translated text)\s*:`),
	// "Sure, here is the translation:"
	regexp.MustCompile(`(?i)^(?:certainly|sure|of course)[,.!]? here(?:'s| is)(?: the)? (?:translated )?(?:translation|text|paragraph)(?: (?:in|into) [\p{L} ]+)?\s*:`),
}

func removeInstructionEchoes(text string) string {
	for _, re := range echoPatterns {
		if loc := re.FindStringIndex(text); loc != nil && loc[0] == 0 {
			text = strings.TrimSpace(text[loc[1]:])
		}
	}
	return text
}

// removeQuoteWrapping drops one matching pair of outer quotes:
//
//	"…"  '…'  «…»  “…”  ‘…’  „…“
func removeQuoteWrapping(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}
	first, last := runes[0], runes[n-1]
	if (first == '"' && last == '"') ||
		(first == '\'' && last == '\'') ||
		(first == '«' && last == '»') ||
		(first == '“' && last == '”') ||
		(first == '‘' && last == '’') ||
		(first == '„' && last == '“') {
		return strings.TrimSpace(string(runes[1 : n-1]))
	}
	return text
}
