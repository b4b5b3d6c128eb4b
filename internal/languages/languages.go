// Package languages maps the English language names used throughout the
// pipeline ("French", "Japanese") onto BCP 47 tags.
package languages

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var ErrUnknownLanguage = errors.New("unknown language")

// Source is the language questions are authored in.
const Source = "English"

var supported = []language.Tag{
	language.Afrikaans, language.Albanian, language.Arabic, language.Armenian,
	language.Azerbaijani, language.Bengali, language.Bulgarian, language.Catalan,
	language.Chinese, language.Croatian, language.Czech, language.Danish,
	language.Dutch, language.English, language.Estonian, language.Finnish,
	language.French, language.Georgian, language.German, language.Greek,
	language.Gujarati, language.Hebrew, language.Hindi, language.Hungarian,
	language.Icelandic, language.Indonesian, language.Italian, language.Japanese,
	language.Kazakh, language.Korean, language.Latvian, language.Lithuanian,
	language.Macedonian, language.Malay, language.Marathi, language.Mongolian,
	language.Norwegian, language.Persian, language.Polish, language.Portuguese,
	language.Punjabi, language.Romanian, language.Russian, language.Serbian,
	language.Slovak, language.Slovenian, language.Spanish, language.Swahili,
	language.Swedish, language.Tamil, language.Telugu, language.Thai,
	language.Turkish, language.Ukrainian, language.Urdu, language.Uzbek,
	language.Vietnamese, language.Zulu,
	language.MustParse("eu"), language.MustParse("be"), language.MustParse("bs"),
	language.MustParse("cy"), language.MustParse("ga"), language.MustParse("la"),
	language.MustParse("yo"),
}

var byName map[string]language.Tag

func init() {
	byName = make(map[string]language.Tag, len(supported)*2)
	en := display.English.Languages()
	for _, tag := range supported {
		byName[strings.ToLower(en.Name(tag))] = tag
		if self := display.Self.Name(tag); self != "" {
			byName[strings.ToLower(self)] = tag
		}
		byName[tag.String()] = tag
	}
}

// Lookup resolves an English or native language name, or a tag string.
func Lookup(name string) (language.Tag, error) {
	tag, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return language.Und, fmt.Errorf("%w: %q", ErrUnknownLanguage, name)
	}
	return tag, nil
}

// Name returns the canonical English name of a language.
func Name(tag language.Tag) string {
	return display.English.Languages().Name(tag)
}

// Canonical normalises user input such as "french" or "fr" to "French".
func Canonical(name string) (string, error) {
	tag, err := Lookup(name)
	if err != nil {
		return "", err
	}
	return Name(tag), nil
}

// ISO returns the two-letter ISO 639-1 code for a language name.
func ISO(name string) (string, error) {
	tag, err := Lookup(name)
	if err != nil {
		return "", err
	}
	base, _ := tag.Base()
	return base.String(), nil
}

func Supported() []string {
	out := make([]string, 0, len(supported))
	for _, tag := range supported {
		out = append(out, Name(tag))
	}
	sort.Strings(out)
	return out
}
