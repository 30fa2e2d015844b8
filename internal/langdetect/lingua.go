// Package langdetect guesses the language of article text.
package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const minLetters = 6

// Languages common in conflict reporting. Restricting the set keeps the model footprint small and
// avoids spurious matches on short headlines.
var conflictLanguages = []lingua.Language{
	lingua.English,
	lingua.Arabic,
	lingua.Hebrew,
	lingua.Ukrainian,
	lingua.Russian,
	lingua.French,
	lingua.Spanish,
	lingua.Persian,
	lingua.Turkish,
	lingua.German,
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 returns the two-letter code of text's language, or "" when unsure.
func DetectISO6391(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	for _, r := range sample {
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

// ArticleLanguage prefers the declared language and falls back to detection over title and summary.
func ArticleLanguage(declared, title, summary string) string {
	if code := DeclaredLanguage(declared); code != "" {
		return code
	}
	return DetectISO6391(strings.TrimSpace(title + ". " + summary))
}

// DeclaredLanguage reads a feed's language field. It accepts a two-letter code with an optional
// region ("en", "uk_UA"), or a three-letter code or English name of a conflict language ("ara",
// "Hebrew"). Anything else is treated as undeclared.
func DeclaredLanguage(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return ""
	}
	primary := value
	if cut := strings.IndexAny(value, "-_"); cut >= 0 {
		primary = value[:cut]
	}
	if !lettersOnly(primary) {
		return ""
	}
	if len(primary) == 2 {
		return primary
	}
	return declaredAliases()[value]
}

var (
	aliasesOnce sync.Once
	aliases     map[string]string
)

func declaredAliases() map[string]string {
	aliasesOnce.Do(func() {
		aliases = make(map[string]string, 2*len(conflictLanguages))
		for _, language := range conflictLanguages {
			code := strings.ToLower(language.IsoCode639_1().String())
			aliases[strings.ToLower(language.IsoCode639_3().String())] = code
			aliases[strings.ToLower(language.String())] = code
		}
	})
	return aliases
}

func lettersOnly(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(conflictLanguages...).
			WithMinimumRelativeDistance(0.1).
			Build()
	})
	return detector
}
