package geocode

import (
	"regexp"
	"strings"
)

const maxExtractedPhrases = 6

// Phrases are best-effort guesses. Results derived from them are always discounted.
var locationPhrasePattern = regexp.MustCompile(`\b(?i:in|near|outside)\s+(\p{Lu}[\p{L}'’-]*(?:\s+\p{Lu}[\p{L}'’-]*){0,3})`)

var nonPlaceWords = map[string]struct{}{
	"january": {}, "february": {}, "march": {}, "april": {}, "may": {}, "june": {},
	"july": {}, "august": {}, "september": {}, "october": {}, "november": {}, "december": {},
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {}, "friday": {}, "saturday": {}, "sunday": {},
	"the": {}, "a": {}, "an": {}, "response": {}, "addition": {}, "total": {},
}

// ExtractLocationPhrases returns capitalized phrases following in, near or outside. Each match is
// followed by its shorter prefixes, so "Gaza City Hospital" also yields "Gaza City" and "Gaza".
func ExtractLocationPhrases(texts ...string) []string {
	var phrases []string
	seen := make(map[string]struct{})
	for _, text := range texts {
		for _, match := range locationPhrasePattern.FindAllStringSubmatch(text, -1) {
			words := strings.Fields(match[1])
			for n := len(words); n > 0; n-- {
				phrase := trimPossessive(strings.Join(words[:n], " "))
				key := normalizePlaceName(phrase)
				if key == "" {
					continue
				}
				if _, skip := nonPlaceWords[key]; skip {
					continue
				}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				phrases = append(phrases, phrase)
				if len(phrases) == maxExtractedPhrases {
					return phrases
				}
			}
		}
	}
	return phrases
}

func trimPossessive(phrase string) string {
	for _, suffix := range []string{"'s", "’s"} {
		phrase = strings.TrimSuffix(phrase, suffix)
	}
	return strings.TrimRight(phrase, "'’-")
}
