package store

import (
	"regexp"
	"strings"
)

// termRegex matches alphanumeric runs. Hyphenated and slashed legal citations
// ("42 U.S.C. § 1983", "GDPR/2016-679") split into their component terms.
var termRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// TokenizeText normalizes legal prose for both index build and query time:
// lowercase, alphanumeric split, short tokens dropped. The same function runs
// on both sides so query terms always align with indexed terms.
func TokenizeText(text string, minLength int) []string {
	if minLength <= 0 {
		minLength = 2
	}

	words := termRegex.FindAllString(text, -1)
	tokens := make([]string, 0, len(words))
	for _, word := range words {
		lower := strings.ToLower(word)
		if len(lower) >= minLength {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a lookup map.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

// QueryTerms applies the full query-side normalization: tokenize with cfg's
// minimum length, then drop stop words. An all-stopword query yields an empty
// slice, which the lexical backends treat as a no-match query.
func QueryTerms(query string, cfg LexicalConfig) []string {
	tokens := TokenizeText(query, cfg.MinTokenLength)
	return FilterStopWords(tokens, BuildStopWordMap(cfg.StopWords))
}
