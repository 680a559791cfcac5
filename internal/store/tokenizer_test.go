package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeText_LowercasesAndSplits(t *testing.T) {
	tokens := TokenizeText("The Data Controller SHALL notify", 2)

	assert.Equal(t, []string{"the", "data", "controller", "shall", "notify"}, tokens)
}

func TestTokenizeText_SplitsLegalCitations(t *testing.T) {
	// Citations with punctuation split into component terms.
	tokens := TokenizeText("42 U.S.C. § 1983 and GDPR/2016-679", 2)

	assert.Equal(t, []string{"42", "1983", "and", "gdpr", "2016", "679"}, tokens)
}

func TestTokenizeText_DropsShortTokens(t *testing.T) {
	tokens := TokenizeText("a b cd efg", 2)

	assert.Equal(t, []string{"cd", "efg"}, tokens)
}

func TestTokenizeText_EmptyInput(t *testing.T) {
	assert.Empty(t, TokenizeText("", 2))
	assert.Empty(t, TokenizeText("  \t\n ", 2))
}

func TestFilterStopWords_RemovesStopWords(t *testing.T) {
	stopMap := BuildStopWordMap([]string{"the", "shall"})

	filtered := FilterStopWords([]string{"the", "notice", "shall", "period"}, stopMap)

	assert.Equal(t, []string{"notice", "period"}, filtered)
}

func TestQueryTerms_AllStopWordsYieldsEmpty(t *testing.T) {
	// A query of nothing but stop words must yield no terms, which the
	// lexical backends treat as a no-match query.
	terms := QueryTerms("shall the and thereof", DefaultLexicalConfig())

	assert.Empty(t, terms)
}

func TestQueryTerms_KeepsSignalTerms(t *testing.T) {
	terms := QueryTerms("the termination notice period", DefaultLexicalConfig())

	assert.Equal(t, []string{"termination", "notice", "period"}, terms)
}
