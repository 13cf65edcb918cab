package sparse

import (
	"strings"
	"unicode"
)

// stopWords matches the teacher's tokenize() stop list (English plus a
// handful of common CJK function words), pkg/semantic-router/sparse.go.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "been": true,
	"this": true, "that": true, "these": true, "those": true,
	"我": true, "你": true, "他": true, "她": true, "它": true,
	"的": true, "了": true, "是": true, "在": true, "有": true,
	"和": true, "与": true, "或": true, "但": true, "不": true,
}

// DefaultTokenizer lowercases and splits on Unicode word boundaries,
// dropping stop words and single-character tokens — the teacher's
// tokenize() generalized from ASCII strings.Fields to unicode.IsLetter/
// IsDigit boundaries so it degrades gracefully on mixed-script input.
type DefaultTokenizer struct{}

// Tokenize implements Tokenizer.
func (DefaultTokenizer) Tokenize(text string) []string {
	text = strings.ToLower(text)
	var terms []string
	var current strings.Builder
	flush := func() {
		if current.Len() == 0 {
			return
		}
		term := current.String()
		current.Reset()
		if stopWords[term] {
			return
		}
		if len([]rune(term)) < 2 {
			return
		}
		terms = append(terms, term)
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return terms
}

// CJKBigramTokenizer segments CJK runs into overlapping bigrams (the
// standard approach for unsegmented CJK BM25 indexing when no external word
// segmenter is wired in) and falls back to DefaultTokenizer's word
// boundaries for non-CJK runs. Selected via
// sparse_retriever.use_word_segmentation.
type CJKBigramTokenizer struct{}

// Tokenize implements Tokenizer.
func (CJKBigramTokenizer) Tokenize(text string) []string {
	text = strings.ToLower(text)
	var terms []string
	var latin strings.Builder
	var cjkRun []rune

	flushLatin := func() {
		if latin.Len() == 0 {
			return
		}
		term := latin.String()
		latin.Reset()
		if !stopWords[term] && len([]rune(term)) >= 2 {
			terms = append(terms, term)
		}
	}
	flushCJK := func() {
		if len(cjkRun) == 0 {
			return
		}
		if len(cjkRun) == 1 {
			if !stopWords[string(cjkRun)] {
				terms = append(terms, string(cjkRun))
			}
		} else {
			for i := 0; i < len(cjkRun)-1; i++ {
				bigram := string(cjkRun[i : i+2])
				terms = append(terms, bigram)
			}
		}
		cjkRun = cjkRun[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushLatin()
			cjkRun = append(cjkRun, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			latin.WriteRune(r)
		default:
			flushLatin()
			flushCJK()
		}
	}
	flushLatin()
	flushCJK()
	return terms
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}
