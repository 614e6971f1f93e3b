// Package tokencount estimates token counts for text the upstream failed
// to report usage for (spec §4.5). It is never authoritative: whenever the
// upstream reports outputTokens, that figure wins.
package tokencount

import (
	"math"
	"strings"
	"unicode"
)

// Counter estimates token counts using a CJK-aware segment heuristic.
type Counter struct{}

// NewCounter creates a new Counter.
func NewCounter() *Counter { return &Counter{} }

// isCJK reports whether r falls in a CJK, Hiragana/Katakana, or Hangul block.
func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Count estimates the token count of text by splitting it into contiguous
// CJK and non-CJK segments and scoring each with its own heuristic (spec
// §4.5):
//
//   - CJK segment: 1.2 tokens per CJK char. Non-CJK chars between CJK ones
//     (e.g. ASCII punctuation) form their own non-CJK segment.
//   - Non-CJK segment: whitespace-split words score 1 token at length <= 4,
//     else ceil(len/3.5); whitespace runs themselves add 0.5 each.
//
// Returns at least 1 for any non-empty input.
func Count(text string) int {
	if text == "" {
		return 0
	}

	var total float64
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		cjk := isCJK(runes[i])
		j := i
		for j < len(runes) && isCJK(runes[j]) == cjk {
			j++
		}
		segment := runes[i:j]
		if cjk {
			total += scoreCJKSegment(segment)
		} else {
			total += scoreNonCJKSegment(string(segment))
		}
		i = j
	}

	return max(int(math.Ceil(total)), 1)
}

// scoreCJKSegment scores a maximal run of CJK characters, crediting 1.2
// tokens per CJK rune and 0.5 per non-CJK rune. Count splits segments on
// isCJK, so every rune it passes here is CJK and the 0.5 branch is not
// reached through Count.
func scoreCJKSegment(segment []rune) float64 {
	var total float64
	for _, r := range segment {
		if isCJK(r) {
			total += 1.2
		} else {
			total += 0.5
		}
	}
	return total
}

// scoreNonCJKSegment scores a run of non-CJK text by splitting on
// whitespace: each word contributes 1 token if its length is <= 4,
// otherwise ceil(len/3.5); each whitespace run contributes 0.5.
func scoreNonCJKSegment(segment string) float64 {
	var total float64
	var word strings.Builder

	flushWord := func() {
		if word.Len() == 0 {
			return
		}
		n := word.Len()
		if n <= 4 {
			total += 1
		} else {
			total += math.Ceil(float64(n) / 3.5)
		}
		word.Reset()
	}

	for _, r := range segment {
		if unicode.IsSpace(r) {
			flushWord()
			total += 0.5
			continue
		}
		word.WriteRune(r)
	}
	flushWord()

	return total
}

// EstimateUsage estimates output tokens for text the upstream reported
// zero outputTokens for (spec §4.3 completion contract).
func (c *Counter) EstimateUsage(emittedText string) int {
	return Count(emittedText)
}
