package corpus

import (
	"unicode"

	"github.com/chronostore/kernel/byteable"
)

// Emission is one distinct substring a value produced, carrying the byte
// offset of its first occurrence (spec.md §8 S5: "each emission carries the
// position of first occurrence").
type Emission struct {
	Substring byteable.Text
	Offset    int32
}

// ExpandSubstrings enumerates every distinct, non-stopword substring of
// value (as UTF-8 bytes) up to maxLen bytes long (0 disables the cap),
// left-to-right and shortest-to-longest at each start position — the
// depth-first order BruteForceDeduplicator's contract assumes. dedup
// decides which substrings are novel; stopwords are matched as whole-token
// exact substrings.
func ExpandSubstrings(value []byte, maxLen int, stopwords map[string]struct{}, dedup Deduplicator) []Emission {
	var out []Emission
	n := len(value)
	for start := 0; start < n; start++ {
		maxEnd := n
		if maxLen > 0 && start+maxLen < maxEnd {
			maxEnd = start + maxLen
		}
		for end := start + 1; end <= maxEnd; end++ {
			if _, stop := stopwords[string(value[start:end])]; stop &&
				(start == 0 || unicode.IsSpace(rune(value[start-1]))) &&
				(end == n || unicode.IsSpace(rune(value[end]))) {
				continue
			}
			view := byteable.NewTextView(value, start, end)
			if dedup.Add(view) {
				out = append(out, Emission{Substring: view, Offset: int32(start)})
			}
		}
	}
	return out
}

// ChooseDeduplicator picks one of the three tiers adaptively, per spec.md
// §4.6. The thresholds are a practical stand-in for the spec's qualitative
// "estimated off-heap memory" comparison — Go has no off-heap allocator in
// this kernel's dependency set to measure against, so the decision is made
// on value length instead, which is what actually drives each tier's cost
// (brute force is O(n·len), the hash set is O(n) extra memory, the B+-tree
// tier trades memory for a bounded Bloom+tree lookup).
func ChooseDeduplicator(parent []byte, smallValueBytes, largeValueBytes int) Deduplicator {
	n := len(parent)
	switch {
	case n <= smallValueBytes:
		return NewBruteForceDeduplicator(parent)
	case n <= largeValueBytes:
		return NewHashSetDeduplicator(estimateSubstringCount(n))
	default:
		return NewBTreeBloomDeduplicator(parent, uint32(estimateSubstringCount(n)))
	}
}

func estimateSubstringCount(n int) int {
	// Approximates (just under) the n(n+1)/2 substrings a value of length n
	// can produce without the MAX_SUBSTRING_LEN cap; used only to size the
	// hash set / Bloom filter, not to enforce the cap itself.
	return n * n / 2
}
