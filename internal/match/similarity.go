package match

import "strings"

// NameSimilarity scores two names in [0,1] using Jaccard overlap of their
// character sets, ignoring case and spaces. Equal non-empty strings score
// 1.0; an empty side scores 0. Order-insensitive and typo-tolerant, at the
// cost of false positives on very short names.
func NameSimilarity(a, b string) float64 {
	a = lower.String(strings.TrimSpace(a))
	b = lower.String(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	return jaccard(runeSet(strings.ReplaceAll(a, " ", "")), runeSet(strings.ReplaceAll(b, " ", "")))
}

// AddressSimilarity scores two addresses in [0,1] using Jaccard overlap of
// their lowercase word sets.
func AddressSimilarity(a, b string) float64 {
	a = lower.String(strings.TrimSpace(a))
	b = lower.String(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1.0
	}
	return jaccard(wordSet(a), wordSet(b))
}

func runeSet(s string) map[rune]struct{} {
	set := make(map[rune]struct{}, len(s))
	for _, r := range s {
		set[r] = struct{}{}
	}
	return set
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccard[K comparable](a, b map[K]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
