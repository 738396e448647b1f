package services

import "strings"

// Levenshtein returns the edit distance between two strings, counted in runes
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// SimilarityRatio maps edit distance to [0,1], 1 meaning identical
func SimilarityRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(a, b))/float64(longest)
}

// FuzzyContainsTokens reports whether every token of needle matches some
// token of haystack with at least the given similarity.
func FuzzyContainsTokens(haystack, needle string, threshold float64) bool {
	hay := strings.Fields(strings.ToLower(haystack))
	want := strings.Fields(strings.ToLower(needle))
	if len(want) == 0 || len(hay) == 0 {
		return false
	}
	for _, w := range want {
		w = strings.TrimSuffix(w, ".")
		found := false
		for _, h := range hay {
			h = strings.Trim(h, ".,;:")
			if h == w || SimilarityRatio(h, w) >= threshold {
				found = true
				break
			}
			// initials: "r." matches "rahul"
			if len([]rune(w)) == 1 && strings.HasPrefix(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
