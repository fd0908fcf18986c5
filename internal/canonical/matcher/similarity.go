package matcher

// Similarity scores two normalized names in [0, 1]. It takes the better of
// two measures because they catch different variation families:
//
//   - edit-distance ratio handles transliteration slips ("kathmandu" vs
//     "katmandu": one deletion, ratio 0.89, but trigram overlap only 0.44)
//   - trigram Jaccard handles token reordering and partial names where raw
//     edit distance is large
//
// Identical strings score 1. Disjoint strings score near 0.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		if a == b {
			return 1
		}
		return 0
	}
	if a == b {
		return 1
	}
	lev := levenshteinRatio(a, b)
	tri := trigramJaccard(a, b)
	if lev > tri {
		return lev
	}
	return tri
}

// levenshteinRatio is 1 - dist/maxLen over runes.
func levenshteinRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// levenshtein computes edit distance with the two-row iteration.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// trigramJaccard is set Jaccard over character trigrams of each string.
// Strings shorter than three runes fall back to comparing the whole string
// as a single gram.
func trigramJaccard(a, b string) float64 {
	ga, gb := trigrams(a), trigrams(b)
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}
	inter := 0
	for g := range ga {
		if _, ok := gb[g]; ok {
			inter++
		}
	}
	union := len(ga) + len(gb) - inter
	return float64(inter) / float64(union)
}

func trigrams(s string) map[string]struct{} {
	runes := []rune(s)
	out := make(map[string]struct{})
	if len(runes) < 3 {
		out[s] = struct{}{}
		return out
	}
	for i := 0; i+3 <= len(runes); i++ {
		out[string(runes[i:i+3])] = struct{}{}
	}
	return out
}
